package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persisted keys
const (
	KeyLeads  = "leads"
	KeyOffers = "offers"

	// KeyActiveLead holds the id of the open draft, "" once finalized
	KeyActiveLead = "activeLead"
)

// ErrMalformedImport is returned when import data is rejected. The store is left untouched.
var ErrMalformedImport = errors.New("malformed import data")

// KV is the flat key-value port records are persisted through
type KV interface {
	// Get returns the value stored under key and whether it exists
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	// SetMany writes every value or none of them
	SetMany(values map[string][]byte) error
}

// Kind identifies which sequence changed
type Kind string

const (
	KindLeads  Kind = "leads"
	KindOffers Kind = "offers"
)

// Store owns the Lead and Offer sequences and their persisted form
type Store struct {
	kv     KV
	logger *slog.Logger

	leads   []Lead
	offers  []Offer
	draftID string

	onChange  func(Kind)
	onPersist func(key string, err error)

	now   func() time.Time
	newID func() string

	mu sync.RWMutex
}

// NewStore creates an empty store persisting through kv
func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		logger: logger,
		leads:  []Lead{},
		offers: []Offer{},
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// OnChange registers a callback invoked after every mutation.
// It runs outside the store lock and may read the store.
func (s *Store) OnChange(fn func(Kind)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// OnPersist registers a callback invoked after every persistence attempt
func (s *Store) OnPersist(fn func(key string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPersist = fn
}

// Load replaces in-memory state with the persisted sequences and draft.
// A missing or unreadable key leaves that sequence empty; the returned
// error reports what could not be read. Without a persisted draft id the
// last Lead is the draft.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	leads := []Lead{}
	if err := s.loadKey(KeyLeads, &leads); err != nil {
		errs = append(errs, err)
		leads = []Lead{}
	}
	offers := []Offer{}
	if err := s.loadKey(KeyOffers, &offers); err != nil {
		errs = append(errs, err)
		offers = []Offer{}
	}

	draftID := lastLeadID(leads)
	var stored *string
	if err := s.loadKey(KeyActiveLead, &stored); err != nil {
		errs = append(errs, err)
	} else if stored != nil {
		draftID = ""
		if hasLead(leads, *stored) {
			draftID = *stored
		}
	}

	s.leads = leads
	s.offers = offers
	s.draftID = draftID

	s.logger.Info("Loaded records",
		slog.Int("leads", len(leads)),
		slog.Int("offers", len(offers)))

	return errors.Join(errs...)
}

func (s *Store) loadKey(key string, dst any) error {
	if s.kv == nil {
		return nil
	}
	data, ok, err := s.kv.Get(key)
	if err != nil {
		s.logger.Error("Failed to read persisted records",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Error("Failed to decode persisted records",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// CaptureLead merges non-empty fields into the active draft, creating one
// when no draft exists. Fields already captured are never blanked.
func (s *Store) CaptureLead(fields LeadFields) Lead {
	s.mu.Lock()

	idx := s.draftIndex()
	if idx >= 0 && fields.Empty() {
		lead := s.leads[idx]
		s.mu.Unlock()
		return lead
	}

	if idx < 0 {
		lead := Lead{ID: s.newID(), Timestamp: s.now()}
		lead.merge(fields)
		s.leads = append(s.leads, lead)
		s.draftID = lead.ID
		idx = len(s.leads) - 1
		s.persistLocked(map[string]any{KeyLeads: s.leads, KeyActiveLead: s.draftID})
	} else {
		s.leads[idx].merge(fields)
		s.persistLocked(map[string]any{KeyLeads: s.leads})
	}
	lead := s.leads[idx]
	notify := s.onChange

	s.mu.Unlock()

	if notify != nil {
		notify(KindLeads)
	}
	return lead
}

// StructureOffer appends a new Offer, defaulting the type to OTHER and the price to 0
func (s *Store) StructureOffer(in OfferInput) Offer {
	offer := Offer{
		OfferType:      ParseOfferType(in.OfferType),
		ARV:            in.ARV,
		DownPayment:    in.DownPayment,
		InterestRate:   in.InterestRate,
		TermLength:     in.TermLength,
		MonthlyPayment: in.MonthlyPayment,
		ClosingDays:    in.ClosingDays,
		Contingencies:  in.Contingencies,
	}
	if in.PurchasePrice != nil {
		offer.PurchasePrice = *in.PurchasePrice
	}

	s.mu.Lock()

	offer.ID = s.newID()
	offer.Timestamp = s.now()
	s.offers = append(s.offers, offer)
	s.persistLocked(map[string]any{KeyOffers: s.offers})
	notify := s.onChange

	s.mu.Unlock()

	if notify != nil {
		notify(KindOffers)
	}
	return offer
}

// Leads returns a copy of the Lead sequence in creation order
func (s *Store) Leads() []Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lead, len(s.leads))
	copy(out, s.leads)
	return out
}

// Offers returns a copy of the Offer sequence in creation order
func (s *Store) Offers() []Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Offer, len(s.offers))
	copy(out, s.offers)
	return out
}

// ActiveLead returns the draft Lead new captures merge into
func (s *Store) ActiveLead() (Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.draftIndex()
	if idx < 0 {
		return Lead{}, false
	}
	return s.leads[idx], true
}

// FinalizeLead closes the active draft so the next capture creates a new Lead.
// It returns the finalized Lead, if any.
func (s *Store) FinalizeLead() (Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.draftIndex()
	if s.draftID != "" {
		s.draftID = ""
		s.persistLocked(map[string]any{KeyActiveLead: s.draftID})
	}
	if idx < 0 {
		return Lead{}, false
	}
	s.logger.Info("Finalized lead", slog.String("lead_id", s.leads[idx].ID))
	return s.leads[idx], true
}

// Clear removes every Lead and Offer
func (s *Store) Clear() {
	s.mu.Lock()

	s.leads = []Lead{}
	s.offers = []Offer{}
	s.draftID = ""
	s.persistLocked(map[string]any{
		KeyLeads:      s.leads,
		KeyOffers:     s.offers,
		KeyActiveLead: s.draftID,
	})
	notify := s.onChange

	s.mu.Unlock()

	s.logger.Info("Cleared all records")
	if notify != nil {
		notify(KindLeads)
		notify(KindOffers)
	}
}

// exportDocument is the serialized backup format
type exportDocument struct {
	Leads      []Lead    `json:"leads"`
	Offers     []Offer   `json:"offers"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Export serializes both sequences as indented JSON
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	doc := exportDocument{
		Leads:      append([]Lead{}, s.leads...),
		Offers:     append([]Offer{}, s.offers...),
		ExportedAt: s.now(),
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return data, nil
}

// Import replaces the sequences present in data. The whole document is
// validated before anything changes; on failure ErrMalformedImport is
// returned and the store is untouched. The last imported Lead becomes the draft.
// Everything imported is persisted in a single write.
func (s *Store) Import(data []byte) error {
	var doc struct {
		Leads  json.RawMessage `json:"leads"`
		Offers json.RawMessage `json:"offers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}

	leads, hasLeads, err := decodeLeads(doc.Leads)
	if err != nil {
		return err
	}
	offers, hasOffers, err := decodeOffers(doc.Offers)
	if err != nil {
		return err
	}

	s.mu.Lock()
	values := make(map[string]any, 3)
	if hasLeads {
		s.leads = leads
		s.draftID = lastLeadID(leads)
		values[KeyLeads] = s.leads
		values[KeyActiveLead] = s.draftID
	}
	if hasOffers {
		s.offers = offers
		values[KeyOffers] = s.offers
	}
	if len(values) > 0 {
		s.persistLocked(values)
	}
	notify := s.onChange
	s.mu.Unlock()

	s.logger.Info("Imported records",
		slog.Int("leads", len(leads)),
		slog.Int("offers", len(offers)))

	if notify != nil {
		if hasLeads {
			notify(KindLeads)
		}
		if hasOffers {
			notify(KindOffers)
		}
	}
	return nil
}

func decodeLeads(raw json.RawMessage) ([]Lead, bool, error) {
	if isAbsent(raw) {
		return nil, false, nil
	}
	leads := []Lead{}
	if err := json.Unmarshal(raw, &leads); err != nil {
		return nil, false, fmt.Errorf("%w: leads: %v", ErrMalformedImport, err)
	}
	seen := make(map[string]struct{}, len(leads))
	for i, l := range leads {
		if l.ID == "" {
			return nil, false, fmt.Errorf("%w: lead %d has no id", ErrMalformedImport, i)
		}
		if _, dup := seen[l.ID]; dup {
			return nil, false, fmt.Errorf("%w: duplicate lead id %q", ErrMalformedImport, l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	return leads, true, nil
}

func decodeOffers(raw json.RawMessage) ([]Offer, bool, error) {
	if isAbsent(raw) {
		return nil, false, nil
	}
	offers := []Offer{}
	if err := json.Unmarshal(raw, &offers); err != nil {
		return nil, false, fmt.Errorf("%w: offers: %v", ErrMalformedImport, err)
	}
	seen := make(map[string]struct{}, len(offers))
	for i, o := range offers {
		if o.ID == "" {
			return nil, false, fmt.Errorf("%w: offer %d has no id", ErrMalformedImport, i)
		}
		if !o.OfferType.Valid() {
			return nil, false, fmt.Errorf("%w: offer %q has unknown type %q", ErrMalformedImport, o.ID, o.OfferType)
		}
		if _, dup := seen[o.ID]; dup {
			return nil, false, fmt.Errorf("%w: duplicate offer id %q", ErrMalformedImport, o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return offers, true, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// persistLocked writes values as one all-or-nothing update and reports
// the outcome per key. Must be called with mu held.
func (s *Store) persistLocked(values map[string]any) {
	if s.kv == nil {
		return
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	encoded := make(map[string][]byte, len(values))
	var err error
	for _, key := range keys {
		data, merr := json.Marshal(values[key])
		if merr != nil {
			err = fmt.Errorf("failed to encode %s: %w", key, merr)
			break
		}
		encoded[key] = data
	}
	if err == nil {
		if len(keys) == 1 {
			err = s.kv.Set(keys[0], encoded[keys[0]])
		} else {
			err = s.kv.SetMany(encoded)
		}
	}

	if err != nil {
		s.logger.Error("Failed to persist records",
			slog.Any("keys", keys),
			slog.String("error", err.Error()))
	}
	if s.onPersist != nil {
		for _, key := range keys {
			s.onPersist(key, err)
		}
	}
}

func (s *Store) draftIndex() int {
	if s.draftID == "" {
		return -1
	}
	for i := len(s.leads) - 1; i >= 0; i-- {
		if s.leads[i].ID == s.draftID {
			return i
		}
	}
	return -1
}

func hasLead(leads []Lead, id string) bool {
	for _, l := range leads {
		if l.ID == id {
			return true
		}
	}
	return false
}

func lastLeadID(leads []Lead) string {
	if len(leads) == 0 {
		return ""
	}
	return leads[len(leads)-1].ID
}
