package record

import (
	"strings"
	"time"
)

// OfferType enumerates supported deal structures
type OfferType string

const (
	OfferCash          OfferType = "CASH"
	OfferSellerFinance OfferType = "SELLER_FINANCE"
	OfferSubTo         OfferType = "SUB_TO"
	OfferLeaseOption   OfferType = "LEASE_OPTION"
	OfferOther         OfferType = "OTHER"
)

// Valid reports whether t is one of the known offer types
func (t OfferType) Valid() bool {
	switch t {
	case OfferCash, OfferSellerFinance, OfferSubTo, OfferLeaseOption, OfferOther:
		return true
	}
	return false
}

// ParseOfferType normalizes s to a known offer type, falling back to OTHER
func ParseOfferType(s string) OfferType {
	t := OfferType(strings.ToUpper(strings.TrimSpace(s)))
	if t.Valid() {
		return t
	}
	return OfferOther
}

// Lead is a prospective seller's contact and property record
type Lead struct {
	ID              string    `json:"id"`
	PropertyAddress string    `json:"propertyAddress,omitempty"`
	Name            string    `json:"name,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	Motivation      string    `json:"motivation,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// LeadFields is a partial Lead update. Empty fields are ignored on merge.
type LeadFields struct {
	PropertyAddress string
	Name            string
	Phone           string
	Email           string
	Motivation      string
}

// Empty reports whether no field is set
func (f LeadFields) Empty() bool {
	return f == LeadFields{}
}

func (l *Lead) merge(f LeadFields) {
	if f.PropertyAddress != "" {
		l.PropertyAddress = f.PropertyAddress
	}
	if f.Name != "" {
		l.Name = f.Name
	}
	if f.Phone != "" {
		l.Phone = f.Phone
	}
	if f.Email != "" {
		l.Email = f.Email
	}
	if f.Motivation != "" {
		l.Motivation = f.Motivation
	}
}

// Offer is a structured deal proposal
type Offer struct {
	ID             string    `json:"id"`
	OfferType      OfferType `json:"offerType"`
	PurchasePrice  float64   `json:"purchasePrice"`
	ARV            *float64  `json:"arv,omitempty"`
	DownPayment    *float64  `json:"downPayment,omitempty"`
	InterestRate   *float64  `json:"interestRate,omitempty"`
	TermLength     string    `json:"termLength,omitempty"`
	MonthlyPayment *float64  `json:"monthlyPayment,omitempty"`
	ClosingDays    *int      `json:"closingDays,omitempty"`
	Contingencies  string    `json:"contingencies,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// OfferInput carries the fields of a structuring event. Nil pointers are absent.
type OfferInput struct {
	OfferType      string
	PurchasePrice  *float64
	ARV            *float64
	DownPayment    *float64
	InterestRate   *float64
	TermLength     string
	MonthlyPayment *float64
	ClosingDays    *int
	Contingencies  string
}
