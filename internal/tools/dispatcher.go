package tools

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/helppeople411-create/rei-voice-pro/internal/protocol"
	"github.com/helppeople411-create/rei-voice-pro/internal/record"
)

// Call outcomes reported to observers
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeUnknown = "unknown"
)

// Records is the part of the record store tools mutate
type Records interface {
	CaptureLead(fields record.LeadFields) record.Lead
	StructureOffer(in record.OfferInput) record.Offer
}

// Dispatcher maps tool calls to handlers and produces exactly one response per call
type Dispatcher struct {
	records Records
	logger  *slog.Logger
	onCall  func(name, outcome string)
}

// NewDispatcher creates a dispatcher writing to records
func NewDispatcher(records Records, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{records: records, logger: logger}
}

// OnCall registers a callback invoked once per handled call
func (d *Dispatcher) OnCall(fn func(name, outcome string)) {
	d.onCall = fn
}

// Dispatch handles a batch and returns responses in call order
func (d *Dispatcher) Dispatch(calls []protocol.FunctionCall) []protocol.FunctionResponse {
	responses := make([]protocol.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		responses = append(responses, d.Handle(call))
	}
	return responses
}

// Handle produces the response for a single call
func (d *Dispatcher) Handle(call protocol.FunctionCall) protocol.FunctionResponse {
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	var (
		payload map[string]any
		outcome = OutcomeOK
	)

	switch call.Name {
	case CaptureLeadInfo:
		payload = result(d.captureLead(args))
	case StructureOffer:
		payload = result(d.structureOffer(args))
	case EstimateARV:
		payload = result(estimateARV(args))
	case SearchComps:
		payload = result(searchComps(args))
	case SendOfferEmail:
		text, err := sendOfferEmail(args)
		if err != nil {
			payload = map[string]any{"error": err.Error()}
			outcome = OutcomeError
		} else {
			payload = result(text)
		}
	default:
		payload = result("Success")
		outcome = OutcomeUnknown
	}

	d.logger.Info("Handled tool call",
		slog.String("call_id", call.ID),
		slog.String("tool", call.Name),
		slog.String("outcome", outcome))

	if d.onCall != nil {
		d.onCall(call.Name, outcome)
	}

	return protocol.FunctionResponse{ID: call.ID, Name: call.Name, Response: payload}
}

func result(text string) map[string]any {
	return map[string]any{"result": text}
}

func (d *Dispatcher) captureLead(args map[string]any) string {
	lead := d.records.CaptureLead(record.LeadFields{
		PropertyAddress: argString(args, "propertyAddress"),
		Name:            argString(args, "name"),
		Phone:           argString(args, "phone"),
		Email:           argString(args, "email"),
		Motivation:      argString(args, "motivation"),
	})
	return "Lead info captured/updated. " + nextLeadStep(lead)
}

// nextLeadStep nudges toward the first missing field group: address, contact, motivation
func nextLeadStep(lead record.Lead) string {
	if lead.PropertyAddress == "" {
		return "(System Note: Property address is still missing. Ask for the full property address first.)"
	}

	var missing []string
	if lead.Name == "" {
		missing = append(missing, "Name")
	}
	if lead.Email == "" && lead.Phone == "" {
		missing = append(missing, "Email or Phone")
	}
	if len(missing) > 0 {
		return fmt.Sprintf("(System Note: Contact info missing: %s. Ask for it next.)", strings.Join(missing, ", "))
	}

	if lead.Motivation == "" {
		return "(System Note: Contact info complete. Move to Motivation: ask why they are selling.)"
	}
	return "(System Note: Lead profile complete. Move on to property details and the offer.)"
}

func (d *Dispatcher) structureOffer(args map[string]any) string {
	offer := d.records.StructureOffer(record.OfferInput{
		OfferType:      argString(args, "offerType"),
		PurchasePrice:  argNumberPtr(args, "purchasePrice"),
		ARV:            argNumberPtr(args, "arv"),
		DownPayment:    argNumberPtr(args, "downPayment"),
		InterestRate:   argNumberPtr(args, "interestRate"),
		TermLength:     argString(args, "termLength"),
		MonthlyPayment: argNumberPtr(args, "monthlyPayment"),
		ClosingDays:    argIntPtr(args, "closingDays"),
		Contingencies:  argString(args, "contingencies"),
	})
	return fmt.Sprintf("Offer structured successfully (%s, %s). Present the terms.",
		offer.OfferType, formatNumber(offer.PurchasePrice))
}

func estimateARV(args map[string]any) string {
	details := []string{"beds", "baths", "squareFeet", "condition"}
	hasDetails := false
	for _, key := range details {
		if argPresent(args, key) {
			hasDetails = true
			break
		}
	}

	if !hasDetails {
		return "System Instruction: To estimate ARV accurately, you MUST ask for: Beds, Baths, Square Footage, and Condition (1-10). Capture these details then re-evaluate."
	}

	return fmt.Sprintf("Property Details Captured: %sbd/%sba, %ssqft, Condition: %s. ACTION: Based on this data and the location, provide a conservative ARV estimate now.",
		argDisplay(args, "beds"),
		argDisplay(args, "baths"),
		argDisplay(args, "squareFeet"),
		argDisplay(args, "condition"))
}

func searchComps(args map[string]any) string {
	address := argString(args, "address")
	if address == "" {
		address = "location"
	}
	radius := MaxCompsRadiusMiles
	if r, ok := argNumber(args, "radius"); ok && r > 0 && r < radius {
		radius = r
	}

	return fmt.Sprintf("SYSTEM: Search executed for %s (%s mi radius). "+
		"ACTION: Access your internal real estate database. List 3 comparable properties sold recently near this address. "+
		"For each, provide: Address, Sold Price, Date, Beds/Baths, and Sqft. "+
		"Then calculate the average price per sqft to refine the ARV.",
		address, formatNumber(radius))
}

func sendOfferEmail(args map[string]any) (string, error) {
	var missing []string
	for _, key := range []string{"toEmail", "subject", "bodyText"} {
		if argString(args, key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return fmt.Sprintf("Email sent successfully to %s. Tell user to check inbox.", argString(args, "toEmail")), nil
}
