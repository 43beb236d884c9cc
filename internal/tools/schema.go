package tools

import "google.golang.org/genai"

// Tool names exposed to the service
const (
	CaptureLeadInfo = "captureLeadInfo"
	StructureOffer  = "structureOffer"
	EstimateARV     = "estimateArv"
	SendOfferEmail  = "sendOfferEmail"
	SearchComps     = "searchComps"
)

// MaxCompsRadiusMiles bounds comparable-sales searches
const MaxCompsRadiusMiles = 0.5

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func num(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: desc}
}

// Declarations returns the five tool schemas. Only sendOfferEmail has
// required fields; the others accept partial arguments so details can be
// captured incrementally.
func Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        CaptureLeadInfo,
			Description: "Captures real estate lead information. Strict order: (1) Property Address, (2) Contact Info, (3) Motivation.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"propertyAddress": str("Full property address being sold. MUST be captured first."),
					"name":            str("Lead's full name."),
					"phone":           str("Lead's best contact phone number."),
					"email":           str("Lead's email address."),
					"motivation":      str("Reason for selling (relocation, financial distress, tired landlord, inherited property, etc.)."),
				},
			},
		},
		{
			Name:        StructureOffer,
			Description: "Creates a structured real estate offer once specific numbers are discussed.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"offerType":      str("Offer strategy: CASH, SELLER_FINANCE, SUB_TO, LEASE_OPTION, OTHER."),
					"purchasePrice":  num("Total purchase price being offered."),
					"arv":            num("After Repair Value used in offer logic."),
					"downPayment":    num("Cash paid at closing for creative deals."),
					"interestRate":   num("Interest rate offered for seller financing."),
					"termLength":     str("Financing term (e.g., '5 years', '30 years')."),
					"monthlyPayment": num("Monthly payment to seller if applicable."),
					"closingDays":    num("Closing timeline in days."),
					"contingencies":  str("Inspection, clear title, appraisal, or none."),
				},
			},
		},
		{
			Name:        EstimateARV,
			Description: "Collects structured property details so an ARV engine or human underwriter can estimate value. Assistant MUST NOT guess ARV.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"propertyAddress":    str("Full property address for ARV estimation."),
					"beds":               num("Number of bedrooms."),
					"baths":              num("Number of bathrooms."),
					"squareFeet":         num("Approximate living area in square feet."),
					"propertyType":       str("Single family, duplex, condo, etc."),
					"condition":          str("Condition level (distressed, dated, updated, renovated)."),
					"repairsNeeded":      str("Major repairs needed."),
					"sellerValueOpinion": num("Seller's opinion of value, if any."),
					"notes":              str("Additional notes that affect value."),
				},
			},
		},
		{
			Name:        SendOfferEmail,
			Description: "Sends a written real estate offer to the seller via email after terms are discussed.",
			Parameters: &genai.Schema{
				Type:     genai.TypeObject,
				Required: []string{"toEmail", "subject", "bodyText"},
				Properties: map[string]*genai.Schema{
					"toEmail":         str("Seller's email address."),
					"subject":         str("Email subject line summarizing the offer."),
					"bodyText":        str("Plain-text version of the written offer."),
					"ccEmail":         str("Optional CC address."),
					"propertyAddress": str("The property the offer relates to."),
					"offerType":       str("Offer type for clarity in the email."),
					"purchasePrice":   num("Offer price included in the email."),
					"monthlyPayment":  num("For creative deals: monthly payment if applicable."),
					"closingDays":     num("Closing timeline if included."),
				},
			},
		},
		{
			Name:        SearchComps,
			Description: "Searches for comparable property sales (comps) within a 0.5-mile radius to help estimate ARV. Returns sold price, date, beds, baths, and sqft.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"address":  str("Target property address to search around."),
					"radius":   num("Search radius in miles. Limit to 0.5."),
					"minBeds":  num("Minimum bedrooms (optional)."),
					"minBaths": num("Minimum bathrooms (optional)."),
				},
			},
		},
	}
}

// Tools wraps the declarations for a session setup
func Tools() []*genai.Tool {
	return []*genai.Tool{{FunctionDeclarations: Declarations()}}
}
