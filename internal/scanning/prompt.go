package scanning

// Field names the extraction prompt asks the model to return.
const (
	FieldDate          = "date"
	FieldVendor        = "vendor"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldCategory      = "category"
	FieldPaymentMethod = "paymentMethod"
	FieldConfidence    = "confidence"
)

// Prompt is a versioned extraction instruction together with the output
// fields it declares. The normalizer checks its coercion table against
// Fields, not against the wording of Text.
type Prompt struct {
	Version string
	Text    string
	Fields  []string
}

// PromptV1 is the receipt extraction prompt shared by all providers
var PromptV1 = Prompt{
	Version: "v1",
	Fields: []string{
		FieldDate,
		FieldVendor,
		FieldAmount,
		FieldCurrency,
		FieldCategory,
		FieldPaymentMethod,
		FieldConfidence,
	},
	Text: `Analyze this receipt image and extract the following information. Return ONLY a valid JSON object with no additional text or markdown formatting.

{
  "date": "YYYY-MM-DD format, use today's date if not visible",
  "vendor": "Business/merchant name",
  "amount": number (total amount as a decimal number, no currency symbol),
  "currency": "Three letter currency code, USD if unclear",
  "category": "One of: Travel, Meals, Supplies, Mileage, Other",
  "paymentMethod": "Credit Card, Debit, Cash, or Unknown",
  "confidence": "high, medium, or low based on how clearly you could read the receipt"
}

Important:
- For amount, extract the TOTAL amount including tax
- If you can't read something clearly, make your best guess and set confidence to "low" or "medium"
- Return ONLY the JSON object, no other text`,
}

// systemInstruction is sent as a system message by providers that support one
const systemInstruction = "You are an expert at reading and extracting information from receipts and invoices. You must carefully read all text in images and extract accurate information."
