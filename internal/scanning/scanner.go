package scanning

import "context"

// ReceiptData contains the normalized fields extracted from a receipt
type ReceiptData struct {
	Date          string  `json:"date"` // YYYY-MM-DD
	Vendor        string  `json:"vendor"`
	Amount        float64 `json:"amount"` // total including tax
	Currency      string  `json:"currency"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"paymentMethod"`
	Confidence    string  `json:"confidence"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts metadata
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Requester sends one extraction request to a vision-capable model and
// returns the first text block of its reply.
type Requester interface {
	Request(ctx context.Context, payload EncodedPayload, prompt Prompt) (string, error)
	// Name identifies the provider in logs and metrics
	Name() string
	Close() error
}
