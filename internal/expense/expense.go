package expense

import (
	"errors"
	"time"

	"github.com/zombor/expense-tracker/internal/scanning"
)

var (
	// ErrNotFound is returned when an expense, group or receipt file does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for input that fails validation
	ErrInvalid = errors.New("invalid input")
)

// Category is an expense category. The standard set is listed in
// scanning.Categories, but extracted values outside it are kept as-is.
type Category string

// IsStandard reports whether c is one of the standard categories
func (c Category) IsStandard() bool {
	for _, s := range scanning.Categories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// Confidence is the model-reported certainty of an extraction
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Expense is the canonical expense record
type Expense struct {
	ID            string     `json:"id"`
	ReceiptURL    string     `json:"receiptUrl"`
	Date          string     `json:"date"` // YYYY-MM-DD
	Vendor        string     `json:"vendor"`
	Amount        float64    `json:"amount"` // total including tax
	Currency      string     `json:"currency"`
	Category      Category   `json:"category"`
	PaymentMethod string     `json:"paymentMethod"`
	Notes         string     `json:"notes,omitempty"`
	ProjectCode   string     `json:"projectCode,omitempty"`
	GroupID       string     `json:"groupId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	Confidence    Confidence `json:"confidence"`
}

// Group collects related expenses, e.g. one business trip
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// fromReceiptData builds an unsaved expense from normalized scan output
func fromReceiptData(data *scanning.ReceiptData) *Expense {
	return &Expense{
		Date:          data.Date,
		Vendor:        data.Vendor,
		Amount:        data.Amount,
		Currency:      data.Currency,
		Category:      Category(data.Category),
		PaymentMethod: data.PaymentMethod,
		Confidence:    Confidence(data.Confidence),
	}
}
