package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Default values substituted for missing or malformed fields
const (
	DefaultVendor        = "Unknown Vendor"
	DefaultCurrency      = "USD"
	DefaultCategory      = "Other"
	DefaultPaymentMethod = "Unknown"
	DefaultConfidence    = "low"
)

// Categories is the standard category set, in display order
var Categories = []string{"Travel", "Meals", "Supplies", "Mileage", "Other"}

// Confidences are the accepted confidence levels
var Confidences = []string{"high", "medium", "low"}

const dateLayout = "2006-01-02"

var (
	// greedy: first '{' through last '}'
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

	dateFormats = []string{
		dateLayout,
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
	}

	errNotObject    = errors.New("response is not a JSON object")
	errTrailingData = errors.New("unexpected data after JSON object")
)

// fieldRule describes how one extracted field is lifted onto ReceiptData.
// coerce reports false when the value has the wrong shape.
type fieldRule struct {
	name     string
	expected string
	coerce   func(v any, data *ReceiptData) bool
	fallback func(data *ReceiptData, now time.Time)
}

var fieldRules = map[string]fieldRule{
	FieldDate: {
		name:     FieldDate,
		expected: "date string",
		coerce: func(v any, data *ReceiptData) bool {
			s, ok := nonBlankString(v)
			if !ok {
				return false
			}
			for _, format := range dateFormats {
				if d, err := time.Parse(format, s); err == nil {
					data.Date = d.Format(dateLayout)
					return true
				}
			}
			return false
		},
		fallback: func(data *ReceiptData, now time.Time) { data.Date = now.Format(dateLayout) },
	},
	FieldVendor: {
		name:     FieldVendor,
		expected: "non-empty string",
		coerce: func(v any, data *ReceiptData) bool {
			s, ok := nonBlankString(v)
			data.Vendor = s
			return ok
		},
		fallback: func(data *ReceiptData, _ time.Time) { data.Vendor = DefaultVendor },
	},
	FieldAmount: {
		name:     FieldAmount,
		expected: "non-negative number",
		coerce: func(v any, data *ReceiptData) bool {
			amount, ok := coerceAmount(v)
			data.Amount = amount
			return ok
		},
		fallback: func(data *ReceiptData, _ time.Time) { data.Amount = 0 },
	},
	FieldCurrency: {
		name:     FieldCurrency,
		expected: "non-empty string",
		coerce: func(v any, data *ReceiptData) bool {
			s, ok := nonBlankString(v)
			data.Currency = strings.ToUpper(s)
			return ok
		},
		fallback: func(data *ReceiptData, _ time.Time) { data.Currency = DefaultCurrency },
	},
	FieldCategory: {
		name:     FieldCategory,
		expected: "non-empty string",
		coerce: func(v any, data *ReceiptData) bool {
			s, ok := nonBlankString(v)
			if !ok {
				return false
			}
			// Unknown categories pass through verbatim
			data.Category = s
			for _, c := range Categories {
				if strings.EqualFold(c, s) {
					data.Category = c
					break
				}
			}
			return true
		},
		fallback: func(data *ReceiptData, _ time.Time) { data.Category = DefaultCategory },
	},
	FieldPaymentMethod: {
		name:     FieldPaymentMethod,
		expected: "non-empty string",
		coerce: func(v any, data *ReceiptData) bool {
			s, ok := nonBlankString(v)
			data.PaymentMethod = s
			return ok
		},
		fallback: func(data *ReceiptData, _ time.Time) { data.PaymentMethod = DefaultPaymentMethod },
	},
	FieldConfidence: {
		name:     FieldConfidence,
		expected: "one of high, medium, low",
		coerce: func(v any, data *ReceiptData) bool {
			s, ok := nonBlankString(v)
			if !ok {
				return false
			}
			s = strings.ToLower(s)
			for _, c := range Confidences {
				if s == c {
					data.Confidence = c
					return true
				}
			}
			return false
		},
		fallback: func(data *ReceiptData, _ time.Time) { data.Confidence = DefaultConfidence },
	},
}

func nonBlankString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// coerceAmount accepts JSON numbers and numeric strings such as "12.50",
// "$1,024.00" or " 3 ". Negative values and values outside the float64 range
// are rejected.
func coerceAmount(v any) (float64, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
	default:
		return 0, false
	}

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return 0, false
	}
	amount := d.InexactFloat64()
	if math.IsInf(amount, 0) || math.IsNaN(amount) {
		return 0, false
	}
	return amount, true
}

// Normalizer turns free-form model output into a fully populated ReceiptData
type Normalizer struct {
	rules []fieldRule
	now   func() time.Time
}

// NewNormalizer builds a normalizer for the fields declared by prompt. Every
// declared field must have a coercion rule.
func NewNormalizer(prompt Prompt) (*Normalizer, error) {
	rules := make([]fieldRule, 0, len(prompt.Fields))
	for _, field := range prompt.Fields {
		rule, ok := fieldRules[field]
		if !ok {
			return nil, fmt.Errorf("prompt %s declares field %q with no coercion rule", prompt.Version, field)
		}
		rules = append(rules, rule)
	}
	for name := range fieldRules {
		if !containsField(prompt.Fields, name) {
			return nil, fmt.Errorf("prompt %s does not declare field %q", prompt.Version, name)
		}
	}
	return &Normalizer{rules: rules, now: time.Now}, nil
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

// extractFields pulls the JSON object out of model text into a loose map
func extractFields(text string) (map[string]any, error) {
	candidate := text
	if match := jsonObjectPattern.FindString(text); match != "" {
		candidate = match
	}

	// numbers stay json.Number so an out-of-range amount only defaults that field
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	// "null" unmarshals into a nil map without error
	if fields == nil {
		return nil, errNotObject
	}
	return fields, nil
}

// Normalize extracts the JSON object from text and applies field defaults. It
// returns either a complete ReceiptData or an *UnparseableResponseError.
func (n *Normalizer) Normalize(text string) (*ReceiptData, error) {
	fields, err := extractFields(text)
	if err != nil {
		return nil, &UnparseableResponseError{Text: text, Err: err}
	}

	now := n.now()
	data := &ReceiptData{}
	for _, rule := range n.rules {
		v, present := fields[rule.name]
		if present && rule.coerce(v, data) {
			continue
		}
		rule.fallback(data, now)
		fieldFallbacks.WithLabelValues(rule.name).Inc()
		slog.Debug("Field defaulted",
			"field", rule.name,
			"expected", rule.expected,
			"present", present,
			"value", v,
		)
	}
	return data, nil
}
