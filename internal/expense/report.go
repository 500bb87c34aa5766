package expense

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const recentLimit = 5

// CategoryTotal is the count and sum of expenses in one category
type CategoryTotal struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
	Amount   float64  `json:"amount"`
}

// Summary aggregates a list of expenses
type Summary struct {
	Count      int             `json:"count"`
	Total      float64         `json:"total"`
	ByCategory []CategoryTotal `json:"byCategory"`
}

// Dashboard is the overview shown on the landing page
type Dashboard struct {
	Count       int            `json:"count"`
	Total       float64        `json:"total"`
	MonthCount  int            `json:"monthCount"`
	MonthTotal  float64        `json:"monthTotal"`
	TopCategory *CategoryTotal `json:"topCategory,omitempty"`
	Recent      []*Expense     `json:"recent"`
}

func sumAmounts(expenses []*Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(decimal.NewFromFloat(e.Amount))
	}
	return total
}

func toFloat(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// Summarize totals expenses overall and per category. Categories are
// ordered by amount, largest first.
func Summarize(expenses []*Expense) Summary {
	sums := make(map[Category]decimal.Decimal)
	counts := make(map[Category]int)
	var order []Category
	for _, e := range expenses {
		if _, seen := counts[e.Category]; !seen {
			order = append(order, e.Category)
			sums[e.Category] = decimal.Zero
		}
		counts[e.Category]++
		sums[e.Category] = sums[e.Category].Add(decimal.NewFromFloat(e.Amount))
	}

	byCategory := make([]CategoryTotal, 0, len(order))
	for _, c := range order {
		byCategory = append(byCategory, CategoryTotal{
			Category: c,
			Count:    counts[c],
			Amount:   toFloat(sums[c]),
		})
	}
	slices.SortStableFunc(byCategory, func(a, b CategoryTotal) int {
		return sums[b.Category].Cmp(sums[a.Category])
	})

	return Summary{
		Count:      len(expenses),
		Total:      toFloat(sumAmounts(expenses)),
		ByCategory: byCategory,
	}
}

// BuildDashboard computes totals, the current month's spend, the top
// category and the most recently created expenses.
func BuildDashboard(expenses []*Expense, now time.Time) Dashboard {
	month := now.Format("2006-01")
	var thisMonth []*Expense
	for _, e := range expenses {
		if strings.HasPrefix(e.Date, month) {
			thisMonth = append(thisMonth, e)
		}
	}

	recent := slices.Clone(expenses)
	slices.SortStableFunc(recent, func(a, b *Expense) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	if recent == nil {
		recent = []*Expense{}
	}

	summary := Summarize(expenses)
	dashboard := Dashboard{
		Count:      summary.Count,
		Total:      summary.Total,
		MonthCount: len(thisMonth),
		MonthTotal: toFloat(sumAmounts(thisMonth)),
		Recent:     recent,
	}
	if len(summary.ByCategory) > 0 {
		top := summary.ByCategory[0]
		dashboard.TopCategory = &top
	}
	return dashboard
}
