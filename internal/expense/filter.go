package expense

import (
	"cmp"
	"net/url"
	"slices"
	"strings"
)

// SortField selects the expense list ordering
type SortField string

const (
	SortDate   SortField = "date"
	SortAmount SortField = "amount"
	SortVendor SortField = "vendor"
)

// Special values for Filter.Group and Filter.Category
const (
	FilterAll       = "all"
	GroupUngrouped  = "ungrouped"
	OrderAscending  = "asc"
	OrderDescending = "desc"
)

// Filter narrows and orders an expense list
type Filter struct {
	Query    string    // substring of vendor, notes or date
	Category string    // exact category, "" or "all" for any
	Group    string    // group ID, "ungrouped", "" or "all"
	From     string    // inclusive YYYY-MM-DD lower bound
	To       string    // inclusive YYYY-MM-DD upper bound
	SortBy   SortField // defaults to date
	Order    string    // "asc" or "desc" (default)
}

// FilterFromQuery reads a Filter from URL query parameters
func FilterFromQuery(q url.Values) Filter {
	return Filter{
		Query:    q.Get("q"),
		Category: q.Get("category"),
		Group:    q.Get("group"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		SortBy:   SortField(q.Get("sort")),
		Order:    q.Get("order"),
	}
}

func (f Filter) matches(e *Expense) bool {
	if f.Query != "" {
		query := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(e.Vendor), query) &&
			!strings.Contains(strings.ToLower(e.Notes), query) &&
			!strings.Contains(e.Date, query) {
			return false
		}
	}
	if f.Category != "" && f.Category != FilterAll && string(e.Category) != f.Category {
		return false
	}
	switch f.Group {
	case "", FilterAll:
	case GroupUngrouped:
		if e.GroupID != "" {
			return false
		}
	default:
		if e.GroupID != f.Group {
			return false
		}
	}
	if f.From != "" && e.Date < f.From {
		return false
	}
	if f.To != "" && e.Date > f.To {
		return false
	}
	return true
}

func (f Filter) compare(a, b *Expense) int {
	var c int
	switch f.SortBy {
	case SortAmount:
		c = cmp.Compare(a.Amount, b.Amount)
	case SortVendor:
		c = strings.Compare(strings.ToLower(a.Vendor), strings.ToLower(b.Vendor))
	default:
		// YYYY-MM-DD sorts lexically
		c = strings.Compare(a.Date, b.Date)
	}
	if f.Order == OrderAscending {
		return c
	}
	return -c
}

// Apply returns the matching expenses in the requested order. The input is not modified.
func (f Filter) Apply(expenses []*Expense) []*Expense {
	result := make([]*Expense, 0, len(expenses))
	for _, e := range expenses {
		if f.matches(e) {
			result = append(result, e)
		}
	}
	slices.SortStableFunc(result, f.compare)
	return result
}
