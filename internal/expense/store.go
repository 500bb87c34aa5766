package expense

import (
	"sync"
)

// Store is the record store for expenses and groups. Saves are upserts
// matched by ID: an existing record is replaced in place, a new one is
// appended. Deleting a missing ID is a no-op.
type Store interface {
	// ListExpenses returns all expenses in insertion order
	ListExpenses() ([]*Expense, error)

	// SaveExpense inserts or replaces an expense
	SaveExpense(expense *Expense) error

	// DeleteExpense removes an expense
	DeleteExpense(id string) error

	// ListGroups returns all groups in insertion order
	ListGroups() ([]*Group, error)

	// SaveGroup inserts or replaces a group
	SaveGroup(group *Group) error

	// DeleteGroup removes a group
	DeleteGroup(id string) error

	// Close releases the underlying storage
	Close() error
}

func expenseID(e *Expense) string { return e.ID }

func groupID(g *Group) string { return g.ID }

// upsert replaces the item with a matching id in place or appends it
func upsert[T any](items []T, item T, id func(T) string) []T {
	for i := range items {
		if id(items[i]) == id(item) {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

// remove drops every item with the given id, preserving order
func remove[T any](items []T, target string, id func(T) string) []T {
	kept := items[:0]
	for _, item := range items {
		if id(item) != target {
			kept = append(kept, item)
		}
	}
	return kept
}

// MemoryStore implements Store in memory
type MemoryStore struct {
	mu       sync.Mutex
	expenses []*Expense
	groups   []*Group
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// ListExpenses returns copies of all expenses
func (m *MemoryStore) ListExpenses() ([]*Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expenses := make([]*Expense, 0, len(m.expenses))
	for _, e := range m.expenses {
		c := *e
		expenses = append(expenses, &c)
	}
	return expenses, nil
}

// SaveExpense stores a copy of the expense
func (m *MemoryStore) SaveExpense(expense *Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *expense
	m.expenses = upsert(m.expenses, &c, expenseID)
	return nil
}

// DeleteExpense removes an expense
func (m *MemoryStore) DeleteExpense(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expenses = remove(m.expenses, id, expenseID)
	return nil
}

// ListGroups returns copies of all groups
func (m *MemoryStore) ListGroups() ([]*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		c := *g
		groups = append(groups, &c)
	}
	return groups, nil
}

// SaveGroup stores a copy of the group
func (m *MemoryStore) SaveGroup(group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *group
	m.groups = upsert(m.groups, &c, groupID)
	return nil
}

// DeleteGroup removes a group
func (m *MemoryStore) DeleteGroup(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.groups = remove(m.groups, id, groupID)
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
