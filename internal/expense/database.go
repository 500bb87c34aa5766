package expense

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName  = "collections"
	expensesKey = "expenses"
	groupsKey   = "expense_groups"
	openTimeout = 1 * time.Second
	dbFileMode  = 0600
)

// BoltStore implements Store on a bbolt file. Each collection is kept as a
// single JSON array that is rewritten on every change, so list order is
// insertion order.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// readCollection decodes the JSON array stored under key into out
func readCollection(tx *bbolt.Tx, key string, out any) error {
	data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return nil
}

// writeCollection replaces the JSON array stored under key
func writeCollection(tx *bbolt.Tx, key string, items any) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return tx.Bucket([]byte(bucketName)).Put([]byte(key), data)
}

// modifyCollection runs a read-modify-write of one collection in a single transaction
func modifyCollection[T any](b *BoltStore, key string, modify func([]T) []T) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var items []T
		if err := readCollection(tx, key, &items); err != nil {
			return err
		}
		return writeCollection(tx, key, modify(items))
	})
}

func listCollection[T any](b *BoltStore, key string) ([]T, error) {
	items := make([]T, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return readCollection(tx, key, &items)
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = make([]T, 0)
	}
	return items, nil
}

// ListExpenses returns all expenses
func (b *BoltStore) ListExpenses() ([]*Expense, error) {
	return listCollection[*Expense](b, expensesKey)
}

// SaveExpense inserts or replaces an expense
func (b *BoltStore) SaveExpense(expense *Expense) error {
	return modifyCollection(b, expensesKey, func(items []*Expense) []*Expense {
		return upsert(items, expense, expenseID)
	})
}

// DeleteExpense removes an expense
func (b *BoltStore) DeleteExpense(id string) error {
	return modifyCollection(b, expensesKey, func(items []*Expense) []*Expense {
		return remove(items, id, expenseID)
	})
}

// ListGroups returns all groups
func (b *BoltStore) ListGroups() ([]*Group, error) {
	return listCollection[*Group](b, groupsKey)
}

// SaveGroup inserts or replaces a group
func (b *BoltStore) SaveGroup(group *Group) error {
	return modifyCollection(b, groupsKey, func(items []*Group) []*Group {
		return upsert(items, group, groupID)
	})
}

// DeleteGroup removes a group
func (b *BoltStore) DeleteGroup(id string) error {
	return modifyCollection(b, groupsKey, func(items []*Group) []*Group {
		return remove(items, id, groupID)
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
