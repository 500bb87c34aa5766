package expense

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/expense-tracker/internal/scanning"
)

const (
	// DefaultScanConcurrency bounds parallel provider calls in a batch scan
	DefaultScanConcurrency = 4

	receiptURLPrefix = "/api/receipts/"
	dateLayout       = "2006-01-02"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// IDGenerator generates unique IDs for expenses and groups
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload is one file submitted for scanning
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// ScanResult is the outcome of one file in a batch scan
type ScanResult struct {
	Filename string   `json:"filename"`
	Expense  *Expense `json:"expense,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Service handles expense operations
type Service struct {
	store           Store
	scanner         scanning.Scanner
	storage         Storage
	idGenerator     IDGenerator
	timeSource      TimeSource
	scanConcurrency int
}

// NewService creates a new Service with UUID ids and the wall clock
func NewService(store Store, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(store, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:           store,
		scanner:         scanner,
		storage:         storage,
		idGenerator:     idGen,
		timeSource:      timeSrc,
		scanConcurrency: DefaultScanConcurrency,
	}
}

// SetScanConcurrency changes how many files a batch scan processes at once
func (s *Service) SetScanConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.scanConcurrency = n
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// 50 chars for base, plus extension
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	// extensions can carry the same junk as the base
	ext = unsafeFilenameChars.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext != "" {
		ext = "." + ext
	}

	return base + ext
}

// ScanReceipt stores the uploaded file and extracts an unsaved expense from
// it. The caller reviews the result and persists it with SaveExpense.
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Expense, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	receiptData, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(savedName); delErr != nil {
			slog.Warn("Failed to clean up receipt file", "filename", savedName, "error", delErr)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	expense := fromReceiptData(receiptData)
	expense.ID = id
	expense.ReceiptURL = receiptURLPrefix + savedName
	expense.CreatedAt = now
	return expense, nil
}

// ScanReceipts scans several files concurrently. A failed file is reported in
// its own result and does not affect the others. Results keep input order.
func (s *Service) ScanReceipts(ctx context.Context, uploads []Upload) []ScanResult {
	results := make([]ScanResult, len(uploads))

	g := new(errgroup.Group)
	g.SetLimit(s.scanConcurrency)
	for i, u := range uploads {
		g.Go(func() error {
			results[i].Filename = u.Filename
			expense, err := s.ScanReceipt(ctx, u.Filename, u.Data, u.ContentType)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Expense = expense
			return nil
		})
	}
	g.Wait()

	return results
}

// applyDefaults fills blank fields the way extraction does
func applyDefaults(e *Expense, now time.Time) {
	e.Date = strings.TrimSpace(e.Date)
	if e.Date == "" {
		e.Date = now.Format(dateLayout)
	}
	e.Vendor = strings.TrimSpace(e.Vendor)
	if e.Vendor == "" {
		e.Vendor = scanning.DefaultVendor
	}
	if strings.TrimSpace(e.Currency) == "" {
		e.Currency = scanning.DefaultCurrency
	}
	if strings.TrimSpace(string(e.Category)) == "" {
		e.Category = scanning.DefaultCategory
	}
	if strings.TrimSpace(e.PaymentMethod) == "" {
		e.PaymentMethod = scanning.DefaultPaymentMethod
	}
	// hand-entered records carry no model uncertainty
	if e.Confidence == "" {
		e.Confidence = ConfidenceHigh
	}
}

func validateExpense(e *Expense) error {
	if e.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalid)
	}
	if _, err := time.Parse(dateLayout, e.Date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalid, e.Date)
	}
	switch e.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return fmt.Errorf("%w: confidence %q", ErrInvalid, e.Confidence)
	}
	return nil
}

func findByID[T any](items []T, target string, id func(T) string) (T, bool) {
	for _, item := range items {
		if id(item) == target {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// SaveExpense creates or updates an expense. An update keeps the stored
// creation time, and keeps the stored receipt URL unless a new one is given.
func (s *Service) SaveExpense(expense *Expense) (*Expense, error) {
	e := *expense
	applyDefaults(&e, s.timeSource.Now())
	if err := validateExpense(&e); err != nil {
		return nil, err
	}

	if e.GroupID != "" {
		groups, err := s.store.ListGroups()
		if err != nil {
			return nil, fmt.Errorf("listing groups: %w", err)
		}
		if _, ok := findByID(groups, e.GroupID, groupID); !ok {
			return nil, fmt.Errorf("%w: group %s does not exist", ErrInvalid, e.GroupID)
		}
	}

	existing, err := s.findExpense(e.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		if e.ID == "" {
			e.ID = s.idGenerator.Generate()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.timeSource.Now()
		}
	case err != nil:
		return nil, err
	default:
		e.CreatedAt = existing.CreatedAt
		if e.ReceiptURL == "" {
			e.ReceiptURL = existing.ReceiptURL
		}
	}

	if err := s.store.SaveExpense(&e); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return &e, nil
}

func (s *Service) findExpense(id string) (*Expense, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	expenses, err := s.store.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	e, ok := findByID(expenses, id, expenseID)
	if !ok {
		return nil, fmt.Errorf("expense %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(id string) (*Expense, error) {
	e, err := s.findExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return e, nil
}

// ListExpenses returns the expenses matching the filter
func (s *Service) ListExpenses(filter Filter) ([]*Expense, error) {
	expenses, err := s.store.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return filter.Apply(expenses), nil
}

// DeleteExpense removes an expense and its receipt file
func (s *Service) DeleteExpense(id string) error {
	e, err := s.findExpense(id)
	if err != nil {
		return fmt.Errorf("getting expense for deletion: %w", err)
	}

	if name, ok := strings.CutPrefix(e.ReceiptURL, receiptURLPrefix); ok && name != "" {
		if err := s.storage.Delete(name); err != nil {
			slog.Warn("Failed to delete file", "filename", name, "error", err)
		}
	}

	if err := s.store.DeleteExpense(id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}

// Dashboard summarizes all expenses as of now
func (s *Service) Dashboard() (Dashboard, error) {
	expenses, err := s.store.ListExpenses()
	if err != nil {
		return Dashboard{}, fmt.Errorf("listing expenses: %w", err)
	}
	return BuildDashboard(expenses, s.timeSource.Now()), nil
}

// CreateGroup creates a group and assigns the listed expenses to it
func (s *Service) CreateGroup(name, description string, expenseIDs []string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalid)
	}

	group := &Group{
		ID:          s.idGenerator.Generate(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.timeSource.Now(),
	}
	if err := s.store.SaveGroup(group); err != nil {
		return nil, fmt.Errorf("saving group: %w", err)
	}

	if err := s.assign(group.ID, expenseIDs); err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups returns all groups
func (s *Service) ListGroups() ([]*Group, error) {
	groups, err := s.store.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	return groups, nil
}

// GetGroup retrieves a group by ID
func (s *Service) GetGroup(id string) (*Group, error) {
	groups, err := s.store.ListGroups()
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	g, ok := findByID(groups, id, groupID)
	if !ok {
		return nil, fmt.Errorf("getting group %s: %w", id, ErrNotFound)
	}
	return g, nil
}

// UpdateGroup changes a group's name and description
func (s *Service) UpdateGroup(id, name, description string) (*Group, error) {
	group, err := s.GetGroup(id)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalid)
	}
	group.Name = name
	group.Description = strings.TrimSpace(description)
	if err := s.store.SaveGroup(group); err != nil {
		return nil, fmt.Errorf("saving group: %w", err)
	}
	return group, nil
}

// AssignToGroup moves the listed expenses into a group
func (s *Service) AssignToGroup(id string, expenseIDs []string) error {
	if _, err := s.GetGroup(id); err != nil {
		return err
	}
	return s.assign(id, expenseIDs)
}

func (s *Service) assign(groupID string, expenseIDs []string) error {
	if len(expenseIDs) == 0 {
		return nil
	}
	expenses, err := s.store.ListExpenses()
	if err != nil {
		return fmt.Errorf("listing expenses: %w", err)
	}
	for _, id := range expenseIDs {
		e, ok := findByID(expenses, id, expenseID)
		if !ok {
			return fmt.Errorf("assigning expense %s: %w", id, ErrNotFound)
		}
		e.GroupID = groupID
		if err := s.store.SaveExpense(e); err != nil {
			return fmt.Errorf("updating expense %s: %w", id, err)
		}
	}
	return nil
}

// DeleteGroup removes a group and clears it from its member expenses
func (s *Service) DeleteGroup(id string) error {
	if _, err := s.GetGroup(id); err != nil {
		return err
	}

	expenses, err := s.store.ListExpenses()
	if err != nil {
		return fmt.Errorf("listing expenses: %w", err)
	}
	for _, e := range expenses {
		if e.GroupID != id {
			continue
		}
		e.GroupID = ""
		if err := s.store.SaveExpense(e); err != nil {
			return fmt.Errorf("ungrouping expense %s: %w", e.ID, err)
		}
	}

	if err := s.store.DeleteGroup(id); err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return nil
}

// GetReceiptFile returns a stored receipt image and its sniffed content type
func (s *Service) GetReceiptFile(name string) ([]byte, string, error) {
	data, err := s.storage.Get(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("getting receipt file %s: %w", name, ErrNotFound)
		}
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, http.DetectContentType(data), nil
}
