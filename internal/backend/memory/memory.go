// Package memory provides an in-process collaborator used by tests and
// the "memory" backend mode.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/core"
)

// Store keeps everything the editor talks to in memory: purchases,
// the category directory per level, users, and provenance logs. Failure
// injection fields let tests abort the gateway at a chosen step.
type Store struct {
	mu         sync.Mutex
	nextID     int64
	purchases  map[int64]backend.PurchaseRecord
	categories map[int][]string
	users      []core.User
	logs       map[int64][]core.LogEntry
	extraction []byte

	// Call recording for orchestration tests.
	CategoryCalls []CategoryCall
	CreateCalls   int
	UpdateCalls   int

	// Failure injection; nil means the call succeeds.
	FailCreateCategory error
	FailCreate         error
	FailUpdate         error
	FailDelete         error
	FailAppendLog      error
}

// CategoryCall records one CreateCategory invocation in order.
type CategoryCall struct {
	Name  string
	Level int
}

var (
	_ backend.PurchaseStore     = (*Store)(nil)
	_ backend.CategoryDirectory = (*Store)(nil)
	_ backend.UserDirectory     = (*Store)(nil)
	_ backend.ProvenanceLog     = (*Store)(nil)
	_ backend.ItemExtractor     = (*Store)(nil)
)

// New creates a store seeded with users and per-level category names.
func New(users []core.User, categories map[int][]string) *Store {
	seeded := map[int][]string{1: nil, 2: nil, 3: nil}
	for level, names := range categories {
		seeded[level] = dedupeSorted(names)
	}
	return &Store{
		nextID:     1,
		purchases:  make(map[int64]backend.PurchaseRecord),
		categories: seeded,
		users:      append([]core.User(nil), users...),
		logs:       make(map[int64][]core.LogEntry),
	}
}

// NewFromFiles seeds the store from optional text files in base:
// seed_users.txt (one display name per line) and seed_categories_N.txt
// for levels 1-3. Missing files fall back to a small default set.
func NewFromFiles(base string) *Store {
	if base == "" {
		base = "data"
	}
	var users []core.User
	for i, name := range readLines(filepath.Join(base, "seed_users.txt")) {
		users = append(users, core.User{ID: int64(i + 1), Name: name})
	}
	if len(users) == 0 {
		users = []core.User{{ID: 1, Name: "Alice"}, {ID: 2, Name: "Bob"}}
	}

	categories := make(map[int][]string, 3)
	for level := 1; level <= 3; level++ {
		categories[level] = readLines(filepath.Join(base, fmt.Sprintf("seed_categories_%d.txt", level)))
	}
	if len(categories[1]) == 0 {
		categories[1] = []string{"Food", "Household", "Transport"}
	}
	return New(users, categories)
}

// GetPurchase implements backend.PurchaseStore
func (s *Store) GetPurchase(_ context.Context, id int64) (*backend.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.purchases[id]
	if !ok {
		return nil, fmt.Errorf("purchase %d not found", id)
	}
	out := clone(rec)
	return &out, nil
}

// CreatePurchase implements backend.PurchaseStore
func (s *Store) CreatePurchase(_ context.Context, payload backend.PurchasePayload, images []backend.ImageBlob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if s.FailCreate != nil {
		return 0, s.FailCreate
	}

	id := s.nextID
	s.nextID++

	rec := recordFromPayload(id, payload)
	for i, img := range images {
		rec.Images = append(rec.Images, backend.ImageRef{
			ID:       int64(i + 1),
			Filename: img.Filename,
			URL:      fmt.Sprintf("mem://purchases/%d/images/%d", id, i+1),
		})
	}
	s.purchases[id] = rec
	return id, nil
}

// UpdatePurchase implements backend.PurchaseStore
func (s *Store) UpdatePurchase(_ context.Context, id int64, payload backend.PurchasePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateCalls++
	if s.FailUpdate != nil {
		return s.FailUpdate
	}
	prev, ok := s.purchases[id]
	if !ok {
		return fmt.Errorf("purchase %d not found", id)
	}
	rec := recordFromPayload(id, payload)
	rec.Images = prev.Images
	s.purchases[id] = rec
	return nil
}

// DeletePurchase implements backend.PurchaseStore
func (s *Store) DeletePurchase(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		return s.FailDelete
	}
	if _, ok := s.purchases[id]; !ok {
		return fmt.Errorf("purchase %d not found", id)
	}
	delete(s.purchases, id)
	delete(s.logs, id)
	return nil
}

// ListCategories implements backend.CategoryDirectory
func (s *Store) ListCategories(_ context.Context, level int) ([]string, error) {
	if level < 1 || level > 3 {
		return nil, fmt.Errorf("category level must be between 1 and 3, got %d", level)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.categories[level]...), nil
}

// CreateCategory implements backend.CategoryDirectory. Creating an
// already-known name returns the existing one, matching the collaborator
// contract.
func (s *Store) CreateCategory(_ context.Context, name string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CategoryCalls = append(s.CategoryCalls, CategoryCall{Name: name, Level: level})
	if s.FailCreateCategory != nil {
		return s.FailCreateCategory
	}
	for _, existing := range s.categories[level] {
		if existing == name {
			return nil
		}
	}
	s.categories[level] = append(s.categories[level], name)
	sort.Strings(s.categories[level])
	return nil
}

// ListUsers implements backend.UserDirectory
func (s *Store) ListUsers(_ context.Context) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.User(nil), s.users...), nil
}

// AppendLog implements backend.ProvenanceLog
func (s *Store) AppendLog(_ context.Context, purchaseID int64, userID int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppendLog != nil {
		return s.FailAppendLog
	}
	entries := s.logs[purchaseID]
	s.logs[purchaseID] = append(entries, core.LogEntry{
		ID:        int64(len(entries) + 1),
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// ListLogs implements backend.ProvenanceLog
func (s *Store) ListLogs(_ context.Context, purchaseID int64) ([]core.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LogEntry(nil), s.logs[purchaseID]...), nil
}

// Extract implements backend.ItemExtractor, returning the canned payload
// set via SetExtraction.
func (s *Store) Extract(_ context.Context, images []backend.ImageBlob) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.extraction != nil {
		return append([]byte(nil), s.extraction...), nil
	}
	return json.Marshal([]core.ExtractedItem{})
}

// SetExtraction sets the payload returned by Extract.
func (s *Store) SetExtraction(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraction = append([]byte(nil), raw...)
}

func recordFromPayload(id int64, payload backend.PurchasePayload) backend.PurchaseRecord {
	rec := backend.PurchaseRecord{
		Purchase: core.Purchase{
			ID:                id,
			Name:              payload.Name,
			Date:              payload.Date,
			PayerID:           payload.PayerID,
			TaxIsAdded:        payload.TaxIsAdded,
			DiscountIsApplied: payload.DiscountIsApplied,
		},
	}
	for _, it := range payload.Items {
		item := it
		item.Contributors = append([]int64(nil), it.Contributors...)
		rec.Items = append(rec.Items, item)
	}
	return rec
}

func clone(rec backend.PurchaseRecord) backend.PurchaseRecord {
	out := rec
	out.Items = nil
	out.Images = append([]backend.ImageRef(nil), rec.Images...)
	for _, it := range rec.Items {
		item := it
		item.Contributors = append([]int64(nil), it.Contributors...)
		out.Items = append(out.Items, item)
	}
	return out
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return dedupeSorted(out)
}

func dedupeSorted(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
