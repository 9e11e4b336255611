package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"splitledger/internal/backend"
	"splitledger/internal/core"
	"splitledger/internal/images"
	"splitledger/internal/log"
	"splitledger/internal/reorder"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSaveInProgress  = errors.New("save in progress")
)

// Session is one open purchase editor. All mutations run under the
// session mutex, which models the editor's single-threaded cooperative
// execution: between network calls, state changes are atomic.
type Session struct {
	ID string

	mu     sync.Mutex
	saving bool

	Purchase     core.Purchase
	Items        *ItemCollection
	Cascade      *CategoryCascade
	Contributors *ContributorResolver
	Pipeline     *images.Pipeline
	Drag         *reorder.Controller

	// Reference data fetched once at open. Known category names are
	// hints; the gateway owns deduplication.
	Known        map[int][]string
	Participants []core.User

	CreatedBy int64

	drafts DraftStore
	logger *log.Logger
}

// DraftStore persists session snapshots so an editor survives a restart.
type DraftStore interface {
	SaveDraft(ctx context.Context, sessionID string, snapshot []byte) error
	DeleteDraft(ctx context.Context, sessionID string) error
	ListDrafts(ctx context.Context) (map[string][]byte, error)
}

// Snapshot is the persisted form of a session. Image blobs are not
// snapshotted; staged images do not survive a restart.
type Snapshot struct {
	ID           string                       `json:"id"`
	Purchase     core.Purchase                `json:"purchase"`
	Items        []core.Item                  `json:"items"`
	NextLocalID  int64                        `json:"next_local_id"`
	Defaults     []int64                      `json:"defaults"`
	Cascade      map[int64]map[int]LevelState `json:"cascade"`
	Known        map[int][]string             `json:"known"`
	Participants []core.User                  `json:"participants"`
	CreatedBy    int64                        `json:"created_by"`
}

// Manager owns the open sessions and the collaborator used to load
// reference data.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	backend backend.Backend
	drafts  DraftStore
	logger  *log.Logger
}

// NewManager creates a session manager. drafts may be nil, disabling
// autosave.
func NewManager(b backend.Backend, drafts DraftStore, logger *log.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		backend:  b,
		drafts:   drafts,
		logger:   logger.WithComponent(log.ComponentEditor),
	}
}

// Open creates a blank session for userID: empty purchase dated today,
// defaults set to the opening user, reference data fetched in parallel.
func (m *Manager) Open(ctx context.Context, userID int64) (*Session, error) {
	s, err := m.newSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.Purchase.Date = core.Today()
	s.Contributors.SetDefaults([]int64{userID})
	m.register(s)
	m.logger.InfoContext(ctx, "session opened",
		log.FieldSessionID, s.ID, log.FieldUserID, userID)
	return s, nil
}

// OpenFromPurchase hydrates a session from a stored purchase. Server
// item ids are kept so the save can address them.
func (m *Manager) OpenFromPurchase(ctx context.Context, purchaseID, userID int64) (*Session, error) {
	s, err := m.newSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := m.backend.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("hydrate session: %w", err)
	}
	s.Purchase = rec.Purchase
	s.Items.Hydrate(itemsFromPayloads(rec.Items))
	s.Contributors.SetDefaults([]int64{userID})
	m.register(s)
	m.logger.InfoContext(ctx, "session opened from purchase",
		log.FieldSessionID, s.ID, log.FieldPurchaseID, purchaseID)
	return s, nil
}

// OpenFromItems creates a session pre-populated with extracted items,
// each joined to the opening user as sole contributor.
func (m *Manager) OpenFromItems(ctx context.Context, items []core.Item, userID int64) (*Session, error) {
	s, err := m.newSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.Purchase.Date = core.Today()
	s.Contributors.SetDefaults([]int64{userID})
	for _, it := range items {
		it.Contributors = []int64{userID}
		s.Items.Insert(it)
	}
	m.register(s)
	m.logger.InfoContext(ctx, "session opened from extraction",
		log.FieldSessionID, s.ID, "items", len(items))
	return s, nil
}

// Get returns an open session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close drops a session and its draft.
func (m *Manager) Close(ctx context.Context, id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	if m.drafts != nil {
		if err := m.drafts.DeleteDraft(ctx, id); err != nil {
			m.logger.WarnContext(ctx, "delete draft failed",
				log.FieldSessionID, id, log.FieldError, err)
		}
	}
}

// Restore rebuilds sessions from persisted drafts at startup.
func (m *Manager) Restore(ctx context.Context) error {
	if m.drafts == nil {
		return nil
	}
	snapshots, err := m.drafts.ListDrafts(ctx)
	if err != nil {
		return fmt.Errorf("list drafts: %w", err)
	}
	for id, raw := range snapshots {
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			m.logger.WarnContext(ctx, "skipping corrupt draft",
				log.FieldSessionID, id, log.FieldError, err)
			continue
		}
		s := m.blankSession()
		s.restore(snap)
		m.register(s)
	}
	m.logger.InfoContext(ctx, "sessions restored", "count", len(snapshots))
	return nil
}

func (m *Manager) newSession(ctx context.Context, userID int64) (*Session, error) {
	s := m.blankSession()
	s.CreatedBy = userID

	// Users and the three category levels load in parallel; the session
	// only opens with complete reference data.
	g, gctx := errgroup.WithContext(ctx)
	var levelsMu sync.Mutex
	g.Go(func() error {
		users, err := m.backend.ListUsers(gctx)
		if err != nil {
			return fmt.Errorf("load users: %w", err)
		}
		s.Participants = users
		return nil
	})
	for level := 1; level <= 3; level++ {
		g.Go(func() error {
			names, err := m.backend.ListCategories(gctx, level)
			if err != nil {
				return fmt.Errorf("load categories level %d: %w", level, err)
			}
			levelsMu.Lock()
			s.Known[level] = names
			levelsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}

func (m *Manager) blankSession() *Session {
	items := NewItemCollection()
	return &Session{
		ID:           uuid.NewString(),
		Items:        items,
		Cascade:      NewCategoryCascade(),
		Contributors: NewContributorResolver(items),
		Pipeline:     images.NewPipeline(),
		Drag:         reorder.NewController(),
		Known:        make(map[int][]string, 3),
		drafts:       m.drafts,
		logger:       m.logger,
	}
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Mutate runs fn atomically against the session, rejecting mutations
// while a save is running, then autosaves the draft.
func (s *Session) Mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving {
		return ErrSaveInProgress
	}
	if err := fn(); err != nil {
		return err
	}
	s.autosave(ctx)
	return nil
}

// View runs fn under the session lock without autosaving.
func (s *Session) View(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// UpdateItem patches one item field. Category fields run through the
// cascade first: the reserved create-new selection enters free-text
// entry; while entering, a non-empty value confirms and an empty value
// cancels.
func (s *Session) UpdateItem(id int64, field, value string) (core.Item, error) {
	if level := categoryLevel(field); level > 0 {
		st := s.Cascade.State(id, level)
		switch {
		case value == CreateNewOption:
			value = s.Cascade.Select(id, level, value)
		case st.Mode == LevelCreating && value != "":
			s.Cascade.TypePending(id, level, value)
			value = s.Cascade.ConfirmPending(id, level)
		case st.Mode == LevelCreating:
			s.Cascade.CancelPending(id, level)
			value = ""
		default:
			value = s.Cascade.Select(id, level, value)
		}
	}
	return s.Items.Update(id, field, value)
}

// DeleteItem removes an item and its cascade state.
func (s *Session) DeleteItem(id int64) {
	s.Items.Delete(id)
	s.Cascade.Forget(id)
}

// ApplyMove applies a resolved drag move to the item order.
func (s *Session) ApplyMove(move reorder.Move) error {
	if move.IsNoop() {
		return nil
	}
	return s.Items.Reorder(move.From, move.To)
}

// BeginSave validates the purchase, flips the saving flag, and returns a
// consistent copy of everything the gateway needs. Callers must finish
// with FinishSave or AbortSave.
func (s *Session) BeginSave() (SaveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving {
		return SaveState{}, ErrSaveInProgress
	}
	if err := s.Purchase.Validate(); err != nil {
		return SaveState{}, err
	}
	files, err := s.Pipeline.Export()
	if err != nil {
		return SaveState{}, fmt.Errorf("export staged images: %w", err)
	}

	known := make(map[int]map[string]struct{}, 3)
	for level, names := range s.Known {
		set := make(map[string]struct{}, len(names))
		for _, name := range names {
			set[name] = struct{}{}
		}
		known[level] = set
	}
	participants := make(map[int64]struct{}, len(s.Participants))
	for _, u := range s.Participants {
		participants[u.ID] = struct{}{}
	}

	s.saving = true
	return SaveState{
		Purchase:     s.Purchase,
		Items:        s.Items.Items(),
		Known:        known,
		Participants: participants,
		Images:       files,
		CreatedBy:    s.CreatedBy,
	}, nil
}

// FinishSave records the outcome of a successful save: the issued
// purchase id and any category names the gateway created.
func (s *Session) FinishSave(ctx context.Context, purchaseID int64, createdCategories map[int][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	s.Purchase.ID = purchaseID
	for level, names := range createdCategories {
		s.Known[level] = append(s.Known[level], names...)
	}
	if s.drafts != nil {
		if err := s.drafts.DeleteDraft(ctx, s.ID); err != nil {
			s.logger.WarnContext(ctx, "delete draft after save failed",
				log.FieldSessionID, s.ID, log.FieldError, err)
		}
	}
}

// AbortSave clears the saving flag after a failed save. Categories
// created before the failure stay in the known set via the gateway's
// partial result.
func (s *Session) AbortSave(createdCategories map[int][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	for level, names := range createdCategories {
		s.Known[level] = append(s.Known[level], names...)
	}
}

// SaveState is the consistent copy of session state a save runs against.
type SaveState struct {
	Purchase     core.Purchase
	Items        []core.Item
	Known        map[int]map[string]struct{}
	Participants map[int64]struct{}
	Images       []images.File
	CreatedBy    int64
}

// Total returns the running purchase total.
func (s *Session) Total() float64 {
	return s.Items.Total()
}

func (s *Session) autosave(ctx context.Context) {
	if s.drafts == nil {
		return
	}
	raw, err := json.Marshal(s.snapshot())
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot marshal failed",
			log.FieldSessionID, s.ID, log.FieldError, err)
		return
	}
	if err := s.drafts.SaveDraft(ctx, s.ID, raw); err != nil {
		s.logger.WarnContext(ctx, "draft autosave failed",
			log.FieldSessionID, s.ID, log.FieldError, err)
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:           s.ID,
		Purchase:     s.Purchase,
		Items:        s.Items.Items(),
		NextLocalID:  s.Items.nextLocalID,
		Defaults:     s.Contributors.Defaults(),
		Cascade:      s.Cascade.States(),
		Known:        s.Known,
		Participants: s.Participants,
		CreatedBy:    s.CreatedBy,
	}
}

func (s *Session) restore(snap Snapshot) {
	s.ID = snap.ID
	s.Purchase = snap.Purchase
	s.Items.Hydrate(snap.Items)
	if snap.NextLocalID < 0 {
		s.Items.nextLocalID = snap.NextLocalID
	}
	s.Contributors.SetDefaults(snap.Defaults)
	s.Cascade.Restore(snap.Cascade)
	s.Known = snap.Known
	if s.Known == nil {
		s.Known = make(map[int][]string, 3)
	}
	s.Participants = snap.Participants
	s.CreatedBy = snap.CreatedBy
}

func categoryLevel(field string) int {
	switch field {
	case FieldCategoryLevel1:
		return 1
	case FieldCategoryLevel2:
		return 2
	case FieldCategoryLevel3:
		return 3
	}
	return 0
}

func itemsFromPayloads(payloads []backend.ItemPayload) []core.Item {
	items := make([]core.Item, 0, len(payloads))
	// Rows without a server id get local negative ids so they can never
	// shadow a real id elsewhere in the payload.
	next := int64(-1)
	for _, p := range payloads {
		id := p.ID
		if id == 0 {
			id = next
			next--
		}
		items = append(items, core.Item{
			ID:             id,
			OriginalName:   p.OriginalName,
			FriendlyName:   p.FriendlyName,
			Quantity:       formatInt(p.Quantity),
			Price:          formatFloat(p.Price),
			Discount:       formatFloat(p.Discount),
			TaxRate:        formatFloat(p.TaxRate),
			CategoryLevel1: p.CategoryLevel1,
			CategoryLevel2: p.CategoryLevel2,
			CategoryLevel3: p.CategoryLevel3,
			Contributors:   append([]int64(nil), p.Contributors...),
		})
	}
	return items
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
