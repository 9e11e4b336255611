package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"splitledger/internal/backend/memory"
	"splitledger/internal/core"
	"splitledger/internal/editor"
	"splitledger/internal/gateway"
	"splitledger/internal/images"
	"splitledger/internal/log"
)

type testEnv struct {
	server   *Server
	store    *memory.Store
	sessions *editor.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	store := memory.New(
		[]core.User{{ID: 1, Name: "Alice"}, {ID: 2, Name: "Bob"}},
		map[int][]string{1: {"Food", "Household"}, 2: {"Produce"}},
	)
	sessions := editor.NewManager(store, nil, logger)
	gw := gateway.New(store, nil, logger)
	server := NewServer(Config{
		Addr:            ":0",
		SaveRatePerMin:  1000,
		ShutdownTimeout: time.Second,
	}, sessions, gw, store, nil, logger)
	return &testEnv{server: server, store: store, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-ID", "1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return v
}

func (e *testEnv) openSession(t *testing.T) sessionView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]any{"user_id": 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session: %d %s", rec.Code, rec.Body.String())
	}
	return decode[sessionView](t, rec)
}

func TestHealthAndReadiness(t *testing.T) {
	e := newTestEnv(t)
	if rec := e.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	if view.ID == "" || len(view.Participants) != 2 {
		t.Fatalf("session view incomplete: %+v", view)
	}
	if len(view.Known[1]) != 2 {
		t.Fatalf("known categories missing: %v", view.Known)
	}
	if view.Defaults[0] != 1 {
		t.Fatalf("defaults should be the opening user: %v", view.Defaults)
	}

	rec := e.do(t, http.MethodGet, "/api/sessions/"+view.ID+"/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/api/sessions/"+view.ID+"/", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("close session: %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/sessions/"+view.ID+"/", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("closed session should 404, got %d", rec.Code)
	}
}

func TestSessionNotFound(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/sessions/nope/", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPurchasePatch(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	rec := e.do(t, http.MethodPatch, base+"/", map[string]any{
		"purchase_name": "Groceries",
		"purchase_date": "2025-06-01",
		"payer_user_id": 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[sessionView](t, rec)
	if got.Purchase.Name != "Groceries" || got.Purchase.PayerID != 2 {
		t.Fatalf("patch not applied: %+v", got.Purchase)
	}
	if got.Purchase.Date.String() != "2025-06-01" {
		t.Fatalf("date not applied: %v", got.Purchase.Date)
	}

	rec = e.do(t, http.MethodPatch, base+"/", map[string]any{"purchase_date": "junk"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad date should 422, got %d", rec.Code)
	}
}

func TestItemFlow(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	rec := e.do(t, http.MethodPost, base+"/items", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add item: %d %s", rec.Code, rec.Body.String())
	}
	item := decode[core.Item](t, rec)
	if item.ID >= 0 || item.Quantity != "1" {
		t.Fatalf("new item wrong: %+v", item)
	}
	if len(item.Contributors) != 1 || item.Contributors[0] != 1 {
		t.Fatalf("new item should inherit defaults: %v", item.Contributors)
	}

	itemPath := fmt.Sprintf("%s/items/%d", base, item.ID)
	rec = e.do(t, http.MethodPatch, itemPath, map[string]string{"field": "price", "value": "10"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch price: %d %s", rec.Code, rec.Body.String())
	}
	e.do(t, http.MethodPatch, itemPath, map[string]string{"field": "quantity", "value": "2"})
	e.do(t, http.MethodPatch, itemPath, map[string]string{"field": "tax_rate", "value": "10"})
	rec = e.do(t, http.MethodPatch, itemPath, map[string]string{"field": "discount", "value": "1"})
	patched := decode[core.Item](t, rec)
	if patched.Discount != "1" {
		t.Fatalf("discount not applied: %+v", patched)
	}

	// price*qty*(1+tax/100) - discount = 10*2*1.1 - 1 = 21
	rec = e.do(t, http.MethodGet, base+"/", nil)
	got := decode[sessionView](t, rec)
	if got.TotalDisplay != "21.00" {
		t.Fatalf("total = %q, want 21.00", got.TotalDisplay)
	}

	rec = e.do(t, http.MethodPatch, itemPath, map[string]string{"field": "bogus", "value": "x"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown field should 422, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodPatch, base+"/items/12345", map[string]string{"field": "price", "value": "1"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown item should 404, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, itemPath, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete item: %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, base+"/", nil)
	if got := decode[sessionView](t, rec); len(got.Items) != 0 {
		t.Fatalf("item not deleted: %+v", got.Items)
	}
}

func TestCategoryCreateNewFlow(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	rec := e.do(t, http.MethodPost, base+"/items", nil)
	item := decode[core.Item](t, rec)
	itemPath := fmt.Sprintf("%s/items/%d", base, item.ID)

	// Enter create mode; the field clears and the cascade reports Creating.
	rec = e.do(t, http.MethodPatch, itemPath, map[string]string{"field": "category_level_1", "value": "__new__"})
	got := decode[core.Item](t, rec)
	if got.CategoryLevel1 != "" {
		t.Fatalf("create-new should clear the field: %+v", got)
	}
	rec = e.do(t, http.MethodGet, base+"/", nil)
	state := decode[sessionView](t, rec)
	if state.Cascade[item.ID][1].Mode != editor.LevelCreating {
		t.Fatalf("cascade not in create mode: %+v", state.Cascade)
	}

	// Typing a value confirms it.
	rec = e.do(t, http.MethodPatch, itemPath, map[string]string{"field": "category_level_1", "value": "Pets"})
	got = decode[core.Item](t, rec)
	if got.CategoryLevel1 != "Pets" {
		t.Fatalf("confirm failed: %+v", got)
	}
}

func TestContributorToggleAndDefaults(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	rec := e.do(t, http.MethodPost, base+"/items", nil)
	item := decode[core.Item](t, rec)

	rec = e.do(t, http.MethodPost, fmt.Sprintf("%s/items/%d/contributors/2", base, item.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("toggle: %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, base+"/", nil)
	got := decode[sessionView](t, rec)
	if !got.Items[0].HasContributor(2) {
		t.Fatalf("toggle not applied: %v", got.Items[0].Contributors)
	}

	// Replace defaults and broadcast to every item.
	rec = e.do(t, http.MethodPut, base+"/defaults", map[string]any{"contributors": []int64{2}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set defaults: %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, base+"/defaults/broadcast", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("broadcast: %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, base+"/", nil)
	got = decode[sessionView](t, rec)
	if len(got.Items[0].Contributors) != 1 || got.Items[0].Contributors[0] != 2 {
		t.Fatalf("broadcast not applied: %v", got.Items[0].Contributors)
	}
}

func TestReorderEndpoint(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	var ids []int64
	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, base+"/items", nil)
		ids = append(ids, decode[core.Item](t, rec).ID)
	}
	// Items prepend, so current order is ids[2], ids[1], ids[0].

	rec := e.do(t, http.MethodPost, base+"/reorder", map[string]int{"from": 0, "to": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[sessionView](t, rec)
	if got.Items[0].ID != ids[1] || got.Items[2].ID != ids[2] {
		t.Fatalf("reorder wrong: %+v", got.Items)
	}

	rec = e.do(t, http.MethodPost, base+"/reorder", map[string]int{"from": 0, "to": 9})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("out of range should 422, got %d", rec.Code)
	}
}

func TestDragEndpoint(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	var ids []int64
	for i := 0; i < 3; i++ {
		rec := e.do(t, http.MethodPost, base+"/items", nil)
		ids = append(ids, decode[core.Item](t, rec).ID)
	}

	rows := []map[string]float64{
		{"top": 0, "height": 40},
		{"top": 40, "height": 40},
		{"top": 80, "height": 40},
	}
	rec := e.do(t, http.MethodPost, base+"/drag", map[string]any{
		"phase": "begin", "x": 10, "y": 20, "index": 0, "rows": rows,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("begin: %d %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, base+"/drag", map[string]any{"phase": "move", "x": 10, "y": 100})
	if got := decode[dragResponse](t, rec); !got.Dragging {
		t.Fatalf("move should activate the drag: %+v", got)
	}
	rec = e.do(t, http.MethodPost, base+"/drag", map[string]any{"phase": "end"})
	end := decode[dragResponse](t, rec)
	if !end.Moved || end.From != 0 || end.To != 2 {
		t.Fatalf("end should move 0->2: %+v", end)
	}

	rec = e.do(t, http.MethodGet, base+"/", nil)
	got := decode[sessionView](t, rec)
	if got.Items[2].ID != ids[2] {
		t.Fatalf("move not applied to items: %+v", got.Items)
	}

	rec = e.do(t, http.MethodPost, base+"/drag", map[string]any{"phase": "flip"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown phase should 422, got %d", rec.Code)
	}
}

func TestSaveFlow(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	// Missing purchase name fails validation before any backend call.
	rec := e.do(t, http.MethodPost, base+"/save", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty purchase should 422, got %d", rec.Code)
	}
	if e.store.CreateCalls != 0 {
		t.Fatalf("validation failure must not reach the backend")
	}

	e.do(t, http.MethodPatch, base+"/", map[string]any{
		"purchase_name": "Groceries",
		"payer_user_id": 1,
	})
	rec = e.do(t, http.MethodPost, base+"/items", nil)
	item := decode[core.Item](t, rec)
	e.do(t, http.MethodPatch, fmt.Sprintf("%s/items/%d", base, item.ID),
		map[string]string{"field": "price", "value": "5"})

	rec = e.do(t, http.MethodPost, base+"/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body.String())
	}
	saved := decode[saveResponse](t, rec)
	if !saved.Created || saved.PurchaseID == 0 {
		t.Fatalf("save result wrong: %+v", saved)
	}

	// The session keeps the issued id: the next save is an update.
	rec = e.do(t, http.MethodPost, base+"/save", nil)
	again := decode[saveResponse](t, rec)
	if again.Created || again.PurchaseID != saved.PurchaseID {
		t.Fatalf("second save should update: %+v", again)
	}
}

func TestSaveConflictWhileSaving(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	e.do(t, http.MethodPatch, base+"/", map[string]any{
		"purchase_name": "Groceries",
		"payer_user_id": 1,
	})

	sess, err := e.sessions.Get(view.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if _, err := sess.BeginSave(); err != nil {
		t.Fatalf("begin save: %v", err)
	}

	rec := e.do(t, http.MethodPost, base+"/save", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("save during save should 409, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, base+"/items", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("mutation during save should 409, got %d", rec.Code)
	}
	sess.AbortSave(nil)
}

func TestScanEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.store.SetExtraction([]byte(`[
		{"extracted_name": "MELE GOLDEN", "quantity": 2, "price": 3.5},
		{"extracted_name": "PANE", "quantity": 1, "price": 1.2}
	]`))
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	rec := e.do(t, http.MethodPost, base+"/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[sessionView](t, rec)
	if len(got.Items) != 2 {
		t.Fatalf("expected 2 extracted items, got %+v", got.Items)
	}
	if got.Items[0].OriginalName != "MELE GOLDEN" {
		t.Fatalf("extraction order lost: %+v", got.Items[0])
	}
	for _, it := range got.Items {
		if len(it.Contributors) != 1 || it.Contributors[0] != 1 {
			t.Fatalf("extracted items should inherit defaults: %v", it.Contributors)
		}
	}
}

func TestScanRejectsInvalidExtraction(t *testing.T) {
	e := newTestEnv(t)
	e.store.SetExtraction([]byte(`[{"quantity": 1, "price": 2}]`)) // missing name
	view := e.openSession(t)

	rec := e.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/scan", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid extraction should 422, got %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/sessions/"+view.ID+"/", nil)
	if got := decode[sessionView](t, rec); len(got.Items) != 0 {
		t.Fatalf("rejected extraction must not add items: %+v", got.Items)
	}
}

func TestSessionCreateFromExtraction(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"user_id": 1,
		"extraction": json.RawMessage(`[
			{"extracted_name": "PANE", "quantity": 1, "price": 1.2}
		]`),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create from extraction: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[sessionView](t, rec)
	if len(got.Items) != 1 || got.Items[0].OriginalName != "PANE" {
		t.Fatalf("items missing: %+v", got.Items)
	}

	rec = e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"user_id":    1,
		"extraction": json.RawMessage(`[{"price": 1}]`),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid extraction should 422 and open nothing, got %d", rec.Code)
	}
}

func TestSessionCreateFromPurchase(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID
	e.do(t, http.MethodPatch, base+"/", map[string]any{
		"purchase_name": "Groceries",
		"payer_user_id": 1,
	})
	rec := e.do(t, http.MethodPost, base+"/save", nil)
	saved := decode[saveResponse](t, rec)

	rec = e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"user_id":     1,
		"purchase_id": saved.PurchaseID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("reopen: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[sessionView](t, rec)
	if got.Purchase.ID != saved.PurchaseID || got.Purchase.Name != "Groceries" {
		t.Fatalf("hydration wrong: %+v", got.Purchase)
	}
}

func multipartImage(t *testing.T, count int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i := 0; i < count; i++ {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="r%d.jpg"`, i))
		h.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write([]byte{0xff, 0xd8, 0xff})
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) uploadImages(t *testing.T, sid string, count int) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartImage(t, count)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sid+"/images", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "1")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestImageUploadAndCapacity(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)

	rec := e.uploadImages(t, view.ID, 5)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	staged := decode[[]images.Staged](t, rec)
	if len(staged) != 5 {
		t.Fatalf("expected 5 staged, got %d", len(staged))
	}

	rec = e.uploadImages(t, view.ID, 1)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("sixth image should 422, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/api/sessions/"+view.ID+"/images/"+staged[0].ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove: %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/sessions/"+view.ID+"/", nil)
	if got := decode[sessionView](t, rec); len(got.Images) != 4 {
		t.Fatalf("expected 4 after remove, got %d", len(got.Images))
	}
}

func TestImageEditEndpoints(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID

	rec := e.uploadImages(t, view.ID, 2)
	staged := decode[[]images.Staged](t, rec)
	editPath := base + "/images/" + staged[0].ID + "/edit"

	rec = e.do(t, http.MethodPost, editPath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open edit: %d %s", rec.Code, rec.Body.String())
	}
	// A second open, on any image, conflicts with the modal session.
	rec = e.do(t, http.MethodPost, base+"/images/"+staged[1].ID+"/edit", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second open should 422, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPatch, editPath, map[string]any{"rotate": true, "zoom": 2.0})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", rec.Code, rec.Body.String())
	}
	session := decode[images.EditSession](t, rec)
	if session.Rotation != 90 || session.Zoom != 2 {
		t.Fatalf("adjust lost: %+v", session)
	}

	// Committing through another image's URL is rejected.
	rec = e.do(t, http.MethodPost, base+"/images/"+staged[1].ID+"/edit/commit", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("mismatched commit should 422, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, editPath+"/cancel", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d", rec.Code)
	}
	rec = e.do(t, http.MethodPatch, editPath, map[string]any{"rotate": true})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("adjust without session should 422, got %d", rec.Code)
	}
}

func TestReferenceEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/categories/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("categories: %d", rec.Code)
	}
	names := decode[[]string](t, rec)
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
	rec = e.do(t, http.MethodGet, "/api/categories/9", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad level should 422, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/users", nil)
	users := decode[[]core.User](t, rec)
	if len(users) != 2 || users[0].Name != "Alice" {
		t.Fatalf("users wrong: %v", users)
	}
}

func TestPurchaseEndpoints(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	base := "/api/sessions/" + view.ID
	e.do(t, http.MethodPatch, base+"/", map[string]any{
		"purchase_name": "Groceries",
		"payer_user_id": 1,
	})
	rec := e.do(t, http.MethodPost, base+"/save", nil)
	saved := decode[saveResponse](t, rec)
	id := fmt.Sprintf("%d", saved.PurchaseID)

	rec = e.do(t, http.MethodGet, "/api/purchases/"+id+"/logs", nil)
	logs := decode[[]core.LogEntry](t, rec)
	if len(logs) != 1 || !strings.Contains(logs[0].Message, "created by user 1") {
		t.Fatalf("provenance missing: %+v", logs)
	}

	rec = e.do(t, http.MethodGet, "/api/purchases/"+id+"/export.xlsx", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("export content type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("export body empty")
	}

	rec = e.do(t, http.MethodDelete, "/api/purchases/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = e.do(t, http.MethodDelete, "/api/purchases/"+id, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("deleting a missing purchase should 502, got %d", rec.Code)
	}
}

func TestSessionViewDetachedFromLaterSaves(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	sess, err := e.sessions.Get(view.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	snap := viewOf(sess)
	sess.FinishSave(context.Background(), 1, map[int][]string{1: {"Pets"}})

	if len(snap.Known[1]) != 2 {
		t.Fatalf("view aliases the session's category set: %v", snap.Known[1])
	}
	if fresh := viewOf(sess); len(fresh.Known[1]) != 3 {
		t.Fatalf("created category missing from a fresh view: %v", fresh.Known[1])
	}
}

func TestStateReadsDuringConcurrentSaves(t *testing.T) {
	e := newTestEnv(t)
	view := e.openSession(t)
	sess, err := e.sessions.Get(view.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+view.ID+"/", nil)
				req.Header.Set("X-User-ID", "1")
				e.server.Handler().ServeHTTP(httptest.NewRecorder(), req)
			}
		}()
	}
	for i := 0; i < 200; i++ {
		sess.FinishSave(context.Background(), 1, map[int][]string{1: {fmt.Sprintf("Cat%03d", i)}})
	}
	close(done)
	wg.Wait()
}
