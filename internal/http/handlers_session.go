package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"splitledger/internal/core"
	"splitledger/internal/editor"
	"splitledger/internal/images"
	"splitledger/internal/log"
	"splitledger/internal/ocr"
	"splitledger/internal/reorder"
)

type sessionCreateRequest struct {
	UserID     int64           `json:"user_id"`
	PurchaseID int64           `json:"purchase_id,omitempty"`
	Extraction json.RawMessage `json:"extraction,omitempty"`
}

type sessionView struct {
	ID           string                              `json:"id"`
	Purchase     core.Purchase                       `json:"purchase"`
	Items        []core.Item                         `json:"items"`
	Cascade      map[int64]map[int]editor.LevelState `json:"cascade"`
	Total        float64                             `json:"total"`
	TotalDisplay string                              `json:"total_display"`
	Defaults     []int64                             `json:"defaults"`
	Participants []core.User                         `json:"participants"`
	Known        map[int][]string                    `json:"known_categories"`
	Images       []images.Staged                     `json:"images"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == 0 {
		req.UserID = userID(r)
	}

	var (
		sess *editor.Session
		err  error
	)
	switch {
	case req.PurchaseID != 0:
		sess, err = s.sessions.OpenFromPurchase(r.Context(), req.PurchaseID, req.UserID)
	case len(req.Extraction) > 0:
		extracted, decodeErr := ocr.Decode(req.Extraction)
		if decodeErr != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: decodeErr.Error()})
			return
		}
		sess, err = s.sessions.OpenFromItems(r.Context(), ocr.ToItems(extracted), req.UserID)
	default:
		sess, err = s.sessions.Open(r.Context(), req.UserID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessions.Close(r.Context(), sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

type purchasePatchRequest struct {
	Name              *string `json:"purchase_name,omitempty"`
	Date              *string `json:"purchase_date,omitempty"`
	PayerID           *int64  `json:"payer_user_id,omitempty"`
	TaxIsAdded        *bool   `json:"tax_is_added,omitempty"`
	DiscountIsApplied *bool   `json:"discount_is_applied,omitempty"`
}

func (s *Server) handlePurchasePatch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req purchasePatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err = sess.Mutate(r.Context(), func() error {
		if req.Name != nil {
			sess.Purchase.Name = *req.Name
		}
		if req.Date != nil {
			date, err := core.ParseDate(*req.Date)
			if err != nil {
				return err
			}
			sess.Purchase.Date = date
		}
		if req.PayerID != nil {
			sess.Purchase.PayerID = *req.PayerID
		}
		if req.TaxIsAdded != nil {
			sess.Purchase.TaxIsAdded = *req.TaxIsAdded
		}
		if req.DiscountIsApplied != nil {
			sess.Purchase.DiscountIsApplied = *req.DiscountIsApplied
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleItemAdd(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var added core.Item
	err = sess.Mutate(r.Context(), func() error {
		added = sess.Items.Add(sess.Contributors.Defaults())
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

type itemPatchRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (s *Server) handleItemUpdate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req itemPatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var patched core.Item
	err = sess.Mutate(r.Context(), func() error {
		var updateErr error
		patched, updateErr = sess.UpdateItem(id, req.Field, req.Value)
		return updateErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patched)
}

func (s *Server) handleItemDelete(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	err = sess.Mutate(r.Context(), func() error {
		sess.DeleteItem(id)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContributorToggle(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	itemID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	uid, err := pathInt64(r, "uid")
	if err != nil {
		writeError(w, err)
		return
	}
	err = sess.Mutate(r.Context(), func() error {
		sess.Contributors.Toggle(itemID, uid)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type defaultsRequest struct {
	Contributors []int64 `json:"contributors"`
}

func (s *Server) handleDefaultsSet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req defaultsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err = sess.Mutate(r.Context(), func() error {
		sess.Contributors.SetDefaults(req.Contributors)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDefaultsBroadcast(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = sess.Mutate(r.Context(), func() error {
		sess.Contributors.BroadcastDefaults()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req reorderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err = sess.Mutate(r.Context(), func() error {
		return sess.Items.Reorder(req.From, req.To)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

type dragRequest struct {
	Phase string         `json:"phase"`
	X     float64        `json:"x"`
	Y     float64        `json:"y"`
	Index int            `json:"index"`
	Rows  []reorder.Rect `json:"rows,omitempty"`
}

type dragResponse struct {
	Dragging bool `json:"dragging"`
	From     int  `json:"from"`
	To       int  `json:"to"`
	Moved    bool `json:"moved"`
}

// handleDrag feeds the single-gesture controller. The "end" phase is the
// only one that can permute items.
func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req dragRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var resp dragResponse
	err = sess.Mutate(r.Context(), func() error {
		switch req.Phase {
		case "begin":
			if len(req.Rows) > 0 {
				sess.Drag.SetRows(req.Rows)
			}
			if err := sess.Drag.Begin(reorder.Point{X: req.X, Y: req.Y}, req.Index); err != nil {
				return err
			}
		case "move":
			if err := sess.Drag.Update(reorder.Point{X: req.X, Y: req.Y}); err != nil {
				return err
			}
		case "end":
			move, dragged, err := sess.Drag.End()
			if err != nil {
				return err
			}
			if dragged && !move.IsNoop() {
				if err := sess.ApplyMove(move); err != nil {
					return err
				}
				resp.Moved = true
			}
			resp.From = move.From
			resp.To = move.To
		case "cancel":
			sess.Drag.Cancel()
		default:
			return errBadRequest
		}
		resp.Dragging = sess.Drag.Dragging()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScan runs the staged images through the extraction collaborator
// and appends the validated rows as items.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var files []images.File
	sess.View(func() {
		files, err = sess.Pipeline.Export()
	})
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := s.backend.Extract(r.Context(), toBlobs(files))
	if err != nil {
		writeError(w, err)
		return
	}
	extracted, err := ocr.Decode(raw)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	err = sess.Mutate(r.Context(), func() error {
		for _, it := range ocr.ToItems(extracted) {
			it.Contributors = sess.Contributors.Defaults()
			sess.Items.Insert(it)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

type saveResponse struct {
	PurchaseID int64 `json:"purchase_id"`
	Created    bool  `json:"created"`
}

// handleSave runs the gateway. Categories created before a failure fold
// into the session's known set either way.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}

	state, err := sess.BeginSave()
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.gw.Save(r.Context(), state)
	if err != nil {
		sess.AbortSave(result.CreatedCategories)
		s.logger.ErrorContext(r.Context(), "save failed",
			log.FieldSessionID, sess.ID, log.FieldError, err)
		writeError(w, err)
		return
	}

	sess.FinishSave(r.Context(), result.PurchaseID, result.CreatedCategories)
	writeJSON(w, http.StatusOK, saveResponse{
		PurchaseID: result.PurchaseID,
		Created:    result.Created,
	})
}

func (s *Server) session(r *http.Request) (*editor.Session, error) {
	return s.sessions.Get(chi.URLParam(r, "sid"))
}

// viewOf snapshots the session under its lock. Everything in the view
// is detached; encoding happens after the lock is released, and a
// concurrent save may grow the known-category sets in the meantime.
func viewOf(sess *editor.Session) sessionView {
	var view sessionView
	sess.View(func() {
		total := sess.Total()
		known := make(map[int][]string, len(sess.Known))
		for level, names := range sess.Known {
			known[level] = append([]string(nil), names...)
		}
		view = sessionView{
			ID:           sess.ID,
			Purchase:     sess.Purchase,
			Items:        sess.Items.Items(),
			Cascade:      sess.Cascade.States(),
			Total:        total,
			TotalDisplay: core.FormatAmount(total),
			Defaults:     sess.Contributors.Defaults(),
			Participants: append([]core.User(nil), sess.Participants...),
			Known:        known,
			Images:       sess.Pipeline.List(),
		}
	})
	return view
}
