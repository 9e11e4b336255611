package http

import (
	"fmt"
	"net/http"

	"splitledger/internal/export"
	"splitledger/internal/log"
)

func (s *Server) handlePurchaseDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.backend.DeletePurchase(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if s.publisher != nil {
		if err := s.publisher.PublishPurchaseDeleted(r.Context(), id, userID(r)); err != nil {
			s.logger.WarnContext(r.Context(), "publish purchase-deleted failed",
				log.FieldPurchaseID, id, log.FieldError, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurchaseLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.backend.ListLogs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePurchaseExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.backend.GetPurchase(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	users, err := s.backend.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	workbook, err := export.Purchase(rec, users)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="purchase-%d.xlsx"`, id))
	w.Write(workbook)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	level, err := pathInt(r, "level")
	if err != nil {
		writeError(w, err)
		return
	}
	if level < 1 || level > 3 {
		writeError(w, errBadRequest)
		return
	}
	names, err := s.backend.ListCategories(r.Context(), level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.backend.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
