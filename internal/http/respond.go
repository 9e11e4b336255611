package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"splitledger/internal/core"
	"splitledger/internal/editor"
	"splitledger/internal/images"
	"splitledger/internal/reorder"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the error taxonomy onto status codes: validation and
// resource errors are 422, unknown resources 404, a concurrent save 409,
// and anything that crossed the wire to the backend 502.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, editor.ErrSessionNotFound),
		errors.Is(err, editor.ErrItemNotFound),
		errors.Is(err, images.ErrImageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, editor.ErrSaveInProgress):
		status = http.StatusConflict
	case errors.Is(err, core.ErrMissingPurchaseName),
		errors.Is(err, core.ErrMissingPayer),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, editor.ErrUnknownField),
		errors.Is(err, editor.ErrIndexOutOfRange),
		errors.Is(err, images.ErrTooManyImages),
		errors.Is(err, images.ErrEditSessionOpen),
		errors.Is(err, images.ErrNoEditSession),
		errors.Is(err, reorder.ErrGestureActive),
		errors.Is(err, reorder.ErrNoActiveGesture),
		errors.Is(err, reorder.ErrBadIndex),
		errors.Is(err, errBadRequest):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, errors.Join(errBadRequest, err)
	}
	return v, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, errors.Join(errBadRequest, err)
	}
	return v, nil
}

// userID resolves the acting user from the X-User-ID header.
func userID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	return id
}
