package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"splitledger/internal/backend"
	"splitledger/internal/images"
)

// maxUploadBytes bounds one multipart add.
const maxUploadBytes = 32 << 20

func (s *Server) handleImageAdd(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, errBadRequest)
		return
	}

	var files []images.File
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			writeError(w, errBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, errBadRequest)
			return
		}
		files = append(files, images.File{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	var added []images.Staged
	err = sess.Mutate(r.Context(), func() error {
		var addErr error
		added, addErr = sess.Pipeline.Add(files)
		return addErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleImageRemove(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	err = sess.Mutate(r.Context(), func() error {
		sess.Pipeline.Remove(id)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImageEditOpen(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	var view images.EditSession
	err = sess.Mutate(r.Context(), func() error {
		open, openErr := sess.Pipeline.OpenEdit(id)
		if openErr != nil {
			return openErr
		}
		view = open.Snapshot()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type editAdjustRequest struct {
	Rotate bool         `json:"rotate,omitempty"`
	Zoom   *float64     `json:"zoom,omitempty"`
	Crop   *images.Crop `json:"crop,omitempty"`
}

func (s *Server) handleImageEditAdjust(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req editAdjustRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var view images.EditSession
	err = sess.Mutate(r.Context(), func() error {
		open, ok := sess.Pipeline.Edit()
		if !ok {
			return images.ErrNoEditSession
		}
		if req.Rotate {
			open.Rotate()
		}
		if req.Zoom != nil {
			open.SetZoom(*req.Zoom)
		}
		if req.Crop != nil {
			open.SetCrop(*req.Crop)
		}
		view = open.Snapshot()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleImageEditCommit(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	var committed images.Staged
	err = sess.Mutate(r.Context(), func() error {
		open, ok := sess.Pipeline.Edit()
		if !ok || open.ImageID() != id {
			return images.ErrNoEditSession
		}
		var commitErr error
		committed, commitErr = sess.Pipeline.CommitEdit()
		return commitErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, committed)
}

func (s *Server) handleImageEditCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = sess.Mutate(r.Context(), func() error {
		sess.Pipeline.CancelEdit()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toBlobs(files []images.File) []backend.ImageBlob {
	blobs := make([]backend.ImageBlob, 0, len(files))
	for _, f := range files {
		blobs = append(blobs, backend.ImageBlob{
			Filename:    f.Filename,
			ContentType: f.ContentType,
			Data:        f.Data,
		})
	}
	return blobs
}
