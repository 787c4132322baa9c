package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/kikiluvv/overlaycast/internal/overlay"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// storeError maps store sentinels to responses
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, overlay.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Overlay not found")
	case errors.Is(err, overlay.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("overlay store failure")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeFields(w http.ResponseWriter, r *http.Request) (overlay.Fields, error) {
	var f overlay.Fields
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return f, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if len(body) == 0 {
		return f, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}
	if err := sonic.Unmarshal(body, &f); err != nil {
		return f, fmt.Errorf("%w: malformed json: %w", ErrInvalidRequest, err)
	}
	return f, nil
}

func (s *Server) handleListOverlays(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateOverlay(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFields(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Kind == nil || f.Content == nil {
		s.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	d, err := s.store.Create(r.Context(), f)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info().Str("overlay", d.ID).Str("type", string(d.Kind)).Msg("overlay created")
	s.writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateOverlay(w http.ResponseWriter, r *http.Request) {
	f, err := decodeFields(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	d, err := s.store.Update(r.Context(), id, f)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info().Str("overlay", id).Msg("overlay updated")
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteOverlay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	s.logger.Info().Str("overlay", id).Msg("overlay deleted")
	w.WriteHeader(http.StatusNoContent)
}
