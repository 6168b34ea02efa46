package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ramp/internal/ingest"
	"ramp/internal/logging"
	"ramp/internal/queue"
	"ramp/internal/services"
)

// maxBodyBytes bounds ingest payloads; a manifest past this size is a client
// defect.
const maxBodyBytes = 4 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type cancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
	Children  int    `json:"children_cancelled,omitempty"`
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	Note       string `json:"note,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleContentIngest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := ingest.ParseContentRequest(body)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	lang := req.Language
	if lang == "" {
		lang = s.defaultLang
	}
	kind, _ := queue.ParseKind(req.Kind)
	item, err := s.store.CreateItem(r.Context(), queue.NewItem{
		Kind:      kind,
		SourceURL: req.SourceURL,
		Language:  lang,
	})
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	st, err := s.status.Item(r.Context(), item.ID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleContentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Item(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleContentCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changed, err := s.store.CancelItem(r.Context(), id)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	if !changed {
		s.writeError(w, http.StatusConflict, errors.New("item already settled in state "+string(item.State)))
		return
	}
	if item.BatchID != "" {
		if _, err := s.coordinator.Reconcile(r.Context(), item.BatchID); err != nil {
			s.logger.Warn("batch reconcile failed after cancel",
				logging.String(logging.FieldComponent, "api"),
				logging.String(logging.FieldBatchID, item.BatchID),
				logging.Error(err),
			)
		}
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{ID: id, Cancelled: true})
}

func (s *Server) handleReviewResolve(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	resolution, ok := queue.ParseState(req.Resolution)
	if !ok || (resolution != queue.StateCompleted && resolution != queue.StateFailed) {
		s.writeError(w, http.StatusBadRequest, errors.New("resolution must be completed or failed"))
		return
	}

	item, err := s.coordinator.ResolveReview(r.Context(), chi.URLParam(r, "id"), resolution, req.Note)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	st, err := s.status.Item(r.Context(), item.ID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleArchiveIngest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	manifest, err := ingest.ParseManifest(body)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	b, _, err := s.coordinator.Ingest(r.Context(), manifest.Requests(s.defaultLang), manifest.Standards)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	st, err := s.status.Batch(r.Context(), b.ID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Batch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleArchiveCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, children, err := s.coordinator.Cancel(r.Context(), id)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{
		ID:        b.ID,
		Cancelled: true,
		Children:  children,
	})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("read request body")
	}
	return body, nil
}

func (s *Server) writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, queue.ErrConflict), errors.Is(err, services.ErrConflict):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.logger.Error("request failed",
			logging.String(logging.FieldComponent, "api"),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("write response failed",
			logging.String(logging.FieldComponent, "api"),
			logging.Error(err),
		)
	}
}
