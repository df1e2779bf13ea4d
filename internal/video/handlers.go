package video

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the video endpoints
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{videoID}", h.HandleGet)
	r.Delete("/{videoID}", h.HandleDelete)
}

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().
			Err(err).
			Msg("error encoding response")
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "videoID"))
	if err != nil {
		sendJSON(w, http.StatusNotFound, response{Message: "Video not found"})
		return
	}

	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, response{Success: true, Message: "Video retrieved", Data: v})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "videoID"))
	if err != nil {
		sendJSON(w, http.StatusNotFound, response{Message: "Video not found"})
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, response{Success: true, Message: "Video deleted"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		sendJSON(w, http.StatusNotFound, response{Message: "Video not found"})
	case errors.Is(err, ErrUnauthorized):
		sendJSON(w, http.StatusForbidden, response{Message: "Unauthorized"})
	default:
		log.Error().
			Err(err).
			Msg("video request failed")
		sendJSON(w, http.StatusInternalServerError, response{Message: "Internal server error"})
	}
}
