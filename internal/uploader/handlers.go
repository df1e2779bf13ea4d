package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"reelhub-go/internal/models"
	"reelhub-go/internal/storage"
)

// VideoPublisher turns an assembled file into a video record
type VideoPublisher interface {
	Publish(ctx context.Context, file *models.AssembledFile, title string) (*models.Video, error)
}

type Handler struct {
	service   *Service
	publisher VideoPublisher
}

func NewHandler(service *Service, publisher VideoPublisher) *Handler {
	return &Handler{
		service:   service,
		publisher: publisher,
	}
}

// APIResponse is the envelope every successful upload endpoint returns
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CompleteRequest is the optional body of the complete endpoint
type CompleteRequest struct {
	Destination string `json:"destination"`
	Publish     bool   `json:"publish"`
	Title       string `json:"title"`
}

// CompleteResponse carries the assembled file and, if published, the video
type CompleteResponse struct {
	File  *models.AssembledFile `json:"file"`
	Video *models.Video         `json:"video,omitempty"`
}

// Routes mounts the upload session endpoints below /api/uploads
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.HandleInitialize)
	r.Route("/{uploadID}", func(r chi.Router) {
		r.Get("/", h.HandleStatus)
		r.Delete("/", h.HandleCancel)
		r.Post("/complete", h.HandleComplete)
		r.Post("/chunks", h.HandleChunkForm)
		r.Put("/chunks/{index}", h.HandleChunk)
	})
}

// HandleInitialize creates a new upload session
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		WriteError(w, fmt.Errorf("%w: invalid request body", ErrValidation))
		return
	}

	resp, err := h.service.Initialize(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	sendJSON(w, http.StatusCreated, "Upload session created", resp)
}

// HandleChunk stores the raw request body as chunk {index}
func (h *Handler) HandleChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, fmt.Errorf("%w: %q is not a number", ErrInvalidChunkIndex, chi.URLParam(r, "index")))
		return
	}

	payload, err := h.readBody(w, r.Body)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.storeChunk(w, r, index, payload)
}

// HandleChunkForm accepts a multipart form with "chunk_index" and "chunk"
func (h *Handler) HandleChunkForm(w http.ResponseWriter, r *http.Request) {
	maxBody := h.service.Options().MaxChunkBody
	r.Body = http.MaxBytesReader(w, r.Body, maxBody+(1<<20))
	if err := r.ParseMultipartForm(maxBody); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, ErrChunkTooLarge)
			return
		}
		WriteError(w, fmt.Errorf("%w: invalid multipart form", ErrValidation))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn().
				Err(err).
				Msg("error removing multipart temp files")
		}
	}()

	index, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		WriteError(w, fmt.Errorf("%w: chunk_index is required", ErrInvalidChunkIndex))
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		WriteError(w, fmt.Errorf("%w: chunk file is required", ErrValidation))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, maxBody+1))
	if err != nil {
		WriteError(w, fmt.Errorf("%w: %v", ErrStorage, err))
		return
	}

	h.storeChunk(w, r, index, payload)
}

func (h *Handler) readBody(w http.ResponseWriter, body io.ReadCloser) ([]byte, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, body, h.service.Options().MaxChunkBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrChunkTooLarge
		}
		return nil, fmt.Errorf("%w: reading chunk: %v", ErrValidation, err)
	}
	return payload, nil
}

func (h *Handler) storeChunk(w http.ResponseWriter, r *http.Request, index int, payload []byte) {
	result, err := h.service.StoreChunk(r.Context(), chi.URLParam(r, "uploadID"), index, payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, "Chunk stored", result)
}

// HandleStatus reports the progress of an upload session
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "uploadID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, "Upload status", status)
}

// HandleComplete assembles the upload and optionally publishes it as a video
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, fmt.Errorf("%w: invalid request body", ErrValidation))
			return
		}
	}

	file, err := h.service.Complete(r.Context(), chi.URLParam(r, "uploadID"), req.Destination)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := CompleteResponse{File: file}
	if req.Publish && h.publisher != nil {
		video, err := h.publisher.Publish(r.Context(), file, req.Title)
		if err != nil {
			// The file is durable at this point, so report it with the failure
			log.Error().
				Err(err).
				Str("file_path", file.FilePath).
				Msg("error publishing assembled file")
			sendJSON(w, http.StatusOK, "Upload assembled, publishing failed", resp)
			return
		}
		resp.Video = video
	}

	sendJSON(w, http.StatusOK, "Upload complete", resp)
}

// HandleCancel discards an upload session. Unknown ids succeed.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "uploadID")); err != nil {
		WriteError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, "Upload cancelled", nil)
}

// HandleServeFile streams an assembled file from permanent storage
func (h *Handler) HandleServeFile(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanKey(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	if err := h.service.Destination().Stream(r.Context(), key, w); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.Error().
			Err(err).
			Str("file_path", key).
			Msg("error streaming file")
		http.Error(w, "Error serving file", http.StatusInternalServerError)
	}
}

func sendJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().
			Err(err).
			Msg("error encoding JSON response")
	}
}
