package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/downloads-bridge/internal/channel"
	"github.com/maauso/downloads-bridge/internal/mediaindex"
	"github.com/maauso/downloads-bridge/internal/storage"
)

// DefaultMaxBodyBytes is the request body limit used when none is configured.
const DefaultMaxBodyBytes int64 = 32 << 20

// Invoker dispatches channel calls.
type Invoker interface {
	Invoke(ctx context.Context, call channel.Call) channel.Result
}

// EntryLister lists the entries of a media index.
type EntryLister interface {
	List(ctx context.Context) ([]*mediaindex.Entry, error)
}

// ContentOpener reads the content of published entries.
type ContentOpener interface {
	Open(ctx context.Context, h storage.Handle) (io.ReadCloser, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	invoker      Invoker
	lister       EntryLister
	opener       ContentOpener
	validator    *validator.Validate
	logger       *slog.Logger
	maxBodyBytes int64
	mode         string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithEntryLister enables GET /entries.
func WithEntryLister(l EntryLister) HandlerOption {
	return func(h *Handlers) {
		h.lister = l
	}
}

// WithContentOpener enables GET /entries/content.
func WithContentOpener(o ContentOpener) HandlerOption {
	return func(h *Handlers) {
		h.opener = o
	}
}

// WithMode sets the storage mode reported by the health check.
func WithMode(mode string) HandlerOption {
	return func(h *Handlers) {
		h.mode = mode
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(invoker Invoker, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		invoker:      invoker,
		validator:    validator.New(),
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Mode: h.mode})
}

// Invoke handles POST /channel/{method} requests.
func (h *Handlers) Invoke(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	if method == "" {
		writeError(w, http.StatusBadRequest, "method is required", "MISSING_METHOD")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to decode request body",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	res := h.invoker.Invoke(r.Context(), channel.Call{
		Method:    method,
		Arguments: req.arguments(),
	})

	switch {
	case res.NotImplemented:
		writeError(w, http.StatusNotImplemented, "method not implemented: "+method, "NOT_IMPLEMENTED")
	case res.Err != nil:
		status := http.StatusInternalServerError
		if res.Err.Code == channel.CodeInvalidInput {
			status = http.StatusBadRequest
		}
		writeError(w, status, res.Err.Message, res.Err.Code)
	default:
		locator, _ := res.Value.(string)
		writeJSON(w, http.StatusOK, InvokeResponse{Locator: locator})
	}
}

// arguments converts the request into call arguments. Absent fields are
// left out so the channel can tell missing from empty.
func (req InvokeRequest) arguments() map[string]any {
	args := make(map[string]any, 2)
	if req.Bytes != nil {
		args[channel.ArgBytes] = req.Bytes
	}
	if req.Name != nil {
		args[channel.ArgName] = *req.Name
	}
	return args
}

// ListEntries handles GET /entries requests.
func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeError(w, http.StatusNotImplemented, "index listing not supported", "NOT_IMPLEMENTED")
		return
	}

	entries, err := h.lister.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list entries", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list entries", "LIST_FAILED")
		return
	}

	collection := r.URL.Query().Get("collection")
	resp := ListEntriesResponse{Entries: make([]EntryResponse, 0, len(entries))}
	for _, e := range entries {
		if collection != "" && string(e.Collection) != collection {
			continue
		}
		resp.Entries = append(resp.Entries, EntryResponse{
			Handle:           string(e.Handle),
			Collection:       string(e.Collection),
			DisplayName:      e.DisplayName,
			MimeType:         e.MimeType,
			DetectedMimeType: e.DetectedMimeType,
			RelativePath:     e.RelativePath,
			DataPath:         e.DataPath,
			ContentPath:      e.ContentPath,
			State:            string(e.State),
			Size:             e.Size,
			CreatedAt:        e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// EntryContent handles GET /entries/content?handle=... requests.
func (h *Handlers) EntryContent(w http.ResponseWriter, r *http.Request) {
	if h.opener == nil {
		writeError(w, http.StatusNotImplemented, "content access not supported", "NOT_IMPLEMENTED")
		return
	}

	handle := r.URL.Query().Get("handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required", "MISSING_HANDLE")
		return
	}

	rc, err := h.opener.Open(r.Context(), storage.Handle(handle))
	if err != nil {
		switch {
		case errors.Is(err, mediaindex.ErrInvalidHandle):
			writeError(w, http.StatusBadRequest, "invalid handle", "INVALID_HANDLE")
		case errors.Is(err, mediaindex.ErrEntryNotFound):
			writeError(w, http.StatusNotFound, "entry not found", "ENTRY_NOT_FOUND")
		case errors.Is(err, mediaindex.ErrEntryPending):
			writeError(w, http.StatusConflict, "entry is pending", "ENTRY_PENDING")
		case errors.Is(err, mediaindex.ErrNotManaged):
			writeError(w, http.StatusConflict, "entry content is stored outside the index", "CONTENT_NOT_MANAGED")
		default:
			h.logger.Error("failed to open entry",
				slog.String("handle", handle),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to open entry", "CONTENT_FETCH_FAILED")
		}
		return
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.logger.Error("failed to read entry",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read entry", "CONTENT_FETCH_FAILED")
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write entry content", slog.String("error", err.Error()))
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
