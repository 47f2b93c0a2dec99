package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/italolelis/fileloader/internal/loader"
	"github.com/italolelis/fileloader/internal/logctx"
	"github.com/italolelis/fileloader/internal/transport"
)

// maxRequestSize bounds the JSON body of POST /downloads.
const maxRequestSize = 64 * 1024

// Downloader runs downloads. *loader.Loader implements it.
type Downloader interface {
	Get(ctx context.Context, rawURL string, opts loader.Options) (*cache.Entity, error)
}

// Records looks up stored cache metadata. *cache.Cache implements it.
type Records interface {
	Load(ctx context.Context, url string) (*cache.Record, error)
}

// ContentReader reads cached payloads. *blobstore.Bucket implements it.
type ContentReader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// DownloadRequest is the body of POST /downloads.
type DownloadRequest struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Token    string            `json:"token,omitempty"`
}

// RecordResponse is the JSON form of a stored cache record.
type RecordResponse struct {
	URL           string     `json:"url"`
	LocalPath     string     `json:"localPath"`
	Checksum      string     `json:"checksum"`
	ETag          string     `json:"etag,omitempty"`
	LastValidated *time.Time `json:"lastValidated,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  loader.Kind `json:"kind,omitempty"`
}

type DownloadHandler struct {
	downloader Downloader
	records    Records
	content    ContentReader
	username   string
	password   string
}

// Option configures a DownloadHandler.
type Option func(*DownloadHandler)

// WithBasicAuth protects every route with HTTP basic auth. Empty credentials disable it.
func WithBasicAuth(username, password string) Option {
	return func(h *DownloadHandler) {
		h.username = username
		h.password = password
	}
}

// WithContent enables GET /records/content.
func WithContent(c ContentReader) Option {
	return func(h *DownloadHandler) { h.content = c }
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(d Downloader, records Records, opts ...Option) *DownloadHandler {
	h := &DownloadHandler{downloader: d, records: records}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/downloads", h.HandleDownload)
	r.Get("/records", h.HandleRecord)

	if h.content != nil {
		r.Get("/records/content", h.HandleContent)
	}

	return r
}

// HandleDownload downloads the requested URL and answers with the cached entity.
func (h *DownloadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req DownloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		logger.Debug("failed to decode request", "err", err)
		writeError(ctx, w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: loader.KindInvalidRequest})

		return
	}

	header := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		header.Set(k, v)
	}

	entity, err := h.downloader.Get(ctx, req.URL, loader.Options{
		Credentials: transport.Credentials{Username: req.Username, Password: req.Password, Token: req.Token},
		Header:      header,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Debug("client went away before the download settled", "url", req.URL)

			return
		}

		writeError(ctx, w, statusForFailure(err), ErrorResponse{Error: err.Error(), Kind: loader.KindOf(err)})

		return
	}

	writeJSON(ctx, w, http.StatusOK, entity)
}

// HandleRecord returns the stored record for ?url=.
func (h *DownloadHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	resp := RecordResponse{
		URL:       rec.URL,
		LocalPath: rec.LocalPath,
		Checksum:  rec.Checksum,
		ETag:      rec.ETag,
	}

	if !rec.LastValidated.IsZero() {
		validated := rec.LastValidated
		resp.LastValidated = &validated
	}

	writeJSON(r.Context(), w, http.StatusOK, resp)
}

// HandleContent streams the cached payload for ?url=.
func (h *DownloadHandler) HandleContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}

	data, err := h.content.Read(ctx, rec.LocalPath)
	if err != nil {
		if errors.Is(err, cache.ErrRecordNotFound) {
			writeError(ctx, w, http.StatusNotFound, ErrorResponse{Error: "payload not found"})

			return
		}

		logctx.LoggerFromContext(ctx).Error("failed to read payload", "local_path", rec.LocalPath, "err", err)
		writeError(ctx, w, http.StatusInternalServerError, ErrorResponse{Error: "failed to read payload"})

		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))

	if rec.ETag != "" {
		w.Header().Set("ETag", rec.ETag)
	}

	_, _ = w.Write(data)
}

func (h *DownloadHandler) lookup(w http.ResponseWriter, r *http.Request) (*cache.Record, bool) {
	ctx := r.Context()

	u := r.URL.Query().Get("url")
	if u == "" {
		writeError(ctx, w, http.StatusBadRequest, ErrorResponse{Error: "missing url parameter"})

		return nil, false
	}

	rec, err := h.records.Load(ctx, u)
	if err != nil {
		if errors.Is(err, cache.ErrRecordNotFound) {
			writeError(ctx, w, http.StatusNotFound, ErrorResponse{Error: "record not found"})

			return nil, false
		}

		logctx.LoggerFromContext(ctx).Error("failed to load record", "url", u, "err", err)
		writeError(ctx, w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load record"})

		return nil, false
	}

	return rec, true
}

func (h *DownloadHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func statusForFailure(err error) int {
	switch loader.KindOf(err) {
	case loader.KindOffline:
		return http.StatusServiceUnavailable
	case loader.KindTransport, loader.KindRedirectWithoutLocation:
		return http.StatusBadGateway
	case loader.KindMaxRedirects:
		return http.StatusLoopDetected
	case loader.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(ctx, w, status, resp)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}
