package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/italolelis/fileloader/internal/cache/cachetest"
	"github.com/italolelis/fileloader/internal/loader"
	"github.com/italolelis/fileloader/internal/network"
	"github.com/italolelis/fileloader/internal/queue"
	"github.com/italolelis/fileloader/internal/transport"
)

// mockDownloader records the last request and answers with a fixed result.
type mockDownloader struct {
	entity  *cache.Entity
	err     error
	lastURL string
	lastOpt loader.Options
}

func (m *mockDownloader) Get(_ context.Context, rawURL string, opts loader.Options) (*cache.Entity, error) {
	m.lastURL = rawURL
	m.lastOpt = opts

	return m.entity, m.err
}

// stubTransport always answers 200 with body.
type stubTransport struct{ body string }

func (s stubTransport) Issue(context.Context, *transport.Request) (*transport.Response, error) {
	return &transport.Response{StatusCode: http.StatusOK, Header: http.Header{"Etag": []string{`"e1"`}}, Body: []byte(s.body)}, nil
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(body)))

	return rr
}

func TestHandleDownload_PassesOptions(t *testing.T) {
	d := &mockDownloader{entity: &cache.Entity{URL: "http://a/b.png", LocalPath: "x.png", Checksum: "sha256:1"}}
	h := NewDownloadHandler(d, cache.New(cachetest.NewStore(), cachetest.NewPayload())).Routes()

	rr := post(t, h, `{"url":"http://a/b.png","headers":{"x-api-key":"k"},"username":"bob","password":"pw","token":"tok"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var got cache.Entity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, *d.entity, got)

	assert.Equal(t, "http://a/b.png", d.lastURL)
	assert.Equal(t, "k", d.lastOpt.Header.Get("X-Api-Key"))
	assert.Equal(t, transport.Credentials{Username: "bob", Password: "pw", Token: "tok"}, d.lastOpt.Credentials)
}

func TestHandleDownload_InvalidBody(t *testing.T) {
	h := NewDownloadHandler(&mockDownloader{}, cache.New(cachetest.NewStore(), cachetest.NewPayload())).Routes()

	rr := post(t, h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), string(loader.KindInvalidRequest))
}

func TestHandleDownload_FailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		kind   loader.Kind
		status int
	}{
		{name: "offline", kind: loader.KindOffline, status: http.StatusServiceUnavailable},
		{name: "transport", kind: loader.KindTransport, status: http.StatusBadGateway},
		{name: "redirects", kind: loader.KindMaxRedirects, status: http.StatusLoopDetected},
		{name: "location", kind: loader.KindRedirectWithoutLocation, status: http.StatusBadGateway},
		{name: "write", kind: loader.KindWriteFailure, status: http.StatusInternalServerError},
		{name: "metadata", kind: loader.KindMetadata, status: http.StatusInternalServerError},
		{name: "invalid", kind: loader.KindInvalidRequest, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDownloader{err: &loader.Failure{Kind: tt.kind, URL: "http://a", Detail: "boom"}}
			h := NewDownloadHandler(d, cache.New(cachetest.NewStore(), cachetest.NewPayload())).Routes()

			rr := post(t, h, `{"url":"http://a"}`)
			assert.Equal(t, tt.status, rr.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Contains(t, resp.Error, "boom")
		})
	}
}

func TestHandleDownload_EndToEnd(t *testing.T) {
	payload := cachetest.NewPayload()
	c := cache.New(cachetest.NewStore(), payload, cache.WithPolicy(cache.TTL(time.Hour)))
	l := loader.New(c, queue.New(3), stubTransport{body: "hello"}, loader.WithNetwork(network.Static(true)))
	h := NewDownloadHandler(l, c, WithContent(contentFunc(func(_ context.Context, path string) ([]byte, error) {
		data, ok := payload.Data(path)
		if !ok {
			return nil, cache.ErrRecordNotFound
		}

		return data, nil
	}))).Routes()

	rr := post(t, h, `{"url":"http://example.com/hello.txt"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records?url=http://example.com/hello.txt", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var rec RecordResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, cache.Digest([]byte("hello")), rec.Checksum)
	assert.Equal(t, `"e1"`, rec.ETag)
	assert.NotNil(t, rec.LastValidated)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/content?url=http://example.com/hello.txt", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", rr.Body.String())
	assert.Equal(t, `"e1"`, rr.Header().Get("ETag"))
}

func TestHandleRecord_Errors(t *testing.T) {
	h := NewDownloadHandler(&mockDownloader{}, cache.New(cachetest.NewStore(), cachetest.NewPayload())).Routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records?url=http://missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records/content?url=http://missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "content route is not mounted without a reader")
}

type failingRecords struct{}

func (failingRecords) Load(context.Context, string) (*cache.Record, error) {
	return nil, errors.New("db down")
}

func TestHandleRecord_StoreError(t *testing.T) {
	h := NewDownloadHandler(&mockDownloader{}, failingRecords{}).Routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/records?url=http://a", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestBasicAuth(t *testing.T) {
	d := &mockDownloader{entity: &cache.Entity{}}
	h := NewDownloadHandler(d, cache.New(cachetest.NewStore(), cachetest.NewPayload()), WithBasicAuth("admin", "secret")).Routes()

	tests := []struct {
		name     string
		user     string
		pass     string
		setAuth  bool
		wantCode int
	}{
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, wantCode: http.StatusUnauthorized},
		{name: "valid", user: "admin", pass: "secret", setAuth: true, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/downloads", strings.NewReader(`{"url":"http://a"}`))
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}
}

type contentFunc func(ctx context.Context, path string) ([]byte, error)

func (f contentFunc) Read(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}
