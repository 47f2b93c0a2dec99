package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/italolelis/fileloader/internal/logctx"
	"github.com/italolelis/fileloader/internal/network"
	"github.com/italolelis/fileloader/internal/queue"
	"github.com/italolelis/fileloader/internal/redirect"
	"github.com/italolelis/fileloader/internal/telemetry"
	"github.com/italolelis/fileloader/internal/transport"
)

// Outcomes of a successful download.
const (
	OutcomeCacheHit    = "cache_hit"
	OutcomeWritten     = "written"
	OutcomeUnchanged   = "unchanged"
	OutcomeNotModified = "not_modified"
)

// Options shape the outbound requests of one download.
type Options struct {
	Credentials transport.Credentials
	Header      http.Header
	// OnProgress receives advisory progress fractions in [0, 1]. When
	// downloads are coalesced only the caller that started the shared
	// request receives progress.
	OnProgress func(fraction float64)
}

// Loader downloads URLs into the cache through a shared admission queue.
type Loader struct {
	cache     *cache.Cache
	queue     *queue.Queue
	transport transport.Transport
	resolver  redirect.Resolver
	network   network.Checker
	telemetry *telemetry.Telemetry
	coalesce  bool
	group     singleflight.Group
	onFailure func(ctx context.Context, f *Failure)
}

// Option configures a Loader.
type Option func(*Loader)

// WithResolver sets the redirect policy.
func WithResolver(r redirect.Resolver) Option {
	return func(l *Loader) { l.resolver = r }
}

// WithNetwork sets the reachability checker consulted before every download.
func WithNetwork(c network.Checker) Option {
	return func(l *Loader) { l.network = c }
}

// WithTelemetry instruments downloads.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(l *Loader) { l.telemetry = t }
}

// WithCoalescing makes concurrent downloads of the same URL with the same
// options share one request. A shared failure reaches the failure hook once.
func WithCoalescing(enabled bool) Option {
	return func(l *Loader) { l.coalesce = enabled }
}

// WithFailureHook registers fn to be called once for every rejected download
// task. Callers sharing a coalesced task share its single report.
func WithFailureHook(fn func(ctx context.Context, f *Failure)) Option {
	return func(l *Loader) { l.onFailure = fn }
}

// New creates a Loader. The network is assumed online unless WithNetwork is given.
func New(c *cache.Cache, q *queue.Queue, t transport.Transport, opts ...Option) *Loader {
	l := &Loader{
		cache:     c,
		queue:     q,
		transport: t,
		resolver:  redirect.New(redirect.DefaultMaxHops),
		network:   network.Static(true),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// task is one queued or in-flight download, owned by a single runner.
type task struct {
	url       string
	opts      Options
	record    *cache.Record
	exists    bool
	redirects int
}

type result struct {
	entity  *cache.Entity
	outcome string
}

// Download starts downloading rawURL and returns a Future for the cached entity.
// Cancelling ctx does not stop the download; only Future.Wait observes it.
func (l *Loader) Download(ctx context.Context, rawURL string, opts Options) *Future {
	f := newFuture()

	go func() {
		f.settle(l.download(ctx, rawURL, opts))
	}()

	return f
}

// Get downloads rawURL and waits for the result.
func (l *Loader) Get(ctx context.Context, rawURL string, opts Options) (*cache.Entity, error) {
	return l.Download(ctx, rawURL, opts).Wait(ctx)
}

func (l *Loader) download(ctx context.Context, rawURL string, opts Options) (*cache.Entity, error) {
	ctx, logger := logctx.With(context.WithoutCancel(ctx), "url", rawURL)

	var entity *cache.Entity

	err := l.telemetry.InstrumentDownload(ctx, func(ctx context.Context) (string, error) {
		res, err := l.resolve(ctx, rawURL, opts)
		if err != nil {
			return string(KindOf(err)), err
		}

		entity = res.entity

		return res.outcome, nil
	})
	if err != nil {
		logger.Warn("download rejected", "kind", KindOf(err), "err", err)

		return nil, err
	}

	return entity, nil
}

func (l *Loader) resolve(ctx context.Context, rawURL string, opts Options) (*result, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, l.report(ctx, fail(KindInvalidRequest, rawURL, err))
	}

	if !l.network.Online(ctx) {
		return nil, l.report(ctx, fail(KindOffline, rawURL, errors.New("network is unreachable")))
	}

	if !l.coalesce {
		return l.fetchReported(ctx, rawURL, opts)
	}

	ch := l.group.DoChan(coalesceKey(rawURL, opts), func() (any, error) {
		return l.fetchReported(ctx, rawURL, opts)
	})

	res := <-ch
	if res.Err != nil {
		return nil, res.Err
	}

	shared := res.Val.(*result)
	entity := *shared.entity

	return &result{entity: &entity, outcome: shared.outcome}, nil
}

// fetchReported runs fetch and hands a failure to the hook. Under coalescing
// only the leader runs it, so a shared failure is reported once.
func (l *Loader) fetchReported(ctx context.Context, rawURL string, opts Options) (*result, error) {
	res, err := l.fetch(ctx, rawURL, opts)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			l.report(ctx, f)
		}

		return nil, err
	}

	return res, nil
}

func (l *Loader) report(ctx context.Context, f *Failure) *Failure {
	if l.onFailure != nil {
		l.onFailure(ctx, f)
	}

	return f
}

// fetch serves rawURL from the cache when fresh, otherwise queues a transfer.
func (l *Loader) fetch(ctx context.Context, rawURL string, opts Options) (*result, error) {
	logger := logctx.LoggerFromContext(ctx)

	rec, err := l.cache.Open(ctx, rawURL)
	if err != nil {
		return nil, fail(KindMetadata, rawURL, err)
	}

	exists, err := rec.Exists(ctx)
	if err != nil {
		return nil, fail(KindMetadata, rawURL, err)
	}

	expired, err := rec.Expired(ctx)
	if err != nil {
		return nil, fail(KindMetadata, rawURL, err)
	}

	if exists && !expired {
		logger.Debug("serving from cache", "local_path", rec.LocalPath)
		l.telemetry.RecordCacheHit(ctx)

		return &result{entity: rec.Entity(), outcome: OutcomeCacheHit}, nil
	}

	return l.admit(ctx, &task{url: rawURL, opts: opts, record: rec, exists: exists})
}

// admit runs t in an admission slot and waits for it. The slot is released on
// every exit path, panics included, before the result is handed back.
func (l *Loader) admit(ctx context.Context, t *task) (*result, error) {
	logger := logctx.LoggerFromContext(ctx)

	type outcome struct {
		res *result
		err error
	}

	done := make(chan outcome, 1)

	l.queue.Enqueue(func(release func()) {
		var out outcome

		defer func() {
			if r := recover(); r != nil {
				logger.Error("download runner panic", "panic", r, "stack", string(debug.Stack()))

				out = outcome{err: fail(KindTransport, t.url, fmt.Errorf("panic: %v", r))}
			}

			release()

			done <- out
		}()

		logger.Debug("download admitted")

		out.res, out.err = l.transfer(ctx, t)
	})

	logger.Debug("download queued", "active", l.queue.Active(), "pending", l.queue.Pending())

	out := <-done

	return out.res, out.err
}

// transfer issues the request and follows redirects within the held slot.
func (l *Loader) transfer(ctx context.Context, t *task) (*result, error) {
	logger := logctx.LoggerFromContext(ctx)
	target := t.url

	for {
		resp, err := l.transport.Issue(ctx, l.request(ctx, target, t))
		if err != nil {
			return nil, fail(KindTransport, t.url, err)
		}

		d := l.resolver.Resolve(resp.StatusCode, resp.Header, t.redirects)

		switch {
		case errors.Is(d.Err, redirect.ErrMaxRedirects):
			return nil, fail(KindMaxRedirects, t.url, d.Err)
		case d.Err != nil:
			return nil, fail(KindRedirectWithoutLocation, t.url, d.Err)
		case d.Redirect:
			next, err := redirect.Join(target, d.Location)
			if err != nil {
				return nil, fail(KindRedirectWithoutLocation, t.url, err)
			}

			t.redirects++
			l.telemetry.RecordRedirect(ctx, resp.StatusCode)
			logger.Debug("following redirect", "status", resp.StatusCode, "location", next, "hop", t.redirects)

			target = next

			continue
		}

		return l.store(ctx, t, resp)
	}
}

func (l *Loader) request(ctx context.Context, target string, t *task) *transport.Request {
	req := &transport.Request{
		URL:             target,
		Method:          http.MethodGet,
		Credentials:     t.opts.Credentials,
		Header:          t.opts.Header.Clone(),
		FollowRedirects: false,
		UseCache:        true,
		OnProgress:      progressLogger(ctx, t.opts.OnProgress),
	}

	if t.redirects == 0 && t.exists {
		req.IfNoneMatch = t.record.ETag
	}

	return req
}

// store writes the terminal response body unless it matches the cached payload.
func (l *Loader) store(ctx context.Context, t *task, resp *transport.Response) (*result, error) {
	logger := logctx.LoggerFromContext(ctx)
	rec := t.record

	if resp.StatusCode == http.StatusNotModified {
		if !t.exists {
			return nil, fail(KindTransport, t.url, errors.New("not modified without a cached payload"))
		}

		return l.unchanged(ctx, t, resp, OutcomeNotModified)
	}

	if t.exists && rec.Checksum == l.cache.Digest(resp.Body) {
		return l.unchanged(ctx, t, resp, OutcomeUnchanged)
	}

	if err := rec.Write(ctx, resp.Body); err != nil {
		return nil, fail(KindWriteFailure, t.url, err)
	}

	rec.ETag = resp.Header.Get("ETag")

	if err := rec.Save(ctx); err != nil {
		return nil, fail(KindMetadata, t.url, err)
	}

	l.telemetry.RecordBytesWritten(ctx, len(resp.Body))

	logger.Info("downloaded and saved file",
		"local_path", rec.LocalPath,
		"size", humanize.Bytes(uint64(len(resp.Body))),
		"hops", t.redirects,
	)

	return &result{entity: rec.Entity(), outcome: OutcomeWritten}, nil
}

// unchanged revalidates the record without touching its payload.
func (l *Loader) unchanged(ctx context.Context, t *task, resp *transport.Response, outcome string) (*result, error) {
	rec := t.record
	rec.Touch()

	if etag := resp.Header.Get("ETag"); etag != "" {
		rec.ETag = etag
	}

	if err := rec.Save(ctx); err != nil {
		return nil, fail(KindMetadata, t.url, err)
	}

	logctx.LoggerFromContext(ctx).Debug("payload unchanged", "local_path", rec.LocalPath, "outcome", outcome)

	return &result{entity: rec.Entity(), outcome: outcome}, nil
}

func progressLogger(ctx context.Context, cb func(float64)) func(float64) {
	logger := logctx.LoggerFromContext(ctx)

	return func(fraction float64) {
		logger.Debug("download progress", "percent", humanize.FtoaWithDigits(fraction*100, 2))

		if cb != nil {
			cb(fraction)
		}
	}
}

func validateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("empty url")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("missing host")
	}

	return nil
}

// coalesceKey identifies downloads that may share one request.
func coalesceKey(rawURL string, opts Options) string {
	var b strings.Builder

	b.WriteString(rawURL)
	b.WriteString("\x00")
	b.WriteString(opts.Credentials.Username)
	b.WriteString("\x00")
	b.WriteString(opts.Credentials.Password)
	b.WriteString("\x00")
	b.WriteString(opts.Credentials.Token)

	keys := make([]string, 0, len(opts.Header))
	for k := range opts.Header {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString("\x00")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(strings.Join(opts.Header[k], ","))
	}

	return b.String()
}
