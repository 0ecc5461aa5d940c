// Package executor issues single WFS GetFeature requests and decodes their pages.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/wfs-dump/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
	"github.com/mohammed-shakir/wfs-dump/internal/core/observability"
	"github.com/mohammed-shakir/wfs-dump/internal/core/ogc"
)

// Interface is the blocking page capability the pagination driver consumes.
type Interface interface {
	FetchPage(ctx context.Context, req model.PageRequest) (model.PageResult, error)
	Count(ctx context.Context, layer, filter string, bbox *model.BBox) (int, error)
}

// BodyCache stores raw page bodies between runs.
type BodyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, body []byte) error
	Delete(ctx context.Context, key string) error
}

type Option func(*Executor)

// WithRateLimit paces outbound requests; rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(e *Executor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithCache(c BodyCache) Option {
	return func(e *Executor) { e.cache = c }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	owsURL   *url.URL
	limiter  *rate.Limiter
	cache    BodyCache
	metrics  *observability.Metrics
	startNow func() time.Time // for tests
}

var _ Interface = (*Executor)(nil)

func New(logger *slog.Logger, client *http.Client, ows string, opts ...Option) (*Executor, error) {
	u, err := url.Parse(ows)
	if err != nil {
		return nil, fmt.Errorf("parse ows url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ows url %q: scheme must be http or https", ows)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		logger:   logger,
		client:   client,
		owsURL:   u,
		startNow: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// FetchPage issues exactly one GetFeature request, or serves it from the
// page cache. It never retries.
func (e *Executor) FetchPage(ctx context.Context, req model.PageRequest) (model.PageResult, error) {
	var key string
	if e.cache != nil {
		key = keys.PageKey(req)
		if res, ok := e.fromCache(ctx, key); ok {
			return res, nil
		}
	}

	body, err := e.get(ctx, ogc.BuildGetFeatureParams(req), "application/json", "getfeature")
	if err != nil {
		return model.PageResult{}, err
	}
	res, err := DecodePage(body)
	if err != nil {
		e.metrics.IncUpstreamError(string(KindOf(err)))
		return model.PageResult{}, err
	}
	res.Source = model.SourceNetwork
	e.metrics.ObservePage(model.SourceNetwork)

	e.logger.Debug("page fetched",
		"layer", req.Layer,
		"offset", req.Offset,
		"limit", req.Limit,
		"returned", len(res.Features),
		"total_known", res.TotalKnown,
		"total", res.Total)

	if e.cache != nil {
		if err := e.cache.Put(ctx, key, body); err != nil {
			e.metrics.IncCache("error")
			e.logger.Warn("page cache put failed", "key", key, "err", err)
		}
	}
	return res, nil
}

func (e *Executor) fromCache(ctx context.Context, key string) (model.PageResult, bool) {
	body, ok, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		e.metrics.IncCache("error")
		e.logger.Warn("page cache get failed", "key", key, "err", err)
		return model.PageResult{}, false
	case !ok:
		e.metrics.IncCache("miss")
		return model.PageResult{}, false
	}

	res, err := DecodePage(body)
	if err != nil {
		e.metrics.IncCache("corrupt")
		e.logger.Warn("dropping undecodable cached page", "key", key, "err", err)
		if derr := e.cache.Delete(ctx, key); derr != nil {
			e.logger.Warn("page cache delete failed", "key", key, "err", derr)
		}
		return model.PageResult{}, false
	}
	e.metrics.IncCache("hit")
	e.metrics.ObservePage(model.SourceCache)
	res.Source = model.SourceCache
	return res, true
}

// Count asks the server for the number of matching features (resultType=hits).
func (e *Executor) Count(ctx context.Context, layer, filter string, bbox *model.BBox) (int, error) {
	body, err := e.get(ctx, ogc.BuildHitsParams(layer, filter, bbox), "application/xml, text/xml", "hits")
	if err != nil {
		return 0, err
	}
	n, err := decodeHits(body)
	if err != nil {
		e.metrics.IncUpstreamError(string(KindOf(err)))
		return 0, err
	}
	return n, nil
}

func (e *Executor) get(ctx context.Context, params url.Values, accept, op string) ([]byte, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	// keep query params already present on the endpoint (e.g. vendor keys)
	q := e.owsURL.Query()
	for k, v := range params {
		q[k] = v
	}
	u := *e.owsURL
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		e.metrics.IncUpstreamError(string(KindTransport))
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		e.metrics.ObserveUpstream(op, time.Since(start).Seconds())
		e.metrics.IncUpstreamError(string(KindServer))
		return nil, &ServerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	b, err := io.ReadAll(resp.Body)
	e.metrics.ObserveUpstream(op, time.Since(start).Seconds())
	if err != nil {
		e.metrics.IncUpstreamError(string(KindTransport))
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	return b, nil
}
