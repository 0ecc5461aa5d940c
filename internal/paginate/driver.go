// Package paginate drives a WFS layer extraction page by page until the
// server runs out of features.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/wfs-dump/internal/core/executor"
	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
	"github.com/mohammed-shakir/wfs-dump/internal/core/observability"
	"github.com/mohammed-shakir/wfs-dump/internal/logger"
	"github.com/mohammed-shakir/wfs-dump/internal/normalize"
)

const DefaultProgressEvery = 10000

// Job is one extraction request. Filter is passed to the server verbatim.
type Job struct {
	Layer    string
	Filter   string
	BBox     *model.BBox
	PageSize int
}

// Sink receives features in server order.
type Sink interface {
	Write(f model.Feature) error
}

type Normalizer interface {
	Normalize(raw model.RawFeature, index int) (model.Feature, error)
}

// Summary describes a finished (or failed) run.
type Summary struct {
	Written    int
	Skipped    int
	Deduped    int
	Pages      int
	Total      int
	TotalKnown bool
	Reason     string
	Elapsed    time.Duration
}

// Termination reasons.
const (
	ReasonEmptyPage  = "empty page"
	ReasonShortPage  = "short page"
	ReasonOversized  = "server ignored page size"
	ReasonTotal      = "offset reached total"
	ReasonServerDone = "server reported no more pages"
)

type Option func(*Driver)

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithDiscover asks the server for the match count before the first page.
// It is skipped when a filter is set.
func WithDiscover(on bool) Option {
	return func(d *Driver) { d.discover = on }
}

func WithProgressEvery(n int) Option {
	return func(d *Driver) { d.progressEvery = n }
}

// WithRetries allows n extra attempts per page for retryable errors,
// starting at backoff and doubling up to 30s.
func WithRetries(n int, backoff time.Duration) Option {
	return func(d *Driver) {
		d.retries = max(n, 0)
		if backoff > 0 {
			d.backoff = backoff
		}
	}
}

// WithPrefetch keeps up to w page requests in flight (capped at 3).
// w < 2 means strictly sequential.
func WithPrefetch(w int) Option {
	return func(d *Driver) { d.prefetch = w }
}

// WithDedupeWindow drops features whose server id was among the last n ids
// emitted. Derived ids are never deduplicated.
func WithDedupeWindow(n int) Option {
	return func(d *Driver) { d.dedupeSize = n }
}

type Driver struct {
	fetcher executor.Interface
	norm    Normalizer
	logger  *slog.Logger
	metrics *observability.Metrics

	discover      bool
	progressEvery int
	retries       int
	backoff       time.Duration
	prefetch      int
	dedupeSize    int

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(fetcher executor.Interface, norm Normalizer, opts ...Option) *Driver {
	d := &Driver{
		fetcher:       fetcher,
		norm:          norm,
		logger:        slog.Default(),
		progressEvery: DefaultProgressEvery,
		backoff:       defaultBackoff,
		sleep:         sleepCtx,
		now:           time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run pages through job and hands every normalized feature to sink. The
// returned error, if any, is a *RunError; the sink must then be aborted.
func (d *Driver) Run(ctx context.Context, job Job, sink Sink) (Summary, error) {
	start := d.now()
	var sum Summary
	if job.PageSize <= 0 {
		return sum, fmt.Errorf("page size must be positive, got %d", job.PageSize)
	}

	ctx = logger.WithLayer(ctx, job.Layer)

	if d.discover && job.Filter == "" {
		n, err := d.fetcher.Count(ctx, job.Layer, job.Filter, job.BBox)
		if err != nil {
			d.logger.WarnContext(ctx, "feature count failed, relying on page hints", "err", err)
		} else {
			sum.Total, sum.TotalKnown = n, true
			d.metrics.SetTotalHint(n)
			d.logger.InfoContext(ctx, "total features", "total", n)
		}
	}

	src := d.source(ctx, job)
	defer src.close()
	if sum.TotalKnown {
		src.setLimit(sum.Total)
	}

	var dedupe *dedupeWindow
	if d.dedupeSize > 0 {
		dedupe = newDedupeWindow(d.dedupeSize)
	}

	offset := 0
	var (
		prevPrint uint64
		prevKeyed bool
	)
	nextProgress := d.progressEvery
	fail := func(err error) (Summary, error) {
		sum.Elapsed = d.now().Sub(start)
		return sum, &RunError{Kind: classify(ctx, err), Offset: offset, Page: sum.Pages + 1, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		res, err := src.next(ctx, offset)
		if err != nil {
			return fail(err)
		}

		if res.TotalKnown {
			if !sum.TotalKnown || sum.Total != res.Total {
				d.metrics.SetTotalHint(res.Total)
				src.setLimit(res.Total)
			}
			sum.Total, sum.TotalKnown = res.Total, true
		}

		n := len(res.Features)
		if n == 0 {
			sum.Reason = ReasonEmptyPage
			break
		}

		batch, keyed := d.normalizePage(ctx, res.Features, offset, &sum)

		// Only pages whose features all carry server ids can be told apart
		// from legitimately duplicated rows.
		fp := pageFingerprint(res.Features)
		if sum.Pages > 0 && keyed && prevKeyed && fp == prevPrint {
			return fail(&executor.ProtocolError{
				Err: errors.New("page repeats the previous one; server appears to ignore startIndex"),
			})
		}
		prevPrint, prevKeyed = fp, keyed
		sum.Pages++

		for _, nf := range batch {
			if dedupe != nil && !nf.f.DerivedID && dedupe.seen(nf.f.ID) {
				sum.Deduped++
				continue
			}
			if err := sink.Write(nf.f); err != nil {
				sum.Elapsed = d.now().Sub(start)
				return sum, &RunError{Kind: KindWrite, Offset: nf.index, Page: sum.Pages, Err: err}
			}
			sum.Written++
			d.metrics.AddWritten(1)
		}
		offset += n

		if d.progressEvery > 0 && offset >= nextProgress {
			d.logProgress(ctx, offset, sum, start)
			for nextProgress <= offset {
				nextProgress += d.progressEvery
			}
		}

		switch {
		case n < job.PageSize:
			sum.Reason = ReasonShortPage
		case n > job.PageSize:
			sum.Reason = ReasonOversized
		case sum.TotalKnown && offset >= sum.Total:
			sum.Reason = ReasonTotal
		case res.HasMore == model.No:
			sum.Reason = ReasonServerDone
		}
		if sum.Reason != "" {
			break
		}
	}

	sum.Elapsed = d.now().Sub(start)
	d.logger.InfoContext(ctx, "extraction finished",
		"features", sum.Written,
		"skipped", sum.Skipped,
		"deduped", sum.Deduped,
		"pages", sum.Pages,
		"reason", sum.Reason,
		"elapsed", sum.Elapsed)
	return sum, nil
}

func (d *Driver) source(ctx context.Context, job Job) pageSource {
	fetch := func(ctx context.Context, offset int) (model.PageResult, error) {
		return d.fetchWithRetry(ctx, model.PageRequest{
			Layer:  job.Layer,
			Filter: job.Filter,
			BBox:   job.BBox,
			Offset: offset,
			Limit:  job.PageSize,
		})
	}
	if d.prefetch >= 2 {
		return newPrefetcher(ctx, fetch, d.prefetch, job.PageSize)
	}
	return sequential{fetch: fetch}
}

type normalized struct {
	f     model.Feature
	index int
}

// normalizePage decodes one page, counting and logging the features it has
// to skip. keyed reports that at least one feature survived and all of them
// carry a server id.
func (d *Driver) normalizePage(ctx context.Context, raws []model.RawFeature, offset int, sum *Summary) ([]normalized, bool) {
	batch := make([]normalized, 0, len(raws))
	keyed := true
	for i, raw := range raws {
		f, err := d.norm.Normalize(raw, offset+i)
		if err != nil {
			sum.Skipped++
			d.metrics.IncSkipped(normalize.Reason(err))
			d.logger.WarnContext(ctx, "skipping feature", "index", offset+i, "err", err)
			continue
		}
		keyed = keyed && !f.DerivedID
		batch = append(batch, normalized{f: f, index: offset + i})
	}
	return batch, keyed && len(batch) > 0
}

func pageFingerprint(raws []model.RawFeature) uint64 {
	h := xxhash.New()
	for _, raw := range raws {
		_, _ = h.Write(raw)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func (d *Driver) logProgress(ctx context.Context, seen int, sum Summary, start time.Time) {
	attrs := []any{"seen", seen, "written", sum.Written, "elapsed", d.now().Sub(start).Round(time.Second)}
	if sum.TotalKnown && sum.Total > 0 {
		attrs = append(attrs, "total", sum.Total, "percent", float64(seen)*100/float64(sum.Total))
	}
	d.logger.InfoContext(ctx, "progress", attrs...)
}
