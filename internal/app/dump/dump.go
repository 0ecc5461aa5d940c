// Package dump wires one extraction run: config, WFS client, pagination
// driver and output, with all-or-nothing finalization.
package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/paulmach/orb/simplify"

	"github.com/mohammed-shakir/wfs-dump/internal/cache/pagecache"
	"github.com/mohammed-shakir/wfs-dump/internal/cache/redisstore"
	"github.com/mohammed-shakir/wfs-dump/internal/core/config"
	"github.com/mohammed-shakir/wfs-dump/internal/core/executor"
	"github.com/mohammed-shakir/wfs-dump/internal/core/httpclient"
	"github.com/mohammed-shakir/wfs-dump/internal/core/observability"
	"github.com/mohammed-shakir/wfs-dump/internal/core/ogc"
	"github.com/mohammed-shakir/wfs-dump/internal/core/server"
	"github.com/mohammed-shakir/wfs-dump/internal/logger"
	"github.com/mohammed-shakir/wfs-dump/internal/metrics"
	"github.com/mohammed-shakir/wfs-dump/internal/normalize"
	"github.com/mohammed-shakir/wfs-dump/internal/output"
	"github.com/mohammed-shakir/wfs-dump/internal/paginate"
)

var Version = "dev"

// UsageError marks a problem with the invocation rather than the run.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Run extracts cfg.Layer into cfg.Output ("-" is stdout). On any fatal
// error the output is aborted: a file destination is left untouched and
// stdout gets a truncation marker.
func Run(ctx context.Context, cfg config.Config, log *slog.Logger, stdout io.Writer) (paginate.Summary, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return paginate.Summary{}, &UsageError{Err: err}
	}
	job, err := buildJob(cfg)
	if err != nil {
		return paginate.Summary{}, &UsageError{Err: err}
	}

	ctx = logger.WithLayer(logger.WithRunID(ctx, ""), job.Layer)
	start := time.Now()

	var (
		provider *metrics.Provider
		obs      *observability.Metrics
	)
	if cfg.MetricsAddr != "" || cfg.MetricsFile != "" {
		provider = metrics.Init(metrics.Config{
			RuntimeCollectors: cfg.MetricsAddr != "",
			Build:             metrics.BuildInfo{Version: Version},
		})
		obs = observability.New(provider.Registerer(), job.Layer)
	}

	track := newTracker(job.Layer)
	if cfg.MetricsAddr != "" {
		srv, err := server.Start(cfg.MetricsAddr, log, provider.Handler(), track)
		if err != nil {
			return paginate.Summary{}, err
		}
		defer func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) }()
	}

	client := httpclient.NewOutbound(cfg.HTTPTimeout)
	defer client.CloseIdleConnections()

	execOpts := []executor.Option{
		executor.WithRateLimit(cfg.RPS),
		executor.WithMetrics(obs),
	}
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			log.WarnContext(ctx, "page cache unavailable, continuing without it", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer func() { _ = rc.Close() }()
			execOpts = append(execOpts, executor.WithCache(pagecache.NewRedisStore(rc, cfg.CacheTTL)))
		}
	}
	exec, err := executor.New(log, client, ogc.OWSEndpoint(cfg.BaseURL), execOpts...)
	if err != nil {
		return paginate.Summary{}, &UsageError{Err: err}
	}

	norm, err := newNormalizer(cfg, job.Layer)
	if err != nil {
		return paginate.Summary{}, &UsageError{Err: err}
	}

	var (
		dest   io.Writer = stdout
		staged *output.AtomicFile
	)
	if cfg.Output != "" && cfg.Output != "-" {
		staged, err = output.CreateAtomic(cfg.Output)
		if err != nil {
			return paginate.Summary{}, err
		}
		dest = staged
	}
	w, err := output.New(cfg.Format, dest)
	if err != nil {
		if staged != nil {
			_ = staged.Abort()
		}
		return paginate.Summary{}, &UsageError{Err: err}
	}

	driver := paginate.New(exec, norm,
		paginate.WithLogger(log),
		paginate.WithMetrics(obs),
		paginate.WithDiscover(cfg.DiscoverCount),
		paginate.WithRetries(cfg.Retries, cfg.RetryBackoff),
		paginate.WithPrefetch(cfg.Prefetch),
		paginate.WithDedupeWindow(cfg.DedupeWindow),
	)

	log.InfoContext(ctx, "extraction started",
		"base_url", cfg.BaseURL,
		"filter", job.Filter,
		"page_size", job.PageSize,
		"output", cfg.Output,
		"format", cfg.Format)

	sum, runErr := driver.Run(ctx, job, countingSink{w: w, t: track})
	track.skipped.Store(int64(sum.Skipped))
	if sum.TotalKnown {
		track.total.Store(int64(sum.Total))
	}

	if runErr == nil {
		runErr = finalize(w, staged)
	} else {
		abort(ctx, log, w, staged, runErr)
	}

	ok := runErr == nil
	if ok {
		track.state.Store(stateDone)
	} else {
		track.state.Store(stateFailed)
	}
	obs.SetRunResult(ok, time.Since(start).Seconds())
	if cfg.MetricsFile != "" {
		if err := provider.WriteTextfile(cfg.MetricsFile); err != nil {
			log.WarnContext(ctx, "metrics textfile not written", "path", cfg.MetricsFile, "err", err)
		}
	}

	if !ok {
		return sum, runErr
	}
	log.InfoContext(ctx, "extraction committed",
		"features", sum.Written,
		"skipped", sum.Skipped,
		"deduped", sum.Deduped,
		"pages", sum.Pages,
		"elapsed", time.Since(start))
	if sum.Skipped > 0 {
		log.WarnContext(ctx, "some features were skipped", "skipped", sum.Skipped)
	}
	return sum, nil
}

func buildJob(cfg config.Config) (paginate.Job, error) {
	job := paginate.Job{Layer: cfg.Layer, PageSize: cfg.PageSize}
	if f, ok := ogc.Filter(cfg.Filter); ok {
		job.Filter = f
	}
	if cfg.BBox != "" {
		bb, err := ogc.ParseBBox(cfg.BBox)
		if err != nil {
			return paginate.Job{}, fmt.Errorf("bbox: %w", err)
		}
		job.BBox = &bb
	}
	return job, nil
}

func newNormalizer(cfg config.Config, layer string) (*normalize.Normalizer, error) {
	var opts []normalize.Option
	if cfg.SimplifyTolerance > 0 {
		opts = append(opts, normalize.WithTransform(simplify.DouglasPeucker(cfg.SimplifyTolerance).Simplify))
	}
	if cfg.H3Res >= 0 {
		opts = append(opts, normalize.WithH3(cfg.H3Res))
	}
	return normalize.New(layer, opts...)
}

func finalize(w output.Writer, staged *output.AtomicFile) error {
	if err := w.Close(); err != nil {
		if staged != nil {
			_ = staged.Abort()
		}
		return &paginate.RunError{Kind: paginate.KindWrite, Offset: w.Count(), Err: err}
	}
	if staged != nil {
		if err := staged.Commit(); err != nil {
			return &paginate.RunError{Kind: paginate.KindWrite, Offset: w.Count(), Err: err}
		}
	}
	return nil
}

func abort(ctx context.Context, log *slog.Logger, w output.Writer, staged *output.AtomicFile, cause error) {
	reason := cause.Error()
	var re *paginate.RunError
	if errors.As(cause, &re) {
		reason = fmt.Sprintf("%s at offset %d", re.Kind, re.Offset)
	}
	if err := w.Abort(reason); err != nil {
		log.WarnContext(ctx, "output abort failed", "err", err)
	}
	if staged != nil {
		if err := staged.Abort(); err != nil {
			log.WarnContext(ctx, "removing partial output failed", "err", err)
		}
	}
}
