package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/wfs-dump/internal/app/dump"
	"github.com/mohammed-shakir/wfs-dump/internal/core/config"
	"github.com/mohammed-shakir/wfs-dump/internal/logger"
	"github.com/mohammed-shakir/wfs-dump/internal/paginate"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ue *dump.UsageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "wfs-dump: %v\n\n", ue.Err)
		fmt.Fprint(stderr, cmd.UsageString())
		return exitUsage
	}
	var re *paginate.RunError
	if errors.As(err, &re) {
		fmt.Fprintf(stderr, "wfs-dump: %s at offset %d (page %d): %v\n", re.Kind, re.Offset, re.Page, re.Err)
		return exitFatal
	}
	fmt.Fprintf(stderr, "wfs-dump: %v\n", err)
	return exitFatal
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cfg := config.FromEnv()
	noCount := !cfg.DiscoverCount

	cmd := &cobra.Command{
		Use:   "wfs-dump <WFS base URL> <layer> [filter]",
		Short: "Dump a complete WFS layer as one GeoJSON document",
		Long: `Pages through a WFS 2.0 GetFeature endpoint (GeoServer style) and streams
every matching feature into a single GeoJSON FeatureCollection.

The optional filter is passed to the server verbatim as cql_filter. The
output is only committed when every page was fetched; a failed run leaves
no file behind, and on stdout ends with a truncation marker.

Flags fall back to environment variables (PAGE_SIZE, OUTPUT, REDIS_ADDR, ...).`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 2 || len(args) > 3 {
				return &dump.UsageError{Err: fmt.Errorf("expected 2 or 3 arguments, got %d", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.BaseURL, cfg.Layer = args[0], args[1]
			if len(args) == 3 {
				cfg.Filter = args[2]
			}
			cfg.DiscoverCount = !noCount

			zl := logger.Build(logger.Config{
				Level:     cfg.LogLevel,
				Console:   cfg.LogConsole,
				Component: "wfs-dump",
			}, stderr)
			_, err := dump.Run(cmd.Context(), cfg, logger.NewSlog(&zl), stdout)
			return err
		},
	}
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &dump.UsageError{Err: err}
	})

	f := cmd.Flags()
	f.StringVarP(&cfg.Output, "output", "o", cfg.Output, `output path, "-" for stdout [OUTPUT]`)
	f.StringVar(&cfg.Format, "format", cfg.Format, "output format: geojson or geojsonseq [OUTPUT_FORMAT]")
	f.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "features per request [PAGE_SIZE]")
	f.StringVar(&cfg.BBox, "bbox", cfg.BBox, "spatial restriction x1,y1,x2,y2[,SRID] [BBOX]")
	f.IntVar(&cfg.Prefetch, "prefetch", cfg.Prefetch, "page requests kept in flight, 0 or 1 for sequential, max 3 [PREFETCH]")
	f.IntVar(&cfg.Retries, "retries", cfg.Retries, "extra attempts per page on transport errors, 5xx and 429 [RETRIES]")
	f.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "initial retry backoff [RETRY_BACKOFF]")
	f.Float64Var(&cfg.RPS, "rps", cfg.RPS, "max requests per second, 0 for unlimited [RPS]")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "per request timeout [HTTP_TIMEOUT]")
	f.BoolVar(&noCount, "no-count", noCount, "skip the resultType=hits count request [DISCOVER_COUNT=false]")
	f.IntVar(&cfg.DedupeWindow, "dedupe-window", cfg.DedupeWindow, "drop features whose id was among the last N ids, 0 disables [DEDUPE_WINDOW]")
	f.Float64Var(&cfg.SimplifyTolerance, "simplify", cfg.SimplifyTolerance, "Douglas-Peucker tolerance in coordinate units, 0 disables [SIMPLIFY_TOLERANCE]")
	f.IntVar(&cfg.H3Res, "h3-res", cfg.H3Res, "add an h3_cell property at this resolution, -1 disables [H3_RES]")
	f.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the page cache [REDIS_ADDR]")
	f.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "page cache entry lifetime [CACHE_TTL]")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics and /status on this address during the run [METRICS_ADDR]")
	f.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write Prometheus textfile metrics here at the end [METRICS_FILE]")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error [LOG_LEVEL]")
	f.BoolVar(&cfg.LogConsole, "log-console", cfg.LogConsole, "human readable logs [LOG_CONSOLE]")

	return cmd
}
