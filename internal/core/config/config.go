package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// positional arguments
	BaseURL string
	Layer   string
	Filter  string

	Output       string
	Format       string
	PageSize     int
	BBox         string
	Prefetch     int
	Retries      int
	RetryBackoff time.Duration
	RPS          float64
	HTTPTimeout  time.Duration

	DiscoverCount     bool
	DedupeWindow      int
	SimplifyTolerance float64
	H3Res             int

	RedisAddr string
	CacheTTL  time.Duration

	MetricsAddr string
	MetricsFile string

	LogLevel   string
	LogConsole bool
}

// FromEnv reads defaults from the environment. CLI flags are layered on top.
func FromEnv() Config {
	return Config{
		Output:            getenv("OUTPUT", "-"),
		Format:            getenv("OUTPUT_FORMAT", "geojson"),
		PageSize:          getint("PAGE_SIZE", 1000),
		BBox:              getenv("BBOX", ""),
		Prefetch:          getint("PREFETCH", 0),
		Retries:           getint("RETRIES", 0),
		RetryBackoff:      getduration("RETRY_BACKOFF", time.Second),
		RPS:               getfloat("RPS", 0),
		HTTPTimeout:       getduration("HTTP_TIMEOUT", 60*time.Second),
		DiscoverCount:     getbool("DISCOVER_COUNT", true),
		DedupeWindow:      getint("DEDUPE_WINDOW", 0),
		SimplifyTolerance: getfloat("SIMPLIFY_TOLERANCE", 0),
		H3Res:             getint("H3_RES", -1),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		CacheTTL:          getduration("CACHE_TTL", 10*time.Minute),
		MetricsAddr:       getenv("METRICS_ADDR", ""),
		MetricsFile:       getenv("METRICS_FILE", ""),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogConsole:        getbool("LOG_CONSOLE", false),
	}
}

// Validate checks ranges only; URL and bbox syntax are checked where they
// are parsed.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BaseURL) == "" {
		errs = append(errs, errors.New("WFS base URL is required"))
	}
	if strings.TrimSpace(c.Layer) == "" {
		errs = append(errs, errors.New("layer is required"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.Prefetch < 0 {
		errs = append(errs, fmt.Errorf("prefetch must be >= 0, got %d", c.Prefetch))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must be >= 0, got %d", c.Retries))
	}
	if c.RPS < 0 {
		errs = append(errs, fmt.Errorf("rps must be >= 0, got %g", c.RPS))
	}
	if c.DedupeWindow < 0 {
		errs = append(errs, fmt.Errorf("dedupe window must be >= 0, got %d", c.DedupeWindow))
	}
	if c.SimplifyTolerance < 0 {
		errs = append(errs, fmt.Errorf("simplify tolerance must be >= 0, got %g", c.SimplifyTolerance))
	}
	if c.H3Res > 15 {
		errs = append(errs, fmt.Errorf("h3 resolution must be <= 15, got %d", c.H3Res))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
