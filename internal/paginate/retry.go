package paginate

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/mohammed-shakir/wfs-dump/internal/core/executor"
	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

const (
	defaultBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// fetchWithRetry wraps one page request with exponential backoff and ±20%
// jitter. Only retryable errors are retried and at most d.retries times.
func (d *Driver) fetchWithRetry(ctx context.Context, req model.PageRequest) (model.PageResult, error) {
	backoff := d.backoff
	for attempt := 0; ; attempt++ {
		res, err := d.fetcher.FetchPage(ctx, req)
		if err == nil {
			if attempt > 0 {
				d.logger.InfoContext(ctx, "page succeeded after retry",
					"offset", req.Offset,
					"attempt", attempt+1)
			}
			return res, nil
		}
		if attempt >= d.retries || !executor.Retryable(err) || ctx.Err() != nil {
			return model.PageResult{}, err
		}

		kind := string(executor.KindOf(err))
		d.metrics.IncRetry(kind)
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		d.logger.WarnContext(ctx, "page request failed, retrying",
			"offset", req.Offset,
			"attempt", attempt+1,
			"kind", kind,
			"backoff", wait,
			"err", err)

		if serr := d.sleep(ctx, wait); serr != nil {
			return model.PageResult{}, err
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
