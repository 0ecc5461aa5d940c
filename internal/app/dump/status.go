package dump

import (
	"sync/atomic"

	"github.com/mohammed-shakir/wfs-dump/internal/core/health"
	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
	"github.com/mohammed-shakir/wfs-dump/internal/output"
)

const (
	stateRunning = "running"
	stateDone    = "done"
	stateFailed  = "failed"
)

// tracker feeds the /status endpoint while the driver writes.
type tracker struct {
	layer   string
	state   atomic.Value
	written atomic.Int64
	skipped atomic.Int64
	total   atomic.Int64
}

func newTracker(layer string) *tracker {
	t := &tracker{layer: layer}
	t.state.Store(stateRunning)
	return t
}

func (t *tracker) Status() health.Snapshot {
	return health.Snapshot{
		State:   t.state.Load().(string),
		Layer:   t.layer,
		Written: t.written.Load(),
		Skipped: t.skipped.Load(),
		Total:   t.total.Load(),
	}
}

// countingSink forwards to the output writer and counts what got through.
type countingSink struct {
	w output.Writer
	t *tracker
}

func (s countingSink) Write(f model.Feature) error {
	if err := s.w.Write(f); err != nil {
		return err
	}
	s.t.written.Add(1)
	return nil
}
