package paginate

import (
	"context"
	"sync"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

const maxPrefetch = 3

// pageSource yields the page starting at offset. Offsets are requested in
// strictly increasing order.
type pageSource interface {
	next(ctx context.Context, offset int) (model.PageResult, error)
	setLimit(total int)
	close()
}

type fetchFunc func(ctx context.Context, offset int) (model.PageResult, error)

type sequential struct {
	fetch fetchFunc
}

func (s sequential) next(ctx context.Context, offset int) (model.PageResult, error) {
	return s.fetch(ctx, offset)
}

func (sequential) setLimit(int) {}
func (sequential) close()       {}

type inflight struct {
	offset int
	done   chan struct{}
	res    model.PageResult
	err    error
}

// prefetcher keeps up to window requests outstanding at offsets o, o+P, ...
// Results are handed out in offset order; an error stays parked with its
// page until that page is asked for.
type prefetcher struct {
	fetch    fetchFunc
	window   int
	pageSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pending    []*inflight
	nextOffset int
	limit      int // -1 while the total is unknown
}

func newPrefetcher(ctx context.Context, fetch fetchFunc, window, pageSize int) *prefetcher {
	if window > maxPrefetch {
		window = maxPrefetch
	}
	pctx, cancel := context.WithCancel(ctx)
	return &prefetcher{
		fetch:    fetch,
		window:   window,
		pageSize: pageSize,
		ctx:      pctx,
		cancel:   cancel,
		limit:    -1,
	}
}

func (p *prefetcher) setLimit(total int) { p.limit = total }

func (p *prefetcher) next(ctx context.Context, offset int) (model.PageResult, error) {
	for len(p.pending) > 0 && p.pending[0].offset != offset {
		p.pending = p.pending[1:]
	}
	if len(p.pending) == 0 {
		p.nextOffset = offset
	}
	p.fill(offset)

	head := p.pending[0]
	select {
	case <-head.done:
	case <-ctx.Done():
		return model.PageResult{}, ctx.Err()
	}
	p.pending = p.pending[1:]
	return head.res, head.err
}

// fill launches requests until the window is full. The page at want is
// always launched, even past a known total.
func (p *prefetcher) fill(want int) {
	for len(p.pending) < p.window {
		if p.nextOffset != want && p.limit >= 0 && p.nextOffset >= p.limit {
			return
		}
		f := &inflight{offset: p.nextOffset, done: make(chan struct{})}
		p.pending = append(p.pending, f)
		p.nextOffset += p.pageSize

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer close(f.done)
			f.res, f.err = p.fetch(p.ctx, f.offset)
		}()
	}
}

// close cancels outstanding requests and waits for them to return.
func (p *prefetcher) close() {
	p.cancel()
	p.wg.Wait()
}
