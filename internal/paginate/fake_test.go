package paginate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/wfs-dump/internal/core/executor"
	"github.com/mohammed-shakir/wfs-dump/internal/core/httpclient"
	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
	"github.com/mohammed-shakir/wfs-dump/internal/normalize"
)

// fakeWFS serves a layer of total point features through GetFeature paging.
type fakeWFS struct {
	total        int
	hint         bool // send numberMatched
	ignoreCount  bool
	ignoreOffset bool
	failAt       map[int]int // startIndex -> status, 0 hijacks the connection
	failTimes    int         // how many times each failAt entry fires, 0 = always

	mu      sync.Mutex
	offsets []int
	hits    int
	fired   map[int]int
}

func (s *fakeWFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("resultType") == "hits" {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		fmt.Fprintf(w, `<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs/2.0" numberMatched="%d" numberReturned="0"/>`, s.total)
		return
	}

	start, _ := strconv.Atoi(q.Get("startIndex"))
	count, _ := strconv.Atoi(q.Get("count"))

	s.mu.Lock()
	s.offsets = append(s.offsets, start)
	status, fail := s.failAt[start]
	if fail {
		if s.fired == nil {
			s.fired = map[int]int{}
		}
		s.fired[start]++
		if s.failTimes > 0 && s.fired[start] > s.failTimes {
			fail = false
		}
	}
	s.mu.Unlock()

	if fail {
		if status == 0 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				panic("hijack unsupported")
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		http.Error(w, "upstream trouble", status)
		return
	}

	total := s.total
	if strings.TrimSpace(q.Get("cql_filter")) == "1=0" {
		total = 0
	}
	if s.ignoreOffset {
		start = 0
	}
	end := start + count
	if s.ignoreCount || end > total {
		end = total
	}

	var b strings.Builder
	b.WriteString(`{"type":"FeatureCollection",`)
	if s.hint {
		fmt.Fprintf(&b, `"numberMatched":%d,`, total)
	}
	b.WriteString(`"features":[`)
	for i := start; i < end; i++ {
		if i > start {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"type":"Feature","id":"roads.%d","geometry":{"type":"Point","coordinates":[%d.5,%d.25]},"properties":{"seq":%d,"name":"road %d"}}`, i, i, i, i, i)
	}
	b.WriteString(`]}`)
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, b.String())
}

func (s *fakeWFS) requested() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.offsets...)
}

func (s *fakeWFS) hitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newExecutor(t *testing.T, h http.Handler) *executor.Executor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	exec, err := executor.New(quietLogger(), httpclient.NewOutbound(5*time.Second), srv.URL+"/geoserver/ows")
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	return exec
}

func newDriver(t *testing.T, fetcher executor.Interface, opts ...Option) *Driver {
	t.Helper()
	norm, err := normalize.New("demo:roads")
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	d := New(fetcher, norm, append([]Option{WithLogger(quietLogger())}, opts...)...)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

type collectSink struct {
	feats []model.Feature
	err   error
}

func (c *collectSink) Write(f model.Feature) error {
	if c.err != nil {
		return c.err
	}
	c.feats = append(c.feats, f)
	return nil
}

func (c *collectSink) ids() []string {
	out := make([]string, len(c.feats))
	for i, f := range c.feats {
		out[i] = f.ID
	}
	return out
}

// pageFetcher is an in-memory executor.Interface serving canned pages by offset.
type pageFetcher struct {
	pages map[int]model.PageResult
	errs  map[int]error
	calls []int
}

func (p *pageFetcher) FetchPage(_ context.Context, req model.PageRequest) (model.PageResult, error) {
	p.calls = append(p.calls, req.Offset)
	if err, ok := p.errs[req.Offset]; ok {
		return model.PageResult{}, err
	}
	return p.pages[req.Offset], nil
}

func (p *pageFetcher) Count(context.Context, string, string, *model.BBox) (int, error) {
	return 0, fmt.Errorf("count not supported")
}

func rawFeatures(ids ...string) []model.RawFeature {
	out := make([]model.RawFeature, len(ids))
	for i, id := range ids {
		out[i] = model.RawFeature(fmt.Sprintf(`{"type":"Feature","id":%q,"geometry":null,"properties":{}}`, id))
	}
	return out
}
