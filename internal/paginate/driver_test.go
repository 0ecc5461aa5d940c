package paginate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/wfs-dump/internal/core/executor"
	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
	"github.com/mohammed-shakir/wfs-dump/internal/core/observability"
	"github.com/mohammed-shakir/wfs-dump/internal/output"
)

func job(pageSize int) Job {
	return Job{Layer: "demo:roads", PageSize: pageSize}
}

func wantIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("roads.%d", i)
	}
	return out
}

func TestRun_ShortFinalPage(t *testing.T) {
	srv := &fakeWFS{total: 125}
	sink := &collectSink{}

	sum, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(50), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 125 || sum.Pages != 3 || sum.Reason != ReasonShortPage {
		t.Fatalf("summary=%+v", sum)
	}
	if got := srv.requested(); !reflect.DeepEqual(got, []int{0, 50, 100}) {
		t.Fatalf("offsets=%v want [0 50 100]", got)
	}
	if !reflect.DeepEqual(sink.ids(), wantIDs(125)) {
		t.Fatalf("features out of order or missing")
	}
}

func TestRun_ExactMultipleEndsOnEmptyPage(t *testing.T) {
	srv := &fakeWFS{total: 100}
	sum, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(50), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 100 || sum.Reason != ReasonEmptyPage {
		t.Fatalf("summary=%+v", sum)
	}
	if got := srv.requested(); !reflect.DeepEqual(got, []int{0, 50, 100}) {
		t.Fatalf("offsets=%v", got)
	}
}

func TestRun_TotalHintSavesTheEmptyRequest(t *testing.T) {
	srv := &fakeWFS{total: 100, hint: true}
	sum, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(50), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 100 || sum.Reason != ReasonTotal || !sum.TotalKnown || sum.Total != 100 {
		t.Fatalf("summary=%+v", sum)
	}
	if got := srv.requested(); !reflect.DeepEqual(got, []int{0, 50}) {
		t.Fatalf("offsets=%v want [0 50]", got)
	}
}

func TestRun_FilterMatchingNothing(t *testing.T) {
	srv := &fakeWFS{total: 125}
	j := job(50)
	j.Filter = "1=0"

	var buf bytes.Buffer
	w := output.NewFeatureCollectionWriter(&buf)
	sum, err := newDriver(t, newExecutor(t, srv), WithDiscover(true)).Run(context.Background(), j, w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sum.Written != 0 || sum.Reason != ReasonEmptyPage {
		t.Fatalf("summary=%+v", sum)
	}
	if srv.hitCount() != 0 {
		t.Fatalf("count must be skipped when a filter is set (hits=%d)", srv.hitCount())
	}
	if buf.String() != `{"type":"FeatureCollection","features":[]}`+"\n" {
		t.Fatalf("output=%q", buf.String())
	}
}

func TestRun_DiscoverCountWithoutFilter(t *testing.T) {
	srv := &fakeWFS{total: 100}
	sum, err := newDriver(t, newExecutor(t, srv), WithDiscover(true)).Run(context.Background(), job(50), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.hitCount() != 1 || !sum.TotalKnown || sum.Total != 100 {
		t.Fatalf("hits=%d summary=%+v", srv.hitCount(), sum)
	}
	if got := srv.requested(); !reflect.DeepEqual(got, []int{0, 50}) {
		t.Fatalf("offsets=%v want [0 50]", got)
	}
}

func TestRun_TransportErrorMidRun(t *testing.T) {
	srv := &fakeWFS{total: 125, failAt: map[int]int{50: 0}}
	sink := &collectSink{}

	_, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(50), sink)
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("want RunError, got %v", err)
	}
	if re.Kind != string(executor.KindTransport) || re.Offset != 50 || re.Page != 2 {
		t.Fatalf("RunError=%+v", re)
	}
	if len(sink.feats) != 50 {
		t.Fatalf("features before failure=%d want 50", len(sink.feats))
	}
}

func TestRun_AbortedRunLeavesInvalidDocument(t *testing.T) {
	srv := &fakeWFS{total: 125, failAt: map[int]int{50: http.StatusInternalServerError}}

	var buf bytes.Buffer
	w := output.NewFeatureCollectionWriter(&buf)
	_, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(50), w)
	if err == nil {
		t.Fatal("expected failure")
	}
	if aerr := w.Abort(err.Error()); aerr != nil {
		t.Fatalf("Abort: %v", aerr)
	}
	if out := buf.Bytes(); bytes.HasSuffix(bytes.TrimSpace(out), []byte("]}")) {
		t.Fatalf("aborted output looks complete: %q", out)
	}
}

func TestRun_ServerIgnoresCount(t *testing.T) {
	srv := &fakeWFS{total: 125, ignoreCount: true}
	sum, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(50), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 125 || sum.Reason != ReasonOversized || len(srv.requested()) != 1 {
		t.Fatalf("summary=%+v offsets=%v", sum, srv.requested())
	}
}

func TestRun_ServerIgnoresOffsetAborts(t *testing.T) {
	srv := &fakeWFS{total: 125, ignoreOffset: true}
	_, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(50), &collectSink{})
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("want RunError, got %v", err)
	}
	if re.Kind != string(executor.KindProtocol) || re.Offset != 50 {
		t.Fatalf("RunError=%+v", re)
	}
}

func TestRun_CountPropertyAcrossPageSizes(t *testing.T) {
	for _, total := range []int{0, 1, 49, 50, 51, 125} {
		for _, ps := range []int{1, 7, 50, 125, 200} {
			srv := &fakeWFS{total: total}
			sink := &collectSink{}
			sum, err := newDriver(t, newExecutor(t, srv)).Run(context.Background(), job(ps), sink)
			if err != nil {
				t.Fatalf("total=%d ps=%d: %v", total, ps, err)
			}
			if sum.Written != total || !reflect.DeepEqual(sink.ids(), wantIDs(total)) {
				t.Fatalf("total=%d ps=%d wrote %d", total, ps, sum.Written)
			}
		}
	}
}

func dump(t *testing.T, srv *fakeWFS, opts ...Option) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := output.NewFeatureCollectionWriter(&buf)
	if _, err := newDriver(t, newExecutor(t, srv), opts...).Run(context.Background(), job(50), w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestRun_PrefetchMatchesSequential(t *testing.T) {
	for _, hint := range []bool{false, true} {
		seq := dump(t, &fakeWFS{total: 125, hint: hint})
		for _, w := range []int{2, 3, 8} {
			pre := dump(t, &fakeWFS{total: 125, hint: hint}, WithPrefetch(w))
			if !bytes.Equal(seq, pre) {
				t.Fatalf("prefetch=%d hint=%v output differs from sequential", w, hint)
			}
		}
	}
}

func TestRun_PrefetchErrorPastTheEndIsNotSurfaced(t *testing.T) {
	srv := &fakeWFS{total: 100, failAt: map[int]int{150: http.StatusInternalServerError}}
	sum, err := newDriver(t, newExecutor(t, srv), WithPrefetch(3)).Run(context.Background(), job(50), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 100 {
		t.Fatalf("written=%d", sum.Written)
	}
}

func TestRun_PrefetchErrorSurfacesWhenReached(t *testing.T) {
	srv := &fakeWFS{total: 200, failAt: map[int]int{100: http.StatusBadRequest}}
	sink := &collectSink{}
	_, err := newDriver(t, newExecutor(t, srv), WithPrefetch(3)).Run(context.Background(), job(50), sink)
	var re *RunError
	if !errors.As(err, &re) || re.Kind != string(executor.KindServer) || re.Offset != 100 {
		t.Fatalf("want ServerError at 100, got %v", err)
	}
	if len(sink.feats) != 100 {
		t.Fatalf("features before failure=%d want 100", len(sink.feats))
	}
}

func TestRun_RetriesRecoverFromTransientErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.New(reg, "demo:roads")
	srv := &fakeWFS{total: 125, failAt: map[int]int{50: http.StatusServiceUnavailable}, failTimes: 2}

	sum, err := newDriver(t, newExecutor(t, srv), WithRetries(2, 0), WithMetrics(m)).
		Run(context.Background(), job(50), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 125 {
		t.Fatalf("written=%d", sum.Written)
	}
	want := `
# HELP wfsdump_retries_total Page request retries by error kind.
# TYPE wfsdump_retries_total counter
wfsdump_retries_total{kind="ServerError",layer="demo:roads"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "wfsdump_retries_total"); err != nil {
		t.Fatalf("retries metric: %v", err)
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	srv := &fakeWFS{total: 125, failAt: map[int]int{50: http.StatusServiceUnavailable}, failTimes: 2}
	_, err := newDriver(t, newExecutor(t, srv), WithRetries(1, 0)).Run(context.Background(), job(50), &collectSink{})
	var re *RunError
	if !errors.As(err, &re) || re.Kind != string(executor.KindServer) {
		t.Fatalf("want ServerError, got %v", err)
	}
}

func TestRun_ClientErrorsAreNotRetried(t *testing.T) {
	srv := &fakeWFS{total: 125, failAt: map[int]int{0: http.StatusBadRequest}}
	_, err := newDriver(t, newExecutor(t, srv), WithRetries(3, 0)).Run(context.Background(), job(50), &collectSink{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if n := len(srv.requested()); n != 1 {
		t.Fatalf("requests=%d want 1", n)
	}
}

func TestRun_SkipsUnsupportedGeometry(t *testing.T) {
	f := &pageFetcher{pages: map[int]model.PageResult{
		0: {Features: []model.RawFeature{
			model.RawFeature(`{"id":"a","geometry":null}`),
			model.RawFeature(`{"id":"b","geometry":{"type":"Circle","coordinates":[0,0]}}`),
			model.RawFeature(`{"id":"c","geometry":null}`),
		}},
	}}
	sink := &collectSink{}
	sum, err := newDriver(t, f).Run(context.Background(), job(3), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Skipped != 1 || sum.Written != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	if !reflect.DeepEqual(f.calls, []int{0, 3}) {
		t.Fatalf("offset must advance by the returned count, calls=%v", f.calls)
	}
	if !reflect.DeepEqual(sink.ids(), []string{"a", "c"}) {
		t.Fatalf("ids=%v", sink.ids())
	}
}

func TestRun_ExplicitNoMoreStops(t *testing.T) {
	f := &pageFetcher{pages: map[int]model.PageResult{
		0: {Features: rawFeatures("a", "b"), HasMore: model.No},
	}}
	sum, err := newDriver(t, f).Run(context.Background(), job(2), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Reason != ReasonServerDone || len(f.calls) != 1 {
		t.Fatalf("summary=%+v calls=%v", sum, f.calls)
	}
}

func TestRun_DedupeWindow(t *testing.T) {
	pages := func() map[int]model.PageResult {
		return map[int]model.PageResult{
			0: {Features: rawFeatures("a", "b")},
			2: {Features: rawFeatures("b", "c")},
			4: {Features: nil},
		}
	}

	f := &pageFetcher{pages: pages()}
	sink := &collectSink{}
	sum, err := newDriver(t, f, WithDedupeWindow(16)).Run(context.Background(), job(2), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Deduped != 1 || !reflect.DeepEqual(sink.ids(), []string{"a", "b", "c"}) {
		t.Fatalf("summary=%+v ids=%v", sum, sink.ids())
	}

	f = &pageFetcher{pages: pages()}
	sink = &collectSink{}
	if _, err := newDriver(t, f).Run(context.Background(), job(2), sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.feats) != 4 {
		t.Fatalf("without a window every feature is kept, got %d", len(sink.feats))
	}
}

func TestRun_SinkFailure(t *testing.T) {
	f := &pageFetcher{pages: map[int]model.PageResult{0: {Features: rawFeatures("a")}}}
	_, err := newDriver(t, f).Run(context.Background(), job(5), &collectSink{err: errors.New("disk full")})
	var re *RunError
	if !errors.As(err, &re) || re.Kind != KindWrite {
		t.Fatalf("want WriteError, got %v", err)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &pageFetcher{pages: map[int]model.PageResult{0: {Features: rawFeatures("a")}}}
	_, err := newDriver(t, f).Run(ctx, job(5), &collectSink{})
	var re *RunError
	if !errors.As(err, &re) || re.Kind != KindCanceled {
		t.Fatalf("want Canceled, got %v", err)
	}
}

func TestRun_RejectsNonPositivePageSize(t *testing.T) {
	if _, err := newDriver(t, &pageFetcher{}).Run(context.Background(), job(0), &collectSink{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_IdenticalRowsWithoutIDsAreNotARepeatedPage(t *testing.T) {
	row := model.RawFeature(`{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"k":1}}`)
	f := &pageFetcher{pages: map[int]model.PageResult{
		0: {Features: []model.RawFeature{row}},
		1: {Features: []model.RawFeature{row}},
		2: {Features: []model.RawFeature{row}},
	}}
	sink := &collectSink{}
	sum, err := newDriver(t, f).Run(context.Background(), job(1), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 3 || sum.Reason != ReasonEmptyPage {
		t.Fatalf("summary=%+v", sum)
	}
	if !reflect.DeepEqual(sink.ids(), []string{"demo:roads.0", "demo:roads.1", "demo:roads.2"}) {
		t.Fatalf("ids=%v", sink.ids())
	}
}

func TestRun_PagesSharingOnlyTheFirstFeatureContinue(t *testing.T) {
	f := &pageFetcher{pages: map[int]model.PageResult{
		0: {Features: rawFeatures("a", "b")},
		2: {Features: rawFeatures("a", "c")},
		4: {Features: rawFeatures("d")},
	}}
	sum, err := newDriver(t, f).Run(context.Background(), job(2), &collectSink{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Written != 5 || sum.Reason != ReasonShortPage {
		t.Fatalf("summary=%+v", sum)
	}
}
