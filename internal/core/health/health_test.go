package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fixed Snapshot

func (f fixed) Status() Snapshot { return Snapshot(f) }

func TestStatus_Handler(t *testing.T) {
	cases := []struct {
		snap Snapshot
		code int
	}{
		{Snapshot{State: "running", Layer: "demo:roads", Written: 120, Total: 500}, http.StatusOK},
		{Snapshot{State: "failed", Layer: "demo:roads", Written: 50}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		Status(fixed(tc.snap))(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
		if rr.Code != tc.code {
			t.Fatalf("state=%s status=%d want %d", tc.snap.State, rr.Code, tc.code)
		}
		var got Snapshot
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != tc.snap {
			t.Fatalf("got %+v want %+v", got, tc.snap)
		}
	}
}
