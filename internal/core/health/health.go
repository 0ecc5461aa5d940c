package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Snapshot is the progress of the running extraction.
type Snapshot struct {
	State   string `json:"state"`
	Layer   string `json:"layer"`
	Written int64  `json:"written"`
	Skipped int64  `json:"skipped,omitempty"`
	Total   int64  `json:"total,omitempty"`
}

type StatusReporter interface {
	Status() Snapshot
}

// Status serves the reporter's snapshot as JSON. A failed run answers 503.
func Status(sr StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s := sr.Status()
		w.Header().Set("Content-Type", "application/json")
		if s.State == "failed" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(s)
	}
}
