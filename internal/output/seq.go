package output

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

// SeqWriter emits newline-delimited GeoJSON features (geojsonseq).
type SeqWriter struct {
	mu    sync.Mutex
	w     *bufio.Writer
	state state
	n     int
}

func NewSeqWriter(w io.Writer) *SeqWriter {
	return &SeqWriter{w: bufio.NewWriterSize(w, 64<<10)}
}

func (s *SeqWriter) Write(f model.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed || s.state == stateAborted {
		return ErrClosed
	}
	b, err := encodeFeature(f)
	if err != nil {
		return err
	}
	s.state = stateOpen
	b = append(b, '\n')
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("write feature: %w", err)
	}
	s.n++
	return nil
}

// Close flushes. An empty sequence is an empty stream.
func (s *SeqWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed || s.state == stateAborted {
		return ErrClosed
	}
	s.state = stateClosed
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func (s *SeqWriter) Abort(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed || s.state == stateAborted {
		return ErrClosed
	}
	s.state = stateAborted
	if _, err := fmt.Fprintf(s.w, truncatedMarker, reason); err != nil {
		return fmt.Errorf("write truncation marker: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func (s *SeqWriter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
