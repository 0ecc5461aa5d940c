// Package output streams canonical features into GeoJSON documents.
package output

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

const (
	collectionHead  = `{"type":"FeatureCollection","features":[`
	collectionTail  = "]}\n"
	truncatedMarker = "\n<<< TRUNCATED: %s >>>\n"
)

// FeatureCollectionWriter emits a single FeatureCollection incrementally.
// Nothing is buffered beyond the underlying bufio.Writer.
type FeatureCollectionWriter struct {
	mu    sync.Mutex
	w     *bufio.Writer
	state state
	n     int
}

func NewFeatureCollectionWriter(w io.Writer) *FeatureCollectionWriter {
	return &FeatureCollectionWriter{w: bufio.NewWriterSize(w, 64<<10)}
}

func (c *FeatureCollectionWriter) Write(f model.Feature) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed || c.state == stateAborted {
		return ErrClosed
	}
	b, err := encodeFeature(f)
	if err != nil {
		return err
	}

	switch c.state {
	case stateEmpty:
		if _, err := c.w.WriteString(collectionHead); err != nil {
			return fmt.Errorf("write collection head: %w", err)
		}
		c.state = stateOpen
	case stateOpen:
		if err := c.w.WriteByte(','); err != nil {
			return fmt.Errorf("write separator: %w", err)
		}
	}
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("write feature: %w", err)
	}
	c.n++
	return nil
}

// Close terminates the document. With no features written it emits an
// empty FeatureCollection.
func (c *FeatureCollectionWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed, stateAborted:
		return ErrClosed
	case stateEmpty:
		if _, err := c.w.WriteString(collectionHead); err != nil {
			return fmt.Errorf("write collection head: %w", err)
		}
	}
	c.state = stateClosed
	if _, err := c.w.WriteString(collectionTail); err != nil {
		return fmt.Errorf("write collection tail: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// Abort leaves the document unterminated and appends a marker that no JSON
// parser accepts, so a partial dump cannot pass for a complete one.
func (c *FeatureCollectionWriter) Abort(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed || c.state == stateAborted {
		return ErrClosed
	}
	c.state = stateAborted
	if _, err := fmt.Fprintf(c.w, truncatedMarker, reason); err != nil {
		return fmt.Errorf("write truncation marker: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// Count returns the number of features written so far.
func (c *FeatureCollectionWriter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
