package output

import (
	"fmt"
	"io"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

const (
	FormatGeoJSON    = "geojson"
	FormatGeoJSONSeq = "geojsonseq"
)

// Writer is the finalize-exactly-once feature sink shared by both formats.
type Writer interface {
	Write(f model.Feature) error
	Close() error
	Abort(reason string) error
	Count() int
}

var (
	_ Writer = (*FeatureCollectionWriter)(nil)
	_ Writer = (*SeqWriter)(nil)
)

func New(format string, w io.Writer) (Writer, error) {
	switch format {
	case "", FormatGeoJSON:
		return NewFeatureCollectionWriter(w), nil
	case FormatGeoJSONSeq:
		return NewSeqWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want %s or %s)", format, FormatGeoJSON, FormatGeoJSONSeq)
	}
}
