package output

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

type state int

const (
	stateEmpty state = iota
	stateOpen
	stateClosed
	stateAborted
)

type wireFeature struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]model.Value `json:"properties"`
}

// encodeFeature renders f as one compact GeoJSON Feature object. Property
// keys are emitted in sorted order.
func encodeFeature(f model.Feature) ([]byte, error) {
	wf := wireFeature{
		Type:       "Feature",
		ID:         f.ID,
		Properties: f.Properties,
	}
	if f.Geometry != nil {
		wf.Geometry = geojson.NewGeometry(f.Geometry)
	}
	if wf.Properties == nil {
		wf.Properties = map[string]model.Value{}
	}
	b, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("encode feature %q: %w", f.ID, err)
	}
	return b, nil
}
