// Package normalize turns raw server feature objects into canonical features.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

type Option func(*Normalizer)

// WithTransform applies fn to every non-null geometry after decoding.
func WithTransform(fn func(orb.Geometry) orb.Geometry) Option {
	return func(n *Normalizer) { n.transform = fn }
}

// WithH3 adds the H3 cell of each geometry's centroid at res as a property.
// A negative res disables enrichment.
func WithH3(res int) Option {
	return func(n *Normalizer) { n.h3Res = res }
}

type Normalizer struct {
	layer     string
	transform func(orb.Geometry) orb.Geometry
	h3Res     int
}

func New(layer string, opts ...Option) (*Normalizer, error) {
	n := &Normalizer{layer: layer, h3Res: -1}
	for _, o := range opts {
		o(n)
	}
	if n.h3Res >= 0 {
		if err := validateRes(n.h3Res); err != nil {
			return nil, err
		}
	}
	return n, nil
}

type wireFeature struct {
	ID         json.RawMessage `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

var errNotObject = errors.New("feature is not a JSON object")

// Normalize decodes one feature. index is the feature's absolute position in
// the run and names features that carry no id.
func (n *Normalizer) Normalize(raw model.RawFeature, index int) (model.Feature, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.Feature{}, &MalformedFeatureError{Index: index, Err: errNotObject}
	}
	var wf wireFeature
	if err := json.Unmarshal(trimmed, &wf); err != nil {
		return model.Feature{}, &MalformedFeatureError{Index: index, Err: err}
	}

	geom, err := decodeGeometry(wf.Geometry)
	if err != nil {
		var ue *UnsupportedGeometryError
		if errors.As(err, &ue) {
			return model.Feature{}, ue
		}
		return model.Feature{}, &MalformedFeatureError{Index: index, Err: err}
	}
	if geom != nil && n.transform != nil {
		geom = n.transform(geom)
	}

	props, err := decodeProperties(wf.Properties)
	if err != nil {
		return model.Feature{}, &MalformedFeatureError{Index: index, Err: err}
	}

	f := model.Feature{Geometry: geom, Properties: props}
	f.ID, f.DerivedID = n.featureID(wf.ID, index)

	if n.h3Res >= 0 {
		v, err := cellFor(geom, n.h3Res)
		if err != nil {
			return model.Feature{}, &MalformedFeatureError{Index: index, Err: err}
		}
		f.Properties[H3Property] = v
	}
	return f, nil
}

func (n *Normalizer) featureID(raw json.RawMessage, index int) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 {
		switch raw[0] {
		case '"':
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return s, false
			}
		case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			return string(raw), false
		}
	}
	return n.layer + "." + strconv.Itoa(index), true
}

func decodeProperties(raw json.RawMessage) (map[string]model.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]model.Value{}, nil
	}
	if raw[0] != '{' {
		return nil, errors.New("properties is not a JSON object")
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}
	out := make(map[string]model.Value, len(members))
	for k, v := range members {
		val, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// toValue keeps number literals verbatim. Objects and arrays are flattened
// to their compact JSON text.
func toValue(raw json.RawMessage) (model.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return model.Null(), nil
	}
	switch raw[0] {
	case 'n':
		return model.Null(), nil
	case 't':
		return model.Bool(true), nil
	case 'f':
		return model.Bool(false), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return model.Value{}, err
		}
		return model.String(s), nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return model.Value{}, err
		}
		return model.String(buf.String()), nil
	default:
		return model.Number(json.Number(raw)), nil
	}
}
