package normalize

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

var supportedTypes = map[string]struct{}{
	"Point":              {},
	"MultiPoint":         {},
	"LineString":         {},
	"MultiLineString":    {},
	"Polygon":            {},
	"MultiPolygon":       {},
	"GeometryCollection": {},
}

var wktTypes = map[string]struct{}{
	"POINT":              {},
	"MULTIPOINT":         {},
	"LINESTRING":         {},
	"MULTILINESTRING":    {},
	"POLYGON":            {},
	"MULTIPOLYGON":       {},
	"GEOMETRYCOLLECTION": {},
}

var errBadGeometry = errors.New("geometry is neither an object, a string nor null")

// decodeGeometry returns a nil geometry for JSON null or an absent member.
func decodeGeometry(raw json.RawMessage) (orb.Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '{':
		if err := checkTypes(raw); err != nil {
			return nil, err
		}
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("geojson geometry: %w", err)
		}
		return g.Geometry(), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("geometry string: %w", err)
		}
		return decodeText(s)
	default:
		return nil, errBadGeometry
	}
}

// checkTypes walks nested collections so an unknown member type is reported
// as unsupported rather than as a decode failure.
func checkTypes(raw json.RawMessage) error {
	var hdr struct {
		Type       string            `json:"type"`
		Geometries []json.RawMessage `json:"geometries"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return fmt.Errorf("geometry header: %w", err)
	}
	if _, ok := supportedTypes[hdr.Type]; !ok {
		return &UnsupportedGeometryError{Type: hdr.Type}
	}
	for _, member := range hdr.Geometries {
		if err := checkTypes(member); err != nil {
			return err
		}
	}
	return nil
}

// decodeText handles servers that put WKT or hex-encoded WKB in the
// geometry member.
func decodeText(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if isHex(s) {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("hex wkb: %w", err)
		}
		g, err := wkb.Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("wkb: %w", err)
		}
		return finite(g)
	}

	// EWKT
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		if i := strings.IndexByte(s, ';'); i >= 0 {
			s = strings.TrimSpace(s[i+1:])
		}
	}
	tag := strings.ToUpper(strings.TrimSpace(strings.SplitN(s, "(", 2)[0]))
	tag = strings.TrimSuffix(tag, " EMPTY")
	if _, ok := wktTypes[tag]; !ok {
		return nil, &UnsupportedGeometryError{Type: tag}
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("wkt: %w", err)
	}
	return finite(g)
}

var errNonFinite = errors.New("geometry has non-finite coordinates")

// finite maps the WKB empty point (NaN, NaN) to a null geometry and rejects
// any other NaN or infinite coordinate, which GeoJSON cannot carry.
func finite(g orb.Geometry) (orb.Geometry, error) {
	if p, ok := g.(orb.Point); ok && math.IsNaN(p[0]) && math.IsNaN(p[1]) {
		return nil, nil
	}
	ok := true
	eachPoint(g, func(p orb.Point) {
		for _, c := range p {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				ok = false
			}
		}
	})
	if !ok {
		return nil, errNonFinite
	}
	return g, nil
}

func eachPoint(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			fn(p)
		}
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			eachPoint(ls, fn)
		}
	case orb.Polygon:
		for _, r := range g {
			eachPoint(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			eachPoint(p, fn)
		}
	case orb.Collection:
		for _, m := range g {
			eachPoint(m, fn)
		}
	}
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
