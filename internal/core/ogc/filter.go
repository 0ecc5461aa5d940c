package ogc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

// Filter returns the server-side filter ready for embedding in a request.
// The server owns filter syntax; nothing beyond trimming happens here and
// url.Values takes care of escaping.
func Filter(raw string) (string, bool) {
	f := strings.TrimSpace(raw)
	return f, f != ""
}

// ParseBBox parses "x1,y1,x2,y2[,SRID]". SRID defaults to EPSG:4326.
func ParseBBox(raw string) (model.BBox, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.BBox{}, errors.New("expected 4 or 5 comma-separated values: x1,y1,x2,y2[,SRID]")
	}
	var xy [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("%s: %w", name, err)
		}
		xy[i] = f
	}

	srid := "EPSG:4326"
	if len(parts) == 5 {
		srid = strings.ToUpper(strings.TrimSpace(parts[4]))
		if srid == "" {
			return model.BBox{}, errors.New("empty SRID")
		}
	}

	if xy[2] <= xy[0] || xy[3] <= xy[1] {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	if srid == "EPSG:4326" {
		if !(xy[0] >= -180 && xy[0] <= 180 && xy[2] >= -180 && xy[2] <= 180) {
			return model.BBox{}, errors.New("longitude must be in [-180,180]")
		}
		if !(xy[1] >= -90 && xy[1] <= 90 && xy[3] >= -90 && xy[3] <= 90) {
			return model.BBox{}, errors.New("latitude must be in [-90,90]")
		}
	}
	return model.BBox{X1: xy[0], Y1: xy[1], X2: xy[2], Y2: xy[3], SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
