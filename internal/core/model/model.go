// Package model defines core domain types shared across the extractor.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// PageRequest is one bounded GetFeature call. Never mutated once issued.
type PageRequest struct {
	Layer  string
	Filter string
	BBox   *BBox
	Offset int
	Limit  int
}

// Tristate carries an optional server signal.
type Tristate int

const (
	Unknown Tristate = iota
	Yes
	No
)

const (
	SourceNetwork = "network"
	SourceCache   = "cache"
)

// RawFeature is one feature object exactly as the server encoded it.
type RawFeature = json.RawMessage

type PageResult struct {
	Features   []RawFeature
	Total      int
	TotalKnown bool
	HasMore    Tristate
	Source     string
}

// Feature is the canonical feature handed to writers.
// A nil Geometry is emitted as JSON null.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Properties map[string]Value

	// DerivedID is set when the server sent no id and ID was synthesized
	// from the layer name and the feature's position.
	DerivedID bool
}
