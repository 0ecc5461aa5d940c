package normalize

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

// H3Property is the property key added by H3 enrichment.
const H3Property = "h3_cell"

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// cellFor indexes the planar centroid of g, read as lon/lat degrees.
func cellFor(g orb.Geometry, res int) (model.Value, error) {
	if g == nil {
		return model.Null(), nil
	}
	c, _ := planar.CentroidArea(g)
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat(), Lng: c.Lon()}, res)
	if err != nil {
		return model.Null(), fmt.Errorf("h3 cell: %w", err)
	}
	return model.String(cell.String()), nil
}
