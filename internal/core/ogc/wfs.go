package ogc

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

const (
	OutputGeoJSON = "application/json"
	wfsVersion    = "2.0.0"
)

func OWSEndpoint(base string) string {
	base = strings.TrimRight(base, "/")
	// already pointing at an ows/wfs endpoint
	lower := strings.ToLower(base)
	if strings.HasSuffix(lower, "/ows") || strings.HasSuffix(lower, "/wfs") {
		return base
	}
	return base + "/ows"
}

func baseParams(layer, filter string, bbox *model.BBox) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", wfsVersion)
	params.Set("request", "GetFeature")
	params.Set("typeNames", layer)
	if bbox != nil {
		params.Set("bbox", bbox.String())
	}
	if f, ok := Filter(filter); ok {
		params.Set("cql_filter", f)
	}
	return params
}

// BuildGetFeatureParams builds one paged GetFeature request.
// Paging uses the WFS 2.0 startIndex/count pair.
func BuildGetFeatureParams(req model.PageRequest) url.Values {
	params := baseParams(req.Layer, req.Filter, req.BBox)
	params.Set("startIndex", strconv.Itoa(req.Offset))
	params.Set("count", strconv.Itoa(req.Limit))
	params.Set("outputFormat", OutputGeoJSON)
	return params
}

// BuildHitsParams asks only for the number of matching features.
func BuildHitsParams(layer, filter string, bbox *model.BBox) url.Values {
	params := baseParams(layer, filter, bbox)
	params.Set("resultType", "hits")
	return params
}
