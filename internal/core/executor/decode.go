package executor

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

type featureCollectionDoc struct {
	Type          string             `json:"type"`
	Features      *[]json.RawMessage `json:"features"`
	NumberMatched json.RawMessage    `json:"numberMatched"`
	TotalFeatures json.RawMessage    `json:"totalFeatures"`
	Links         []struct {
		Rel string `json:"rel"`
	} `json:"links"`
}

// DecodePage parses a GetFeature GeoJSON body into a page result.
func DecodePage(body []byte) (model.PageResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return model.PageResult{}, &ProtocolError{Err: errors.New("empty response body")}
	}
	if trimmed[0] == '<' {
		if msg, ok := exceptionText(trimmed); ok {
			return model.PageResult{}, &ServerError{Status: 200, Body: msg}
		}
		return model.PageResult{}, &ProtocolError{Err: errors.New("got XML, want GeoJSON FeatureCollection")}
	}

	var doc featureCollectionDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return model.PageResult{}, &ProtocolError{Err: fmt.Errorf("parse json: %w", err)}
	}
	if doc.Type != "FeatureCollection" {
		return model.PageResult{}, &ProtocolError{Err: fmt.Errorf("type is %q (want \"FeatureCollection\")", doc.Type)}
	}
	if doc.Features == nil {
		return model.PageResult{}, &ProtocolError{Err: errors.New(`missing required member "features"`)}
	}

	res := model.PageResult{Features: *doc.Features}
	// WFS 2.0 numberMatched wins over GeoServer's legacy totalFeatures
	for _, raw := range []json.RawMessage{doc.NumberMatched, doc.TotalFeatures} {
		if n, ok := parseCount(raw); ok {
			res.Total, res.TotalKnown = n, true
			break
		}
	}
	for _, l := range doc.Links {
		if strings.EqualFold(l.Rel, "next") {
			res.HasMore = model.Yes
		}
	}
	return res, nil
}

// accepts 42 and "42"; "unknown" and anything else is not a count
func parseCount(raw json.RawMessage) (int, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

type exceptionReport struct {
	XMLName    xml.Name
	Exceptions []struct {
		Code  string   `xml:"exceptionCode,attr"`
		Texts []string `xml:"ExceptionText"`
	} `xml:"Exception"`
	// WFS 1.0 style
	ServiceExceptions []string `xml:"ServiceException"`
}

func exceptionText(body []byte) (string, bool) {
	var rep exceptionReport
	if err := xml.Unmarshal(body, &rep); err != nil {
		return "", false
	}
	name := rep.XMLName.Local
	if name != "ExceptionReport" && name != "ServiceExceptionReport" {
		return "", false
	}
	var parts []string
	for _, e := range rep.Exceptions {
		txt := strings.TrimSpace(strings.Join(e.Texts, " "))
		if e.Code != "" {
			txt = e.Code + ": " + txt
		}
		parts = append(parts, txt)
	}
	for _, s := range rep.ServiceExceptions {
		parts = append(parts, strings.TrimSpace(s))
	}
	if len(parts) == 0 {
		return name, true
	}
	return strings.Join(parts, "; "), true
}

type hitsDoc struct {
	XMLName       xml.Name
	NumberMatched string `xml:"numberMatched,attr"`
	NumberOfFeats string `xml:"numberOfFeatures,attr"`
}

// decodeHits reads the match count from a resultType=hits response.
func decodeHits(body []byte) (int, error) {
	trimmed := bytes.TrimSpace(body)
	if msg, ok := exceptionText(trimmed); ok {
		return 0, &ServerError{Status: 200, Body: msg}
	}
	var doc hitsDoc
	if err := xml.Unmarshal(trimmed, &doc); err != nil {
		return 0, &ProtocolError{Err: fmt.Errorf("parse hits xml: %w", err)}
	}
	for _, s := range []string{doc.NumberMatched, doc.NumberOfFeats} {
		if n, ok := parseCount(json.RawMessage(s)); ok {
			return n, nil
		}
	}
	return 0, &ProtocolError{Err: fmt.Errorf("hits response has no usable count (numberMatched=%q)", doc.NumberMatched)}
}
