package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/wfs-dump/internal/core/model"
)

var filterPunct = regexp.MustCompile(`\s*([=<>!\.,\(\)])\s*`)

// PageKey identifies one page of one query. The layer and filter segments
// are a readable, lossy rendering; the f= hash covers the exact trimmed
// layer, filter and bbox, so only identical queries share a key.
func PageKey(req model.PageRequest) string {
	layer := strings.TrimSpace(req.Layer)
	filter := strings.TrimSpace(req.Filter)

	layerNorm := sanitize(layer, false)
	filterSafe := sanitize(normalizeFilters(filter), true)

	const maxFilterTextLen = 160
	if len(filterSafe) > maxFilterTextLen {
		filterSafe = filterSafe[:maxFilterTextLen]
	}

	bbox := ""
	if req.BBox != nil {
		bbox = req.BBox.String()
	}
	sum := xxhash.Sum64String(layer + "\x00" + filter + "\x00" + bbox)

	return fmt.Sprintf("wfspage:%s:filters=%s:f=%016x:o=%d:n=%d", layerNorm, filterSafe, sum, req.Offset, req.Limit)
}

func normalizeFilters(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	// Remove spaces around these punctuation tokens.
	return filterPunct.ReplaceAllString(s, "$1")
}

func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || (allowEq && r == '='):
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
