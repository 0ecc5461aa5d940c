package normalize

import "fmt"

// UnsupportedGeometryError reports a geometry type outside the GeoJSON set
// the writer can express. The feature is skipped, the run continues.
type UnsupportedGeometryError struct {
	Type string
}

func (e *UnsupportedGeometryError) Error() string {
	return fmt.Sprintf("unsupported geometry type %q", e.Type)
}

// MalformedFeatureError reports a feature object that could not be decoded.
type MalformedFeatureError struct {
	Index int
	Err   error
}

func (e *MalformedFeatureError) Error() string {
	return fmt.Sprintf("malformed feature at index %d: %v", e.Index, e.Err)
}

func (e *MalformedFeatureError) Unwrap() error { return e.Err }

// Reason returns the label a skipped feature is counted under.
func Reason(err error) string {
	switch err.(type) {
	case *UnsupportedGeometryError:
		return "unsupported_geometry"
	case *MalformedFeatureError:
		return "malformed"
	default:
		return "other"
	}
}
