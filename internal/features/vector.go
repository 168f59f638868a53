package features

import (
	"errors"
	"fmt"
)

// ErrSliceLength is returned by Assemble when an input slice has the wrong length.
var ErrSliceLength = errors.New("feature slice has wrong length")

// LayoutError reports a target dimension that cannot hold the natural vector.
// Truncating would silently shift feature semantics, so it is always an error.
type LayoutError struct {
	Natural int
	Target  int
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("target dimension %d is smaller than natural feature length %d", e.Target, e.Natural)
}

// Assemble concatenates the four slices in layout order and zero-pads the result
// to targetDim. A targetDim of 0 selects DefaultDimension.
func Assemble(hist, ent, meta, sec []float64, targetDim int) (Vector, error) {
	if targetDim == 0 {
		targetDim = DefaultDimension
	}
	if targetDim < NaturalLen {
		return nil, &LayoutError{Natural: NaturalLen, Target: targetDim}
	}

	parts := []struct {
		name string
		data []float64
		want int
	}{
		{"histogram", hist, HistogramLen},
		{"byte-entropy", ent, ByteEntropyLen},
		{"header", meta, HeaderLen},
		{"sections", sec, SectionLen},
	}

	v := make(Vector, targetDim)
	off := 0
	for _, p := range parts {
		if len(p.data) != p.want {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrSliceLength, p.name, len(p.data), p.want)
		}
		off += copy(v[off:], p.data)
	}
	return v, nil
}

// CheckDimension reports whether a model dimension can hold the layout.
func CheckDimension(dim int) error {
	if dim < NaturalLen {
		return &LayoutError{Natural: NaturalLen, Target: dim}
	}
	return nil
}
