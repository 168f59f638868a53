// Package features turns raw bytes and parsed executable metadata into the
// fixed-length numeric vector consumed by the classifier.
//
// Vector layout (LayoutVersion "binscore-v1"):
//
//	[0, 256)    byte histogram
//	[256, 512)  byte-entropy histogram (16 entropy bins x 16 byte bins, row-major)
//	[512, 519)  header slice
//	[519, 535)  section slice (8 sizes, then 8 entropies)
//	[535, dim)  zero padding
//
// Changing the order or any slice length invalidates every model trained on
// earlier vectors, so LayoutVersion must change with it.
package features

// LayoutVersion identifies the vector layout.
const LayoutVersion = "binscore-v1"

// Slice lengths.
const (
	HistogramLen   = 256
	ByteEntropyLen = EntropyBins * ByteBins
	HeaderLen      = 7
	MaxSections    = 8
	SectionLen     = 2 * MaxSections

	// NaturalLen is the length of the concatenated slices before padding.
	NaturalLen = HistogramLen + ByteEntropyLen + HeaderLen + SectionLen

	// DefaultDimension is used when no model-declared dimension is available.
	DefaultDimension = 2381
)

// Slice offsets within a vector.
const (
	HistogramOffset   = 0
	ByteEntropyOffset = HistogramOffset + HistogramLen
	HeaderOffset      = ByteEntropyOffset + ByteEntropyLen
	SectionOffset     = HeaderOffset + HeaderLen
)

// Vector is an assembled feature vector.
type Vector []float64

// Float32 converts the vector for backends that take single precision input.
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// Histogram returns the byte histogram slice of an assembled vector.
func (v Vector) Histogram() []float64 {
	return v.slice(HistogramOffset, HistogramLen)
}

// ByteEntropy returns the byte-entropy histogram slice of an assembled vector.
func (v Vector) ByteEntropy() []float64 {
	return v.slice(ByteEntropyOffset, ByteEntropyLen)
}

// Header returns the header slice of an assembled vector.
func (v Vector) Header() []float64 {
	return v.slice(HeaderOffset, HeaderLen)
}

// Sections returns the section slice of an assembled vector.
func (v Vector) Sections() []float64 {
	return v.slice(SectionOffset, SectionLen)
}

func (v Vector) slice(off, n int) []float64 {
	if len(v) < off+n {
		return nil
	}
	return v[off : off+n : off+n]
}
