package features

import "github.com/cvalentine99/binscore/internal/parser"

// HeaderSlice returns, in order: timestamp, section count, characteristics,
// size of code, size of headers, size of image, DLL characteristics.
// A nil binary yields zeros.
func HeaderSlice(pb *parser.ParsedBinary) []float64 {
	out := make([]float64, HeaderLen)
	if pb == nil {
		return out
	}
	out[0] = float64(pb.Timestamp)
	out[1] = float64(pb.NumSections())
	out[2] = float64(pb.Characteristics)
	out[3] = float64(pb.SizeOfCode)
	out[4] = float64(pb.SizeOfHeaders)
	out[5] = float64(pb.SizeOfImage)
	out[6] = float64(pb.DllCharacteristics)
	return out
}

// SectionSlice returns the raw sizes of the first MaxSections sections followed by
// their entropies. Missing slots and a nil binary yield zeros.
func SectionSlice(pb *parser.ParsedBinary) []float64 {
	out := make([]float64, SectionLen)
	if pb == nil {
		return out
	}
	for i, s := range pb.Sections {
		if i >= MaxSections {
			break
		}
		out[i] = float64(s.Size)
		out[MaxSections+i] = s.Entropy
	}
	return out
}
