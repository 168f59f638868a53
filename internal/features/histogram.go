package features

import "github.com/cvalentine99/binscore/internal/stats"

// ByteHistogram accumulates the byte-value distribution of everything written to it.
type ByteHistogram struct {
	counts stats.ByteCounts
}

// NewByteHistogram creates an empty histogram.
func NewByteHistogram() *ByteHistogram {
	return &ByteHistogram{}
}

// Write implements io.Writer. It never returns an error.
func (h *ByteHistogram) Write(p []byte) (int, error) {
	h.counts.Add(p)
	return len(p), nil
}

// Features returns the 256 normalized counts. An empty histogram yields all zeros.
func (h *ByteHistogram) Features() []float64 {
	out := make([]float64, HistogramLen)
	total := h.counts.Total()
	if total == 0 {
		return out
	}
	t := float64(total)
	for i, c := range h.counts {
		out[i] = float64(c) / t
	}
	return out
}

// Reset clears all counts.
func (h *ByteHistogram) Reset() {
	h.counts = stats.ByteCounts{}
}

// Histogram computes the byte histogram of data in one call.
func Histogram(data []byte) []float64 {
	h := NewByteHistogram()
	h.Write(data)
	return h.Features()
}
