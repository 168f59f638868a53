package features

import (
	"math"

	"github.com/cvalentine99/binscore/internal/stats"
)

// Byte-entropy histogram shape.
const (
	DefaultWindow = 2048
	EntropyBins   = 16
	ByteBins      = 16
)

// ByteEntropyHistogram accumulates the joint (window entropy, byte>>4) distribution
// over non-overlapping windows. Only complete windows count; a trailing partial
// window is dropped.
type ByteEntropyHistogram struct {
	window  int
	buf     []byte
	counts  [EntropyBins][ByteBins]uint64
	total   uint64
	windows int
}

// NewByteEntropyHistogram creates a histogram for a stream of size bytes, using
// DefaultWindow or the stream size when it is shorter.
func NewByteEntropyHistogram(size int64) *ByteEntropyHistogram {
	return NewByteEntropyHistogramWindow(DefaultWindow, size)
}

// NewByteEntropyHistogramWindow is NewByteEntropyHistogram with a custom window.
func NewByteEntropyHistogramWindow(window int, size int64) *ByteEntropyHistogram {
	if window <= 0 {
		window = DefaultWindow
	}
	if size >= 0 && size < int64(window) {
		window = int(size)
	}
	return &ByteEntropyHistogram{
		window: window,
		buf:    make([]byte, 0, window),
	}
}

// Window returns the effective window size.
func (h *ByteEntropyHistogram) Window() int {
	return h.window
}

// Windows returns the number of complete windows processed so far.
func (h *ByteEntropyHistogram) Windows() int {
	return h.windows
}

// Write implements io.Writer. It never returns an error.
func (h *ByteEntropyHistogram) Write(p []byte) (int, error) {
	n := len(p)
	if h.window == 0 {
		return n, nil
	}

	// Finish a window left over from the previous write.
	if len(h.buf) > 0 {
		take := min(h.window-len(h.buf), len(p))
		h.buf = append(h.buf, p[:take]...)
		p = p[take:]
		if len(h.buf) == h.window {
			h.addWindow(h.buf)
			h.buf = h.buf[:0]
		}
	}

	for len(p) >= h.window {
		h.addWindow(p[:h.window])
		p = p[h.window:]
	}
	h.buf = append(h.buf, p...)
	return n, nil
}

func (h *ByteEntropyHistogram) addWindow(w []byte) {
	var counts stats.ByteCounts
	counts.Add(w)
	bin := min(max(int(math.Floor(counts.Entropy())), 0), EntropyBins-1)

	row := &h.counts[bin]
	for b, c := range counts {
		row[b>>4] += c
	}
	h.total += uint64(len(w))
	h.windows++
}

// Features returns the flattened, normalized 16x16 histogram (entropy bin major).
// It is all zeros when no complete window was seen.
func (h *ByteEntropyHistogram) Features() []float64 {
	out := make([]float64, ByteEntropyLen)
	if h.total == 0 {
		return out
	}
	t := float64(h.total)
	for e := range h.counts {
		for b, c := range h.counts[e] {
			out[e*ByteBins+b] = float64(c) / t
		}
	}
	return out
}

// ByteEntropy computes the byte-entropy histogram of data in one call.
func ByteEntropy(data []byte) []float64 {
	h := NewByteEntropyHistogram(int64(len(data)))
	h.Write(data)
	return h.Features()
}
