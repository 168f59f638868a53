package features

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvalentine99/binscore/internal/parser"
	"github.com/cvalentine99/binscore/test/fixtures"
)

func sum(v []float64) float64 {
	var s float64
	for _, f := range v {
		s += f
	}
	return s
}

// =============================================================================
// Byte Histogram
// =============================================================================

func TestHistogram_SingleValue(t *testing.T) {
	h := Histogram(bytes.Repeat([]byte{0x41}, 5000))
	require.Len(t, h, HistogramLen)
	for i, v := range h {
		if i == 0x41 {
			assert.Equal(t, 1.0, v)
		} else {
			assert.Zero(t, v, "bin %d", i)
		}
	}
}

func TestHistogram_Empty(t *testing.T) {
	h := Histogram(nil)
	require.Len(t, h, HistogramLen)
	assert.Zero(t, sum(h))
}

func TestHistogram_Normalized(t *testing.T) {
	h := Histogram(fixtures.RandomBytes(10000))
	assert.InDelta(t, 1.0, sum(h), 1e-9)
}

func TestByteHistogram_Reset(t *testing.T) {
	h := NewByteHistogram()
	h.Write([]byte{1, 2, 3})
	h.Reset()
	assert.Zero(t, sum(h.Features()))
}

// =============================================================================
// Byte-Entropy Histogram
// =============================================================================

func TestByteEntropy_AllZeros(t *testing.T) {
	for _, size := range []int{DefaultWindow, 3 * DefaultWindow, 3*DefaultWindow + 17} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			h := ByteEntropy(make([]byte, size))
			require.Len(t, h, ByteEntropyLen)
			// Zero entropy, byte bin 0.
			assert.Equal(t, 1.0, h[0])
			assert.InDelta(t, 1.0, sum(h[:ByteBins]), 1e-12)
			assert.Zero(t, sum(h[ByteBins:]))
		})
	}
}

func TestByteEntropy_Empty(t *testing.T) {
	h := NewByteEntropyHistogram(0)
	h.Write(nil)
	assert.Zero(t, h.Window())
	assert.Zero(t, h.Windows())
	assert.Zero(t, sum(h.Features()))
}

func TestByteEntropy_ShortInputShrinksWindow(t *testing.T) {
	data := []byte("MZ short input")
	h := NewByteEntropyHistogram(int64(len(data)))
	h.Write(data)

	assert.Equal(t, len(data), h.Window())
	assert.Equal(t, 1, h.Windows())
	assert.InDelta(t, 1.0, sum(h.Features()), 1e-12)
}

func TestByteEntropy_DropsPartialWindow(t *testing.T) {
	data := make([]byte, 2*DefaultWindow+100)
	h := NewByteEntropyHistogram(int64(len(data)))
	h.Write(data)
	assert.Equal(t, 2, h.Windows())
}

func TestByteEntropy_RandomIsHighEntropy(t *testing.T) {
	h := ByteEntropy(fixtures.RandomBytes(16 * DefaultWindow))

	// 2048 random bytes have entropy just under 8, so everything lands in bin 7.
	row := h[7*ByteBins : 8*ByteBins]
	assert.InDelta(t, 1.0, sum(row), 1e-9)
}

func TestByteEntropy_ChunkingInvariant(t *testing.T) {
	data := fixtures.RandomBytes(5*DefaultWindow + 333)
	want := ByteEntropy(data)

	for _, step := range []int{1, 7, 1000, DefaultWindow, DefaultWindow + 1, 64 * 1024} {
		h := NewByteEntropyHistogram(int64(len(data)))
		for off := 0; off < len(data); off += step {
			h.Write(data[off:min(off+step, len(data))])
		}
		assert.Equal(t, want, h.Features(), "step %d", step)
	}
}

// =============================================================================
// Structural Slices
// =============================================================================

func TestStructuralSlices_Nil(t *testing.T) {
	assert.Equal(t, make([]float64, HeaderLen), HeaderSlice(nil))
	assert.Equal(t, make([]float64, SectionLen), SectionSlice(nil))
}

func TestStructuralSlices(t *testing.T) {
	pb := &parser.ParsedBinary{
		Timestamp:          1600000000,
		Characteristics:    0x0102,
		SizeOfCode:         4096,
		SizeOfHeaders:      1024,
		SizeOfImage:        65536,
		DllCharacteristics: 0x8160,
	}
	for i := 0; i < 10; i++ {
		pb.Sections = append(pb.Sections, parser.Section{Size: uint32(512 * (i + 1)), Entropy: float64(i) / 2})
	}

	assert.Equal(t, []float64{1600000000, 10, 0x0102, 4096, 1024, 65536, 0x8160}, HeaderSlice(pb))

	sec := SectionSlice(pb)
	require.Len(t, sec, SectionLen)
	assert.Equal(t, []float64{512, 1024, 1536, 2048, 2560, 3072, 3584, 4096}, sec[:MaxSections])
	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5}, sec[MaxSections:])
}

func TestSectionSlice_FewSections(t *testing.T) {
	pb := &parser.ParsedBinary{Sections: []parser.Section{{Size: 10, Entropy: 1.5}}}
	sec := SectionSlice(pb)
	assert.Equal(t, 10.0, sec[0])
	assert.Equal(t, 1.5, sec[MaxSections])
	assert.Zero(t, sum(sec[1:MaxSections])+sum(sec[MaxSections+1:]))
}

// =============================================================================
// Assembler
// =============================================================================

func zeroSlices() ([]float64, []float64, []float64, []float64) {
	return make([]float64, HistogramLen), make([]float64, ByteEntropyLen), make([]float64, HeaderLen), make([]float64, SectionLen)
}

func TestAssemble_Dimensions(t *testing.T) {
	hist, ent, meta, sec := zeroSlices()
	for _, dim := range []int{NaturalLen, 1000, DefaultDimension, 4096} {
		v, err := Assemble(hist, ent, meta, sec, dim)
		require.NoError(t, err)
		assert.Len(t, v, dim)
	}

	v, err := Assemble(hist, ent, meta, sec, 0)
	require.NoError(t, err)
	assert.Len(t, v, DefaultDimension)
}

func TestAssemble_NeverTruncates(t *testing.T) {
	hist, ent, meta, sec := zeroSlices()
	for _, dim := range []int{NaturalLen - 1, 256, -5} {
		_, err := Assemble(hist, ent, meta, sec, dim)
		var le *LayoutError
		require.ErrorAs(t, err, &le, "dim %d", dim)
		assert.Equal(t, NaturalLen, le.Natural)
		assert.Equal(t, dim, le.Target)
	}
}

func TestAssemble_Order(t *testing.T) {
	hist, ent, meta, sec := zeroSlices()
	hist[0], ent[0], meta[0], sec[0] = 1, 2, 3, 4
	sec[SectionLen-1] = 5

	v, err := Assemble(hist, ent, meta, sec, DefaultDimension)
	require.NoError(t, err)

	assert.Equal(t, 1.0, v[HistogramOffset])
	assert.Equal(t, 2.0, v[ByteEntropyOffset])
	assert.Equal(t, 3.0, v[HeaderOffset])
	assert.Equal(t, 4.0, v[SectionOffset])
	assert.Equal(t, 5.0, v[NaturalLen-1])
	assert.Zero(t, sum(v[NaturalLen:]))

	assert.Equal(t, meta, v.Header())
	assert.Equal(t, sec, v.Sections())
	assert.Equal(t, hist, v.Histogram())
	assert.Equal(t, ent, v.ByteEntropy())
}

func TestAssemble_BadSlice(t *testing.T) {
	hist, ent, meta, sec := zeroSlices()
	_, err := Assemble(hist, ent, meta[:6], sec, DefaultDimension)
	assert.ErrorIs(t, err, ErrSliceLength)
}

func TestVector_Float32(t *testing.T) {
	v := Vector{0.5, 1, 2.25}
	assert.Equal(t, []float32{0.5, 1, 2.25}, v.Float32())
	assert.Nil(t, Vector{1, 2}.Header())
}

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, CheckDimension(DefaultDimension))
	assert.Error(t, CheckDimension(NaturalLen-1))
}

// =============================================================================
// Content Sniffing
// =============================================================================

func TestSniff(t *testing.T) {
	png := Sniff(fixtures.PNGFileFixture(2, 2))
	assert.Equal(t, "image/png", png.MIME)
	assert.Equal(t, CategoryImage, png.Category)

	pdf := Sniff(fixtures.PDFFileFixture())
	assert.Equal(t, "application/pdf", pdf.MIME)
	assert.Equal(t, CategoryDocument, pdf.Category)

	txt := Sniff([]byte("just some words\n"))
	assert.Equal(t, "text/plain", txt.MIME)
	assert.Equal(t, CategoryText, txt.Category)

	assert.Empty(t, Sniff(nil).MIME)
}

// =============================================================================
// Extractor
// =============================================================================

func TestExtractor_PE(t *testing.T) {
	data := fixtures.MinimalPE()
	x, err := NewExtractor(nil).ExtractBytes(data)
	require.NoError(t, err)

	assert.False(t, x.Partial())
	assert.Equal(t, parser.FormatPE, x.Format())
	assert.Equal(t, int64(len(data)), x.Digest.Size)
	assert.Equal(t, Histogram(data), x.Histogram)
	assert.Equal(t, ByteEntropy(data), x.ByteEntropy)
	assert.Equal(t, 2.0, x.Header[1])
	assert.NotZero(t, x.Sections[0])

	v, err := x.Vector(DefaultDimension)
	require.NoError(t, err)
	assert.Len(t, v, DefaultDimension)
}

func TestExtractor_NotPE(t *testing.T) {
	data := []byte("this is a text file pretending to be setup.exe\n")
	x, err := NewExtractor(nil).ExtractBytes(data)
	require.NoError(t, err)

	assert.True(t, x.Partial())
	assert.ErrorIs(t, x.ParseErr, parser.ErrNotPE)
	assert.Empty(t, x.Format())
	assert.Equal(t, make([]float64, HeaderLen), x.Header)
	assert.Equal(t, make([]float64, SectionLen), x.Sections)
	assert.InDelta(t, 1.0, sum(x.Histogram), 1e-9)

	v, err := x.Vector(DefaultDimension)
	require.NoError(t, err)
	assert.Len(t, v, DefaultDimension)
}

func TestExtractor_Empty(t *testing.T) {
	x, err := NewExtractor(nil).ExtractBytes(nil)
	require.NoError(t, err)
	assert.True(t, x.Partial())

	v, err := x.Vector(DefaultDimension)
	require.NoError(t, err)
	assert.Equal(t, make(Vector, DefaultDimension), v)
}

func TestExtractor_SpansChunks(t *testing.T) {
	data := fixtures.RandomBytes(200*1024 + 123)
	x, err := NewExtractor(nil).ExtractBytes(data)
	require.NoError(t, err)

	assert.Equal(t, Histogram(data), x.Histogram)
	assert.Equal(t, ByteEntropy(data), x.ByteEntropy)
}

func TestExtractor_Deterministic(t *testing.T) {
	data := fixtures.PackedPE()
	e := NewExtractor(nil)

	a, err := e.ExtractBytes(data)
	require.NoError(t, err)
	b, err := e.ExtractBytes(bytes.Clone(data))
	require.NoError(t, err)

	va, _ := a.Vector(0)
	vb, _ := b.Vector(0)
	assert.Equal(t, va, vb)
	assert.Equal(t, a.Digest, b.Digest)
}

type shortReader struct {
	data []byte
	err  error
}

func (r shortReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, r.err
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, r.err
	}
	return n, nil
}

func TestExtractor_ReadErrors(t *testing.T) {
	e := NewExtractor(nil)

	// File shrank after stat.
	_, err := e.Extract(shortReader{data: make([]byte, 100), err: errors.New("EOF")}, 1000)
	require.Error(t, err)

	_, err = e.Extract(bytes.NewReader(make([]byte, 100)), 1000)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = e.Extract(bytes.NewReader(nil), -1)
	assert.Error(t, err)
}

// =============================================================================
// Fuzzing and Benchmarks
// =============================================================================

// FuzzExtract checks that any input produces a well-formed vector.
func FuzzExtract(f *testing.F) {
	f.Add(fixtures.MinimalPE())
	f.Add([]byte{})
	f.Add(fixtures.MZOnly())
	f.Add(make([]byte, DefaultWindow+1))

	e := NewExtractor(nil)
	f.Fuzz(func(t *testing.T, data []byte) {
		x, err := e.ExtractBytes(data)
		if err != nil {
			t.Fatalf("in-memory extraction failed: %v", err)
		}
		v, err := x.Vector(DefaultDimension)
		if err != nil {
			t.Fatal(err)
		}
		if len(v) != DefaultDimension {
			t.Fatalf("vector length %d", len(v))
		}
		for i, val := range v {
			if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 {
				t.Fatalf("v[%d] = %f", i, val)
			}
		}
	})
}

func BenchmarkExtract(b *testing.B) {
	data := fixtures.RandomBytes(1 << 20)
	e := NewExtractor(nil)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.ExtractBytes(data); err != nil {
			b.Fatal(err)
		}
	}
}
