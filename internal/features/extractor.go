package features

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cvalentine99/binscore/internal/integrity"
	"github.com/cvalentine99/binscore/internal/logging"
	"github.com/cvalentine99/binscore/internal/optimization"
	"github.com/cvalentine99/binscore/internal/parser"
)

// Config holds extractor configuration
type Config struct {
	// Window is the byte-entropy window size.
	Window int

	// EntropySections is how many leading sections the parser computes entropy for.
	EntropySections int
}

// DefaultConfig returns default extractor configuration
func DefaultConfig() *Config {
	return &Config{
		Window:          DefaultWindow,
		EntropySections: MaxSections,
	}
}

// Extraction holds everything derived from one input in a single pass.
type Extraction struct {
	Digest      integrity.Digest
	ContentType ContentType

	Histogram   []float64
	ByteEntropy []float64
	Header      []float64
	Sections    []float64

	// Binary is nil when the input could not be parsed; ParseErr says why.
	Binary   *parser.ParsedBinary
	ParseErr error
}

// Partial reports whether structural features were zero-filled.
func (x *Extraction) Partial() bool {
	return x.ParseErr != nil
}

// Format returns the parsed container format, or "" when parsing failed.
func (x *Extraction) Format() string {
	if x.Binary == nil {
		return ""
	}
	return x.Binary.Format
}

// Vector assembles the extracted slices into a vector of dimension dim.
func (x *Extraction) Vector(dim int) (Vector, error) {
	return Assemble(x.Histogram, x.ByteEntropy, x.Header, x.Sections, dim)
}

// Extractor derives features from raw inputs. It is safe for concurrent use.
type Extractor struct {
	config *Config
	parser *parser.PEParser
	pool   *optimization.BufferPool
	logger *logging.Logger
}

// NewExtractor creates a new extractor.
func NewExtractor(cfg *Config) *Extractor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Extractor{
		config: cfg,
		parser: parser.NewPEParser().WithEntropySections(cfg.EntropySections),
		pool:   optimization.ChunkPool,
		logger: logging.FeaturesLogger(),
	}
}

// Extract reads the size bytes held by r once, in fixed-size chunks, feeding the
// digests and both histograms, then parses the headers. Parse failures are recorded
// in the result; only read failures are returned as errors.
func (e *Extractor) Extract(r io.ReaderAt, size int64) (*Extraction, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid input size %d", size)
	}

	digester := integrity.NewDigester()
	hist := NewByteHistogram()
	ent := NewByteEntropyHistogramWindow(e.config.Window, size)
	sink := io.MultiWriter(digester, hist, ent)

	bufp := e.pool.Get()
	defer e.pool.Put(bufp)
	buf := *bufp

	x := &Extraction{}
	for off := int64(0); off < size; {
		n := min(int64(len(buf)), size-off)
		read, err := r.ReadAt(buf[:n], off)
		if int64(read) < n {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("failed to read input at offset %d: %w", off+int64(read), err)
		}
		if off == 0 {
			x.ContentType = Sniff(buf[:n])
		}
		sink.Write(buf[:n])
		off += n
	}
	if size == 0 {
		x.ContentType = Sniff(nil)
	}

	x.Digest = digester.Sum()
	x.Histogram = hist.Features()
	x.ByteEntropy = ent.Features()

	pb, err := e.parser.Parse(r, size)
	switch {
	case err == nil:
		x.Binary = pb
	case parser.IsParseError(err):
		x.ParseErr = err
		e.logger.Debug("structural features unavailable",
			logging.Digest(x.Digest.BLAKE3),
			logging.Err(err),
		)
	default:
		return nil, err
	}

	x.Header = HeaderSlice(x.Binary)
	x.Sections = SectionSlice(x.Binary)
	return x, nil
}

// ExtractBytes runs Extract over an in-memory input.
func (e *Extractor) ExtractBytes(data []byte) (*Extraction, error) {
	return e.Extract(bytes.NewReader(data), int64(len(data)))
}
