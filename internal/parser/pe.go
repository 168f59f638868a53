// Package parser provides defensive parsing of executable containers for static scoring.
// It inspects headers and section tables only; nothing is loaded or executed.
package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cvalentine99/binscore/internal/logging"
	"github.com/cvalentine99/binscore/internal/optimization"
	"github.com/cvalentine99/binscore/internal/stats"
)

// PE/COFF layout constants
const (
	dosHeaderSize         = 64
	dosLfanewOffset       = 0x3C
	peSignatureSize       = 4
	coffHeaderSize        = 20
	sectionHeaderSize     = 40
	minOptionalHeader     = 72 // through DllCharacteristics, identical for PE32 and PE32+
	optMagicPE32          = 0x10b
	optMagicPE32Plus      = 0x20b
	optSizeOfCode         = 4
	optSizeOfImage        = 56
	optSizeOfHeaders      = 60
	optSubsystem          = 68
	optDllCharacteristics = 70
)

// MaxSections is the largest section count the Windows loader accepts.
const MaxSections = 96

// DefaultEntropySections is how many leading sections get their entropy computed.
const DefaultEntropySections = 8

// FormatPE identifies a parsed PE/COFF image.
const FormatPE = "pe"

var (
	ErrNotPE          = errors.New("not a PE image")
	ErrTruncated      = errors.New("truncated header")
	ErrOptionalHeader = errors.New("invalid optional header")
	ErrSectionTable   = errors.New("invalid section table")
	ErrPanic          = errors.New("parser panic")
)

// ParseError reports why a file could not be parsed. Callers treat it as
// "structural features unavailable", never as a fatal condition.
type ParseError struct {
	Reason error
	Offset int64
	Detail string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("pe parse failed at offset %d: %v", e.Offset, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Reason
}

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Section is one entry of the section table.
type Section struct {
	Name            string
	VirtualSize     uint32
	VirtualAddress  uint32
	Size            uint32 // SizeOfRawData
	Offset          uint32 // PointerToRawData
	Characteristics uint32
	Entropy         float64
}

// ParsedBinary is the structured view over a PE image.
type ParsedBinary struct {
	Format             string
	Machine            uint16
	Is64               bool
	Timestamp          uint32
	Characteristics    uint16
	SizeOfCode         uint32
	SizeOfHeaders      uint32
	SizeOfImage        uint32
	DllCharacteristics uint16
	Subsystem          uint16
	Sections           []Section
}

// NumSections returns the number of parsed sections.
func (p *ParsedBinary) NumSections() int {
	if p == nil {
		return 0
	}
	return len(p.Sections)
}

// PEParser parses PE/COFF images.
type PEParser struct {
	entropySections int
	pool            *optimization.BufferPool
	logger          *logging.Logger
}

// NewPEParser creates a parser that computes entropy for the first DefaultEntropySections sections.
func NewPEParser() *PEParser {
	return &PEParser{
		entropySections: DefaultEntropySections,
		pool:            optimization.ChunkPool,
		logger:          logging.ParserLogger(),
	}
}

// WithEntropySections changes how many leading sections get their entropy computed.
// Negative values compute entropy for every section.
func (p *PEParser) WithEntropySections(n int) *PEParser {
	p.entropySections = n
	return p
}

// ParsePE parses an in-memory image with the default parser.
func ParsePE(data []byte) (*ParsedBinary, error) {
	return NewPEParser().Parse(bytes.NewReader(data), int64(len(data)))
}

// Parse parses the PE image held by r, whose total length is size.
// Malformed input yields a *ParseError. Other errors come from r itself.
func (p *PEParser) Parse(r io.ReaderAt, size int64) (pb *ParsedBinary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pb = nil
			err = &ParseError{Reason: ErrPanic, Detail: fmt.Sprint(rec)}
		}
	}()

	defer func() {
		if err != nil {
			p.logger.Debug("pe parse failed", "size", size, logging.Err(err))
		}
	}()

	// Check the magic before requiring a full DOS header.
	sig, err := readAt(r, size, 0, 2)
	if err != nil {
		return nil, err
	}
	if sig[0] != 'M' || sig[1] != 'Z' {
		return nil, &ParseError{Reason: ErrNotPE, Detail: "missing MZ signature"}
	}
	dos, err := readAt(r, size, 0, dosHeaderSize)
	if err != nil {
		return nil, err
	}

	lfanew := int64(binary.LittleEndian.Uint32(dos[dosLfanewOffset:]))
	hdr, err := readAt(r, size, lfanew, peSignatureSize+coffHeaderSize)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[:4], []byte{'P', 'E', 0, 0}) {
		return nil, &ParseError{Reason: ErrNotPE, Offset: lfanew, Detail: "missing PE signature"}
	}

	coff := hdr[peSignatureSize:]
	pb = &ParsedBinary{
		Format:          FormatPE,
		Machine:         binary.LittleEndian.Uint16(coff[0:]),
		Timestamp:       binary.LittleEndian.Uint32(coff[4:]),
		Characteristics: binary.LittleEndian.Uint16(coff[18:]),
	}
	numSections := int(binary.LittleEndian.Uint16(coff[2:]))
	optSize := int64(binary.LittleEndian.Uint16(coff[16:]))

	if numSections > MaxSections {
		return nil, &ParseError{
			Reason: ErrSectionTable,
			Offset: lfanew + peSignatureSize + 2,
			Detail: fmt.Sprintf("%d sections exceeds limit of %d", numSections, MaxSections),
		}
	}

	optOff := lfanew + peSignatureSize + coffHeaderSize
	if optSize < minOptionalHeader {
		return nil, &ParseError{
			Reason: ErrOptionalHeader,
			Offset: optOff,
			Detail: fmt.Sprintf("size %d smaller than %d", optSize, minOptionalHeader),
		}
	}
	opt, err := readAt(r, size, optOff, minOptionalHeader)
	if err != nil {
		return nil, err
	}

	switch magic := binary.LittleEndian.Uint16(opt[0:]); magic {
	case optMagicPE32:
	case optMagicPE32Plus:
		pb.Is64 = true
	default:
		return nil, &ParseError{Reason: ErrOptionalHeader, Offset: optOff, Detail: fmt.Sprintf("unknown magic 0x%x", magic)}
	}

	pb.SizeOfCode = binary.LittleEndian.Uint32(opt[optSizeOfCode:])
	pb.SizeOfImage = binary.LittleEndian.Uint32(opt[optSizeOfImage:])
	pb.SizeOfHeaders = binary.LittleEndian.Uint32(opt[optSizeOfHeaders:])
	pb.Subsystem = binary.LittleEndian.Uint16(opt[optSubsystem:])
	pb.DllCharacteristics = binary.LittleEndian.Uint16(opt[optDllCharacteristics:])

	tableOff := optOff + optSize
	tableLen := int64(numSections) * sectionHeaderSize
	if tableOff+tableLen > size {
		return nil, &ParseError{
			Reason: ErrSectionTable,
			Offset: tableOff,
			Detail: fmt.Sprintf("%d sections need %d bytes, file has %d", numSections, tableLen, max(size-tableOff, 0)),
		}
	}

	table, err := readAt(r, size, tableOff, int(tableLen))
	if err != nil {
		return nil, err
	}

	pb.Sections = make([]Section, numSections)
	for i := range pb.Sections {
		raw := table[i*sectionHeaderSize : (i+1)*sectionHeaderSize]
		pb.Sections[i] = Section{
			Name:            sectionName(raw[:8]),
			VirtualSize:     binary.LittleEndian.Uint32(raw[8:]),
			VirtualAddress:  binary.LittleEndian.Uint32(raw[12:]),
			Size:            binary.LittleEndian.Uint32(raw[16:]),
			Offset:          binary.LittleEndian.Uint32(raw[20:]),
			Characteristics: binary.LittleEndian.Uint32(raw[36:]),
		}
	}

	for i := range pb.Sections {
		if p.entropySections >= 0 && i >= p.entropySections {
			break
		}
		ent, err := p.sectionEntropy(r, size, &pb.Sections[i])
		if err != nil {
			return nil, err
		}
		pb.Sections[i].Entropy = ent
	}

	return pb, nil
}

// sectionEntropy computes the entropy of a section's raw bytes, clipped to the file.
func (p *PEParser) sectionEntropy(r io.ReaderAt, size int64, s *Section) (float64, error) {
	start := int64(s.Offset)
	end := start + int64(s.Size)
	if start >= size || s.Size == 0 {
		return 0, nil
	}
	if end > size {
		end = size
	}

	bufp := p.pool.Get()
	defer p.pool.Put(bufp)
	buf := *bufp

	var counts stats.ByteCounts
	for off := start; off < end; {
		n := int64(len(buf))
		if end-off < n {
			n = end - off
		}
		read, err := r.ReadAt(buf[:n], off)
		counts.Add(buf[:read])
		if err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, fmt.Errorf("failed to read section %s: %w", s.Name, err)
		}
		off += n
	}
	return counts.Entropy(), nil
}

// readAt reads exactly n bytes at off, reporting anything past size as truncation.
func readAt(r io.ReaderAt, size, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > size {
		return nil, &ParseError{Reason: ErrTruncated, Offset: off, Detail: fmt.Sprintf("need %d bytes, file has %d", off+int64(n), size)}
	}
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, off)
	if read == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &ParseError{Reason: ErrTruncated, Offset: off + int64(read)}
	}
	return nil, fmt.Errorf("failed to read header: %w", err)
}

func sectionName(raw []byte) string {
	name := string(raw)
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return name
}
