// Package fixtures provides synthetic binaries and sample data for binscore tests.
package fixtures

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// PE Image Builder
// =============================================================================

// Section characteristic flags used by fixtures.
const (
	SectionCode        uint32 = 0x00000020
	SectionInitData    uint32 = 0x00000040
	SectionExecute     uint32 = 0x20000000
	SectionRead        uint32 = 0x40000000
	SectionWrite       uint32 = 0x80000000
	SectionText               = SectionCode | SectionExecute | SectionRead
	SectionData               = SectionInitData | SectionRead | SectionWrite
	SectionReadOnly           = SectionInitData | SectionRead
	MachineI386        uint16 = 0x014c
	MachineAMD64       uint16 = 0x8664
	SubsystemGUI       uint16 = 2
	SubsystemConsole   uint16 = 3
	FileExecutable     uint16 = 0x0002
	FileDLL            uint16 = 0x2000
	DllDynamicBase     uint16 = 0x0040
	DllNXCompat        uint16 = 0x0100
	FileAlignment             = 0x200
	SectionAlignment          = 0x1000
	PEHeaderOffset            = 0x80
	optionalHeaderPE32        = 224
	optionalHeaderPE32P       = 240
)

// PESection describes one section of a synthetic image.
type PESection struct {
	Name            string
	Data            []byte
	Characteristics uint32
}

// PEBuilder assembles minimal but well-formed PE images.
type PEBuilder struct {
	Machine            uint16
	Is64               bool
	Timestamp          uint32
	Characteristics    uint16
	Subsystem          uint16
	DllCharacteristics uint16

	// SizeOfCode overrides the computed code size when non-zero.
	SizeOfCode uint32

	Sections []PESection

	// Overlay is appended after the last section.
	Overlay []byte
}

// NewPEBuilder creates a builder for a 32-bit console executable with no sections.
func NewPEBuilder() *PEBuilder {
	return &PEBuilder{
		Machine:            MachineI386,
		Timestamp:          0x5F5E1000,
		Characteristics:    FileExecutable,
		Subsystem:          SubsystemConsole,
		DllCharacteristics: DllDynamicBase | DllNXCompat,
	}
}

// AddSection appends a section.
func (b *PEBuilder) AddSection(name string, data []byte, characteristics uint32) *PEBuilder {
	b.Sections = append(b.Sections, PESection{Name: name, Data: data, Characteristics: characteristics})
	return b
}

// SizeOfHeaders returns the file-aligned size of all headers.
func (b *PEBuilder) SizeOfHeaders() uint32 {
	return alignUp(uint32(PEHeaderOffset+4+20+b.optionalHeaderSize()+40*len(b.Sections)), FileAlignment)
}

// SizeOfImage returns the section-aligned size of the mapped image.
func (b *PEBuilder) SizeOfImage() uint32 {
	size := alignUp(b.SizeOfHeaders(), SectionAlignment)
	for _, s := range b.Sections {
		size += alignUp(max(uint32(len(s.Data)), 1), SectionAlignment)
	}
	return size
}

// RawSize returns the file-aligned raw size of section data.
func RawSize(data []byte) uint32 {
	return alignUp(uint32(len(data)), FileAlignment)
}

func (b *PEBuilder) optionalHeaderSize() int {
	if b.Is64 {
		return optionalHeaderPE32P
	}
	return optionalHeaderPE32
}

func (b *PEBuilder) codeSize() uint32 {
	if b.SizeOfCode != 0 {
		return b.SizeOfCode
	}
	var n uint32
	for _, s := range b.Sections {
		if s.Characteristics&SectionCode != 0 {
			n += RawSize(s.Data)
		}
	}
	return n
}

// Build serialises the image.
func (b *PEBuilder) Build() []byte {
	le := binary.LittleEndian
	headers := b.SizeOfHeaders()
	optSize := b.optionalHeaderSize()

	out := make([]byte, headers)

	// DOS header and a stub that never runs
	out[0], out[1] = 'M', 'Z'
	le.PutUint32(out[0x3C:], PEHeaderOffset)
	copy(out[0x40:], "This program cannot be run in DOS mode.\r\n$")

	// PE signature and COFF header
	p := PEHeaderOffset
	copy(out[p:], []byte{'P', 'E', 0, 0})
	coff := out[p+4:]
	le.PutUint16(coff[0:], b.Machine)
	le.PutUint16(coff[2:], uint16(len(b.Sections)))
	le.PutUint32(coff[4:], b.Timestamp)
	le.PutUint16(coff[16:], uint16(optSize))
	le.PutUint16(coff[18:], b.Characteristics)

	// Optional header
	opt := out[p+24:]
	if b.Is64 {
		le.PutUint16(opt[0:], 0x20b)
		le.PutUint64(opt[24:], 0x140000000)
		le.PutUint32(opt[108:], 16)
	} else {
		le.PutUint16(opt[0:], 0x10b)
		le.PutUint32(opt[28:], 0x400000)
		le.PutUint32(opt[92:], 16)
	}
	opt[2] = 14
	le.PutUint32(opt[4:], b.codeSize())
	le.PutUint32(opt[32:], SectionAlignment)
	le.PutUint32(opt[36:], FileAlignment)
	le.PutUint16(opt[40:], 6)
	le.PutUint16(opt[48:], 6)
	le.PutUint32(opt[56:], b.SizeOfImage())
	le.PutUint32(opt[60:], headers)
	le.PutUint16(opt[68:], b.Subsystem)
	le.PutUint16(opt[70:], b.DllCharacteristics)

	// Section table and raw data
	table := out[p+24+optSize:]
	rawOff := headers
	va := alignUp(headers, SectionAlignment)
	var body bytes.Buffer
	for i, s := range b.Sections {
		entry := table[i*40:]
		copy(entry[:8], s.Name)
		raw := RawSize(s.Data)
		le.PutUint32(entry[8:], uint32(len(s.Data)))
		le.PutUint32(entry[12:], va)
		le.PutUint32(entry[16:], raw)
		if raw > 0 {
			le.PutUint32(entry[20:], rawOff)
		}
		le.PutUint32(entry[36:], s.Characteristics)

		body.Write(s.Data)
		body.Write(make([]byte, int(raw)-len(s.Data)))
		rawOff += raw
		va += alignUp(max(uint32(len(s.Data)), 1), SectionAlignment)
	}

	out = append(out, body.Bytes()...)
	return append(out, b.Overlay...)
}

// MinimalPE returns a small 32-bit executable with .text and .data sections.
func MinimalPE() []byte {
	text := bytes.Repeat([]byte{0x55, 0x8B, 0xEC, 0x33, 0xC0, 0x5D, 0xC3, 0x90}, 64)
	return NewPEBuilder().
		AddSection(".text", text, SectionText).
		AddSection(".data", []byte("hello, world\x00"), SectionData).
		Build()
}

// PackedPE returns a 64-bit image whose second section is random, as produced by packers.
func PackedPE() []byte {
	b := NewPEBuilder()
	b.Machine = MachineAMD64
	b.Is64 = true
	b.Subsystem = SubsystemGUI
	return b.
		AddSection("UPX0", nil, SectionText|SectionWrite).
		AddSection("UPX1", RandomBytes(16*1024), SectionText|SectionWrite).
		AddSection(".rsrc", bytes.Repeat([]byte{0}, 512), SectionReadOnly).
		Build()
}

// MZOnly returns a buffer with a DOS signature and nothing else.
func MZOnly() []byte {
	return []byte{'M', 'Z', 0x90, 0x00}
}

// =============================================================================
// Non-executable File Fixtures
// =============================================================================

// PNGFileFixture generates a minimal PNG file
func PNGFileFixture(width, height int) []byte {
	var buf bytes.Buffer

	buf.Write([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a})

	var ihdr bytes.Buffer
	binary.Write(&ihdr, binary.BigEndian, uint32(width))
	binary.Write(&ihdr, binary.BigEndian, uint32(height))
	ihdr.Write([]byte{8, 2, 0, 0, 0}) // depth, RGB, compression, filter, interlace
	writeChunk(&buf, "IHDR", ihdr.Bytes())
	writeChunk(&buf, "IDAT", []byte{0x78, 0x9c, 0x62, 0x60, 0x60, 0x60, 0x00, 0x00, 0x00, 0x04, 0x00, 0x01})
	writeChunk(&buf, "IEND", nil)

	return buf.Bytes()
}

// PDFFileFixture generates a minimal PDF file
func PDFFileFixture() []byte {
	return []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
}

// =============================================================================
// Helper Functions
// =============================================================================

// WriteFile writes data into a fresh temp directory and returns its path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		tb.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

// RandomBytes generates random bytes
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func writeChunk(buf *bytes.Buffer, chunkType string, data []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(chunkType)
	buf.Write(data)
	crc := crc32.ChecksumIEEE(append([]byte(chunkType), data...))
	binary.Write(buf, binary.BigEndian, crc)
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
