package parser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cvalentine99/binscore/internal/logging"
	"github.com/cvalentine99/binscore/test/fixtures"
)

// Offsets into images produced by fixtures.PEBuilder.
const (
	fixtureCoff     = fixtures.PEHeaderOffset + 4
	fixtureNumSects = fixtureCoff + 2
	fixtureOptSize  = fixtureCoff + 16
	fixtureOptMagic = fixtureCoff + 20
)

func TestParsePE_Minimal(t *testing.T) {
	text := bytes.Repeat([]byte{0x55, 0x8B, 0xEC, 0x33, 0xC0, 0x5D, 0xC3, 0x90}, 64)
	b := fixtures.NewPEBuilder().
		AddSection(".text", text, fixtures.SectionText).
		AddSection(".data", []byte("hello, world\x00"), fixtures.SectionData)
	data := b.Build()

	pb, err := ParsePE(data)
	if err != nil {
		t.Fatalf("ParsePE failed: %v", err)
	}

	if pb.Format != FormatPE {
		t.Errorf("Expected format %q, got %q", FormatPE, pb.Format)
	}
	if pb.Machine != fixtures.MachineI386 {
		t.Errorf("Expected machine 0x%x, got 0x%x", fixtures.MachineI386, pb.Machine)
	}
	if pb.Is64 {
		t.Error("Expected PE32 image")
	}
	if pb.Timestamp != b.Timestamp {
		t.Errorf("Expected timestamp %d, got %d", b.Timestamp, pb.Timestamp)
	}
	if pb.SizeOfCode != fixtures.RawSize(text) {
		t.Errorf("Expected SizeOfCode %d, got %d", fixtures.RawSize(text), pb.SizeOfCode)
	}
	if pb.SizeOfHeaders != b.SizeOfHeaders() {
		t.Errorf("Expected SizeOfHeaders %d, got %d", b.SizeOfHeaders(), pb.SizeOfHeaders)
	}
	if pb.SizeOfImage != b.SizeOfImage() {
		t.Errorf("Expected SizeOfImage %d, got %d", b.SizeOfImage(), pb.SizeOfImage)
	}
	if pb.Subsystem != fixtures.SubsystemConsole {
		t.Errorf("Expected subsystem %d, got %d", fixtures.SubsystemConsole, pb.Subsystem)
	}
	if pb.DllCharacteristics != b.DllCharacteristics {
		t.Errorf("Expected DllCharacteristics 0x%x, got 0x%x", b.DllCharacteristics, pb.DllCharacteristics)
	}
	if pb.Characteristics != fixtures.FileExecutable {
		t.Errorf("Expected characteristics 0x%x, got 0x%x", fixtures.FileExecutable, pb.Characteristics)
	}

	if pb.NumSections() != 2 {
		t.Fatalf("Expected 2 sections, got %d", pb.NumSections())
	}
	sec := pb.Sections[0]
	if sec.Name != ".text" {
		t.Errorf("Expected .text, got %q", sec.Name)
	}
	if sec.Size != fixtures.RawSize(text) {
		t.Errorf("Expected raw size %d, got %d", fixtures.RawSize(text), sec.Size)
	}
	if sec.VirtualSize != uint32(len(text)) {
		t.Errorf("Expected virtual size %d, got %d", len(text), sec.VirtualSize)
	}
	if sec.Offset != b.SizeOfHeaders() {
		t.Errorf("Expected raw offset %d, got %d", b.SizeOfHeaders(), sec.Offset)
	}
	if sec.Characteristics != fixtures.SectionText {
		t.Errorf("Expected characteristics 0x%x, got 0x%x", fixtures.SectionText, sec.Characteristics)
	}
	if sec.Entropy <= 0 || sec.Entropy >= 8 {
		t.Errorf("Expected .text entropy in (0, 8), got %f", sec.Entropy)
	}
	if pb.Sections[1].Name != ".data" || pb.Sections[1].Entropy <= 0 {
		t.Errorf("Unexpected .data section: %+v", pb.Sections[1])
	}
}

func TestParsePE_PE32Plus(t *testing.T) {
	data := fixtures.PackedPE()

	pb, err := ParsePE(data)
	if err != nil {
		t.Fatalf("ParsePE failed: %v", err)
	}
	if !pb.Is64 {
		t.Error("Expected PE32+ image")
	}
	if pb.Machine != fixtures.MachineAMD64 {
		t.Errorf("Expected machine 0x%x, got 0x%x", fixtures.MachineAMD64, pb.Machine)
	}
	if pb.Subsystem != fixtures.SubsystemGUI {
		t.Errorf("Expected GUI subsystem, got %d", pb.Subsystem)
	}
	if pb.NumSections() != 3 {
		t.Fatalf("Expected 3 sections, got %d", pb.NumSections())
	}

	// Empty section has no raw data.
	if pb.Sections[0].Size != 0 || pb.Sections[0].Entropy != 0 {
		t.Errorf("Expected empty UPX0, got %+v", pb.Sections[0])
	}
	if pb.Sections[1].Entropy < 7.5 {
		t.Errorf("Expected high entropy for random section, got %f", pb.Sections[1].Entropy)
	}
	if pb.Sections[2].Entropy != 0 {
		t.Errorf("Expected zero entropy for zero-filled section, got %f", pb.Sections[2].Entropy)
	}
}

func TestParsePE_Malformed(t *testing.T) {
	valid := fixtures.MinimalPE()

	mutate := func(fn func(b []byte) []byte) []byte {
		b := bytes.Clone(valid)
		return fn(b)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"one byte", []byte{'M'}, ErrTruncated},
		{"bare mz", []byte("MZ"), ErrTruncated},
		{"mz only", fixtures.MZOnly(), ErrTruncated},
		{"short text", []byte("#!/bin/sh\necho hi\n"), ErrNotPE},
		{"two bytes", []byte{0x7f, 'E'}, ErrNotPE},
		{"png", fixtures.PNGFileFixture(4, 4), ErrNotPE},
		{"text", []byte(strings.Repeat("not an executable ", 10)), ErrNotPE},
		{"lfanew past eof", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[0x3C:], 0x7FFFFFFF)
			return b
		}), ErrTruncated},
		{"bad pe signature", mutate(func(b []byte) []byte {
			b[fixtures.PEHeaderOffset] = 'X'
			return b
		}), ErrNotPE},
		{"cut inside optional header", valid[:fixtureOptMagic+40], ErrTruncated},
		{"unknown magic", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[fixtureOptMagic:], 0x107)
			return b
		}), ErrOptionalHeader},
		{"optional header too small", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[fixtureOptSize:], 16)
			return b
		}), ErrOptionalHeader},
		{"too many sections", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[fixtureNumSects:], MaxSections+1)
			return b
		}), ErrSectionTable},
		{"section table past eof", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[fixtureNumSects:], 90)
			return b
		}), ErrSectionTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb, err := ParsePE(tt.data)
			if err == nil {
				t.Fatalf("Expected error, got %+v", pb)
			}
			if pb != nil {
				t.Error("Expected nil result on error")
			}
			if !IsParseError(err) {
				t.Errorf("Expected *ParseError, got %T: %v", err, err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParsePE_SectionDataMissing(t *testing.T) {
	data := fixtures.MinimalPE()
	headers := binary.LittleEndian.Uint32(data[fixtureOptMagic+60:])

	pb, err := ParsePE(data[:headers])
	if err != nil {
		t.Fatalf("Expected headers-only image to parse, got %v", err)
	}
	if pb.NumSections() != 2 {
		t.Fatalf("Expected 2 sections, got %d", pb.NumSections())
	}
	for _, s := range pb.Sections {
		if s.Entropy != 0 {
			t.Errorf("Expected zero entropy for missing section %s, got %f", s.Name, s.Entropy)
		}
		if s.Size == 0 {
			t.Errorf("Expected declared size to be preserved for %s", s.Name)
		}
	}
}

func TestPEParser_EntropySections(t *testing.T) {
	b := fixtures.NewPEBuilder()
	for i := 0; i < 10; i++ {
		b.AddSection(fmt.Sprintf(".s%d", i), fixtures.RandomBytes(1024), fixtures.SectionData)
	}
	data := b.Build()

	pb, err := ParsePE(data)
	if err != nil {
		t.Fatalf("ParsePE failed: %v", err)
	}
	for i, s := range pb.Sections {
		computed := s.Entropy > 0
		if computed != (i < DefaultEntropySections) {
			t.Errorf("Section %d: entropy %f, expected computed=%v", i, s.Entropy, i < DefaultEntropySections)
		}
	}

	pb, err = NewPEParser().WithEntropySections(-1).Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for i, s := range pb.Sections {
		if s.Entropy <= 0 {
			t.Errorf("Section %d: expected entropy to be computed", i)
		}
	}
}

type panickingReader struct{}

func (panickingReader) ReadAt([]byte, int64) (int, error) {
	panic("boom")
}

type failingReader struct{ err error }

func (r failingReader) ReadAt([]byte, int64) (int, error) {
	return 0, r.err
}

func TestParsePE_RecoversPanic(t *testing.T) {
	_, err := NewPEParser().Parse(panickingReader{}, 4096)
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("Expected ErrPanic, got %v", err)
	}
}

func TestParsePE_ReaderError(t *testing.T) {
	sentinel := errors.New("disk on fire")
	_, err := NewPEParser().Parse(failingReader{sentinel}, 4096)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected reader error to be wrapped, got %v", err)
	}
	if IsParseError(err) {
		t.Error("Reader failures must not be reported as parse errors")
	}
}

func TestParseError_Message(t *testing.T) {
	err := &ParseError{Reason: ErrSectionTable, Offset: 392, Detail: "90 sections"}
	msg := err.Error()
	if !strings.Contains(msg, "392") || !strings.Contains(msg, "90 sections") {
		t.Errorf("Unexpected message: %s", msg)
	}
}

func BenchmarkParsePE(b *testing.B) {
	data := fixtures.PackedPE()
	p := NewPEParser()
	r := bytes.NewReader(data)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Parse(r, int64(len(data))); err != nil {
			b.Fatal(err)
		}
	}
}

func TestParse_LogsFailureAtDebug(t *testing.T) {
	var buf bytes.Buffer
	p := NewPEParser()
	p.logger = logging.New(&logging.Config{Level: logging.LevelDebug, Output: &buf, Format: "json"})

	data := []byte("plain text")
	if _, err := p.Parse(bytes.NewReader(data), int64(len(data))); !errors.Is(err, ErrNotPE) {
		t.Fatalf("Expected ErrNotPE, got %v", err)
	}
	if !strings.Contains(buf.String(), `"msg":"pe parse failed"`) {
		t.Errorf("Expected debug log for parse failure, got %q", buf.String())
	}

	buf.Reset()
	valid := fixtures.MinimalPE()
	if _, err := p.Parse(bytes.NewReader(valid), int64(len(valid))); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no log for a valid image, got %q", buf.String())
	}
}
