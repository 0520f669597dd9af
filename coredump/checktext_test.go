package coredump

import (
	"encoding/binary"
	"testing"

	"github.com/digitalsleuth/naft/csimage"
)

func buildExecELFHeader(countSections uint32) []byte {
	h := make([]byte, 52)
	copy(h[0:4], "\x7FELF")
	h[4] = 1
	h[5] = 2
	binary.BigEndian.PutUint32(h[28:32], 52)
	binary.BigEndian.PutUint32(h[32:36], 52+32)
	binary.BigEndian.PutUint16(h[40:42], 52)
	binary.BigEndian.PutUint16(h[42:44], 32)
	binary.BigEndian.PutUint16(h[44:46], 1)
	binary.BigEndian.PutUint16(h[46:48], 40)
	binary.BigEndian.PutUint16(h[48:50], uint16(countSections))
	binary.BigEndian.PutUint16(h[50:52], 0)
	return h
}

func buildExecELFSectionHeader(flags, offset, size uint32) []byte {
	sh := make([]byte, 40)
	binary.BigEndian.PutUint32(sh[8:12], flags)
	binary.BigEndian.PutUint32(sh[16:20], offset)
	binary.BigEndian.PutUint32(sh[20:24], size)
	return sh
}

// buildSingleExecImage builds a minimal 2-section ELF (a null section plus
// one executable section) holding sectionData as its .text payload.
func buildSingleExecImage(sectionData []byte) []byte {
	const numSections = 2
	headerSize := 52 + 32 + numSections*40
	sh0 := buildExecELFSectionHeader(0, uint32(headerSize), 0)
	sh1 := buildExecELFSectionHeader(0x4 /* SHFExecInstr */, uint32(headerSize), uint32(len(sectionData)))

	var out []byte
	out = append(out, buildExecELFHeader(numSections)...)
	out = append(out, make([]byte, 32)...) // program header
	out = append(out, sh0...)
	out = append(out, sh1...)
	out = append(out, sectionData...)
	return out
}

func TestCheckTextIdentical(t *testing.T) {
	buf, begin := buildRegionDump(t)
	dump := Parse(buf)
	if dump.Error != nil {
		t.Fatalf("unexpected dump error: %v", dump.Error)
	}
	_, textCoredump := dump.RegionTEXT()

	start := int((begin + 0x10) & 0xFF)
	sectionData := make([]byte, start+len(textCoredump))
	copy(sectionData[start:], textCoredump)
	image := &csimage.Image{ImageUncompressed: buildSingleExecImage(sectionData)}

	res, err := CheckText(dump, image)
	if err != nil {
		t.Fatalf("CheckText: %v", err)
	}
	if !res.Identical {
		t.Errorf("expected Identical=true, got DifferentBytes=%d", res.DifferentBytes)
	}
}

func TestCheckTextDetectsDifference(t *testing.T) {
	buf, begin := buildRegionDump(t)
	dump := Parse(buf)
	if dump.Error != nil {
		t.Fatalf("unexpected dump error: %v", dump.Error)
	}
	_, textCoredump := dump.RegionTEXT()

	start := int((begin + 0x10) & 0xFF)
	sectionData := make([]byte, start+len(textCoredump))
	copy(sectionData[start:], textCoredump)
	sectionData[start] ^= 0xFF // corrupt the first byte

	image := &csimage.Image{ImageUncompressed: buildSingleExecImage(sectionData)}
	res, err := CheckText(dump, image)
	if err != nil {
		t.Fatalf("CheckText: %v", err)
	}
	if res.Identical {
		t.Error("expected Identical=false after corrupting a byte")
	}
	if res.DifferentBytes != 1 {
		t.Errorf("DifferentBytes = %d, want 1", res.DifferentBytes)
	}
	if res.FirstDiffAddress != begin+0x10 {
		t.Errorf("FirstDiffAddress = %#x, want %#x", res.FirstDiffAddress, begin+0x10)
	}
}

func TestCheckTextRejectsMultipleExecSections(t *testing.T) {
	buf, _ := buildRegionDump(t)
	dump := Parse(buf)
	if dump.Error != nil {
		t.Fatalf("unexpected dump error: %v", dump.Error)
	}

	const numSections = 3
	headerSize := 52 + 32 + numSections*40
	sh0 := buildExecELFSectionHeader(0, uint32(headerSize), 0)
	sh1 := buildExecELFSectionHeader(0x4, uint32(headerSize), 4)
	sh2 := buildExecELFSectionHeader(0x4, uint32(headerSize)+4, 4)
	var data []byte
	data = append(data, buildExecELFHeader(numSections)...)
	data = append(data, make([]byte, 32)...)
	data = append(data, sh0...)
	data = append(data, sh1...)
	data = append(data, sh2...)
	data = append(data, make([]byte, 8)...)

	image := &csimage.Image{ImageUncompressed: data}
	if _, err := CheckText(dump, image); err == nil {
		t.Error("expected an error for an image with two executable sections")
	}
}
