// Package elfimg parses the big-endian 32-bit ELF container Cisco IOS
// firmware images are wrapped in. It only understands the subset of ELF
// the Cisco SFX loader actually produces; anything else is reported as a
// numbered parse error, never a panic.
package elfimg

import (
	"encoding/binary"

	"github.com/digitalsleuth/naft/magic"
)

// Header parse error codes (0 = OK).
const (
	ErrNone           = 0
	ErrTooShort       = 1
	ErrBadMagic       = 2
	ErrNot32Bit       = 3
	ErrNotMSB         = 4
	ErrHeaderSize     = 5
	ErrProgHeaderSize = 6
	ErrProgHeaderCnt  = 7
	ErrSectHeaderSize = 8
	ErrSectionsShort  = 9
)

// defaultSectionNames is the fallback name table used when the ELF has no
// string table section (stringTableIndex == 0), lifted from the fixed
// layout Cisco's SFX loader emits.
var defaultSectionNames = map[uint32]string{
	0:  "",
	1:  ".shstrtab",
	11: ".text",
	17: ".rodata",
	25: ".sdata2",
	33: ".data",
	39: ".sdata",
	46: ".sbss",
	52: ".bss",
}

// SectionHeader is one parsed 40-byte ELF section header, together with a
// resolved name and a byte view into the parent image.
type SectionHeader struct {
	raw         [40]byte
	NameIndex   uint32
	Name        string
	Type        uint32
	Flags       uint32
	Offset      uint32
	Size        uint32
	SectionData []byte
}

const (
	// SHFExecInstr marks a section as holding executable instructions.
	SHFExecInstr uint32 = 0x4
)

func parseSectionHeader(raw []byte, parent []byte) SectionHeader {
	var sh SectionHeader
	copy(sh.raw[:], raw[:40])
	sh.NameIndex = binary.BigEndian.Uint32(raw[0:4])
	sh.Type = binary.BigEndian.Uint32(raw[4:8])
	sh.Flags = binary.BigEndian.Uint32(raw[8:12])
	sh.Offset = binary.BigEndian.Uint32(raw[16:20])
	sh.Size = binary.BigEndian.Uint32(raw[20:24])
	end := uint64(sh.Offset) + uint64(sh.Size)
	if end <= uint64(len(parent)) {
		sh.SectionData = parent[sh.Offset : sh.Offset+sh.Size]
	} else {
		sh.SectionData = nil
	}
	return sh
}

// GetHeader returns the 40-byte section header, optionally substituting a
// new file offset and/or size (used when repacking an image). A nil
// pointer leaves the corresponding field unchanged.
func (sh SectionHeader) GetHeader(offset, size *uint32) []byte {
	out := make([]byte, 40)
	copy(out[0:16], sh.raw[0:16])
	if offset == nil {
		copy(out[16:20], sh.raw[16:20])
	} else {
		binary.BigEndian.PutUint32(out[16:20], *offset)
	}
	if size == nil {
		copy(out[20:24], sh.raw[20:24])
	} else {
		binary.BigEndian.PutUint32(out[20:24], *size)
	}
	copy(out[24:40], sh.raw[24:40])
	return out
}

// Image is a parsed big-endian 32-bit ELF container.
type Image struct {
	data []byte

	Error int

	EntryAddress     uint32
	ProgramOffset    uint32
	SectionOffset    uint32
	Flags            uint32
	StringTableIndex uint16
	CountSections    uint16
	Sections         []SectionHeader
}

// Parse parses data as a Cisco-style big-endian 32-bit ELF image.
func Parse(data []byte) *Image {
	img := &Image{data: data}
	img.parseHeader()
	if img.Error == ErrNone {
		img.parseSectionHeaders()
	}
	return img
}

func (img *Image) parseHeader() {
	d := img.data
	if len(d) < magic.ELFHeaderSize {
		img.Error = ErrTooShort
		return
	}
	if string(d[0:4]) != magic.ELFMagic {
		img.Error = ErrBadMagic
		return
	}
	if d[4] != magic.ELFClass32 {
		img.Error = ErrNot32Bit
		return
	}
	if d[5] != magic.ELFDataMSB {
		img.Error = ErrNotMSB
		return
	}
	img.EntryAddress = binary.BigEndian.Uint32(d[24:28])
	img.ProgramOffset = binary.BigEndian.Uint32(d[28:32])
	img.SectionOffset = binary.BigEndian.Uint32(d[32:36])
	img.Flags = binary.BigEndian.Uint32(d[36:40])
	elfHeaderSize := binary.BigEndian.Uint16(d[40:42])
	progHeaderSize := binary.BigEndian.Uint16(d[42:44])
	progHeaderCount := binary.BigEndian.Uint16(d[44:46])
	sectHeaderSize := binary.BigEndian.Uint16(d[46:48])
	countSections := binary.BigEndian.Uint16(d[48:50])
	stringTableIndex := binary.BigEndian.Uint16(d[50:52])

	if elfHeaderSize != magic.ELFHeaderSize {
		img.Error = ErrHeaderSize
		return
	}
	if progHeaderSize != magic.ELFProgHdrSize {
		img.Error = ErrProgHeaderSize
		return
	}
	if progHeaderCount != magic.ELFProgHdrCnt {
		img.Error = ErrProgHeaderCnt
		return
	}
	if sectHeaderSize != magic.ELFSectHdrSize {
		img.Error = ErrSectHeaderSize
		return
	}
	img.CountSections = countSections
	img.StringTableIndex = stringTableIndex
}

func (img *Image) getNullTerminatedString(index uint32) string {
	d := img.data
	start := index
	for int(index) < len(d) && d[index] != 0 {
		index++
	}
	if int(start) > len(d) {
		return ""
	}
	return string(d[start:index])
}

func (img *Image) parseSectionHeaders() {
	d := img.data
	need := uint64(img.SectionOffset) + uint64(img.CountSections)*magic.ELFSectHdrSize
	if uint64(len(d)) < need {
		img.Error = ErrSectionsShort
		return
	}
	img.Sections = make([]SectionHeader, img.CountSections)
	for i := range img.Sections {
		off := int(img.SectionOffset) + i*magic.ELFSectHdrSize
		img.Sections[i] = parseSectionHeader(d[off:off+magic.ELFSectHdrSize], d)
	}
	if img.StringTableIndex == 0 {
		for i := range img.Sections {
			if name, ok := defaultSectionNames[img.Sections[i].NameIndex]; ok {
				img.Sections[i].Name = name
			}
		}
		return
	}
	if int(img.StringTableIndex) >= len(img.Sections) {
		return
	}
	strTab := img.Sections[img.StringTableIndex]
	for i := range img.Sections {
		img.Sections[i].Name = img.getNullTerminatedString(strTab.Offset + img.Sections[i].NameIndex)
	}
}

// GetHeader returns the first 52 bytes of the image (the raw ELF header).
func (img *Image) GetHeader() []byte {
	return img.data[0:magic.ELFHeaderSize]
}

// GetProgramHeader returns the 32-byte program header with its length
// field patched to length, and its second length-like field (offset
// +0x10000 by IOS SFX convention) patched to length+0x10000. Every other
// byte is unchanged.
func (img *Image) GetProgramHeader(length uint32) []byte {
	d := img.data
	base := int(img.ProgramOffset)
	out := make([]byte, 32)
	copy(out[0:16], d[base:base+16])
	binary.BigEndian.PutUint32(out[16:20], length)
	binary.BigEndian.PutUint32(out[20:24], length+0x10000)
	copy(out[24:32], d[base+24:base+32])
	return out
}
