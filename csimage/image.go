// Package csimage locates and validates the Cisco-specific sections
// embedded in an IOS firmware ELF image: the compressed inner image
// (FEEDFACE), the embedded MD5 digest (FADEFAD1), and the CW_ metadata
// strings — then exposes the decompressed payload and both declared and
// calculated checksums.
package csimage

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/digitalsleuth/naft/cwstrings"
	"github.com/digitalsleuth/naft/elfimg"
	"github.com/digitalsleuth/naft/magic"
)

// CiscoImage error codes (0 = OK).
const (
	ErrNone                  = 0
	ErrELF                   = 1
	ErrMultipleFeedFace      = 2
	ErrMultipleFadeFad1      = 3
	ErrFeedFaceNotFound      = 4
	ErrZipParse              = 5
	ErrZipNamelist           = 6
	ErrZipEmpty              = 7
	ErrZipMultiple           = 8
	ErrZipDecompress         = 9
	ErrMultipleCWStringsSect = 10
)

// Decompressor extracts the single uncompressed file held in a ZIP
// archive. The core treats ZIP decompression as an external black box:
// anything satisfying this interface (including a fake, in tests) can
// stand in for it.
type Decompressor interface {
	Decompress(zipData []byte) (name string, data []byte, err error)
}

// Image is a parsed Cisco IOS firmware image: the wrapping ELF container
// plus the three specially recognized sections it carries.
type Image struct {
	ELF *elfimg.Image

	SectionCompressed *elfimg.SectionHeader
	SectionEmbeddedMD5 *elfimg.SectionHeader
	SectionCWStrings  *elfimg.SectionHeader

	SizeUncompressed       uint32
	SizeCompressed         uint32
	ChecksumCompressed     uint32
	ChecksumUncompressed   uint32
	CalculatedChecksumCompressed   uint32
	CalculatedChecksumUncompressed uint32

	ImageUncompressedName string
	ImageUncompressed     []byte

	CalculatedMD5 string
	EmbeddedMD5   string

	CWStrings *cwstrings.Table

	Error int
}

// Parse locates and validates the Cisco sections in an ELF firmware image,
// decompressing the inner payload via dec.
func Parse(data []byte, dec Decompressor) *Image {
	img := &Image{}
	elf := elfimg.Parse(data)
	img.ELF = elf
	if elf.Error != elfimg.ErrNone {
		img.Error = ErrELF
		return img
	}

	compressed, embeddedMD5, cwStrings, err := classifySections(elf)
	if err != nil {
		img.Error = err.(classifyError).code
	}
	img.SectionCompressed = compressed
	img.SectionEmbeddedMD5 = embeddedMD5
	img.SectionCWStrings = cwStrings

	if embeddedMD5 != nil {
		img.EmbeddedMD5 = extractEmbeddedMD5(embeddedMD5.SectionData)
	}
	if cwStrings != nil {
		img.CWStrings = cwstrings.Parse(cwStrings.SectionData)
	}

	img.CalculatedMD5 = calculateImageMD5(elf.Sections)

	if img.Error != ErrNone {
		return img
	}

	if compressed == nil {
		img.Error = ErrFeedFaceNotFound
		return img
	}

	sd := compressed.SectionData
	off := len(magic.FeedFace)
	img.SizeUncompressed = binary.BigEndian.Uint32(sd[off : off+4])
	img.SizeCompressed = binary.BigEndian.Uint32(sd[off+4 : off+8])
	img.ChecksumCompressed = binary.BigEndian.Uint32(sd[off+8 : off+12])
	img.ChecksumUncompressed = binary.BigEndian.Uint32(sd[off+12 : off+16])

	zipStart := off + 16
	zipEnd := zipStart + int(img.SizeCompressed)
	if zipEnd > len(sd) {
		zipEnd = len(sd)
	}
	zipData := sd[zipStart:zipEnd]
	img.CalculatedChecksumCompressed = CalcChecksum(zipData)

	name, payload, err := dec.Decompress(zipData)
	if err != nil {
		if ze, ok := err.(zipStageError); ok {
			img.Error = ze.code
		} else {
			img.Error = ErrZipDecompress
		}
		return img
	}
	img.ImageUncompressedName = name
	img.ImageUncompressed = payload
	img.CalculatedChecksumUncompressed = CalcChecksum(payload)
	return img
}

type classifyError struct {
	code int
}

func (e classifyError) Error() string { return fmt.Sprintf("cisco image classify error %d", e.code) }

type zipStageError struct {
	code int
}

func (e zipStageError) Error() string { return fmt.Sprintf("zip stage error %d", e.code) }

func classifySections(elf *elfimg.Image) (compressed, embeddedMD5, cwStrings *elfimg.SectionHeader, err error) {
	for i := range elf.Sections {
		sh := &elf.Sections[i]
		switch {
		case bytes.HasPrefix(sh.SectionData, magic.FeedFace):
			if compressed != nil {
				return compressed, embeddedMD5, cwStrings, classifyError{ErrMultipleFeedFace}
			}
			compressed = sh
		case bytes.Contains(sh.SectionData, magic.FadeFad1):
			if embeddedMD5 != nil {
				return compressed, embeddedMD5, cwStrings, classifyError{ErrMultipleFadeFad1}
			}
			embeddedMD5 = sh
		case bytes.Contains(sh.SectionData, magic.CWBegin):
			if cwStrings != nil {
				return compressed, embeddedMD5, cwStrings, classifyError{ErrMultipleCWStringsSect}
			}
			cwStrings = sh
		}
	}
	return compressed, embeddedMD5, cwStrings, nil
}

func extractEmbeddedMD5(data []byte) string {
	index := bytes.Index(data, magic.FadeFad1)
	if index < 0 {
		return ""
	}
	start := index + len(magic.FadeFad1)
	if start+16 > len(data) {
		return ""
	}
	return hex.EncodeToString(data[start : start+16])
}

// calculateImageMD5 hashes every section's bytes in order, skipping the
// two payload-bearing sections (indices 3 and 4, the SFX loader tail and
// the FEEDFACE payload in the layout IOS images use).
func calculateImageMD5(sections []elfimg.SectionHeader) string {
	h := md5.New()
	for i, sh := range sections {
		if i == 3 || i == 4 {
			continue
		}
		h.Write(sh.SectionData)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CalcChecksum is the IOS image's one's-complement-style 32-bit checksum
// over big-endian 4-byte words; any trailing remainder (< 4 bytes) is
// silently ignored.
func CalcChecksum(data []byte) uint32 {
	var sum uint64
	n := len(data) - len(data)%4
	for i := 0; i < n; i += 4 {
		sum += uint64(binary.BigEndian.Uint32(data[i : i+4]))
		if sum > 0xFFFFFFFF {
			sum = (sum + 1) & 0xFFFFFFFF
		}
	}
	return uint32(sum)
}

// Entropy computes the Shannon entropy (bits/byte) of data.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	size := float64(len(data))
	var result float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / size
		result -= p * math.Log2(p)
	}
	return result
}

// MD5Lookup is the external MD5 database the CLI uses to identify a known
// image by its full-file MD5 digest. CSV ingestion is out of scope for
// this module (spec.md treats it as an external collaborator); callers
// supply any implementation; the CLI's is backed by a single CSV file.
type MD5Lookup interface {
	Find(md5hash string) (csvName, fileName string, ok bool)
}
