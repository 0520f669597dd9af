package csimage

import (
	"archive/zip"
	"bytes"
	"fmt"

	"github.com/digitalsleuth/naft/magic"
)

// ZipDecompressor is the default Decompressor, backed by the standard
// library's archive/zip. It is the one concrete implementation this
// module ships; spec.md treats ZIP handling as an external black box, and
// archive/zip is the correct stdlib stand-in for it (no third-party zip
// reader appears anywhere in the example pack to prefer instead).
type ZipDecompressor struct{}

// Decompress implements Decompressor.
func (ZipDecompressor) Decompress(zipData []byte) (string, []byte, error) {
	r, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return "", nil, zipStageError{ErrZipParse}
	}
	if len(r.File) == 0 {
		return "", nil, zipStageError{ErrZipEmpty}
	}
	if len(r.File) > 1 {
		return "", nil, zipStageError{ErrZipMultiple}
	}
	f := r.File[0]
	rc, err := f.Open()
	if err != nil {
		return "", nil, zipStageError{ErrZipDecompress}
	}
	defer rc.Close()
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(rc); err != nil {
		return "", nil, zipStageError{ErrZipDecompress}
	}
	return f.Name, buf.Bytes(), nil
}

// Compress builds a single-entry ZIP archive and wraps it with the
// FEEDFACE header (sizes + checksums) the Cisco SFX loader expects.
func Compress(name string, payload []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	fw, err := w.Create(name)
	if err != nil {
		return nil, fmt.Errorf("creating zip entry: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, fmt.Errorf("writing zip entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing zip writer: %w", err)
	}
	zipBytes := buf.Bytes()

	out := make([]byte, 0, len(magic.FeedFace)+16+len(zipBytes))
	out = append(out, magic.FeedFace...)
	out = appendU32(out, uint32(len(payload)))
	out = appendU32(out, uint32(len(zipBytes)))
	out = appendU32(out, CalcChecksum(zipBytes))
	out = appendU32(out, CalcChecksum(payload))
	out = append(out, zipBytes...)
	return out, nil
}

func appendU32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Pack reconstructs a valid ELF image around a new uncompressed payload,
// for the 6- or 7-section layouts IOS SFX images use. It returns nil for
// any other section count.
func (img *Image) Pack(name string, payload []byte) ([]byte, error) {
	elf := img.ELF
	switch elf.CountSections {
	case 6:
		return img.packN(name, payload, 4)
	case 7:
		return img.packN(name, payload, 5)
	default:
		return nil, nil
	}
}

// packN implements Pack for a layout whose compressed-payload section is
// at index sfxSections (4 for the 6-section layout, 5 for the 7-section
// layout); the trailer (embedded-MD5) section is the one right after it.
func (img *Image) packN(name string, payload []byte, sfxSections int) ([]byte, error) {
	elf := img.ELF
	compressed, err := Compress(name, payload)
	if err != nil {
		return nil, err
	}

	var sfx []byte
	for i := 0; i < sfxSections; i++ {
		sfx = append(sfx, elf.Sections[i].SectionData...)
	}
	compressedIdx := sfxSections
	trailerIdx := sfxSections + 1

	out := append([]byte{}, elf.GetHeader()...)
	out = append(out, elf.GetProgramHeader(uint32(len(sfx)+len(compressed)+len(elf.Sections[trailerIdx].SectionData)))...)
	for i := 0; i < sfxSections; i++ {
		out = append(out, elf.Sections[i].GetHeader(nil, nil)...)
	}
	lengthHeaders := len(out) + 2*len(elf.Sections[trailerIdx].GetHeader(nil, nil))
	compOffset := uint32(lengthHeaders + len(sfx))
	compSize := uint32(len(compressed))
	out = append(out, elf.Sections[compressedIdx].GetHeader(&compOffset, &compSize)...)
	trailerOffset := uint32(lengthHeaders + len(sfx) + len(compressed))
	trailerSize := uint32(len(elf.Sections[trailerIdx].SectionData))
	out = append(out, elf.Sections[trailerIdx].GetHeader(&trailerOffset, &trailerSize)...)
	out = append(out, sfx...)
	out = append(out, compressed...)
	out = append(out, elf.Sections[trailerIdx].SectionData...)
	return out, nil
}

// ImageUncompressedIDAPro returns the uncompressed image with its ELF
// machine field patched to PowerPC (0x0014), which is what IDA Pro needs
// to disassemble a Cisco IOS image correctly.
func (img *Image) ImageUncompressedIDAPro() []byte {
	out := make([]byte, len(img.ImageUncompressed))
	copy(out, img.ImageUncompressed)
	if len(out) >= 20 {
		out[18] = 0x00
		out[19] = 0x14
	}
	return out
}
