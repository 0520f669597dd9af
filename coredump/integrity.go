package coredump

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/digitalsleuth/naft/csimage"
	"github.com/digitalsleuth/naft/cwstrings"
	"github.com/digitalsleuth/naft/elfimg"
	"github.com/digitalsleuth/naft/magic"
)

// IntegrityReport collects the heap's self-consistency checks: blocks that
// fail each check are listed; an empty slice means that check passed for
// every block.
type IntegrityReport struct {
	BadStartMagic []*BlockHeader
	BadEndMagic   []*BlockHeader
	BadPrevBlock  []*BlockHeader
	BadNextBlock  []*BlockHeader
}

// CheckIntegrity runs the four heap-chain invariants against w's blocks.
func CheckIntegrity(w *Walker) IntegrityReport {
	var r IntegrityReport
	for _, bh := range w.Headers {
		raw := bh.GetRawData()
		if len(raw) < 4 || string(raw[0:4]) != string(magic.BlockBegin) {
			r.BadStartMagic = append(r.BadStartMagic, bh)
		}
	}
	for _, bh := range w.Headers {
		raw := bh.GetRawData()
		if len(raw) < 4 {
			continue
		}
		tail := binary.BigEndian.Uint32(raw[len(raw)-4:])
		if tail != magic.BlockCanaryWord && bh.RefCnt > 0 {
			r.BadEndMagic = append(r.BadEndMagic, bh)
		}
	}
	for _, bh := range w.Headers[1:] {
		if bh.PrevBlock == 0 {
			r.BadPrevBlock = append(r.BadPrevBlock, bh)
		}
	}
	if len(w.Headers) > 0 {
		for _, bh := range w.Headers[:len(w.Headers)-1] {
			if bh.NextBlock == 0 {
				r.BadNextBlock = append(r.BadNextBlock, bh)
			}
		}
	}
	return r
}

// TextCheckResult is the outcome of comparing a core dump's text region
// against the matching image's .text section.
type TextCheckResult struct {
	Identical        bool
	DifferentBytes    int
	ShortestLength    int
	FirstDiffAddress  uint32
	CoredumpLonger    bool
	SysDescrCoredump  string
	SysDescrImage     string
	SysDescrIdentical bool
	SysDescrEquivalent bool
}

// CheckText compares the core dump's CW_SYSDESCR and .text bytes against a
// paired firmware image, already parsed by csimage.Parse. Refuses images
// with a sreloc section or any count of executable sections other than
// exactly one.
func CheckText(dump *Dump, image *csimage.Image) (*TextCheckResult, error) {
	textAddress, textCoredump := dump.RegionTEXT()
	if textCoredump == nil {
		return nil, fmt.Errorf("error extracting text region from coredump")
	}

	res := &TextCheckResult{}
	if _, dataCoredump := dump.RegionDATA(); dataCoredump != nil {
		if t := cwstrings.Parse(dataCoredump); t.Error == nil {
			if v, ok := t.Get(cwstrings.KeySysDescr); ok {
				res.SysDescrCoredump = v
			}
		}
	}
	if image.CWStrings != nil && image.CWStrings.Error == nil {
		if v, ok := image.CWStrings.Get(cwstrings.KeySysDescr); ok {
			res.SysDescrImage = v
		}
	}
	if res.SysDescrCoredump != "" || res.SysDescrImage != "" {
		res.SysDescrIdentical = res.SysDescrCoredump == res.SysDescrImage
		res.SysDescrEquivalent = res.SysDescrCoredump == strings.Replace(res.SysDescrImage, "-MZ", "-M", 1)
	}

	elf := elfimg.Parse(image.ImageUncompressed)
	if elf.Error != elfimg.ErrNone {
		return nil, fmt.Errorf("ELF parsing error %d", elf.Error)
	}

	var textSectionData []byte
	countExec, countSReloc := 0, 0
	for _, sh := range elf.Sections {
		if sh.Flags&elfimg.SHFExecInstr != 0 {
			textSectionData = sh.SectionData
			countExec++
		}
		if sh.Name == "sreloc" {
			countSReloc++
		}
	}
	if countExec != 1 {
		return nil, fmt.Errorf("error executable sections in image: found %d sections, expected 1", countExec)
	}
	if countSReloc != 0 {
		return nil, fmt.Errorf("error found %d sreloc section in image: checktext does not support relocation", countSReloc)
	}

	// The start offset into the image's .text section is an empirical
	// rule (the low byte of the text address), not one derived from the
	// ELF layout.
	start := int(textAddress & 0xFF)
	end := start + len(textCoredump)
	if end > len(textSectionData) {
		end = len(textSectionData)
	}
	var textImage []byte
	if start <= end {
		textImage = textSectionData[start:end]
	}
	res.CoredumpLonger = len(textCoredump) != len(textImage)

	shortest := len(textCoredump)
	if len(textImage) < shortest {
		shortest = len(textImage)
	}
	res.ShortestLength = shortest
	for i := 0; i < shortest; i++ {
		if textCoredump[i] != textImage[i] {
			if res.DifferentBytes == 0 {
				res.FirstDiffAddress = textAddress + uint32(i)
			}
			res.DifferentBytes++
		}
	}
	res.Identical = res.DifferentBytes == 0
	return res, nil
}
