// Package coredump reconstructs the memory layout, heap allocator state,
// and process table of a Cisco IOS core dump captured from a router's RAM.
package coredump

import (
	"encoding/binary"
	"fmt"

	"github.com/digitalsleuth/naft/magic"
	"github.com/digitalsleuth/naft/scan"
	"github.com/digitalsleuth/naft/textnorm"
)

// region is one named span of the core dump's address space. size is nil
// when no size could be computed: the address lies outside the image, or
// the next in-range address is lower. The "end" marker only bounds the
// last real region and is never stored as a region.
type region struct {
	name    string
	address uint32
	size    *uint32
	offset  uint32
}

// Dump is a parsed IOS core dump: the raw bytes plus the five named memory
// regions (begin, text, data, bss, heap) recovered from the DEAD1234 metadata
// record and the heap's own start-of-chain magic.
type Dump struct {
	data    []byte
	address uint32
	regions []region

	Error error
}

// Parse locates the DEAD1234 region-map record in data and recovers the
// text/data/bss/heap region boundaries.
func Parse(data []byte) *Dump {
	d := &Dump{data: data}

	idx := scan.FindAll(data, magic.Regions)
	if len(idx) == 0 {
		d.Error = fmt.Errorf("magic sequence %x not found", magic.Regions)
		return d
	}
	meta := idx[0]

	if len(data) < meta+24 {
		d.Error = fmt.Errorf("truncated region metadata")
		return d
	}
	if string(data[meta+4:meta+8]) != string(magic.RegionsVers) {
		d.Error = fmt.Errorf("unexpected data found: %x", data[meta+4:meta+8])
		return d
	}

	begin := binary.BigEndian.Uint32(data[meta+20 : meta+24])
	text := binary.BigEndian.Uint32(data[meta+24 : meta+28])
	dataAddr := binary.BigEndian.Uint32(data[meta+28 : meta+32])
	bss := binary.BigEndian.Uint32(data[meta+32 : meta+36])

	searchFrom := int(bss - begin)
	if searchFrom < 0 || searchFrom > len(data) {
		d.Error = fmt.Errorf("bss offset out of range")
		return d
	}
	heapIdx := -1
	for _, i := range scan.FindAll(data[searchFrom:], magic.BlockBegin) {
		heapIdx = i + searchFrom
		break
	}
	if heapIdx < 0 {
		d.Error = fmt.Errorf("magic sequence %x not found", magic.BlockBegin)
		return d
	}

	d.address = begin
	addressBegin := begin
	addressEnd := begin + uint32(len(data))

	candidates := []struct {
		name    string
		address uint32
	}{
		{"begin", begin},
		{"text", text},
		{"data", dataAddr},
		{"bss", bss},
		{"heap", begin + uint32(heapIdx)},
		{"end", addressEnd},
	}

	// A candidate whose address falls outside [addressBegin, addressEnd] is
	// never dropped: it stays in d.regions with a nil size (matching
	// impf.py's None-sized tuples), so a damaged image still reports the
	// region as present but size-unknown instead of silently vanishing.
	// Adjacency sizes are computed across the surviving in-range entries
	// only, same as impf.py's indices list.
	var inRangeIdx []int
	for i, c := range candidates {
		if c.address >= addressBegin && c.address <= addressEnd {
			inRangeIdx = append(inRangeIdx, i)
		}
	}

	sizes := make([]*uint32, len(candidates))
	for i := 0; i < len(inRangeIdx)-1; i++ {
		this, next := candidates[inRangeIdx[i]], candidates[inRangeIdx[i+1]]
		if next.address < this.address {
			// A damaged region map whose addresses aren't monotonically
			// increasing: treat the same as out-of-range rather than let
			// the subtraction wrap into a bogus multi-gigabyte size.
			continue
		}
		size := next.address - this.address
		sizes[inRangeIdx[i]] = &size
	}

	for i, c := range candidates {
		if c.name == "end" {
			continue
		}
		d.regions = append(d.regions, region{
			name:    c.name,
			address: c.address,
			size:    sizes[i],
			offset:  c.address - addressBegin,
		})
	}
	return d
}

// Region returns the address and byte contents of the named region
// ("text", "data", "bss", "heap", "begin"), or (0, nil) if not present.
func (d *Dump) Region(name string) (uint32, []byte) {
	for _, r := range d.regions {
		if !equalFold(r.name, name) {
			continue
		}
		if r.size == nil {
			return r.address, nil
		}
		return r.address, d.data[r.offset : r.offset+*r.size]
	}
	return 0, nil
}

func (d *Dump) RegionTEXT() (uint32, []byte) { return d.Region("text") }
func (d *Dump) RegionDATA() (uint32, []byte) { return d.Region("data") }
func (d *Dump) RegionBSS() (uint32, []byte)  { return d.Region("bss") }
func (d *Dump) RegionHEAP() (uint32, []byte) { return d.Region("heap") }

// Regions returns the name, address, and size of every recovered region,
// in record order (begin, text, data, bss, heap; not sorted by address),
// for callers that want to list or export them (the
// "end" sentinel is never included). Size is nil for a region whose
// address fell outside the image, so callers can still list it as
// present but size-unknown rather than dropping it from the table.
func (d *Dump) Regions() []struct {
	Name    string
	Address uint32
	Size    *uint32
} {
	out := make([]struct {
		Name    string
		Address uint32
		Size    *uint32
	}, 0, len(d.regions))
	for _, r := range d.regions {
		out = append(out, struct {
			Name    string
			Address uint32
			Size    *uint32
		}{r.name, r.address, r.size})
	}
	return out
}

// GetString reads a NUL-terminated ASCII string (at most 50 bytes) at
// address, or "" if address is out of range.
func (d *Dump) GetString(address uint32) string {
	index := int64(address) - int64(d.address)
	if index < 0 || index >= int64(len(d.data)) {
		return ""
	}
	out := make([]byte, 0, 50)
	for i := int64(0); index+i < int64(len(d.data)) && i < 50 && d.data[index+i] != 0; i++ {
		out = append(out, d.data[index+i])
	}
	return textnorm.ToUTF8(out)
}

// GetInteger32 reads a big-endian uint32 at address, or (0, false) if
// address is out of range.
func (d *Dump) GetInteger32(address uint32) (uint32, bool) {
	index := int64(address) - int64(d.address)
	if index < 0 || index+4 > int64(len(d.data)) {
		return 0, false
	}
	return binary.BigEndian.Uint32(d.data[index : index+4]), true
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
