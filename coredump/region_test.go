package coredump

import (
	"encoding/binary"
	"testing"

	"github.com/digitalsleuth/naft/magic"
)

// buildRegionDump assembles a minimal DEAD1234 region-map record followed
// by a BlockBegin magic marker, mimicking the layout Parse expects:
// begin/text/data/bss addresses in the record, with the heap chain
// starting somewhere at or after the bss address.
func buildRegionDump(t *testing.T) ([]byte, uint32) {
	t.Helper()
	const (
		begin = 0x1000
		text  = 0x1010
		data  = 0x1020
		bss   = 0x1030
	)
	buf := make([]byte, 0x100)
	copy(buf[0:4], magic.Regions)
	copy(buf[4:8], magic.RegionsVers)
	binary.BigEndian.PutUint32(buf[20:24], begin)
	binary.BigEndian.PutUint32(buf[24:28], text)
	binary.BigEndian.PutUint32(buf[28:32], data)
	binary.BigEndian.PutUint32(buf[32:36], bss)
	// BlockBegin magic at absolute offset 0x40, which is >= bss-begin (0x30).
	copy(buf[0x40:0x44], magic.BlockBegin)
	return buf, begin
}

func TestParseRegionsRecoversBoundaries(t *testing.T) {
	buf, begin := buildRegionDump(t)
	d := Parse(buf)
	if d.Error != nil {
		t.Fatalf("unexpected error: %v", d.Error)
	}

	addr, region := d.RegionTEXT()
	if addr != begin+0x10 {
		t.Errorf("text address = %#x, want %#x", addr, begin+0x10)
	}
	if len(region) != 0x10 {
		t.Errorf("text region length = %d, want 0x10", len(region))
	}

	heapAddr, heapRegion := d.RegionHEAP()
	if heapAddr != begin+0x40 {
		t.Errorf("heap address = %#x, want %#x", heapAddr, begin+0x40)
	}
	if len(heapRegion) != 0x100-0x40 {
		t.Errorf("heap region length = %d, want %d", len(heapRegion), 0x100-0x40)
	}
}

func TestParseRegionsMissingMagic(t *testing.T) {
	d := Parse(make([]byte, 64))
	if d.Error == nil {
		t.Fatal("expected error when DEAD1234 is absent")
	}
}

func TestRegionsListExcludesEndSentinel(t *testing.T) {
	buf, _ := buildRegionDump(t)
	d := Parse(buf)
	if d.Error != nil {
		t.Fatalf("unexpected error: %v", d.Error)
	}
	for _, r := range d.Regions() {
		if r.Name == "end" {
			t.Error("Regions() must not include the end sentinel")
		}
	}
}

func TestGetStringOutOfRange(t *testing.T) {
	buf, begin := buildRegionDump(t)
	d := Parse(buf)
	if d.Error != nil {
		t.Fatalf("unexpected error: %v", d.Error)
	}
	if got := d.GetString(begin - 1); got != "" {
		t.Errorf("GetString before region start = %q, want \"\"", got)
	}
}

func TestRegionsListIncludesOutOfRangeAsNilSize(t *testing.T) {
	const (
		begin = 0x1000
		text  = 0x500 // below addressBegin: out of range, must be kept
		data  = 0x1020
		bss   = 0x1030
	)
	buf := make([]byte, 0x100)
	copy(buf[0:4], magic.Regions)
	copy(buf[4:8], magic.RegionsVers)
	binary.BigEndian.PutUint32(buf[20:24], begin)
	binary.BigEndian.PutUint32(buf[24:28], text)
	binary.BigEndian.PutUint32(buf[28:32], data)
	binary.BigEndian.PutUint32(buf[32:36], bss)
	copy(buf[0x40:0x44], magic.BlockBegin)

	d := Parse(buf)
	if d.Error != nil {
		t.Fatalf("unexpected error: %v", d.Error)
	}

	var sawText bool
	for _, r := range d.Regions() {
		if r.Name != "text" {
			continue
		}
		sawText = true
		if r.Size != nil {
			t.Errorf("text region size = %d, want nil (out of range)", *r.Size)
		}
		if r.Address != text {
			t.Errorf("text region address = %#x, want %#x", r.Address, text)
		}
	}
	if !sawText {
		t.Error("Regions() dropped the out-of-range text region instead of keeping it size-unknown")
	}

	if addr, mem := d.Region("text"); addr != text || mem != nil {
		t.Errorf("Region(text) = (%#x, %v), want (%#x, nil)", addr, mem, text)
	}

	// data, bss, and heap are all in range and adjacent, so they must
	// still get real sizes despite text being unresolved.
	if addr, region := d.RegionDATA(); addr != data || len(region) != int(bss-data) {
		t.Errorf("data region = (%#x, len %d), want (%#x, len %d)", addr, len(region), data, bss-data)
	}
}

func TestGetInteger32RoundTrip(t *testing.T) {
	buf, begin := buildRegionDump(t)
	binary.BigEndian.PutUint32(buf[0x50:0x54], 0xCAFEBABE)
	d := Parse(buf)
	if d.Error != nil {
		t.Fatalf("unexpected error: %v", d.Error)
	}
	got, ok := d.GetInteger32(begin + 0x50)
	if !ok || got != 0xCAFEBABE {
		t.Errorf("GetInteger32 = %#x, %v, want 0xCAFEBABE, true", got, ok)
	}
}
