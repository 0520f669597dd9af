package coredump

import (
	"encoding/binary"
	"testing"

	"github.com/digitalsleuth/naft/magic"
)

func putU32(data []byte, offset int, v uint32) {
	binary.BigEndian.PutUint32(data[offset:offset+4], v)
}

// buildKnownProcess builds a 692-byte process structure (the shortest
// known layout) with the given field values set at their documented
// offsets, terminated by the BEEFCAFE sentinel at byte 692.
func buildKnownProcess(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, 700)
	putU32(data, 0x6C, 0x12345678) // pc
	putU32(data, 0xD4, 3)          // q -> "H"
	putU32(data, 0x64, 2)          // ty -> "S"
	putU32(data, 0xB8, 1000)       // runtime
	putU32(data, 0xC8, 10)         // invoked
	putU32(data, 0xEC, 0x2000)     // stack1
	putU32(data, 0xF0, 0x3000)     // stack2
	putU32(data, 0x00, 0x5000)     // addressStackBlock
	putU32(data, 0xF8, 0)          // addressTTY == 0 -> HasTTY, TTY=0
	putU32(data, 0xD0, 0x6000)     // addressProcessName
	copy(data[692:696], magic.ProcessEnd)
	return data
}

func TestNewProcessKnownLayoutFieldsNoDump(t *testing.T) {
	data := buildKnownProcess(t)
	p := NewProcess(42, data, nil, nil, nil)
	if p.Error != "" {
		t.Fatalf("unexpected error: %s", p.Error)
	}
	if p.StructureLength != 692 {
		t.Errorf("StructureLength = %d, want 692", p.StructureLength)
	}
	if p.PC != 0x12345678 {
		t.Errorf("PC = %#x, want 0x12345678", p.PC)
	}
	if p.QStr != "H" {
		t.Errorf("QStr = %q, want H", p.QStr)
	}
	if p.TyStr != "S" {
		t.Errorf("TyStr = %q, want S", p.TyStr)
	}
	if !p.HasTTY || p.TTY != 0 {
		t.Errorf("HasTTY/TTY = %v/%d, want true/0", p.HasTTY, p.TTY)
	}
	if p.Name != "" {
		t.Errorf("Name = %q, want empty without a dump", p.Name)
	}
}

func TestNewProcessResolvesNameFromDump(t *testing.T) {
	data := buildKnownProcess(t)
	dumpData := make([]byte, 0x100)
	copy(dumpData[0:], []byte("IP Input\x00"))
	dump := &Dump{data: dumpData, address: 0x6000}

	p := NewProcess(1, data, dump, nil, nil)
	if p.Error != "" {
		t.Fatalf("unexpected error: %s", p.Error)
	}
	if p.Name != "IP Input" {
		t.Errorf("Name = %q, want %q", p.Name, "IP Input")
	}
}

func TestNewProcessUnknownLayoutRecordsStats(t *testing.T) {
	data := make([]byte, 760)
	copy(data[750:754], magic.ProcessEnd) // length 750, not a known layout
	stats := structureStats{}
	p := NewProcess(7, data, nil, stats, nil)
	if p.Error == "" {
		t.Fatal("expected an error for an unrecognized structure length")
	}
	if len(stats) == 0 {
		t.Error("expected column stats to be recorded for an unknown layout")
	}
}

func TestNewProcessMissingSentinel(t *testing.T) {
	data := make([]byte, 50)
	p := NewProcess(1, data, nil, nil, nil)
	if p.Error == "" {
		t.Fatal("expected an error when BEEFCAFE is absent")
	}
}

func TestQ2Str(t *testing.T) {
	cases := map[uint32]string{2: "C", 3: "H", 4: "M", 5: "L", 99: "99"}
	for in, want := range cases {
		if got := Q2Str(in); got != want {
			t.Errorf("Q2Str(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTy2Str(t *testing.T) {
	cases := map[uint32]string{0: "*", 1: "E", 8: "st", 10: "xx", 42: "42"}
	for in, want := range cases {
		if got := Ty2Str(in); got != want {
			t.Errorf("Ty2Str(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestIndexOfRespectsFromOffset(t *testing.T) {
	data := append(make([]byte, 10), magic.ProcessEnd...)
	if got := indexOf(data, magic.ProcessEnd, 0); got != 10 {
		t.Errorf("indexOf from 0 = %d, want 10", got)
	}
	if got := indexOf(data, magic.ProcessEnd, 11); got != -1 {
		t.Errorf("indexOf from 11 = %d, want -1 (sentinel starts at 10)", got)
	}
}
