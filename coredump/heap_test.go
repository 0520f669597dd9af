package coredump

import (
	"encoding/binary"
	"testing"

	"github.com/digitalsleuth/naft/magic"
)

func TestParseBlockSizeFieldTopBitSetIsInUse(t *testing.T) {
	free, size := parseBlockSizeField(0x80000008)
	if free {
		t.Error("expected free=false (in use) when top bit is set")
	}
	if size != 16 {
		t.Errorf("size = %d, want 16", size)
	}
}

func TestParseInitialSizeFieldOppositeSense(t *testing.T) {
	// Same raw value as above, opposite free interpretation.
	free, size := parseInitialSizeField(0x80000008)
	if !free {
		t.Error("expected free=true for the initial-probe sense when top bit is set")
	}
	if size != 16 {
		t.Errorf("size = %d, want 16", size)
	}
}

func putWord(buf []byte, offset int, v uint32) {
	binary.BigEndian.PutUint32(buf[offset:offset+4], v)
}

// buildTwoBlockHeap assembles an in-use block immediately followed by a
// second block whose NextBlock is zero, terminating the chain after two
// entries.
func buildTwoBlockHeap(t *testing.T) ([]byte, uint32) {
	t.Helper()
	const (
		baseAddress = 0x2000
		size0       = 16
	)
	probe := 40 + size0 // offset of block1's header

	buf := make([]byte, probe+40)

	// Block 0.
	putWord(buf, 0, magic.BlockBeginWord)
	putWord(buf, 4, 0x11)          // PID
	putWord(buf, 8, 0x22)          // AllocCheck
	putWord(buf, 12, 0x33)         // AllocName
	putWord(buf, 16, 0x44)         // AllocPC
	putWord(buf, 20, baseAddress+uint32(probe)) // NextBlock -> block1
	putWord(buf, 24, 0x14)         // raw PrevBlock (-0x14 => 0, below base)
	putWord(buf, 28, 0x80000000|size0/2) // size field, top bit set (in use)
	putWord(buf, 32, 0)            // RefCnt
	putWord(buf, 36, 0)            // LastFree

	// Block 1 (terminates the chain).
	putWord(buf, probe+0, magic.BlockBeginWord)
	putWord(buf, probe+4, 0x55)
	putWord(buf, probe+8, 0x66)
	putWord(buf, probe+12, 0x77)
	putWord(buf, probe+16, 0x88)
	putWord(buf, probe+20, 0) // NextBlock = 0, ends the walk
	putWord(buf, probe+24, baseAddress+0x14)
	putWord(buf, probe+28, 0x80000000|8/2)
	putWord(buf, probe+32, 0)
	putWord(buf, probe+36, 0)

	return buf, baseAddress
}

func TestParseHeapWalksChain(t *testing.T) {
	mem, baseAddress := buildTwoBlockHeap(t)
	w := ParseHeap(mem)
	if !w.Detected {
		t.Fatal("expected header size/base address detection to succeed")
	}
	if w.BaseAddress() != baseAddress {
		t.Errorf("BaseAddress() = %#x, want %#x", w.BaseAddress(), baseAddress)
	}
	if len(w.Headers) != 2 {
		t.Fatalf("got %d headers, want 2", len(w.Headers))
	}
	if w.Headers[0].Address != baseAddress {
		t.Errorf("Headers[0].Address = %#x, want %#x", w.Headers[0].Address, baseAddress)
	}
	if w.Headers[0].BlockSize != 16 {
		t.Errorf("Headers[0].BlockSize = %d, want 16", w.Headers[0].BlockSize)
	}
	if w.Headers[1].NextBlock != 0 {
		t.Errorf("Headers[1].NextBlock = %#x, want 0", w.Headers[1].NextBlock)
	}
}

func TestParseHeapUndetectedOnGarbage(t *testing.T) {
	w := ParseHeap([]byte("not a heap at all, no magic bytes here"))
	if w.Detected {
		t.Error("expected Detected=false for non-heap input")
	}
}

func TestResolveNamesFillsAllocNameResolved(t *testing.T) {
	mem, baseAddress := buildTwoBlockHeap(t)
	w := ParseHeap(mem)
	if !w.Detected {
		t.Fatal("expected detection to succeed")
	}

	// Build a tiny dump whose address space covers AllocName=0x33 (block0's
	// AllocName) with a resolvable string there.
	dumpData := make([]byte, 0x100)
	copy(dumpData[0x33-0x00:], []byte("IP Input\x00"))
	d := &Dump{data: dumpData, address: 0}
	w.ResolveNames(d)
	if w.Headers[0].AllocNameResolved != "IP Input" {
		t.Errorf("AllocNameResolved = %q, want %q", w.Headers[0].AllocNameResolved, "IP Input")
	}
	_ = baseAddress
}
