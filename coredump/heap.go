package coredump

import (
	"encoding/binary"
	"fmt"

	"github.com/digitalsleuth/naft/magic"
)

// BlockHeader is one parsed heap allocator unit: the fixed-size header plus
// the resolved name of its allocator, when known.
type BlockHeader struct {
	Index      uint32
	Address    uint32
	AddressData uint32
	HeaderSize uint32

	PID        uint32
	AllocCheck uint32
	AllocName  uint32
	AllocNameResolved string
	AllocPC    uint32
	NextBlock  uint32
	PrevBlock  uint32
	BlockFree  bool
	BlockSize  uint32
	RefCnt     uint32
	LastFree   uint32

	NextFree *uint32
	PrevFree *uint32

	walker *Walker

	Error int
}

// Heap errors (0 = OK), mirroring the original tool's numbering.
const (
	HeapErrNone          = 0
	HeapErrBadHeaderSize = 1
	HeapErrBadMagic      = 2
	HeapErrBadFreeMagic  = 3
	HeapErrNoData        = 4
)

// parseBlockSizeField is the per-block size/free-flag decoder used while
// walking the chain: the top bit SET means the block is in use, unlike
// detectHeaderSize's initial probe below, which reads the same bit with the
// opposite sense. detectHeaderSize uses only the size from its reading.
func parseBlockSizeField(value uint32) (free bool, size uint32) {
	free = value&0x80000000 == 0x00000000
	size = (value & 0x7FFFFFFF) * 2
	return free, size
}

// parseInitialSizeField is the size/free-flag decoder used only to probe
// the very first block while detecting headerSize; it reads the free bit
// with the sense opposite parseBlockSizeField.
func parseInitialSizeField(value uint32) (free bool, size uint32) {
	free = value&0x80000000 == 0x80000000
	size = (value & 0x7FFFFFFF) * 2
	return free, size
}

func newBlockHeader(data []byte, headerSize, index, baseAddress uint32) *BlockHeader {
	bh := &BlockHeader{HeaderSize: headerSize}
	if len(data) == 0 {
		bh.Error = HeapErrNoData
		return bh
	}
	if headerSize != 40 && headerSize != 48 {
		bh.Error = HeapErrBadHeaderSize
		return bh
	}
	if uint32(len(data)) < headerSize {
		bh.Error = HeapErrNoData
		return bh
	}
	words := make([]uint32, headerSize/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(data[i*4 : i*4+4])
	}
	if words[0] != magic.BlockBeginWord {
		bh.Error = HeapErrBadMagic
		return bh
	}

	bh.Index = index
	bh.Address = index + baseAddress
	bh.AddressData = bh.Address + headerSize
	bh.PID = words[1]
	bh.AllocCheck = words[2]
	bh.AllocName = words[3]
	bh.AllocPC = words[4]
	bh.NextBlock = words[5]
	prevBlock := words[6] - 0x14
	if prevBlock < baseAddress {
		prevBlock = 0
	}
	bh.PrevBlock = prevBlock
	bh.BlockFree, bh.BlockSize = parseBlockSizeField(words[7])
	bh.RefCnt = words[8]
	bh.LastFree = words[9]

	if bh.BlockFree {
		if uint32(len(data)) < headerSize+24 {
			bh.Error = HeapErrNoData
			return bh
		}
		freeWords := make([]uint32, 6)
		for i := range freeWords {
			freeWords[i] = binary.BigEndian.Uint32(data[int(headerSize)+i*4 : int(headerSize)+i*4+4])
		}
		if freeWords[0] != magic.BlockFreeWord {
			bh.Error = HeapErrBadFreeMagic
			return bh
		}
		if freeWords[4] >= baseAddress {
			nf := freeWords[4] - headerSize
			bh.NextFree = &nf
		} else {
			zero := uint32(0)
			bh.NextFree = &zero
		}
		if freeWords[5] >= baseAddress {
			pf := freeWords[5] - headerSize - 0x10
			bh.PrevFree = &pf
		} else {
			zero := uint32(0)
			bh.PrevFree = &zero
		}
	}
	return bh
}

// GetData returns the block's payload, stripping a trailing FD0110DF
// canary word when present.
func (bh *BlockHeader) GetData() []byte {
	start := bh.Index + bh.HeaderSize
	mem := bh.walker.memory
	end := start + bh.BlockSize
	if end <= uint32(len(mem)) && bh.BlockSize >= 4 &&
		binary.BigEndian.Uint32(mem[end-4:end]) == magic.BlockCanaryWord {
		return mem[start : end-4]
	}
	if end > uint32(len(mem)) {
		end = uint32(len(mem))
	}
	return mem[start:end]
}

// GetRawData returns the block's header plus payload bytes, canary
// included.
func (bh *BlockHeader) GetRawData() []byte {
	mem := bh.walker.memory
	end := bh.Index + bh.HeaderSize + bh.BlockSize
	if end > uint32(len(mem)) {
		end = uint32(len(mem))
	}
	return mem[bh.Index:end]
}

// ShowLine renders the block in the walker's fixed-width listing format.
func (bh *BlockHeader) ShowLine() string {
	allocName := bh.AllocNameResolved
	if allocName == "" {
		allocName = fmt.Sprintf("%08X", bh.AllocName)
	}
	nextFree := "--------"
	if bh.NextFree != nil {
		nextFree = fmt.Sprintf("%08X", *bh.NextFree)
	}
	prevFree := "--------"
	if bh.PrevFree != nil {
		prevFree = fmt.Sprintf("%08X", *bh.PrevFree)
	}
	return fmt.Sprintf("%08X %010d %08X %08X %03d %s %s %08X %s",
		bh.Address, bh.BlockSize, bh.PrevBlock, bh.NextBlock, bh.RefCnt,
		prevFree, nextFree, bh.AllocPC, allocName)
}

const ShowHeader = "Address\t Bytes\t    PrevBlk  NextBlk  Ref PrevFree NextFree AllocPC  What"

// Walker walks the doubly-linked chain of heap block headers inside one
// heap memory region, auto-detecting whether headers are 40 or 48 bytes.
type Walker struct {
	memory      []byte
	headerSize  uint32
	baseAddress uint32

	Headers []*BlockHeader

	// Detected reports whether headerSize/baseAddress detection succeeded;
	// when false, BaseAddress and Headers are meaningless.
	Detected bool

	names map[uint32]int
}

// ParseHeap walks memory (the heap region's raw bytes) and returns the
// populated Walker.
func ParseHeap(memory []byte) *Walker {
	w := &Walker{memory: memory, headerSize: 40, names: map[uint32]int{}}
	if !w.detectHeaderSize() {
		return w
	}
	w.Detected = true
	w.extractHeaders()
	return w
}

// BaseAddress returns the heap region's recovered base address. Only
// meaningful when Detected is true.
func (w *Walker) BaseAddress() uint32 { return w.baseAddress }

func (w *Walker) detectHeaderSize() bool {
	mem := w.memory
	if uint32(len(mem)) < w.headerSize {
		return false
	}
	readWord := func(off uint32) uint32 { return binary.BigEndian.Uint32(mem[off : off+4]) }
	if readWord(0) != magic.BlockBeginWord {
		return false
	}
	_, size := parseInitialSizeField(readWord(7 * 4))
	probe := w.headerSize + size

	tryHeaderSize := func(hs uint32) bool {
		if uint32(len(mem)) < probe+hs {
			return false
		}
		return readWord(probe) == magic.BlockBeginWord
	}

	if tryHeaderSize(w.headerSize) {
		base := readWord(probe+6*4) - 0x14
		w.baseAddress = base
		return true
	}
	w.headerSize = 48
	probe = w.headerSize + size
	if !tryHeaderSize(w.headerSize) {
		return false
	}
	base := readWord(probe+6*4) - 0x14
	w.baseAddress = base
	return true
}

func (w *Walker) extractHeaders() {
	index := uint32(0)
	for {
		end := index + w.headerSize + 24
		var slice []byte
		if end <= uint32(len(w.memory)) {
			slice = w.memory[index:end]
		} else if index+w.headerSize <= uint32(len(w.memory)) {
			slice = w.memory[index:]
		} else {
			return
		}
		bh := newBlockHeader(slice, w.headerSize, index, w.baseAddress)
		bh.walker = w
		if bh.Error != HeapErrNone {
			return
		}
		w.Headers = append(w.Headers, bh)
		w.names[bh.AllocName]++
		if bh.NextBlock == 0 {
			return
		}
		index = bh.NextBlock - w.baseAddress
	}
}

// ResolveNames fills in AllocNameResolved for every header whose AllocName
// points to a live string in dump.
func (w *Walker) ResolveNames(dump *Dump) {
	resolved := map[uint32]string{}
	for addr := range w.names {
		resolved[addr] = dump.GetString(addr)
	}
	for _, bh := range w.Headers {
		if s, ok := resolved[bh.AllocName]; ok {
			bh.AllocNameResolved = s
		}
	}
}
