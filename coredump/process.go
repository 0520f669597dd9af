package coredump

import (
	"encoding/binary"
	"fmt"

	"github.com/digitalsleuth/naft/magic"
)

// fieldSpec locates one 32-bit field inside a process structure: Present
// is false for a field the structure's layout doesn't carry at all.
type fieldSpec struct {
	Present bool
	Offset  uint32
}

func f(offset uint32) fieldSpec { return fieldSpec{Present: true, Offset: offset} }

var unsetField = fieldSpec{}

// fieldLayout is one process-structure length's field offset table.
type fieldLayout struct {
	addressProcessName fieldSpec
	pc                 fieldSpec
	q                  fieldSpec
	ty                 fieldSpec
	runtime            fieldSpec
	invoked            fieldSpec
	stack1             fieldSpec
	stack2             fieldSpec
	addressStackBlock  fieldSpec
	addressTTY         fieldSpec
}

// knownLayouts maps the known process-structure lengths (terminated by a
// BEEFCAFE sentinel found at or after byte 690) to their field tables.
var knownLayouts = map[int]fieldLayout{
	692: {
		addressProcessName: f(0xD0), pc: f(0x6C), q: f(0xD4), ty: f(0x64),
		runtime: f(0xB8), invoked: f(0xC8), stack1: f(0xEC), stack2: f(0xF0),
		addressStackBlock: f(0x00), addressTTY: f(0xF8),
	},
	696: {
		addressProcessName: f(0xE8), pc: f(0x90), q: f(0xEC), ty: f(0x88),
		runtime: f(0xD8), invoked: f(0xE0), stack1: f(0x100), stack2: f(0x104),
		addressStackBlock: f(0x00), addressTTY: f(0xC4),
	},
	712: {
		addressProcessName: f(0xE8), pc: f(0x90), q: f(0xEC), ty: f(0x88),
		runtime: f(0xD0), invoked: f(0xE0), stack1: f(0x100), stack2: f(0x104),
		addressStackBlock: f(0x00), addressTTY: f(0xC4),
	},
	732: {
		addressProcessName: f(0xF8), pc: f(0x90), q: f(0xFC), ty: f(0x88),
		runtime: f(0xE0), invoked: f(0xF0), stack1: f(0x114), stack2: f(0x118),
		addressStackBlock: f(0x00), addressTTY: f(0xCC),
	},
	744: {
		addressProcessName: f(0xD8), pc: f(0x70), q: f(0xDC), ty: f(0x68),
		runtime: f(0xC0), invoked: f(0xD0), stack1: f(0xF8), stack2: f(0xFC),
		addressStackBlock: f(0x00), addressTTY: f(0x100),
	},
}

// Process is one reconstructed IOS process table entry.
type Process struct {
	ProcessID int
	Data      []byte

	StructureLength int
	Error           string

	Name              string
	AddressProcessName uint32
	PC                 uint32
	Q                  uint32
	QStr               string
	Ty                 uint32
	TyStr              string
	Runtime            uint32
	Invoked            uint32
	Stack1             uint32
	Stack2             uint32
	AddressStackBlock  uint32
	AddressTTY         uint32
	TTY                uint32
	HasTTY             bool
	LowWaterMark       uint32

	hasQ, hasTy, hasPC, hasRuntime, hasInvoked, hasStack1, hasStack2, hasStackBlock, hasName bool
}

// structureStats accumulates, per 32-bit column index, the distinct values
// observed across every process of a given structure length — the raw
// material the heuristic engine analyzes.
type structureStats map[int]map[uint32]int

// NewProcess parses one process structure. dump may be nil if no core-dump
// cross-reference (name/TTY/low-water-mark) is needed. stats, if non-nil,
// accumulates per-column value statistics for heuristic analysis.
func NewProcess(processID int, data []byte, dump *Dump, stats structureStats, layout *fieldLayout) *Process {
	p := &Process{ProcessID: processID, Data: data}

	end := indexOf(data, magic.ProcessEnd, 690)
	if end < 0 {
		p.Error = "Error: parsing process structure, BEEFCAFE not found"
		return p
	}
	p.StructureLength = end

	var fl fieldLayout
	if layout != nil {
		fl = *layout
	} else if known, ok := knownLayouts[end]; ok {
		fl = known
	} else {
		p.Error = fmt.Sprintf("Error: unexpected process structure, length = %d", end)
		if stats != nil {
			p.accumulateStats(stats)
		}
		return p
	}

	p.setFields(fl)
	p.QStr = Q2Str(p.Q)
	p.TyStr = Ty2Str(p.Ty)
	if !p.hasQ {
		p.QStr = "?"
	}
	if !p.hasTy {
		p.TyStr = "?"
	}

	if dump != nil && p.hasStackBlock {
		addr := p.AddressStackBlock
		for {
			v, ok := dump.GetInteger32(addr)
			if !ok || v != 0xFFFFFFFF {
				break
			}
			if addr-p.AddressStackBlock > p.Stack2 {
				break
			}
			addr += 4
		}
		p.LowWaterMark = addr - p.AddressStackBlock
	}

	if p.hasTTY {
		if p.AddressTTY == 0 {
			p.HasTTY = true
			p.TTY = 0
		} else if dump != nil {
			if v, ok := dump.GetInteger32(p.AddressTTY + 4); ok {
				p.HasTTY = true
				p.TTY = v
			}
		}
	}

	if stats != nil {
		p.accumulateStats(stats)
	}
	if dump != nil && p.hasName {
		p.Name = dump.GetString(p.AddressProcessName)
	}
	return p
}

func (p *Process) setFields(fl fieldLayout) {
	read := func(spec fieldSpec) (uint32, bool) {
		if !spec.Present {
			return 0, false
		}
		if int(spec.Offset)+4 > len(p.Data) {
			return 0, false
		}
		return binary.BigEndian.Uint32(p.Data[spec.Offset : spec.Offset+4]), true
	}
	p.AddressProcessName, p.hasName = read(fl.addressProcessName)
	p.PC, p.hasPC = read(fl.pc)
	p.Q, p.hasQ = read(fl.q)
	p.Ty, p.hasTy = read(fl.ty)
	p.Runtime, p.hasRuntime = read(fl.runtime)
	p.Invoked, p.hasInvoked = read(fl.invoked)
	p.Stack1, p.hasStack1 = read(fl.stack1)
	p.Stack2, p.hasStack2 = read(fl.stack2)
	p.AddressStackBlock, p.hasStackBlock = read(fl.addressStackBlock)
	p.AddressTTY, p.hasTTY = read(fl.addressTTY)
}

func (p *Process) accumulateStats(stats structureStats) {
	n := len(p.Data) / 4
	for i := 0; i < n; i++ {
		v := binary.BigEndian.Uint32(p.Data[i*4 : i*4+4])
		bucket, ok := stats[i]
		if !ok {
			bucket = map[uint32]int{}
			stats[i] = bucket
		}
		bucket[v]++
	}
}

// Q2Str renders a process priority code.
func Q2Str(n uint32) string {
	switch n {
	case 2:
		return "C"
	case 3:
		return "H"
	case 4:
		return "M"
	case 5:
		return "L"
	default:
		return fmt.Sprintf("%d", n)
	}
}

// Ty2Str renders a process type code.
func Ty2Str(n uint32) string {
	switch n {
	case 0:
		return "*"
	case 1:
		return "E"
	case 2:
		return "S"
	case 3:
		return "rd"
	case 4:
		return "we"
	case 5:
		return "sa"
	case 6:
		return "si"
	case 7:
		return "sp"
	case 8:
		return "st"
	case 9:
		return "hg"
	case 10:
		return "xx"
	default:
		return fmt.Sprintf("%d", n)
	}
}

// Line renders a process in the fixed-width process-list format.
func (p *Process) Line() string {
	line := fmt.Sprintf("%4d %s%-2s ", p.ProcessID, p.QStr, p.TyStr)
	if p.hasPC {
		line += fmt.Sprintf("%08X ", p.PC)
	} else {
		line += "???????? "
	}
	if p.hasRuntime {
		line += fmt.Sprintf("    %8d ", p.Runtime)
	} else {
		line += "       ? "
	}
	if p.hasInvoked {
		line += fmt.Sprintf("  %8d ", p.Invoked)
	} else {
		line += "       ? "
	}
	if !p.hasInvoked || !p.hasRuntime || p.Invoked == 0 {
		line += "      ?"
	} else {
		line += fmt.Sprintf("%7d", int64(p.Runtime)*1000/int64(p.Invoked))
	}
	if p.hasStackBlock {
		line += fmt.Sprintf("%5d/", p.LowWaterMark)
	} else {
		line += "    ?/"
	}
	if p.hasStack2 {
		line += fmt.Sprintf("%-5d ", p.Stack2)
	} else {
		line += "?     "
	}
	if p.HasTTY {
		line += fmt.Sprintf("%2d ", p.TTY)
	} else {
		line += " ? "
	}
	if p.hasStackBlock {
		line += fmt.Sprintf("%08X ", p.AddressStackBlock)
	} else {
		line += "       ? "
	}
	line += p.Name
	return line
}

func indexOf(data, needle []byte, from int) int {
	if from >= len(data) {
		return -1
	}
	for i := from; i+len(needle) <= len(data); i++ {
		match := true
		for j := range needle {
			if data[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

