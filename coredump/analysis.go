package coredump

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// Analysis is the full process-table reconstruction for one core dump: the
// region map, the heap walk, and every recovered Process, falling back to
// heuristic field discovery when the known structure-length table fails to
// explain most processes.
type Analysis struct {
	Dump   *Dump
	Walker *Walker

	Processes []ProcessEntry

	StructureStats map[int]structureStats

	RanHeuristics  bool
	HeuristicsSize int
	HeuristicsFields map[string]*uint32 // nil value = field absent

	Error error
}

// ProcessEntry pairs a reconstructed index/address with its Process, which
// is nil if no heap block was found at that address.
type ProcessEntry struct {
	Index          int
	Address        uint32
	Process        *Process
}

// Analyze parses coredumpData end to end: region map, heap walk, process
// array reconstruction, and per-process field extraction.
func Analyze(coredumpData []byte) *Analysis {
	a := &Analysis{StructureStats: map[int]structureStats{}}

	a.Dump = Parse(coredumpData)
	if a.Dump.Error != nil {
		a.Error = a.Dump.Error
		return a
	}
	_, heapMem := a.Dump.RegionHEAP()
	if heapMem == nil {
		a.Error = errHeapNotFound
		return a
	}
	a.Walker = ParseHeap(heapMem)
	a.Walker.ResolveNames(a.Dump)

	addresses := a.reconstructProcessAddresses()

	byAddressData := map[uint32]*BlockHeader{}
	for _, bh := range a.Walker.Headers {
		byAddressData[bh.AddressData] = bh
	}

	a.Processes = a.parseProcesses(addresses, byAddressData, nil)

	errCount := 0
	for _, pe := range a.Processes {
		if pe.Process != nil && hasUnexpectedStructureError(pe.Process.Error) {
			errCount++
		}
	}
	if len(a.Processes) > 0 && float64(errCount)/float64(len(a.Processes)) >= 0.95 {
		a.runHeuristics()
		a.Processes = a.parseProcesses(addresses, byAddressData, a.heuristicLayout())
	}
	return a
}

var errHeapNotFound = simpleError("heap region not found")

type simpleError string

func (e simpleError) Error() string { return string(e) }

func hasUnexpectedStructureError(msg string) bool {
	const prefix = "Error: unexpected process structure, length ="
	return len(msg) >= len(prefix) && msg[:len(prefix)] == prefix
}

// reconstructProcessAddresses walks the Process Array chain from the
// terminal array (next == 0) back to the head, yielding process addresses
// in original insertion order.
func (a *Analysis) reconstructProcessAddresses() []uint32 {
	byNextAddress := map[uint32]*BlockHeader{}
	var terminal *BlockHeader
	for _, bh := range a.Walker.Headers {
		if bh.AllocNameResolved != "Process Array" {
			continue
		}
		data := bh.GetData()
		if len(data) < 4 {
			continue
		}
		next := binary.BigEndian.Uint32(data[0:4])
		if next == 0 {
			terminal = bh
		} else {
			byNextAddress[next] = bh
		}
	}

	var addresses []uint32
	iter := terminal
	for iter != nil {
		data := iter.GetData()
		if len(data) < 8 {
			break
		}
		count := binary.BigEndian.Uint32(data[4:8])
		var thisArray []uint32
		for off := 8; off+4 <= len(data); off += 4 {
			if count == 0 {
				break
			}
			addr := binary.BigEndian.Uint32(data[off : off+4])
			thisArray = append(thisArray, addr)
			if addr != 0 {
				count--
			}
		}
		addresses = append(thisArray, addresses...)
		if pred, ok := byNextAddress[iter.AddressData]; ok {
			iter = pred
		} else {
			iter = nil
		}
	}
	return addresses
}

func (a *Analysis) parseProcesses(addresses []uint32, byAddressData map[uint32]*BlockHeader, layout *fieldLayout) []ProcessEntry {
	var entries []ProcessEntry
	for i, addr := range addresses {
		if addr == 0 {
			continue
		}
		bh, ok := byAddressData[addr]
		if !ok {
			entries = append(entries, ProcessEntry{Index: i + 1, Address: addr})
			continue
		}
		var p *Process
		if layout != nil {
			p = NewProcess(i+1, bh.GetData(), a.Dump, nil, layout)
		} else {
			probe := NewProcess(i+1, bh.GetData(), a.Dump, nil, nil)
			p = NewProcess(i+1, bh.GetData(), a.Dump, a.statsFor(probe.StructureLength), nil)
		}
		entries = append(entries, ProcessEntry{Index: i + 1, Address: addr, Process: p})
	}
	return entries
}

func (a *Analysis) statsFor(length int) structureStats {
	s, ok := a.StructureStats[length]
	if !ok {
		s = structureStats{}
		a.StructureStats[length] = s
	}
	return s
}

type heuristicColumn struct {
	count       int
	min         uint32
	filteredMin uint32
	max         uint32
	regions     []string
	values      map[uint32]int
}

func (a *Analysis) runHeuristics() {
	a.RanHeuristics = true

	type sizeScore struct {
		size int
		max  int
	}
	var scores []sizeScore
	for size, stats := range a.StructureStats {
		lastMax := 0
		for _, values := range stats {
			if len(values) == 1 {
				for _, count := range values {
					if count > lastMax {
						lastMax = count
					}
				}
			}
		}
		scores = append(scores, sizeScore{size, lastMax})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].max < scores[j].max })
	a.HeuristicsSize = scores[len(scores)-1].size

	columns := a.analyzeColumns(a.StructureStats[a.HeuristicsSize])

	fields := map[string]*uint32{}
	findProcessName(columns, fields)
	findQ(columns, fields)
	findTy(columns, fields)
	zero := uint32(0)
	for _, name := range []string{"addressProcessName", "PC", "Q", "Ty", "Runtime", "Invoked", "Stack1", "Stack2", "addressTTY"} {
		if _, ok := fields[name]; !ok {
			fields[name] = nil
		}
	}
	fields["addressStackBlock"] = &zero
	a.HeuristicsFields = fields
}

func (a *Analysis) analyzeColumns(stats structureStats) map[int]heuristicColumn {
	out := map[int]heuristicColumn{}
	regions := a.Dump.Regions()
	for key1, values := range stats {
		countKeys := len(values)
		var minAll, maxAll uint32
		first := true
		var filteredVals []uint32
		for v := range values {
			if first || v < minAll {
				minAll = v
			}
			if first || v > maxAll {
				maxAll = v
			}
			first = false
			if v != 0 {
				filteredVals = append(filteredVals, v)
			}
		}
		filteredMin := minAll
		if len(filteredVals) > 0 {
			filteredMin = filteredVals[0]
			for _, v := range filteredVals {
				if v < filteredMin {
					filteredMin = v
				}
			}
		}
		var names []string
		seen := map[string]bool{}
		for _, r := range regions {
			if r.Size == nil {
				continue
			}
			inRange := func(addr uint32) bool {
				return addr >= r.Address && addr <= r.Address+*r.Size-1
			}
			if (inRange(filteredMin) || inRange(maxAll)) && !seen[r.Name] {
				seen[r.Name] = true
				names = append(names, r.Name)
			}
		}
		sort.Strings(names)
		out[key1] = heuristicColumn{count: countKeys, min: minAll, filteredMin: filteredMin, max: maxAll, regions: names, values: values}
	}
	return out
}

func findProcessName(columns map[int]heuristicColumn, fields map[string]*uint32) {
	countMax := 0
	keyMax := -1
	for _, key1 := range sortedColumnKeys(columns) {
		col := columns[key1]
		if containsName(col.regions, "data") && col.filteredMin != 0 && key1 > 1 && col.count > countMax {
			countMax = col.count
			keyMax = key1
		}
	}
	if keyMax >= 0 {
		off := uint32(keyMax * 4)
		fields["addressProcessName"] = &off
	}
}

func findQ(columns map[int]heuristicColumn, fields map[string]*uint32) {
	found := -1
	for _, key1 := range sortedColumnKeys(columns) {
		col := columns[key1]
		if col.count > 1 && col.min >= 2 && col.max <= 5 {
			if found == -1 {
				found = key1
			} else {
				return
			}
		}
	}
	if found >= 0 {
		off := uint32(found * 4)
		fields["Q"] = &off
	}
}

func findTy(columns map[int]heuristicColumn, fields map[string]*uint32) {
	found := -1
	for _, key1 := range sortedColumnKeys(columns) {
		col := columns[key1]
		if col.count > 1 && col.min == 0 && col.values[0] <= 2 && col.max >= 4 && col.max <= 10 {
			if found == -1 {
				found = key1
			} else {
				return
			}
		}
	}
	if found >= 0 {
		off := uint32(found * 4)
		fields["Ty"] = &off
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func sortedColumnKeys(columns map[int]heuristicColumn) []int {
	keys := make([]int, 0, len(columns))
	for k := range columns {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// FormatStats renders the per-structure-length column statistics table
// (structure length, column index/byte-offset, distinct value count,
// min/filtered-min/max, owning region names, and a small value bucket for
// low-cardinality columns) for human review.
func (a *Analysis) FormatStats() []string {
	var lengths []int
	for length := range a.StructureStats {
		lengths = append(lengths, length)
	}
	sort.Ints(lengths)

	var out []string
	out = append(out, fmt.Sprintf("Number of different process structures: %d", len(lengths)))
	for _, length := range lengths {
		out = append(out, fmt.Sprintf("Process structures length: %d", length))
		columns := a.analyzeColumns(a.StructureStats[length])
		for _, key1 := range sortedColumnKeys(columns) {
			col := columns[key1]
			bucket := ""
			if col.count > 2 && col.count <= 7 {
				var keys2 []uint32
				for v := range col.values {
					keys2 = append(keys2, v)
				}
				sort.Slice(keys2, func(i, j int) bool { return keys2[i] < keys2[j] })
				var parts []string
				for _, v := range keys2 {
					parts = append(parts, fmt.Sprintf("%X:%d", v, col.values[v]))
				}
				bucket = "-> " + strings.Join(parts, " ")
			}
			out = append(out, fmt.Sprintf("%3d %3X: %3d %08X %08X %08X %s %s",
				key1, key1*4, col.count, col.min, col.filteredMin, col.max, strings.Join(col.regions, " "), bucket))
		}
	}
	return out
}

func (a *Analysis) heuristicLayout() *fieldLayout {
	offsetOf := func(name string) fieldSpec {
		v, ok := a.HeuristicsFields[name]
		if !ok || v == nil {
			return unsetField
		}
		return f(*v)
	}
	return &fieldLayout{
		addressProcessName: offsetOf("addressProcessName"),
		pc:                 offsetOf("PC"),
		q:                  offsetOf("Q"),
		ty:                 offsetOf("Ty"),
		runtime:            offsetOf("Runtime"),
		invoked:            offsetOf("Invoked"),
		stack1:             offsetOf("Stack1"),
		stack2:             offsetOf("Stack2"),
		addressStackBlock:  offsetOf("addressStackBlock"),
		addressTTY:         offsetOf("addressTTY"),
	}
}
