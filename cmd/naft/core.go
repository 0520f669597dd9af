package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/digitalsleuth/naft/coredump"
	"github.com/digitalsleuth/naft/cwstrings"
)

func runCore(args []string) error {
	fs := flag.NewFlagSet("core", flag.ExitOnError)
	regions := fs.Bool("regions", false, "print the region map")
	cwstringsFlag := fs.Bool("cwstrings", false, "print CW_ metadata key/value pairs")
	heap := fs.Bool("heap", false, "walk and list heap blocks")
	history := fs.Bool("history", false, "print recovered command history")
	events := fs.Bool("events", false, "print recovered syslog events")
	processes := fs.Bool("processes", false, "reconstruct the process table")
	check := fs.Bool("check", false, "print process-structure column statistics")
	integrity := fs.Bool("integrity", false, "run heap self-consistency checks")

	raw := fs.Bool("a", false, "treat the whole file as raw CW_ string data (cwstrings only)")
	fs.BoolVar(raw, "raw", false, "alias of -a")
	dump := fs.Bool("d", false, "hex-dump block/process payload")
	fs.BoolVar(dump, "dump", false, "alias of -d")
	dumpraw := fs.Bool("D", false, "hex-dump block header plus payload")
	fs.BoolVar(dumpraw, "dumpraw", false, "alias of -D")
	strs := fs.Bool("s", false, "extract ASCII strings from each heap block")
	fs.BoolVar(strs, "strings", false, "alias of -s")
	minimum := fs.Int("m", 0, "minimum string count to show a block (with -s)")
	grep := fs.String("g", "", "only show strings containing STRING (with -s)")
	resolve := fs.Bool("r", false, "resolve heap block allocator names")
	filter := fs.String("f", "", "filter heap blocks by allocator name, or processes by PID")
	output := fs.String("o", "", "output directory/file for extracted data")
	binFile := fs.String("bin", "", "paired firmware image, for --integrity's text check")
	verbose := fs.Bool("v", false, "verbose output")
	stats := fs.Bool("S", false, "print per-structure-length column statistics (with --processes)")
	fs.BoolVar(stats, "stats", false, "alias of -S")

	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: naft core <coredump> {--regions|--cwstrings|--heap|--history|--events|--processes|--check|--integrity}")
	}
	coredumpPath := rest[0]
	if err := fs.Parse(rest[1:]); err != nil {
		return err
	}
	data, err := os.ReadFile(coredumpPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", coredumpPath, err)
	}

	switch {
	case *regions:
		return coreRegions(data, *output, coredumpPath)
	case *cwstringsFlag:
		return coreCWStrings(data, *raw)
	case *heap:
		return coreHeap(data, *dump, *dumpraw, *strs, *minimum, *grep, *resolve, *filter, *output, *verbose, coredumpPath)
	case *history:
		return coreHistory(data)
	case *events:
		return coreEvents(data)
	case *processes:
		return coreProcesses(data, *filter, *dump, *stats)
	case *check:
		return coreCheck(data)
	case *integrity:
		return coreIntegrity(data, *binFile)
	default:
		return fmt.Errorf("core: one of --regions|--cwstrings|--heap|--history|--events|--processes|--check|--integrity is required")
	}
}

func coreRegions(data []byte, outputDir, coredumpPath string) error {
	dump := coredump.Parse(data)
	if dump.Error != nil {
		return dump.Error
	}
	fmt.Println("Start      End        Size       Name")
	for _, r := range dump.Regions() {
		if r.Size == nil {
			fmt.Printf("0x%08X %s %s\n", r.Address, strings.Repeat(" ", 21), r.Name)
			continue
		}
		fmt.Printf("0x%08X 0x%08X %-10d %s\n", r.Address, r.Address+*r.Size-1, *r.Size, r.Name)
		if outputDir != "" {
			_, mem := dump.Region(r.Name)
			name := fmt.Sprintf("%s-%s-0x%08X", filepath.Base(coredumpPath), r.Name, r.Address)
			if err := os.WriteFile(filepath.Join(outputDir, name), mem, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func coreCWStrings(data []byte, raw bool) error {
	var table *cwstrings.Table
	if raw {
		table = cwstrings.Parse(data)
	} else {
		dump := coredump.Parse(data)
		if dump.Error != nil {
			return dump.Error
		}
		_, mem := dump.RegionDATA()
		if mem == nil {
			return fmt.Errorf("data region not found")
		}
		table = cwstrings.Parse(mem)
	}
	if table.Error != nil {
		return table.Error
	}
	keys := append([]string{}, table.Keys...)
	sortStrings(keys)
	for _, key := range keys {
		value, _ := table.Get(key)
		if key == cwstrings.KeySysDescr {
			fmt.Printf("%s:\n%s\n", key, value)
		} else {
			pad := 22 - len(key)
			if pad < 1 {
				pad = 1
			}
			fmt.Printf("%s:%*s%s\n", key, pad, "", value)
		}
	}
	return nil
}

func coreHeap(data []byte, dump, dumpraw, strs bool, minimum int, grep string, resolve bool, filterName, outputDir string, verbose bool, coredumpPath string) error {
	cd := coredump.Parse(data)
	if cd.Error != nil {
		return cd.Error
	}
	_, heapMem := cd.RegionHEAP()
	if heapMem == nil {
		return fmt.Errorf("heap region not found")
	}
	walker := coredump.ParseHeap(heapMem)
	if resolve || filterName != "" {
		walker.ResolveNames(cd)
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
	}

	fmt.Println(coredump.ShowHeader)
	for _, bh := range walker.Headers {
		if filterName != "" && bh.AllocNameResolved != filterName {
			continue
		}
		printHeapBlock(bh, dump, dumpraw, strs, minimum, grep, outputDir, verbose, coredumpPath)
	}
	return nil
}

func printHeapBlock(bh *coredump.BlockHeader, dump, dumpraw, strs bool, minimum int, grep, outputDir string, verbose bool, coredumpPath string) {
	if !strs {
		fmt.Println(bh.ShowLine())
	}
	if strs {
		runs := coredump.BlockStrings(bh, 0)
		if grep != "" {
			printed := false
			for _, s := range runs {
				if containsString(s.Value, grep) {
					if !printed {
						fmt.Println(bh.ShowLine())
						printed = true
					}
					fmt.Printf(" %08X: %s\n", s.Address, s.Value)
				}
			}
		} else if minimum == 0 || len(runs) >= minimum {
			fmt.Println(bh.ShowLine())
			for _, s := range runs {
				fmt.Printf(" %08X: %s\n", s.Address, s.Value)
			}
		}
	}
	if dump {
		dumpBytes(bh.GetData(), bh.Address+bh.HeaderSize)
	}
	if dumpraw {
		dumpBytes(bh.GetRawData(), bh.Address)
	}
	if outputDir != "" {
		name := fmt.Sprintf("%s-heap-0x%08X.data", filepath.Base(coredumpPath), bh.Address)
		if err := os.WriteFile(filepath.Join(outputDir, name), bh.GetData(), 0o644); err == nil && verbose {
			fmt.Printf("\tFile: %s created.\n", filepath.Join(outputDir, name))
		}
	}
}

func coreHistory(data []byte) error {
	cd := coredump.Parse(data)
	if cd.Error != nil {
		return cd.Error
	}
	_, heapMem := cd.RegionHEAP()
	if heapMem == nil {
		return fmt.Errorf("heap region not found")
	}
	walker := coredump.ParseHeap(heapMem)
	walker.ResolveNames(cd)
	history := coredump.History(walker)
	if len(history) == 0 {
		fmt.Println("No history found")
		return nil
	}
	for _, h := range history {
		fmt.Printf("%s UTC: %s\n", h.Timestamp, h.Command)
	}
	return nil
}

func coreEvents(data []byte) error {
	cd := coredump.Parse(data)
	if cd.Error != nil {
		return cd.Error
	}
	_, heapMem := cd.RegionHEAP()
	if heapMem == nil {
		return fmt.Errorf("heap region not found")
	}
	walker := coredump.ParseHeap(heapMem)
	walker.ResolveNames(cd)
	for _, e := range coredump.Events(walker) {
		fmt.Printf("%s UTC: %s\n", e.Timestamp, e.Message)
	}
	return nil
}

func coreProcesses(data []byte, filterPID string, dump, stats bool) error {
	analysis := coredump.Analyze(data)
	if analysis.Error != nil {
		return analysis.Error
	}
	fmt.Println(" PID QTy       PC Runtime (ms)    Invoked   uSecs    Stacks TTY StackBlk Process")
	for _, pe := range analysis.Processes {
		if filterPID != "" && fmt.Sprintf("%d", pe.Index) != filterPID {
			continue
		}
		if pe.Process == nil {
			fmt.Printf(" %3d %08X - addressProcess not found\n", pe.Index, pe.Address)
			continue
		}
		if pe.Process.Error == "" {
			fmt.Println(pe.Process.Line())
		} else {
			fmt.Printf("%4d %s\n", pe.Index, pe.Process.Error)
		}
		if dump {
			dumpBytes(pe.Process.Data, pe.Address)
		}
	}
	if analysis.RanHeuristics {
		fmt.Println()
		fmt.Println("*** WARNING ***")
		fmt.Println("Unexpected process structure")
		fmt.Println("Please report these results")
		fmt.Println("Fields determined with heuristics:")
		fmt.Printf("Process structure size: %d\n", analysis.HeuristicsSize)
		keys := []string{"addressProcessName", "PC", "Q", "Ty", "Runtime", "Invoked", "Stack1", "Stack2", "addressStackBlock", "addressTTY"}
		sortStrings(keys)
		for _, k := range keys {
			if v, ok := analysis.HeuristicsFields[k]; ok && v != nil {
				fmt.Printf("%-22s: 0x%04X\n", k, *v)
			}
		}
	}
	if stats {
		for _, line := range analysis.FormatStats() {
			fmt.Println(line)
		}
	}
	return nil
}

func coreCheck(data []byte) error {
	analysis := coredump.Analyze(data)
	if analysis.Error != nil {
		return analysis.Error
	}
	for _, line := range analysis.FormatStats() {
		fmt.Println(line)
	}
	return nil
}

func coreIntegrity(data []byte, binFile string) error {
	cd := coredump.Parse(data)
	if cd.Error != nil {
		return cd.Error
	}
	_, heapMem := cd.RegionHEAP()
	if heapMem == nil {
		return fmt.Errorf("heap region not found")
	}
	walker := coredump.ParseHeap(heapMem)
	report := coredump.CheckIntegrity(walker)
	fmt.Printf("Bad start magic: %d\n", len(report.BadStartMagic))
	fmt.Printf("Bad end magic:   %d\n", len(report.BadEndMagic))
	fmt.Printf("Bad prev block:  %d\n", len(report.BadPrevBlock))
	fmt.Printf("Bad next block:  %d\n", len(report.BadNextBlock))

	if binFile == "" {
		return nil
	}
	imageData, err := os.ReadFile(binFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", binFile, err)
	}
	img := imageFor(imageData)
	result, err := coredump.CheckText(cd, img)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("Comparing CW_SYSDESCR between core dump and IOS image")
	fmt.Printf("Core dump: %s\n", result.SysDescrCoredump)
	fmt.Printf("Image:     %s\n", result.SysDescrImage)
	fmt.Printf("Identical: %v  Equivalent: %v\n", result.SysDescrIdentical, result.SysDescrEquivalent)
	fmt.Println()
	fmt.Println("Comparing .text region")
	if result.Identical {
		fmt.Println("text regions are identical")
	} else {
		fmt.Printf("text regions differ: %d bytes, first at 0x%08X\n", result.DifferentBytes, result.FirstDiffAddress)
	}
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func containsString(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func dumpBytes(data []byte, base uint32) {
	for i := 0; i < len(data); i += 16 {
		fmt.Printf("%08X  ", base+uint32(i))
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				fmt.Printf("%02X ", data[i+j])
			} else {
				fmt.Print("   ")
			}
			if j == 7 {
				fmt.Print(" ")
			}
		}
		fmt.Print(" |")
		for j := 0; j < 16 && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b <= 126 {
				fmt.Printf("%c", b)
			} else {
				fmt.Print(".")
			}
		}
		fmt.Println("|")
	}
}
