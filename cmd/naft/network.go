package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/digitalsleuth/naft/orchestrate"
)

func runNetwork(args []string) error {
	fs := flag.NewFlagSet("network", flag.ExitOnError)
	frames := fs.Bool("frames", false, "recover packets from a core dump + IOMEM pair (C12)")
	packets := fs.Bool("packets", false, "carve IPv4/ARP packets out of raw memory dump files")

	coredumpPath := fs.String("coredump", "", "core dump file (with --frames)")
	iomemPath := fs.String("iomem", "", "IOMEM capture file (with --frames)")
	var files stringList
	fs.Var(&files, "files", "raw memory dump file to scan (with --packets, repeatable)")

	duplicates := fs.Bool("d", false, "keep duplicate frames instead of collapsing them")
	options := fs.Bool("p", false, "allow IPv4 headers with options (0x45-0x4F), not just 0x45")
	ouiPath := fs.String("t", cfg.DefaultOUIPath, "OUI allowlist file")
	buffer := fs.Bool("b", false, "read input files in chunks instead of whole")
	bufferMB := fs.Int("B", cfg.BufferSizeMB, "chunk size in MB (with -b)")
	overlapMB := fs.Int("O", cfg.OverlapMB, "chunk overlap in MB (with -b)")
	verbose := fs.Bool("v", false, "verbose output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	var pcapPath string
	if len(rest) > 0 {
		pcapPath = rest[0]
		if err := fs.Parse(rest[1:]); err != nil {
			return err
		}
	}
	if pcapPath == "" {
		return fmt.Errorf("network: a PCAP output path is required")
	}

	switch {
	case *frames:
		return networkFrames(*coredumpPath, *iomemPath, pcapPath, *verbose)
	case *packets:
		return networkPackets([]string(files), pcapPath, *ouiPath, *duplicates, *options, *buffer, *bufferMB, *overlapMB)
	default:
		return fmt.Errorf("network: one of --frames|--packets is required")
	}
}

func networkFrames(coredumpPath, iomemPath, pcapPath string, verbose bool) error {
	if coredumpPath == "" || iomemPath == "" {
		return fmt.Errorf("network --frames requires --coredump and --iomem")
	}
	coredumpData, err := os.ReadFile(coredumpPath)
	if err != nil {
		return err
	}
	iomemData, err := os.ReadFile(iomemPath)
	if err != nil {
		return err
	}
	result, err := orchestrate.IOSFrames(coredumpData, iomemData, pcapPath)
	if err != nil {
		return err
	}
	if verbose {
		fmt.Printf("%d frames written to %s\n", result.FramesWritten, result.PCAPPath)
	}
	return nil
}

func networkPackets(files []string, pcapPath, ouiPath string, duplicates, options, buffer bool, bufferMB, overlapMB int) error {
	if len(files) == 0 {
		return fmt.Errorf("network --packets requires at least one --files entry")
	}
	opts := orchestrate.PacketOptions{
		OUIPath:    ouiPath,
		Duplicates: duplicates,
		Options:    options,
	}
	if buffer {
		opts.BufferMB = bufferMB
		opts.OverlapMB = overlapMB
	}
	result, err := orchestrate.ExtractPackets(files, pcapPath, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Number of identified frames:   %5d\n", result.CountFrames)
	fmt.Printf("Number of identified packets:  %5d\n", result.CountPackets)
	fmt.Printf("Number of frames in PCAP file: %5d\n", result.FramesWritten)
	return nil
}

// stringList accumulates repeated -files flag occurrences.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
