// Command naft is the toolkit's command-line front end: argument parsing
// and output formatting only. Every subcommand delegates to the library
// packages for the actual parsing logic.
package main

import (
	"fmt"
	"os"
)

// cfg holds the CLI's optional defaults, loaded once from -config before
// any subcommand flag set is parsed.
var cfg = defaultConfig()

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	args, configPath := extractConfigFlag(os.Args[1:])
	var err error
	cfg, err = loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	switch args[0] {
	case "core":
		err = runCore(args[1:])
	case "network":
		err = runNetwork(args[1:])
	case "image":
		err = runImage(args[1:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `naft - Network Appliance Forensic Toolkit

Usage:
  naft core <coredump> {--regions|--cwstrings|--heap|--history|--events|--processes|--check|--integrity} [flags]
  naft network {--frames|--packets} <pcap> [flags]
  naft image {--info|--extract PATH|--ida PATH|--scan DIR} [flags]

Run "naft <command> -h" for flag details.`)
}
