package orchestrate

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/digitalsleuth/naft/carve"
)

// PacketOptions configures ExtractPackets.
type PacketOptions struct {
	// OUIPath, if non-empty, restricts carved Ethernet frames to those
	// with a recognized source or destination vendor prefix.
	OUIPath string
	// Duplicates keeps every content-identical frame instead of
	// collapsing them to one.
	Duplicates bool
	// Options enables the full 0x45-0x4F IPv4 header-length range
	// (IP options present); false restricts to bare 0x45 (20-byte)
	// headers only.
	Options bool
	// BufferMB, if > 0, reads each input file in BufferMB-sized chunks
	// instead of loading it whole; OverlapMB bytes from the end of each
	// chunk are re-scanned at the start of the next so a packet
	// straddling a chunk boundary is never missed.
	BufferMB  int
	OverlapMB int
}

// PacketsResult summarizes one ExtractPackets run.
type PacketsResult struct {
	FilesProcessed int
	FramesWritten  int
	CountFrames    int
	CountPackets   int
}

// ExtractPackets scans every file in filenames for carved IPv4 packets and
// ARP frames, writing every recovered frame to a single PCAP file.
func ExtractPackets(filenames []string, pcapPath string, opts PacketOptions) (*PacketsResult, error) {
	collector, err := carve.NewCollector(opts.OUIPath)
	if err != nil {
		return nil, err
	}
	collector.Duplicates = opts.Duplicates

	res := &PacketsResult{}
	for _, filename := range filenames {
		if opts.BufferMB > 0 {
			if err := scanFileBuffered(collector, filename, opts); err != nil {
				return nil, fmt.Errorf("scanning %s: %w", filename, err)
			}
		} else {
			data, err := os.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", filename, err)
			}
			carve.ExtractIPPackets(collector, 0, data, opts.Options, true, filename)
			carve.ExtractARPFrames(collector, 0, data, true, filename)
		}
		res.FilesProcessed++
	}

	if res.FilesProcessed > 0 {
		if err := collector.WritePCAP(pcapPath); err != nil {
			return nil, fmt.Errorf("writing pcap: %w", err)
		}
	}
	res.FramesWritten = len(collector.Frames)
	res.CountFrames = collector.CountFrames
	res.CountPackets = collector.CountPackets
	return res, nil
}

// scanFileBuffered reads filename in overlapping chunks so that carving
// never needs the whole file resident in memory at once.
func scanFileBuffered(collector *carve.Collector, filename string, opts PacketOptions) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	chunkSize := opts.BufferMB * 1024 * 1024
	overlap := opts.OverlapMB * 1024 * 1024
	if overlap >= chunkSize {
		overlap = 0
	}

	buf := make([]byte, chunkSize)
	var carryOver []byte
	var index uint64

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := append(append([]byte{}, carryOver...), buf[:n]...)
			base := index - uint64(len(carryOver))
			carve.ExtractIPPackets(collector, base, chunk, opts.Options, true, filename)
			carve.ExtractARPFrames(collector, base, chunk, true, filename)

			index += uint64(n)
			if overlap > 0 && len(chunk) > overlap {
				carryOver = append([]byte{}, chunk[len(chunk)-overlap:]...)
			} else {
				carryOver = nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
		if n == 0 {
			return nil
		}
	}
}
