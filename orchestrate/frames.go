// Package orchestrate wires the lower-level parsers together into the
// toolkit's two end-to-end recovery flows: heap-driven packet recovery
// from a paired core dump and IOMEM capture, and directory-wide firmware
// image scanning with checkpoint/resume.
package orchestrate

import (
	"encoding/binary"
	"fmt"

	"github.com/digitalsleuth/naft/carve"
	"github.com/digitalsleuth/naft/coredump"
)

// IOSFramesResult summarizes one heap-driven packet recovery run.
type IOSFramesResult struct {
	FramesWritten int
	PCAPPath      string
}

// IOSFrames walks coredumpData's heap for blocks resolved as
// "*Packet Header*", dereferences the frame address/size fields stored in
// each block's payload, and slices the corresponding bytes out of
// iomemData (whose own base address is recovered the same way a heap
// region's is). Every carved frame is written to pcapPath.
func IOSFrames(coredumpData, iomemData []byte, pcapPath string) (*IOSFramesResult, error) {
	dump := coredump.Parse(coredumpData)
	if dump.Error != nil {
		return nil, dump.Error
	}
	_, heapMem := dump.RegionHEAP()
	if heapMem == nil {
		return nil, fmt.Errorf("heap region not found")
	}
	heapWalker := coredump.ParseHeap(heapMem)
	heapWalker.ResolveNames(dump)

	iomemWalker := coredump.ParseHeap(iomemData)
	if !iomemWalker.Detected {
		return nil, fmt.Errorf("error parsing IOMEM")
	}
	iomemBase := iomemWalker.BaseAddress()

	collector, err := carve.NewCollector("")
	if err != nil {
		return nil, err
	}
	collector.Duplicates = true

	for _, bh := range heapWalker.Headers {
		if bh.AllocNameResolved != "*Packet Header*" {
			continue
		}
		payload := bh.GetData()
		if len(payload) < 74 {
			continue
		}
		frameAddress := binary.BigEndian.Uint32(payload[40:44])
		frameSize := binary.BigEndian.Uint16(payload[72:74])
		if frameSize <= 1 {
			frameSize = binary.BigEndian.Uint16(payload[68:70])
		}
		if frameAddress == 0 || frameSize == 0 {
			continue
		}
		start := int64(frameAddress) - int64(iomemBase)
		end := start + int64(frameSize)
		if start < 0 || end > int64(len(iomemData)) {
			continue
		}
		collector.AddFrame(uint64(frameAddress-iomemBase), iomemData[start:end], "")
	}

	if err := collector.WritePCAP(pcapPath); err != nil {
		return nil, fmt.Errorf("writing pcap: %w", err)
	}
	return &IOSFramesResult{FramesWritten: collector.CountFrames, PCAPPath: pcapPath}, nil
}
