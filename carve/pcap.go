package carve

import (
	"encoding/binary"
	"io"
	"os"
	"sort"
)

const maxCaptureLength = 0xFFFF

// WritePCAP writes c's collected frames to filename as a libpcap capture,
// in ascending carved-index order.
func (c *Collector) WritePCAP(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.WritePCAPTo(f)
}

// WritePCAPTo writes c's collected frames as a libpcap capture to w.
func (c *Collector) WritePCAPTo(w io.Writer) error {
	header := []byte{
		0xD4, 0xC3, 0xB2, 0xA1, // magic number
		0x02, 0x00, // major version
		0x04, 0x00, // minor version
		0x00, 0x00, 0x00, 0x00, // GMT to local correction
		0x00, 0x00, 0x00, 0x00, // accuracy of timestamps
		0xFF, 0xFF, 0x00, 0x00, // snaplen
		0x01, 0x00, 0x00, 0x00, // link type: Ethernet
	}
	if _, err := w.Write(header); err != nil {
		return err
	}

	frames := append([]Frame(nil), c.Frames...)
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })

	buf := make([]byte, 16)
	for _, fr := range frames {
		capLen := len(fr.Data)
		if capLen > maxCaptureLength {
			capLen = maxCaptureLength
		}
		binary.LittleEndian.PutUint32(buf[0:4], uint32(fr.Index/1_000_000))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(fr.Index%1_000_000))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(capLen))
		binary.LittleEndian.PutUint32(buf[12:16], uint32(capLen))
		if _, err := w.Write(buf); err != nil {
			return err
		}
		if _, err := w.Write(fr.Data[:capLen]); err != nil {
			return err
		}
	}
	return nil
}
