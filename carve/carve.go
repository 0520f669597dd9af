// Package carve recovers Ethernet frames and IPv4 packets embedded in
// arbitrary memory dumps by heuristic byte-pattern scanning, and renders
// the recovered frames as a libpcap capture file.
package carve

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Frame is one recovered Ethernet frame or synthesized bare-IP packet,
// keyed by the byte offset (or router address) it was carved from.
type Frame struct {
	Index uint64
	Data  []byte
}

// Collector accumulates carved frames, deduplicating by (filename, index,
// length) and — unless Duplicates is set — by SHA-1 content hash. An
// optional OUI allowlist restricts AddFrame to frames whose source or
// destination MAC is recognized.
type Collector struct {
	Duplicates bool

	Frames       []Frame
	CountFrames  int
	CountPackets int

	oui map[string]string

	seenKeys   map[string]bool
	seenHashes map[string]int
}

// NewCollector builds a Collector, optionally loading an OUI allowlist
// from an "aa:bb:cc vendor name" or "aabbcc vendor name" style text file.
// Colons are dropped before matching the leading six hex digits.
func NewCollector(ouiPath string) (*Collector, error) {
	c := &Collector{
		oui:        map[string]string{},
		seenKeys:   map[string]bool{},
		seenHashes: map[string]int{},
	}
	if ouiPath == "" {
		return c, nil
	}
	f, err := os.Open(ouiPath)
	if err != nil {
		return nil, fmt.Errorf("opening OUI file: %w", err)
	}
	defer f.Close()
	re := regexp.MustCompile(`^([0-9a-f]{6})`)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.ToLower(strings.ReplaceAll(sc.Text(), ":", ""))
		if m := re.FindStringSubmatch(line); m != nil {
			c.oui[m[1]] = strings.TrimRight(sc.Text(), "\n")
		}
	}
	return c, nil
}

func (c *Collector) addFramePrivate(index uint64, data []byte, filename string) bool {
	key := fmt.Sprintf("%s-%d-%d", filename, index, len(data))
	if c.seenKeys[key] {
		return false
	}
	c.seenKeys[key] = true
	sum := sha1.Sum(data)
	h := hex.EncodeToString(sum[:])
	c.seenHashes[h]++
	if c.Duplicates || c.seenHashes[h] == 1 {
		c.Frames = append(c.Frames, Frame{Index: index, Data: data})
	}
	return true
}

// AddFrame records a carved Ethernet frame, subject to the OUI allowlist.
func (c *Collector) AddFrame(index uint64, data []byte, filename string) {
	if len(c.oui) == 0 || (len(data) >= 12 && c.hasKnownOUI(data)) {
		if c.addFramePrivate(index, data, filename) {
			c.CountFrames++
		}
	}
}

func (c *Collector) hasKnownOUI(data []byte) bool {
	dst := hex.EncodeToString(data[0:3])
	src := hex.EncodeToString(data[6:9])
	if _, ok := c.oui[dst]; ok {
		return true
	}
	_, ok := c.oui[src]
	return ok
}

// AddIPPacket records a carved bare IPv4 packet, synthesizing a fake
// Ethernet header (zero MACs, EtherType IPv4) so it can still be written
// to a PCAP file.
func (c *Collector) AddIPPacket(index uint64, data []byte, filename string) {
	framed := make([]byte, 0, 14+len(data))
	framed = append(framed, make([]byte, 12)...)
	framed = append(framed, 0x08, 0x00)
	framed = append(framed, data...)
	if c.addFramePrivate(index, framed, filename) {
		c.CountPackets++
	}
}

// arpSignature is the fixed 8-byte ARP-over-Ethernet signature: EtherType
// ARP, HTYPE Ethernet, PTYPE IPv4, HLEN 6, PLEN 4 (the opcode is not matched).
var arpSignature = []byte{0x08, 0x06, 0x00, 0x01, 0x08, 0x00, 0x06, 0x04}

func carryAroundAdd(a, b uint32) uint32 {
	c := a + b
	return (c & 0xFFFF) + (c >> 16)
}

// calculateIPChecksum computes the IPv4 header one's-complement checksum;
// a valid header (with its own checksum field included) sums to zero.
func calculateIPChecksum(data []byte) uint16 {
	var s uint32
	for i := 0; i+1 < len(data); i += 2 {
		s = carryAroundAdd(s, uint32(data[i])+uint32(data[i+1])<<8)
	}
	return ^uint16(s) & 0xFFFF
}

// ExtractIPPackets scans data for byte values in [0x45, 0x4F] (or just
// 0x45 when options is false) that begin a checksum-valid IPv4 header,
// framing each hit as an Ethernet frame (bare, 802.1Q-tagged, or
// untagged) or a synthetic bare-IP packet. baseAddress is added to every
// carved offset. If multiple is false, carving stops after the first
// header byte value whose pass produced a hit; every hit of that pass is
// carved.
func ExtractIPPackets(c *Collector, baseAddress uint64, data []byte, options, multiple bool, filename string) bool {
	found := false
	maxHeader := byte(0x46)
	if options {
		maxHeader = 0x50
	}
	for headerStart := byte(0x45); headerStart < maxHeader; headerStart++ {
		index := 0
		for index != -1 {
			index = indexByte(data, headerStart, index)
			if index != -1 {
				if ok := tryExtractAt(c, baseAddress, data, index, filename); ok {
					found = true
				}
				index++
			}
		}
		if found && !multiple {
			return found
		}
	}
	return found
}

func tryExtractAt(c *Collector, baseAddress uint64, data []byte, index int, filename string) bool {
	hdrLen := 4 * (int(data[index]) - 0x40)
	if hdrLen < 0 || index+hdrLen > len(data) {
		return false
	}
	header := data[index : index+hdrLen]
	if calculateIPChecksum(header) != 0 {
		return false
	}
	packetLength := int(header[2])*0x100 + int(header[3])
	if index+packetLength > len(data) || packetLength < hdrLen {
		return false
	}

	if index >= 2 && data[index-2] == 0x08 && data[index-1] == 0x00 {
		if index >= 6 && data[index-6] == 0x81 && data[index-5] == 0x00 {
			start := index - 18
			if start < 0 {
				return false
			}
			c.AddFrame(baseAddress+uint64(start), data[start:index+packetLength], filename)
			return true
		}
		start := index - 14
		if start < 0 {
			return false
		}
		c.AddFrame(baseAddress+uint64(start), data[start:index+packetLength], filename)
		return true
	}

	c.AddIPPacket(baseAddress+uint64(index), data[index:index+packetLength], filename)
	return true
}

// ExtractARPFrames scans data for the fixed ARP-over-Ethernet signature
// and carves the surrounding 42-byte frame (12 bytes of MACs preceding the
// signature through 30 bytes following it).
func ExtractARPFrames(c *Collector, baseAddress uint64, data []byte, multiple bool, filename string) bool {
	found := false
	index := 0
	for index != -1 {
		index = indexBytes(data, arpSignature, index)
		if index != -1 {
			start := index - 12
			end := index + 30
			if start >= 0 && end <= len(data) {
				c.AddFrame(baseAddress+uint64(start), data[start:end], filename)
				found = true
			}
			index++
			if found && !multiple {
				return found
			}
		}
	}
	return found
}

func indexByte(data []byte, b byte, from int) int {
	for i := from; i < len(data); i++ {
		if data[i] == b {
			return i
		}
	}
	return -1
}

func indexBytes(data, needle []byte, from int) int {
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
