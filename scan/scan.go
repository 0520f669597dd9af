// Package scan searches byte buffers for magic sequences and extracts
// runs of printable ASCII, the two primitives every higher-level parser in
// this module is built on.
package scan

import "bytes"

// FindAll returns every (possibly overlapping at the byte level, but never
// re-matching the same start index twice) occurrence of needle in
// haystack, in ascending order.
func FindAll(haystack, needle []byte) []int {
	var indices []int
	index := bytes.Index(haystack, needle)
	for index >= 0 {
		indices = append(indices, index)
		next := bytes.Index(haystack[index+1:], needle)
		if next < 0 {
			break
		}
		index = index + 1 + next
	}
	return indices
}

// ASCIIRun is one extracted run of printable bytes, keyed by the offset
// one past its last byte, or by its last byte's offset when the run
// reaches the end of the buffer (matching the original tool's indexing,
// which lets a caller recover the run's absolute end address by adding a
// block base address).
type ASCIIRun struct {
	EndOffset int
	Bytes     []byte
}

// DefaultMinStringLength is the minimum run length ExtractASCIIStrings
// keeps when the caller doesn't specify one.
const DefaultMinStringLength = 5

// ExtractASCIIStrings scans data for runs of bytes in [0x14, 0x7F] at
// least minLength long. minLength <= 0 uses DefaultMinStringLength.
func ExtractASCIIStrings(data []byte, minLength int) []ASCIIRun {
	if minLength <= 0 {
		minLength = DefaultMinStringLength
	}
	var runs []ASCIIRun
	start := -1
	size := len(data)
	for i := 0; i < size; i++ {
		b := data[i]
		switch {
		case b >= 0x14 && b <= 0x7F:
			if start == -1 {
				start = i
			}
			if i+1 == size && i-start+1 >= minLength {
				// Matches the original tool's indexing: a run that runs off
				// the end of the buffer is keyed by its last byte's index,
				// not one past it (unlike a normally terminated run below).
				runs = append(runs, ASCIIRun{EndOffset: i, Bytes: data[start : i+1]})
			}
		default:
			if start != -1 {
				if i-start >= minLength {
					runs = append(runs, ASCIIRun{EndOffset: i, Bytes: data[start:i]})
				}
				start = -1
			}
		}
	}
	return runs
}
