// Package cwstrings extracts the $-delimited CW_ metadata key/value pairs
// Cisco embeds between CW_BEGIN$ and CW_END$ markers in both firmware
// images and core-dump data regions.
package cwstrings

import (
	"bytes"
	"fmt"

	"github.com/digitalsleuth/naft/magic"
	"github.com/digitalsleuth/naft/scan"
	"github.com/digitalsleuth/naft/textnorm"
)

// Table is an ordered key -> value mapping recovered from a CW_ string
// block (e.g. CW_VERSION -> "12.4").
type Table struct {
	Keys   []string
	Values map[string]string
	Error  error
}

// Parse extracts CW_ tokens from data. Exactly one CW_BEGIN$ and one
// CW_END$ must be present, with CW_BEGIN$ preceding CW_END$ and a
// terminating $ following CW_END$; any violation sets Table.Error and
// leaves Values empty.
func Parse(data []byte) *Table {
	t := &Table{Values: map[string]string{}}

	begins := scan.FindAll(data, magic.CWBegin)
	switch {
	case len(begins) == 0:
		t.Error = fmt.Errorf("CW_BEGIN not found")
		return t
	case len(begins) > 1:
		t.Error = fmt.Errorf("CW_BEGIN found multiple times")
		return t
	}
	ends := scan.FindAll(data, magic.CWEnd)
	switch {
	case len(ends) == 0:
		t.Error = fmt.Errorf("CW_END not found")
		return t
	case len(ends) > 1:
		t.Error = fmt.Errorf("CW_END found multiple times")
		return t
	}
	begin, end := begins[0], ends[0]
	if begin >= end {
		t.Error = fmt.Errorf("CW_BEGIN not before CW_END")
		return t
	}
	if bytes.IndexByte(data[end+len(magic.CWEnd):], '$') < 0 {
		t.Error = fmt.Errorf("final delimiter $ not found")
		return t
	}

	// Only the span strictly between the two markers carries key/value
	// tokens; scanning from the markers themselves would pick up "BEGIN"
	// and "END" as spurious CW_ keys.
	middle := data[begin+len(magic.CWBegin) : end]
	for _, idx := range scan.FindAll(middle, magic.CWPrefix) {
		rest := middle[idx:]
		delimiters := scan.FindAll(rest, magic.CWDelimiter)
		if len(delimiters) < 2 {
			t.Error = fmt.Errorf("delimiters $ not found")
			return t
		}
		key := string(rest[0:delimiters[0]])
		value := textnorm.ToUTF8(rest[delimiters[0]+1 : delimiters[1]])
		if _, exists := t.Values[key]; !exists {
			t.Keys = append(t.Keys, key)
		}
		t.Values[key] = value
	}
	return t
}

// Get returns the value for key and whether it was present.
func (t *Table) Get(key string) (string, bool) {
	v, ok := t.Values[key]
	return v, ok
}

// Well-known CW_ keys.
const (
	KeyVersion  = "CW_VERSION"
	KeyFamily   = "CW_FAMILY"
	KeyFeature  = "CW_FEATURE"
	KeyImage    = "CW_IMAGE"
	KeySysDescr = "CW_SYSDESCR"
)
