// Package textnorm normalizes the router strings recovered from firmware
// images and core dumps (CW_ metadata, process names, history entries,
// logged events) into valid UTF-8.
//
// Recovered strings are raw bytes from embedded-device memory: ASCII in
// practice, but occasionally carrying high-bit extended-ASCII bytes (e.g.
// degree signs or box-drawing characters left over from a terminal
// session) that are not valid UTF-8 on their own. This mirrors the
// teacher's BOM-sensing decoder selection, adapted from UTF-16 firmware
// headers to extended-ASCII router strings: CP437 is the encoding IOS's
// console subsystem has historically assumed for its byte values above
// 0x7F.
package textnorm

import (
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// ToUTF8 decodes s as CP437 extended ASCII and returns valid UTF-8. Bytes
// already within 7-bit ASCII pass through unchanged; only the >=0x80 range
// is reinterpreted.
func ToUTF8(s []byte) string {
	if isASCII(s) {
		return string(s)
	}
	decoder := charmap.CodePage437.NewDecoder()
	out, _, err := transform.Bytes(decoder, s)
	if err != nil {
		return string(s)
	}
	return string(out)
}

func isASCII(s []byte) bool {
	for _, b := range s {
		if b >= 0x80 {
			return false
		}
	}
	return true
}
