package coredump

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/digitalsleuth/naft/scan"
)

// BlockString is one ASCII run recovered from a heap block's payload,
// keyed by the block's Address plus its BlockSize plus the run's
// EndOffset within the payload (see scan.ASCIIRun).
type BlockString struct {
	Address uint32
	Value   string
}

// BlockStrings extracts every ASCII run of at least minLength bytes (0
// uses scan.DefaultMinStringLength) from bh's payload.
func BlockStrings(bh *BlockHeader, minLength int) []BlockString {
	data := bh.GetData()
	runs := scan.ExtractASCIIStrings(data, minLength)
	out := make([]BlockString, 0, len(runs))
	base := bh.Address + bh.BlockSize
	for _, r := range runs {
		out = append(out, BlockString{Address: base + uint32(r.EndOffset), Value: string(r.Bytes)})
	}
	return out
}

// filterInitBlocksForString collects every ASCII run containing term from
// every heap block the walker resolved as "Init".
func filterInitBlocksForString(w *Walker, term string) []string {
	var found []string
	for _, bh := range w.Headers {
		if bh.AllocNameResolved != "Init" {
			continue
		}
		for _, s := range BlockStrings(bh, 0) {
			if containsSubstring(s.Value, term) {
				found = append(found, s.Value)
			}
		}
	}
	return found
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// months maps the three-letter English month abbreviations the router
// prints in its banners to their calendar number, mirroring uf.py's months
// dict.
var months = map[string]int{
	"Jan": 1, "Feb": 2, "Mar": 3, "Apr": 4, "May": 5, "Jun": 6,
	"Jul": 7, "Aug": 8, "Sep": 9, "Oct": 10, "Nov": 11, "Dec": 12,
}

// dtgHistPattern matches the history banner's "HH:MM:SS TZ Weekday Mon Day
// Year" form, e.g. "23:11:45 UTC Wed Apr 13 2020" (uf.py's dtg_hist).
var dtgHistPattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})\s([A-Z]+)\s([A-Za-z]+)\s([A-Za-z]{3})\s([\s\d]+)\s(\d{4})`)

// dtgEventsPattern matches the 19 characters of an event banner that follow
// its leading byte: "Mon Day HH:MM:SS.mmm" (uf.py's dtg_events).
var dtgEventsPattern = regexp.MustCompile(`^([A-Za-z]{3})\s([\s\d]{2})\s(\d{2}):(\d{2}):(\d{2})\.(\d{3})`)

// parseDTG parses a router date/time-group banner into a time.Time, porting
// uf.py's parse_dtg. It first tries the history form (full date and year
// present); if that fails and s is long enough, it falls back to the event
// form taken from s[1:20] (the leading byte is not part of the banner), and
// the event's missing year defaults to the current year, same as
// parse_dtg's dt.date.today().year. ms carries the event form's
// millisecond group and is empty for the history form.
func parseDTG(s string) (t time.Time, ms string, ok bool) {
	if m := dtgHistPattern.FindStringSubmatch(s); m != nil {
		month, known := months[m[6]]
		if !known {
			return time.Time{}, "", false
		}
		day, err := strconv.Atoi(strings.TrimSpace(m[7]))
		if err != nil {
			return time.Time{}, "", false
		}
		year, _ := strconv.Atoi(m[8])
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		second, _ := strconv.Atoi(m[3])
		return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), "", true
	}

	if len(s) < 20 {
		return time.Time{}, "", false
	}
	m := dtgEventsPattern.FindStringSubmatch(s[1:20])
	if m == nil {
		return time.Time{}, "", false
	}
	month, known := months[m[1]]
	if !known {
		return time.Time{}, "", false
	}
	day, err := strconv.Atoi(strings.TrimSpace(m[2]))
	if err != nil {
		return time.Time{}, "", false
	}
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	second, _ := strconv.Atoi(m[5])
	return time.Date(time.Now().Year(), time.Month(month), day, hour, minute, second, 0, time.UTC), m[6], true
}

// dtgFormat is Go's reference-time spelling of Python's "%b %d %Y %H:%M:%S".
const dtgFormat = "Jan 02 2006 15:04:05"

// HistoryEntry is one recovered router "CMD:" command-history record.
type HistoryEntry struct {
	Timestamp string
	Command   string
}

var historyPattern = regexp.MustCompile(`CMD: '(.+)' (.+)`)

// History walks the heap's "Init" blocks for embedded `CMD: '...' <ts>`
// strings and returns them in ascending chronological order, parsing each
// banner's embedded HH:MM:SS/weekday/month/day/year fields (parseDTG)
// rather than sorting on the raw banner text, whose leading time-of-day
// would otherwise outrank the date.
func History(w *Walker) []HistoryEntry {
	type parsed struct {
		t         time.Time
		timestamp string
		command   string
	}
	var entries []parsed
	for _, s := range filterInitBlocksForString(w, "CMD: ") {
		m := historyPattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		t, _, ok := parseDTG(m[2])
		if !ok {
			// Banner didn't match either known format: still surface the
			// command rather than silently discarding recovered evidence,
			// showing the raw banner text and sorting it first (zero
			// time.Time) since its real position is unknown.
			entries = append(entries, parsed{timestamp: m[2], command: m[1]})
			continue
		}
		entries = append(entries, parsed{t: t, timestamp: t.Format(dtgFormat), command: m[1]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].t.Before(entries[j].t) })
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntry{Timestamp: e.timestamp, Command: e.command}
	}
	return out
}

// EventEntry is one recovered router syslog-style event (": %..." text).
type EventEntry struct {
	Timestamp string
	Message   string
}

// Events walks the heap's "Init" blocks for embedded `: %...` strings and
// returns them in ascending chronological order, parsing each string's
// fixed-width date/time banner (parseDTG) rather than sorting on its raw
// bytes, whose leading month abbreviation would otherwise sort
// alphabetically instead of by date. The message is still split at the
// fixed 22-byte banner width, matching the router's own framing.
func Events(w *Walker) []EventEntry {
	type parsed struct {
		t         time.Time
		timestamp string
		message   string
	}
	var entries []parsed
	for _, s := range filterInitBlocksForString(w, ": %") {
		if len(s) <= 22 {
			continue
		}
		t, ms, ok := parseDTG(s)
		if !ok {
			// Banner didn't match the event format: keep the record with
			// its raw 22-byte banner rather than dropping it, sorted
			// first (zero time.Time) since its real position is unknown.
			entries = append(entries, parsed{timestamp: s[:22], message: s[22:]})
			continue
		}
		entries = append(entries, parsed{t: t, timestamp: t.Format(dtgFormat) + "." + ms, message: s[22:]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].t.Before(entries[j].t) })
	out := make([]EventEntry, len(entries))
	for i, e := range entries {
		out[i] = EventEntry{Timestamp: e.timestamp, Message: e.message}
	}
	return out
}
