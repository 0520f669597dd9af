package cwstrings

import "testing"

func TestParseSingleKeyExactMatch(t *testing.T) {
	data := []byte("junk CW_BEGIN$CW_VERSION$12.4$CW_END$ trailer")
	table := Parse(data)
	if table.Error != nil {
		t.Fatalf("unexpected error: %v", table.Error)
	}
	if len(table.Values) != 1 {
		t.Fatalf("got %d values, want 1: %+v", table.Values, table.Values)
	}
	v, ok := table.Get(KeyVersion)
	if !ok || v != "12.4" {
		t.Errorf("CW_VERSION = %q, %v, want \"12.4\", true", v, ok)
	}
}

func TestParseMultipleKeysPreservesOrder(t *testing.T) {
	data := []byte("CW_BEGIN$CW_VERSION$12.4$CW_FAMILY$c2900$CW_END$")
	table := Parse(data)
	if table.Error != nil {
		t.Fatalf("unexpected error: %v", table.Error)
	}
	wantKeys := []string{KeyVersion, KeyFamily}
	if len(table.Keys) != len(wantKeys) {
		t.Fatalf("Keys = %v, want %v", table.Keys, wantKeys)
	}
	for i, k := range wantKeys {
		if table.Keys[i] != k {
			t.Errorf("Keys[%d] = %q, want %q", i, table.Keys[i], k)
		}
	}
}

func TestParseMissingBegin(t *testing.T) {
	table := Parse([]byte("CW_VERSION$12.4$CW_END$"))
	if table.Error == nil {
		t.Fatal("expected error for missing CW_BEGIN$")
	}
}

func TestParseMissingEnd(t *testing.T) {
	table := Parse([]byte("CW_BEGIN$CW_VERSION$12.4$"))
	if table.Error == nil {
		t.Fatal("expected error for missing CW_END$")
	}
}

func TestParseDuplicateBegin(t *testing.T) {
	table := Parse([]byte("CW_BEGIN$CW_BEGIN$CW_VERSION$12.4$CW_END$"))
	if table.Error == nil {
		t.Fatal("expected error for duplicate CW_BEGIN$")
	}
}

func TestParseEndBeforeBegin(t *testing.T) {
	table := Parse([]byte("CW_END$junkCW_BEGIN$"))
	if table.Error == nil {
		t.Fatal("expected error when CW_END$ precedes CW_BEGIN$")
	}
}

func TestParseMissingFinalDelimiter(t *testing.T) {
	table := Parse([]byte("CW_BEGIN$CW_VERSION$12.4$CW_END"))
	if table.Error == nil {
		t.Fatal("expected error for missing trailing $ after CW_END")
	}
}

func TestParseDoesNotYieldSpuriousBeginEndKeys(t *testing.T) {
	// Regression: scanning the whole matched span (including the
	// CW_BEGIN$/CW_END$ tokens) would spuriously parse "BEGIN" as a key.
	data := []byte("CW_BEGIN$CW_VERSION$12.4$CW_END$")
	table := Parse(data)
	if table.Error != nil {
		t.Fatalf("unexpected error: %v", table.Error)
	}
	if _, ok := table.Get("CW_BEGIN"); ok {
		t.Error("CW_BEGIN should never appear as a parsed key")
	}
	if _, ok := table.Get("CW_END"); ok {
		t.Error("CW_END should never appear as a parsed key")
	}
}

func TestParseLastOccurrenceWins(t *testing.T) {
	data := []byte("CW_BEGIN$CW_VERSION$12.3$CW_VERSION$12.4$CW_END$")
	table := Parse(data)
	if table.Error != nil {
		t.Fatalf("unexpected error: %v", table.Error)
	}
	v, _ := table.Get(KeyVersion)
	if v != "12.4" {
		t.Errorf("CW_VERSION = %q, want \"12.4\" (last occurrence)", v)
	}
	if len(table.Keys) != 1 {
		t.Errorf("Keys = %v, want one entry (no duplicate key insertion)", table.Keys)
	}
}
