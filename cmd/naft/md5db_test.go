package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCSVMD5LookupFindsByHashCaseInsensitively(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known.csv")
	contents := "AABBCCDDEEFF00112233445566778899,c3600-adventerprisek9-mz.bin\n\ndeadbeef,other.bin\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := loadCSVMD5Lookup(path)
	if err != nil {
		t.Fatalf("loadCSVMD5Lookup: %v", err)
	}

	csvName, fileName, ok := l.Find("aabbccddeeff00112233445566778899")
	if !ok {
		t.Fatal("expected a match for the lowercase-equivalent hash")
	}
	if fileName != "c3600-adventerprisek9-mz.bin" {
		t.Errorf("fileName = %q, want c3600-adventerprisek9-mz.bin", fileName)
	}
	if csvName != "known.csv" {
		t.Errorf("csvName = %q, want known.csv", csvName)
	}
}

func TestLoadCSVMD5LookupIgnoresMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known.csv")
	contents := "no-comma-here\nDEADBEEF,good.bin\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := loadCSVMD5Lookup(path)
	if err != nil {
		t.Fatalf("loadCSVMD5Lookup: %v", err)
	}
	if _, _, ok := l.Find("deadbeef"); !ok {
		t.Error("expected the well-formed line to still be indexed")
	}
	if len(l.byHash) != 1 {
		t.Errorf("byHash has %d entries, want 1 (malformed line skipped)", len(l.byHash))
	}
}

func TestFindMissingHashReturnsNotOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known.csv")
	os.WriteFile(path, []byte("deadbeef,good.bin\n"), 0o644)
	l, err := loadCSVMD5Lookup(path)
	if err != nil {
		t.Fatalf("loadCSVMD5Lookup: %v", err)
	}
	if _, _, ok := l.Find("00000000"); ok {
		t.Error("expected no match for an unknown hash")
	}
}

func TestLoadCSVMD5LookupMissingFile(t *testing.T) {
	if _, err := loadCSVMD5Lookup(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected an error for a missing CSV file")
	}
}
