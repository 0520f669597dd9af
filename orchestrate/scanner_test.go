package orchestrate

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFindBinFilesSingleFileArgument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindBinFiles(path, false)
	if err != nil {
		t.Fatalf("FindBinFiles: %v", err)
	}
	if diff := cmp.Diff([]string{path}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFindBinFilesSingleNonBinFileReturnsNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	os.WriteFile(path, []byte("x"), 0o644)
	got, err := FindBinFiles(path, false)
	if err != nil {
		t.Fatalf("FindBinFiles: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestFindBinFilesNonRecursiveSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	os.Mkdir(sub, 0o755)
	top := filepath.Join(dir, "top.bin")
	nested := filepath.Join(sub, "nested.bin")
	os.WriteFile(top, []byte("a"), 0o644)
	os.WriteFile(nested, []byte("b"), 0o644)

	got, err := FindBinFiles(dir, false)
	if err != nil {
		t.Fatalf("FindBinFiles: %v", err)
	}
	if diff := cmp.Diff([]string{top}, got); diff != "" {
		t.Errorf("non-recursive mismatch (-want +got):\n%s", diff)
	}

	got, err = FindBinFiles(dir, true)
	if err != nil {
		t.Fatalf("FindBinFiles recursive: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("recursive got %v, want both files", got)
	}
}

func TestFindBinFilesCaseInsensitiveExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "IMAGE.BIN")
	os.WriteFile(path, []byte("x"), 0o644)
	got, err := FindBinFiles(dir, false)
	if err != nil {
		t.Fatalf("FindBinFiles: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %v, want 1 case-insensitive match", got)
	}
}

func TestSaveLoadCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.yaml")
	remaining := []string{"a.bin", "b.bin"}
	if err := SaveCheckpoint(path, remaining, 5, 3); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	gotRemaining, total, counter, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if diff := cmp.Diff(remaining, gotRemaining); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
	if total != 5 || counter != 3 {
		t.Errorf("total/counter = %d/%d, want 5/3", total, counter)
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	if _, _, _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing checkpoint file")
	}
}

type stubDecompressor struct{}

func (stubDecompressor) Decompress(zipData []byte) (string, []byte, error) {
	return "", nil, nil
}

func TestScanFilePopulatesSizeEntropyAndMD5EvenOnELFError(t *testing.T) {
	data := []byte("not an ELF image at all, just garbage bytes for hashing")
	path := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := ScanFile(1, path, stubDecompressor{})
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if rec.ImageSize != len(data) {
		t.Errorf("ImageSize = %d, want %d", rec.ImageSize, len(data))
	}
	wantSum := md5.Sum(data)
	if rec.MD5Hash != hex.EncodeToString(wantSum[:]) {
		t.Errorf("MD5Hash = %s, want %s", rec.MD5Hash, hex.EncodeToString(wantSum[:]))
	}
	if rec.ErrorCode == 0 {
		t.Error("expected a nonzero ErrorCode for non-ELF data")
	}
	if rec.Filename != "garbage.bin" {
		t.Errorf("Filename = %q, want garbage.bin", rec.Filename)
	}
}

func TestScanFileErrorsOnMissingFile(t *testing.T) {
	if _, err := ScanFile(1, filepath.Join(t.TempDir(), "missing.bin"), stubDecompressor{}); err == nil {
		t.Error("expected an error reading a missing file")
	}
}

func TestScanDirectoryInvokesOnRecordPerFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin", "b.bin"} {
		os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644)
	}
	var seen []string
	err := ScanDirectory(dir, false, stubDecompressor{}, "", func(rec ScanRecord) error {
		seen = append(seen, rec.Filename)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanDirectory: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("got %v, want both files scanned", seen)
	}
}

func TestScanDirectorySavesCheckpointOnRecordError(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.bin", "b.bin"} {
		os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644)
	}
	checkpointPath := filepath.Join(t.TempDir(), "cp.yaml")
	failAt := "a.bin"
	err := ScanDirectory(dir, false, stubDecompressor{}, checkpointPath, func(rec ScanRecord) error {
		if rec.Filename == failAt {
			return os.ErrInvalid
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected ScanDirectory to propagate onRecord's error")
	}
	remaining, total, counter, cpErr := LoadCheckpoint(checkpointPath)
	if cpErr != nil {
		t.Fatalf("LoadCheckpoint: %v", cpErr)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(remaining) == 0 || filepath.Base(remaining[0]) != failAt {
		t.Errorf("remaining = %v, want the failed file retained for retry", remaining)
	}
	if counter != 1 {
		t.Errorf("counter = %d, want 1 (checkpointed before advancing past the failed file)", counter)
	}
}
