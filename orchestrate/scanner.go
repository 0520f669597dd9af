package orchestrate

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/digitalsleuth/naft/csimage"
	"github.com/digitalsleuth/naft/cwstrings"
)

// ScanRecord is one CSV-style row produced for an image the scanner
// processed.
type ScanRecord struct {
	Index                int
	Filename              string
	CWVersion             string
	CWFamily              string
	ImageSize             int
	Entropy               float64
	ErrorCode             int
	ELFErrorCode          int
	ELFSectionCount       uint16
	ELFStringTableIndex   uint16
	ChecksumCompressed    uint32
	ChecksumCompEqual     bool
	ChecksumUncompressed  uint32
	ChecksumUncompEqual   bool
	UncompressedFilename  string
	EmbeddedMD5           string
	MD5Hash               string
}

// checkpoint is the scanner's resumable state: the filenames not yet
// processed, the original total count, and the next record's index.
type checkpoint struct {
	RemainingFilenames []string `yaml:"remaining_filenames"`
	TotalCount         int      `yaml:"total_count"`
	Counter            int      `yaml:"counter"`
}

// SaveCheckpoint serializes resumable scan state to path as YAML.
func SaveCheckpoint(path string, remaining []string, total, counter int) error {
	cp := checkpoint{RemainingFilenames: remaining, TotalCount: total, Counter: counter}
	out, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// LoadCheckpoint reads a checkpoint file written by SaveCheckpoint.
func LoadCheckpoint(path string) (remaining []string, total, counter int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, 0, 0, fmt.Errorf("parsing checkpoint: %w", err)
	}
	return cp.RemainingFilenames, cp.TotalCount, cp.Counter, nil
}

// FindBinFiles returns every .bin file under dir, recursing when recurse
// is true; dir itself is returned unwrapped if it's a single .bin file.
func FindBinFiles(dir string, recurse bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if strings.EqualFold(filepath.Ext(dir), ".bin") {
			return []string{dir}, nil
		}
		return nil, nil
	}

	var out []string
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recurse && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".bin") {
			out = append(out, path)
		}
		return nil
	}
	if err := filepath.WalkDir(dir, walk); err != nil {
		return nil, err
	}
	return out, nil
}

// ScanFile parses one firmware image file and produces its scan record.
func ScanFile(index int, filename string, dec csimage.Decompressor) (ScanRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return ScanRecord{}, fmt.Errorf("reading %s: %w", filename, err)
	}
	img := csimage.Parse(data, dec)

	rec := ScanRecord{
		Index:               index,
		Filename:            filepath.Base(filename),
		ImageSize:           len(data),
		Entropy:             csimage.Entropy(data),
		ErrorCode:           img.Error,
		ELFErrorCode:        img.ELF.Error,
		ELFSectionCount:     img.ELF.CountSections,
		ELFStringTableIndex: img.ELF.StringTableIndex,
		ChecksumCompressed:    img.ChecksumCompressed,
		ChecksumCompEqual:     img.ChecksumCompressed == img.CalculatedChecksumCompressed,
		ChecksumUncompressed:  img.ChecksumUncompressed,
		ChecksumUncompEqual:   img.ChecksumUncompressed == img.CalculatedChecksumUncompressed,
		UncompressedFilename:  img.ImageUncompressedName,
		EmbeddedMD5:           img.EmbeddedMD5,
	}
	if img.CWStrings != nil && img.CWStrings.Error == nil {
		rec.CWVersion, _ = img.CWStrings.Get(cwstrings.KeyVersion)
		rec.CWFamily, _ = img.CWStrings.Get(cwstrings.KeyFamily)
	}
	sum := md5.Sum(data)
	rec.MD5Hash = hex.EncodeToString(sum[:])
	return rec, nil
}

// ScanDirectory scans every .bin file under dir, calling onRecord for each
// file that could be read (a record whose image failed to parse carries
// the parse error). If reading a file fails or onRecord returns an error,
// checkpointPath (if non-empty) receives a resumable checkpoint of the
// remaining filenames. Interrupting the process (for example with a
// signal) writes no checkpoint.
func ScanDirectory(dir string, recurse bool, dec csimage.Decompressor, checkpointPath string, onRecord func(ScanRecord) error) error {
	filenames, err := FindBinFiles(dir, recurse)
	if err != nil {
		return err
	}
	return scanFilenames(filenames, len(filenames), 1, dec, checkpointPath, onRecord)
}

// ResumeScan continues a scan from a previously saved checkpoint.
func ResumeScan(checkpointPath string, dec csimage.Decompressor, onRecord func(ScanRecord) error) error {
	remaining, total, counter, err := LoadCheckpoint(checkpointPath)
	if err != nil {
		return err
	}
	return scanFilenames(remaining, total, counter, dec, checkpointPath, onRecord)
}

func scanFilenames(filenames []string, total, counter int, dec csimage.Decompressor, checkpointPath string, onRecord func(ScanRecord) error) error {
	for len(filenames) > 0 {
		filename := filenames[0]
		rec, err := ScanFile(counter, filename, dec)
		if err != nil {
			if checkpointPath != "" {
				_ = SaveCheckpoint(checkpointPath, filenames, total, counter)
			}
			return err
		}
		if err := onRecord(rec); err != nil {
			if checkpointPath != "" {
				_ = SaveCheckpoint(checkpointPath, filenames, total, counter)
			}
			return err
		}
		counter++
		filenames = filenames[1:]
	}
	return nil
}
