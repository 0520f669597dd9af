package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/digitalsleuth/naft/csimage"
	"github.com/digitalsleuth/naft/cwstrings"
	"github.com/digitalsleuth/naft/orchestrate"
)

func imageFor(data []byte) *csimage.Image {
	return csimage.Parse(data, csimage.ZipDecompressor{})
}

func runImage(args []string) error {
	fs := flag.NewFlagSet("image", flag.ExitOnError)
	info := fs.Bool("info", false, "print ELF/CW metadata and checksum status")
	extract := fs.String("extract", "", "decompress the embedded payload to PATH")
	ida := fs.String("ida", "", "decompress the embedded payload (IDA Pro PowerPC header) to PATH")
	scanDir := fs.String("scan", "", "scan every .bin file under DIR")

	binFile := fs.String("bin", "", "firmware image file (required for --info|--extract|--ida)")
	md5db := fs.String("m", cfg.DefaultMD5DBDir, "MD5 database CSV (with --scan)")
	recurse := fs.Bool("R", false, "recurse into subdirectories (with --scan)")
	resume := fs.String("r", "", "resume a checkpointed scan from PATH (with --scan)")
	checkpointPath := fs.String("l", "", "write a resume checkpoint to PATH on failure (with --scan)")
	verbose := fs.Bool("v", false, "verbose output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	_ = verbose

	switch {
	case *info:
		return imageInfo(*binFile)
	case *extract != "":
		return imageExtract(*binFile, *extract, false)
	case *ida != "":
		return imageExtract(*binFile, *ida, true)
	case *scanDir != "" || *resume != "":
		return imageScan(*scanDir, *resume, *checkpointPath, *md5db, *recurse)
	default:
		return fmt.Errorf("image: one of --info|--extract|--ida|--scan is required")
	}
}

func imageInfo(binFile string) error {
	if binFile == "" {
		return fmt.Errorf("image --info requires --bin FILE")
	}
	data, err := os.ReadFile(binFile)
	if err != nil {
		return err
	}
	img := imageFor(data)
	fmt.Printf("ELF error:          %d\n", img.ELF.Error)
	fmt.Printf("Section count:      %d\n", img.ELF.CountSections)
	fmt.Printf("String table index: %d\n", img.ELF.StringTableIndex)
	fmt.Printf("Image error:        %d\n", img.Error)
	if img.CWStrings != nil && img.CWStrings.Error == nil {
		if v, ok := img.CWStrings.Get(cwstrings.KeyVersion); ok {
			fmt.Printf("CW_VERSION:         %s\n", v)
		}
		if v, ok := img.CWStrings.Get(cwstrings.KeyFamily); ok {
			fmt.Printf("CW_FAMILY:          %s\n", v)
		}
	}
	fmt.Printf("Size uncompressed:  %d\n", img.SizeUncompressed)
	fmt.Printf("Size compressed:    %d\n", img.SizeCompressed)
	fmt.Printf("Checksum compressed:   declared 0x%08X calculated 0x%08X (%v)\n",
		img.ChecksumCompressed, img.CalculatedChecksumCompressed, img.ChecksumCompressed == img.CalculatedChecksumCompressed)
	fmt.Printf("Checksum uncompressed: declared 0x%08X calculated 0x%08X (%v)\n",
		img.ChecksumUncompressed, img.CalculatedChecksumUncompressed, img.ChecksumUncompressed == img.CalculatedChecksumUncompressed)
	if img.EmbeddedMD5 != "" {
		fmt.Printf("Embedded MD5:       %s\n", img.EmbeddedMD5)
	}
	fmt.Printf("Calculated MD5:     %s\n", img.CalculatedMD5)
	fmt.Printf("Entropy:            %.4f bits/byte\n", csimage.Entropy(data))
	return nil
}

func imageExtract(binFile, outPath string, forIDA bool) error {
	if binFile == "" {
		return fmt.Errorf("image extraction requires --bin FILE")
	}
	data, err := os.ReadFile(binFile)
	if err != nil {
		return err
	}
	img := imageFor(data)
	if img.Error != csimage.ErrNone {
		return fmt.Errorf("cisco image parse error %d", img.Error)
	}
	payload := img.ImageUncompressed
	if forIDA {
		payload = img.ImageUncompressedIDAPro()
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, payload, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s (%d bytes) written to %s\n", img.ImageUncompressedName, len(payload), outPath)
	return nil
}

func imageScan(dir, resumePath, checkpointPath, md5dbPath string, recurse bool) error {
	var lookup *csvMD5Lookup
	if md5dbPath != "" {
		var err error
		lookup, err = loadCSVMD5Lookup(md5dbPath)
		if err != nil {
			return err
		}
	}

	fmt.Println("#,filename,CW_VERSION,CW_FAMILY,imageSize,entropy,errorCode,ELFerrorCode,ELFsectionCount,ELFstringTableIndex,cksumCompressed,cksumCompEqCalculated,cksumUncompressed,cksumUncompEqCalculated,uncompressedFilename,embeddedMD5,md5Match")

	onRecord := func(rec orchestrate.ScanRecord) error {
		match := ""
		if lookup != nil {
			if csvName, fileName, ok := lookup.Find(rec.MD5Hash); ok {
				match = fmt.Sprintf("%s/%s", csvName, fileName)
			}
		}
		fmt.Printf("%d,%s,%s,%s,%d,%.4f,%d,%d,%d,%d,0x%08X,%v,0x%08X,%v,%s,%s,%s\n",
			rec.Index, rec.Filename, rec.CWVersion, rec.CWFamily, rec.ImageSize, rec.Entropy,
			rec.ErrorCode, rec.ELFErrorCode, rec.ELFSectionCount, rec.ELFStringTableIndex,
			rec.ChecksumCompressed, rec.ChecksumCompEqual, rec.ChecksumUncompressed, rec.ChecksumUncompEqual,
			rec.UncompressedFilename, rec.EmbeddedMD5, match)
		return nil
	}

	dec := csimage.ZipDecompressor{}
	if resumePath != "" {
		return orchestrate.ResumeScan(resumePath, dec, onRecord)
	}
	if checkpointPath == "" {
		checkpointPath = dir + ".naft-scan-checkpoint.yaml"
	}
	return orchestrate.ScanDirectory(dir, recurse, dec, checkpointPath, onRecord)
}
