package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// csvMD5Lookup implements csimage.MD5Lookup over a CSV file of
// "<md5hash>,<filename>" lines, matched by lowercase hex digest.
type csvMD5Lookup struct {
	csvBasename string
	byHash      map[string]string
}

func loadCSVMD5Lookup(path string) (*csvMD5Lookup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l := &csvMD5Lookup{csvBasename: filepath.Base(path), byHash: map[string]string{}}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		l.byHash[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// Find implements csimage.MD5Lookup.
func (l *csvMD5Lookup) Find(md5hash string) (csvName, fileName string, ok bool) {
	fileName, ok = l.byHash[strings.ToLower(md5hash)]
	return l.csvBasename, fileName, ok
}
