package backupfile

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
)

var ErrCorrupt = errors.New("backup is corrupt")

type VerifyReport struct {
	Path         string
	Compressed   bool
	Bytes        int64
	TarEntries   int
	Uncompressed int64
}

// Verify reads the artifact end to end. Gzip streams are checked against
// their trailer checksum and tar archives are walked header by header.
func Verify(path string) (*VerifyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}

	report := &VerifyReport{Path: path, Bytes: info.Size()}
	name := path

	var r io.Reader = bufio.NewReader(f)
	if IsCompressed(name) {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		defer gz.Close()
		r = gz
		report.Compressed = true
		name = StripCompression(name)
	}

	if strings.HasSuffix(name, ".tar") {
		tr := tar.NewReader(r)
		for {
			header, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
			}
			n, err := io.Copy(io.Discard, tr)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %s: %v", ErrCorrupt, path, header.Name, err)
			}
			report.TarEntries++
			report.Uncompressed += n
		}
		// drain padding so the gzip trailer is checked
		if _, err := drain(r); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		if report.TarEntries == 0 {
			return nil, fmt.Errorf("%w: %s has no entries", ErrCorrupt, path)
		}
		return report, nil
	}

	n, err := drain(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s has no content", ErrCorrupt, path)
	}
	report.Uncompressed = n
	return report, nil
}

// drain reads r to the end through Read only. pgzip's WriteTo does not
// resume a partially read stream.
func drain(r io.Reader) (int64, error) {
	return io.Copy(io.Discard, struct{ io.Reader }{r})
}
