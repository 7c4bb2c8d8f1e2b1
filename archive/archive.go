// Package archive decodes uploaded code bundles.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/sparklane/sparklane/types"
)

var (
	// ErrInvalidArchive is returned for bytes that are not a readable zip.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrTooLarge is returned when the decompressed bundle exceeds the limit.
	ErrTooLarge = errors.New("archive too large")
)

// Extract decodes a zip archive into an ordered Bundle. Directory entries
// are dropped. limit caps the total decompressed size; zero disables it.
func Extract(data []byte, limit int64) (types.Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	var (
		bundle types.Bundle
		total  int64
	)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name, err := cleanName(f.Name)
		if err != nil {
			return nil, err
		}
		content, err := readEntry(f, limit-total, limit > 0)
		if err != nil {
			return nil, err
		}
		total += int64(len(content))
		bundle = append(bundle, types.File{Path: name, Content: content})
	}
	return bundle, nil
}

func readEntry(f *zip.File, remaining int64, limited bool) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close() //nolint:errcheck

	var r io.Reader = rc
	if limited {
		// One byte past the budget is enough to detect an overflow.
		r = io.LimitReader(rc, remaining+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidArchive, f.Name, err)
	}
	if limited && int64(len(content)) > remaining {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	return content, nil
}

// cleanName normalizes an entry name to a relative slash path and rejects
// absolute names and names that climb out of the bundle root.
func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidArchive, name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path %q escapes bundle root", ErrInvalidArchive, name)
	}
	return cleaned, nil
}
