// Package archive assembles converted files into a single ZIP payload.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Writer collects entries and produces the archive bytes.
type Writer interface {
	AddEntry(name string, data []byte) (string, error)
	Finalize() ([]byte, error)
}

// ErrFinalized is returned when entries are added after Finalize.
var ErrFinalized = errors.New("archive already finalized")

// ZipWriter is an in-memory Writer. Entry names are made unique by
// appending a counter before the extension.
type ZipWriter struct {
	buf      bytes.Buffer
	zw       *zip.Writer
	used     map[string]struct{}
	modified time.Time
	done     bool
}

// NewZipWriter returns an empty ZipWriter.
func NewZipWriter() *ZipWriter {
	w := &ZipWriter{
		used:     make(map[string]struct{}),
		modified: time.Now(),
	}
	w.zw = zip.NewWriter(&w.buf)
	return w
}

// AddEntry stores data under name, or under a derived unique name if name
// was already used. It returns the name actually written.
func (w *ZipWriter) AddEntry(name string, data []byte) (string, error) {
	if w.done {
		return "", ErrFinalized
	}
	name = w.uniqueName(sanitize(name))

	fw, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.modified,
	})
	if err != nil {
		return "", fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write entry %s: %w", name, err)
	}
	w.used[name] = struct{}{}
	return name, nil
}

// Finalize closes the archive and returns its bytes.
func (w *ZipWriter) Finalize() ([]byte, error) {
	if w.done {
		return nil, ErrFinalized
	}
	w.done = true
	if err := w.zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return w.buf.Bytes(), nil
}

// uniqueName returns name or the first free name_N.ext.
func (w *ZipWriter) uniqueName(name string) string {
	if _, taken := w.used[name]; !taken {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s_%d%s", base, counter, ext)
		if _, taken := w.used[candidate]; !taken {
			return candidate
		}
	}
}

// sanitize keeps only the base name so entries cannot escape the archive
// root.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
