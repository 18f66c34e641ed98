// Package storage owns where job files live: per-job temp inputs and
// compressed outputs on local disk, and the optional object-store archive.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/imalyk/squnch/pkg/codec"
)

// Local lays job files out under a work directory. Every path embeds the
// job's file id so concurrent jobs never share a path.
type Local struct {
	uploadDir string
	outputDir string
}

func NewLocal(workDir string) (*Local, error) {
	l := &Local{
		uploadDir: filepath.Join(workDir, "uploads"),
		outputDir: filepath.Join(workDir, "outputs"),
	}
	for _, dir := range []string{l.uploadDir, l.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return l, nil
}

func (l *Local) InputPath(fileID, ext string) string {
	return filepath.Join(l.uploadDir, fmt.Sprintf("%s-input%s", fileID, ext))
}

// OutputPath is the only place a compressed video for fileID is ever written.
func (l *Local) OutputPath(fileID string) string {
	return filepath.Join(l.outputDir, fmt.Sprintf("%s-output.%s", fileID, codec.FormatMP4))
}

// SaveInput copies r to the job's input path and returns the path and the
// number of bytes written. A partial file is removed on error.
func (l *Local) SaveInput(fileID, ext string, r io.Reader) (string, int64, error) {
	path := l.InputPath(fileID, ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

// Remove deletes path. A file that is already gone is not an error.
func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
