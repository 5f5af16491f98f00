package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediaproxy/work/logger"

	"github.com/google/uuid"
)

// fileSuffix marks files owned by the segment cache so stale ones can be
// purged without touching anything else in the directory.
const fileSuffix = ".seg"

// ErrWriteAbandoned is returned by Commit after a write failed or Abort was
// called.
var ErrWriteAbandoned = errors.New("cache write abandoned")

// Disk manages the on-disk segment cache directory.
type Disk struct {
	dir string
}

// NewDisk prepares dir for caching.
//
// Behavior:
//   - Creates the directory (and parents) when absent.
//   - Removes segment files left behind by a previous run, since the
//     in-memory index that referenced them is gone.
//
// Parameters:
//   - dir: cache directory path
//
// Returns:
//   - *Disk: ready-to-use cache directory
//   - error: when the directory cannot be created or listed
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing cache dir %s: %w", dir, err)
	}

	purged := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			purged++
		}
	}
	if purged > 0 {
		logger.Info("{cache/disk - NewDisk} Purged %d stale segment files from %s", purged, dir)
	}

	return &Disk{dir: dir}, nil
}

// Dir returns the cache directory.
func (d *Disk) Dir() string {
	return d.dir
}

// Create opens a new uniquely named cache file for writing.
func (d *Disk) Create() (*Writer, error) {
	path := filepath.Join(d.dir, uuid.NewString()+fileSuffix)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating cache file: %w", err)
	}
	return &Writer{f: f, path: path}, nil
}

// Writer receives one segment body. After the first write error it swallows
// further writes so the response being teed keeps flowing; Commit then
// reports the failure and the partial file is removed.
type Writer struct {
	f      *os.File
	path   string
	size   int64
	err    error
	closed bool
}

// Write appends p to the cache file. It never fails toward the caller.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil || w.closed {
		return len(p), nil
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	if err != nil {
		w.err = err
		logger.Warn("{cache/disk - Write} Abandoning cache file %s: %v", w.path, err)
	}
	return len(p), nil
}

// Failed reports whether a write error occurred.
func (w *Writer) Failed() bool {
	return w.err != nil
}

// Size returns the bytes written so far.
func (w *Writer) Size() int64 {
	return w.size
}

// Commit closes the file and returns its path. On a prior write failure the
// file is removed and the error returned instead.
func (w *Writer) Commit() (string, error) {
	if w.closed {
		return "", ErrWriteAbandoned
	}
	w.closed = true
	closeErr := w.f.Close()
	if w.err == nil {
		w.err = closeErr
	}
	if w.err != nil {
		os.Remove(w.path)
		return "", fmt.Errorf("%w: %v", ErrWriteAbandoned, w.err)
	}
	return w.path, nil
}

// Abort closes and removes the partial file.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.f.Close()
	os.Remove(w.path)
}
