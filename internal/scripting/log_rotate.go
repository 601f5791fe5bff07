package scripting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// RotatingFileWriter is a size-rotated log file. When a write would take the
// file past the size limit, the file moves to <path>.1, older backups shift
// up by one, and backups numbered above maxFiles are removed.
type RotatingFileWriter struct {
	mu       sync.Mutex
	fs       afero.Fs
	path     string
	maxBytes int64
	maxFiles int
	size     int64
	file     afero.File
}

var _ io.WriteCloser = (*RotatingFileWriter)(nil)

// NewRotatingFileWriter opens path on fs for appending. maxSizeMB is clamped
// to at least 1; maxFiles of 0 keeps no backups. A nil fs is the OS
// filesystem.
func NewRotatingFileWriter(fs afero.Fs, path string, maxSizeMB, maxFiles int) (*RotatingFileWriter, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	w := &RotatingFileWriter{
		fs:       fs,
		path:     path,
		maxBytes: int64(max(maxSizeMB, 1)) << 20,
		maxFiles: max(maxFiles, 0),
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("log file: mkdir %s: %w", dir, err)
		}
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	f, err := w.fs.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("log file: open %s: %w", w.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("log file: stat %s: %w", w.path, err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first if p would not fit. A single write is
// never split across files.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("log file: rotate: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file. Further writes fail.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	backups := w.backups()
	sort.Sort(sort.Reverse(sort.IntSlice(backups)))
	for _, n := range backups {
		if n >= w.maxFiles {
			_ = w.fs.Remove(w.backupPath(n))
			continue
		}
		_ = w.fs.Rename(w.backupPath(n), w.backupPath(n+1))
	}
	if w.maxFiles > 0 {
		_ = w.fs.Rename(w.path, w.backupPath(1))
	} else {
		_ = w.fs.Remove(w.path)
	}
	return w.open()
}

func (w *RotatingFileWriter) backupPath(n int) string {
	return w.path + "." + strconv.Itoa(n)
}

// backups lists the numbers of the existing backup files.
func (w *RotatingFileWriter) backups() []int {
	entries, err := afero.ReadDir(w.fs, filepath.Dir(w.path))
	if err != nil {
		return nil
	}
	prefix := filepath.Base(w.path) + "."
	var nums []int
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n >= 1 {
			nums = append(nums, n)
		}
	}
	return nums
}
