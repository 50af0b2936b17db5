// Package logging provides log writing with rotation for daemon services.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/araucaria-project/tcsd/internal/config"
)

// defaultMaxSize is used when a rotation policy's MaxSize is empty or fails
// to parse.
const defaultMaxSize int64 = 100 * 1024 * 1024

// writerConfig is the per-stream configuration a Writer needs. Both
// config.LogStreamConfig and test doubles satisfy it.
type writerConfig interface {
	File() string
	TimestampFormat() string
	Rotation() config.RotationConfig
}

// Writer is a log writer with optional rotation.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	path     string
	maxSize  int64
	maxFiles int
	compress bool
	size     int64

	timestampFormat string
	addTimestamp    bool
}

// NewWriter creates a log writer at path, creating its parent directory and
// opening (or resuming) the file per cfg's rotation policy.
func NewWriter(path string, cfg writerConfig) (*Writer, error) {
	file, size, err := openLogFile(path)
	if err != nil {
		return nil, err
	}

	rotation := cfg.Rotation()
	maxFiles := rotation.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 3
	}

	w := &Writer{
		file:            file,
		writer:          bufio.NewWriter(file),
		path:            path,
		maxSize:         parseMaxSize(rotation.MaxSize),
		maxFiles:        maxFiles,
		compress:        rotation.Compress,
		size:            size,
		timestampFormat: cfg.TimestampFormat(),
		addTimestamp:    cfg.TimestampFormat() != "",
	}

	return w, nil
}

// NewWriterFromConfig is NewWriter under the name the teacher's config-driven
// call sites use; behavior is identical.
func NewWriterFromConfig(path string, cfg writerConfig) (*Writer, error) {
	return NewWriter(path, cfg)
}

// openLogFile creates path's parent directory if needed, opens path for
// append, and reports its current size.
func openLogFile(path string) (*os.File, int64, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, 0, fmt.Errorf("creating log directory: %w", err)
		}
	}

	f, err := newFileOpener(path).open()
	if err != nil {
		return nil, 0, fmt.Errorf("opening log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("getting file info: %w", err)
	}

	return f, info.Size(), nil
}

// parseMaxSize parses a rotation MaxSize string, falling back to
// defaultMaxSize when it's empty or malformed.
func parseMaxSize(s string) int64 {
	if s == "" {
		return defaultMaxSize
	}
	n, err := config.ParseSize(s)
	if err != nil {
		return defaultMaxSize
	}
	return n
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Check if rotation needed
	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log: %w", err)
		}
	}

	// Add timestamp if configured
	if w.addTimestamp {
		ts := FormatTimestamp(time.Now(), w.timestampFormat)
		if _, err := w.writer.WriteString(ts + " "); err != nil {
			return 0, err
		}
		w.size += int64(len(ts) + 1)
	}

	n, err = w.writer.Write(p)
	if err != nil {
		return n, err
	}
	w.size += int64(n)

	// Flush for each write to ensure logs are persisted
	if err := w.writer.Flush(); err != nil {
		return n, err
	}

	return n, nil
}

// rotate closes the current file, rotates backups, and opens a fresh file.
func (w *Writer) rotate() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	if err := w.rotateFiles(); err != nil {
		return err
	}

	file, err := w.openNewFile()
	if err != nil {
		return err
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	w.size = 0

	return nil
}

// openNewFile opens w.path fresh after rotation; the parent directory was
// already created by NewWriter, so this doesn't recreate it.
func (w *Writer) openNewFile() (*os.File, error) {
	return newFileOpener(w.path).open()
}

// rotateFiles renumbers the backup files .1..maxFiles, dropping the oldest.
func (w *Writer) rotateFiles() error {
	oldest := fmt.Sprintf("%s.%d", w.path, w.maxFiles)
	_ = os.Remove(oldest)

	for i := w.maxFiles - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", w.path, i)
		newPath := fmt.Sprintf("%s.%d", w.path, i+1)
		_ = os.Rename(oldPath, newPath)
	}

	if err := os.Rename(w.path, w.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// Close closes the log writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Sync flushes the buffer to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Path returns the log file path.
func (w *Writer) Path() string {
	return w.path
}

// Size returns the current log file size.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// MultiWriter writes to multiple writers.
type MultiWriter struct {
	writers []io.WriteCloser
}

// NewMultiWriter creates a writer that duplicates output to multiple writers.
func NewMultiWriter(writers ...io.WriteCloser) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write writes to all writers.
func (mw *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range mw.writers {
		n, err = w.Write(p)
		if err != nil {
			return n, err
		}
	}
	return len(p), nil
}

// Close closes all writers.
func (mw *MultiWriter) Close() error {
	var firstErr error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
