package logging

import (
	"io"
	"os"
	"sync"

	"github.com/araucaria-project/tcsd/internal/config"
)

// Capture owns a service's stdout/stderr destinations: a rotating Writer
// for whichever streams svcCfg names a file for, passthrough to the real
// os.Stdout/os.Stderr otherwise.
type Capture struct {
	mu     sync.Mutex
	stdout io.WriteCloser
	stderr io.WriteCloser
	closed bool
}

// NewCapture builds a Capture for serviceName, resolving each stream's file
// path under logCfg.BaseDir/serviceName and filling unset per-stream fields
// from logCfg.Defaults.
func NewCapture(serviceName string, logCfg config.LoggingConfig, svcCfg config.ServiceLogging) (*Capture, error) {
	stdout, err := newCaptureStream(logCfg, serviceName, svcCfg.Stdout, os.Stdout)
	if err != nil {
		return nil, err
	}

	stderr, err := newCaptureStream(logCfg, serviceName, svcCfg.Stderr, os.Stderr)
	if err != nil {
		_ = stdout.Close()
		return nil, err
	}

	return &Capture{stdout: stdout, stderr: stderr}, nil
}

// newCaptureStream opens a rotating Writer for cfg when it names a file, or
// wraps passthrough (the supervisor's own os.Stdout/os.Stderr) otherwise.
func newCaptureStream(logCfg config.LoggingConfig, serviceName string, cfg config.LogStreamConfig, passthrough *os.File) (io.WriteCloser, error) {
	resolved := cfg.Resolve(logCfg.Defaults)
	if resolved.File() == "" {
		return &nopCloser{passthrough}, nil
	}
	path := logCfg.GetServiceLogPath(serviceName, resolved.File())
	return NewWriter(path, resolved)
}

// Stdout returns the stdout destination.
func (c *Capture) Stdout() io.Writer {
	return c.stdout
}

// Stderr returns the stderr destination.
func (c *Capture) Stderr() io.Writer {
	return c.stderr
}

// Close closes both output streams. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if err := c.stdout.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.stderr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// nopCloser wraps an io.Writer and provides a no-op Close, for streams left
// passed through to the real os.Stdout/os.Stderr.
type nopCloser struct {
	io.Writer
}

func (n *nopCloser) Close() error {
	return nil
}

// LineWriter writes lines with optional prefix.
type LineWriter struct {
	writer io.Writer
	prefix string
	buf    []byte
}

// NewLineWriter creates a writer that prefixes each line.
func NewLineWriter(w io.Writer, prefix string) *LineWriter {
	return &LineWriter{
		writer: w,
		prefix: prefix,
	}
}

// Write implements io.Writer with line buffering.
func (lw *LineWriter) Write(p []byte) (n int, err error) {
	lw.buf = append(lw.buf, p...)

	for {
		idx := -1
		for i, b := range lw.buf {
			if b == '\n' {
				idx = i
				break
			}
		}

		if idx < 0 {
			break
		}

		line := lw.buf[:idx+1]
		lw.buf = lw.buf[idx+1:]

		if lw.prefix != "" {
			if _, err := lw.writer.Write([]byte(lw.prefix)); err != nil {
				return 0, err
			}
		}
		if _, err := lw.writer.Write(line); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// Flush writes any remaining buffered data.
func (lw *LineWriter) Flush() error {
	if len(lw.buf) > 0 {
		if lw.prefix != "" {
			if _, err := lw.writer.Write([]byte(lw.prefix)); err != nil {
				return err
			}
		}
		if _, err := lw.writer.Write(lw.buf); err != nil {
			return err
		}
		if _, err := lw.writer.Write([]byte{'\n'}); err != nil {
			return err
		}
		lw.buf = nil
	}
	return nil
}
