package engine

import (
	"bytes"
	"errors"
	"io"
	"os"
	"syscall"
)

// capture drains one stream, keeping at most max bytes. Reading continues
// past the bound so the child never blocks on a full pipe.
type capture struct {
	max       int64
	buf       bytes.Buffer
	truncated bool
}

func newCapture(max int64) *capture {
	return &capture{max: max}
}

func (c *capture) drain(r io.Reader) error {
	if _, err := io.Copy(&c.buf, io.LimitReader(r, c.max)); err != nil {
		return ignoreClosed(err)
	}
	n, err := io.Copy(io.Discard, r)
	if n > 0 {
		c.truncated = true
	}
	return ignoreClosed(err)
}

func (c *capture) bytes() []byte { return c.buf.Bytes() }

// writeInput writes the payload and closes stdin so the child sees EOF. A child
// that exits without reading its input is not an error.
func writeInput(w *os.File, input []byte) error {
	if len(input) > 0 {
		if _, err := w.Write(input); err != nil && !brokenPipe(err) {
			_ = w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// readLimitedFile reads at most maxBytes of a capture file.
func readLimitedFile(path string, maxBytes int64) ([]byte, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > maxBytes {
		return data[:maxBytes], true, nil
	}
	return data, false, nil
}

func brokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

// Reads fail with ErrClosed once the deadline path closes the parent ends.
func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
