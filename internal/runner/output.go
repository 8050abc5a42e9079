package runner

import (
	"bytes"
	"io"
	"sync"
)

// OutputMux interleaves the output of concurrent legs onto one writer.
// Each leg writes through its own prefixed writer; complete lines are
// forwarded atomically, so lines from different legs never mix.
type OutputMux struct {
	mu sync.Mutex
	w  io.Writer
}

// NewOutputMux wraps the destination writer.
func NewOutputMux(w io.Writer) *OutputMux {
	return &OutputMux{w: w}
}

// Writer returns a per-leg writer that prefixes every line it forwards.
// The caller must Close it to flush a trailing partial line. Each writer
// is for use by a single goroutine.
func (m *OutputMux) Writer(prefix string) io.WriteCloser {
	return &legWriter{mux: m, prefix: []byte(prefix)}
}

func (m *OutputMux) writeLine(prefix, line []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.w.Write(prefix)
	m.w.Write(line)
}

type legWriter struct {
	mux    *OutputMux
	prefix []byte
	buf    bytes.Buffer
}

// Write buffers p and forwards every complete line with the prefix.
func (lw *legWriter) Write(p []byte) (int, error) {
	lw.buf.Write(p)

	for {
		data := lw.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lw.mux.writeLine(lw.prefix, data[:i+1])
		lw.buf.Next(i + 1)
	}

	return len(p), nil
}

// Close flushes a trailing line that ended without a newline.
func (lw *legWriter) Close() error {
	if lw.buf.Len() > 0 {
		line := append(lw.buf.Bytes(), '\n')
		lw.mux.writeLine(lw.prefix, line)
		lw.buf.Reset()
	}
	return nil
}
