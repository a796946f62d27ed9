package frame

import (
	"errors"
	"io"
)

// partialReader returns at most chunkSize bytes per Read.
type partialReader struct {
	data      []byte
	readPos   int
	chunkSize int
	readCalls int
}

func newPartialReader(data []byte, chunkSize int) *partialReader {
	return &partialReader{data: data, chunkSize: chunkSize}
}

func (p *partialReader) Read(b []byte) (int, error) {
	p.readCalls++

	remaining := len(p.data) - p.readPos
	if remaining == 0 {
		return 0, io.EOF
	}

	toRead := p.chunkSize
	if toRead > len(b) {
		toRead = len(b)
	}
	if toRead > remaining {
		toRead = remaining
	}

	n := copy(b, p.data[p.readPos:p.readPos+toRead])
	p.readPos += n
	return n, nil
}

// stalledReader never makes progress.
type stalledReader struct{}

func (stalledReader) Read([]byte) (int, error) { return 0, nil }

// shortWriter accepts at most limit bytes per Write and never errors.
type shortWriter struct {
	limit  int
	buf    []byte
	writes int
}

func (w *shortWriter) Write(b []byte) (int, error) {
	w.writes++
	if len(b) > w.limit {
		b = b[:w.limit]
	}
	w.buf = append(w.buf, b...)
	return len(b), nil
}

// failingWriter fails every write.
type failingWriter struct{}

var errWriteFailed = errors.New("write failed")

func (failingWriter) Write([]byte) (int, error) { return 0, errWriteFailed }
