package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/tcpxfer/frame"
)

// partialReadConn simulates a TCP connection that returns partial reads.
type partialReadConn struct {
	data       []byte
	readPos    int
	chunkSize  int
	readCalls  int
	closed     bool
	remoteAddr net.Addr
	mu         sync.Mutex
}

func newPartialReadConn(data []byte, chunkSize int) *partialReadConn {
	return &partialReadConn{
		data:       data,
		chunkSize:  chunkSize,
		remoteAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345},
	}
}

// Read simulates partial reads by returning only chunkSize bytes at a time.
func (p *partialReadConn) Read(b []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.EOF
	}

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

	n = copy(b, p.data[p.readPos:p.readPos+toRead])
	p.readPos += n
	return n, nil
}

func (p *partialReadConn) Write(b []byte) (n int, err error) {
	return len(b), nil
}

func (p *partialReadConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *partialReadConn) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *partialReadConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func (p *partialReadConn) RemoteAddr() net.Addr {
	return p.remoteAddr
}

func (p *partialReadConn) SetDeadline(t time.Time) error {
	return nil
}

func (p *partialReadConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (p *partialReadConn) SetWriteDeadline(t time.Time) error {
	return nil
}

// buildFrame returns header+payload bytes for name and payload.
func buildFrame(t *testing.T, name string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, frame.WriteHeader(&buf, frame.Header{Name: name, Size: uint64(len(payload))}))
	buf.Write(payload)
	return buf.Bytes()
}

// buildTruncatedFrame declares size bytes but carries only payload.
func buildTruncatedFrame(t *testing.T, name string, size uint64, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, frame.WriteHeader(&buf, frame.Header{Name: name, Size: size}))
	buf.Write(payload)
	return buf.Bytes()
}

// malformedHeader declares a name longer than the bytes that follow.
func malformedHeader() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(500))
	buf.WriteString("abc")
	return buf.Bytes()
}

// writeSource creates a source file in a fresh temp dir.
func writeSource(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// patternBytes returns n deterministic, non-repeating-per-chunk bytes.
func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/4096)
	}
	return data
}

func newTestReceiver(t *testing.T, strict bool) *Receiver {
	t.Helper()
	config := DefaultReceiverConfig()
	config.OutputDir = filepath.Join(t.TempDir(), "received_files")
	config.Strict = strict
	r, err := NewReceiver(config)
	require.NoError(t, err)
	return r
}

// mutatingWriter buffers everything written and runs onFirstWrite once,
// before the first write (the frame header) is stored.
type mutatingWriter struct {
	bytes.Buffer
	onFirstWrite func()
	done         bool
}

func (m *mutatingWriter) Write(p []byte) (int, error) {
	if !m.done {
		m.done = true
		m.onFirstWrite()
	}
	return m.Buffer.Write(p)
}

// steppingClock advances by step every time it is read.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newSteppingClock(step time.Duration) *steppingClock {
	return &steppingClock{now: time.Unix(1700000000, 0), step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *steppingClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
