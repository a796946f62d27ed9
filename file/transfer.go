package file

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/tcpxfer/frame"
)

// ErrNotRegular indicates a source path that is missing or not a regular file.
var ErrNotRegular = errors.New("not a regular file")

// ErrNotRunning indicates a chunk operation on a transfer that is not running.
var ErrNotRunning = errors.New("transfer is not running")

// TransferDirection indicates whether a transfer is incoming or outgoing.
type TransferDirection uint8

const (
	// TransferDirectionIncoming represents a file being received.
	TransferDirectionIncoming TransferDirection = iota
	// TransferDirectionOutgoing represents a file being sent.
	TransferDirectionOutgoing
)

func (d TransferDirection) String() string {
	if d == TransferDirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// TransferState represents the current state of a file transfer.
type TransferState uint8

const (
	// TransferStatePending indicates the file has not been opened yet.
	TransferStatePending TransferState = iota
	// TransferStateRunning indicates chunks are being moved.
	TransferStateRunning
	// TransferStateCompleted indicates exactly FileSize bytes were moved.
	TransferStateCompleted
	// TransferStateShort indicates the transfer ended before FileSize bytes.
	TransferStateShort
	// TransferStateError indicates the transfer failed.
	TransferStateError
)

func (s TransferState) String() string {
	switch s {
	case TransferStatePending:
		return "pending"
	case TransferStateRunning:
		return "running"
	case TransferStateCompleted:
		return "completed"
	case TransferStateShort:
		return "short"
	case TransferStateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// Transfer tracks one file being received into Path or sent from Path.
type Transfer struct {
	Direction   TransferDirection
	FileName    string // name as it appears in the frame header
	Path        string // local path
	FileSize    uint64
	State       TransferState
	StartTime   time.Time
	EndTime     time.Time
	Transferred uint64
	Error       error

	handle           *os.File
	digest           hash.Hash
	progressCallback func(transferred, total uint64)

	mu            sync.Mutex
	lastChunkTime time.Time
	transferSpeed float64 // bytes per second
	timeProvider  TimeProvider
}

// NewIncoming creates a transfer that will write size bytes to path.
func NewIncoming(name, path string, size uint64) *Transfer {
	return newTransfer(TransferDirectionIncoming, name, path, size)
}

// NewOutgoing creates a transfer that reads the regular file at path.
// The header name is the basename of path.
func NewOutgoing(path string) (*Transfer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotRegular, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}

	name, err := Sanitize(path)
	if err != nil {
		return nil, err
	}

	return newTransfer(TransferDirectionOutgoing, name, path, uint64(info.Size())), nil
}

func newTransfer(direction TransferDirection, name, path string, size uint64) *Transfer {
	logrus.WithFields(logrus.Fields{
		"function":  "newTransfer",
		"file_name": name,
		"path":      path,
		"file_size": size,
		"direction": direction,
	}).Debug("Creating file transfer")

	digest, _ := blake2b.New256(nil)
	tp := defaultTimeProvider
	return &Transfer{
		Direction:     direction,
		FileName:      name,
		Path:          path,
		FileSize:      size,
		State:         TransferStatePending,
		digest:        digest,
		lastChunkTime: tp.Now(),
		timeProvider:  tp,
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (t *Transfer) SetTimeProvider(tp TimeProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeProvider = tp
	t.lastChunkTime = tp.Now()
}

// OnProgress sets a callback invoked after every chunk. The callback runs
// with the transfer locked and must not call its methods.
func (t *Transfer) OnProgress(callback func(transferred, total uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressCallback = callback
}

// Start opens the local file: created or truncated for incoming transfers,
// opened read-only for outgoing ones.
func (t *Transfer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State != TransferStatePending {
		return fmt.Errorf("transfer cannot be started in state %s", t.State)
	}

	var err error
	if t.Direction == TransferDirectionOutgoing {
		t.handle, err = os.Open(t.Path)
	} else {
		t.handle, err = os.Create(t.Path)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Start",
			"path":      t.Path,
			"direction": t.Direction,
			"error":     err.Error(),
		}).Error("Failed to open file for transfer")
		t.Error = err
		t.State = TransferStateError
		return err
	}

	t.State = TransferStateRunning
	t.StartTime = t.timeProvider.Now()
	t.lastChunkTime = t.StartTime
	return nil
}

// WriteChunk appends data to an incoming transfer's file.
func (t *Transfer) WriteChunk(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Direction != TransferDirectionIncoming {
		return errors.New("cannot write to outgoing transfer")
	}
	if t.State != TransferStateRunning {
		return ErrNotRunning
	}

	if err := frame.WriteFull(t.handle, data); err != nil {
		t.Error = err
		t.State = TransferStateError
		return err
	}

	t.advance(data)
	return nil
}

// ReadChunk fills buf from an outgoing transfer's file and returns the
// number of bytes read. It returns io.EOF once the file is exhausted.
// Bytes read are not counted until they are passed to MarkSent.
func (t *Transfer) ReadChunk(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Direction != TransferDirectionOutgoing {
		return 0, errors.New("cannot read from incoming transfer")
	}
	if t.State != TransferStateRunning {
		return 0, ErrNotRunning
	}

	n, err := t.handle.Read(buf)
	if err != nil && err != io.EOF {
		t.Error = err
		t.State = TransferStateError
	}
	return n, err
}

// MarkSent records data, previously returned by ReadChunk, as delivered to
// the peer. It counts toward Transferred, the digest and the speed.
func (t *Transfer) MarkSent(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Direction != TransferDirectionOutgoing || len(data) == 0 {
		return
	}
	t.advance(data)
}

// advance records bytes moved. Caller holds t.mu.
func (t *Transfer) advance(data []byte) {
	t.Transferred += uint64(len(data))
	t.digest.Write(data)
	t.updateTransferSpeed(uint64(len(data)))

	if t.progressCallback != nil {
		t.progressCallback(t.Transferred, t.FileSize)
	}
}

// updateTransferSpeed calculates the current transfer speed.
func (t *Transfer) updateTransferSpeed(chunkSize uint64) {
	now := t.timeProvider.Now()
	duration := t.timeProvider.Since(t.lastChunkTime).Seconds()

	if duration > 0 {
		instantSpeed := float64(chunkSize) / duration

		// Exponential moving average with alpha = 0.3
		if t.transferSpeed == 0 {
			t.transferSpeed = instantSpeed
		} else {
			t.transferSpeed = 0.7*t.transferSpeed + 0.3*instantSpeed
		}
	}

	t.lastChunkTime = now
}

// Fail marks the transfer as failed with err. Close still has to be called.
func (t *Transfer) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Error = err
	t.State = TransferStateError
}

// Close releases the file handle and settles the final state. It is safe
// to call more than once; bytes already written stay on disk.
func (t *Transfer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle == nil {
		return nil
	}

	err := t.handle.Close()
	t.handle = nil
	t.EndTime = t.timeProvider.Now()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"path":     t.Path,
			"error":    err.Error(),
		}).Warn("Failed to close file handle")
		if t.Error == nil {
			t.Error = err
			t.State = TransferStateError
		}
	}

	if t.State == TransferStateRunning {
		if t.Transferred == t.FileSize {
			t.State = TransferStateCompleted
		} else {
			t.State = TransferStateShort
		}
	}
	return err
}

// GetState returns the current state.
func (t *Transfer) GetState() TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// GetTransferred returns the number of bytes moved so far.
func (t *Transfer) GetTransferred() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Transferred
}

// GetProgress returns the progress as a percentage. An empty file is 100%
// once it is completed.
func (t *Transfer) GetProgress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FileSize == 0 {
		if t.State == TransferStateCompleted {
			return 100.0
		}
		return 0.0
	}
	return float64(t.Transferred) / float64(t.FileSize) * 100.0
}

// GetSpeed returns the current transfer speed in bytes per second.
func (t *Transfer) GetSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferSpeed
}

// Elapsed returns the time between Start and Close, or until now while running.
func (t *Transfer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime.IsZero() {
		return t.timeProvider.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// Digest returns the BLAKE2b-256 sum of the bytes moved so far.
func (t *Transfer) Digest() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.digest.Sum(nil)
}
