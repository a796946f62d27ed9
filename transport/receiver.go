package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/tcpxfer/file"
	"github.com/opd-ai/tcpxfer/frame"
	"github.com/opd-ai/tcpxfer/limits"
)

// maxEmptyPayloadReads is how many consecutive (0, nil) payload reads are
// tolerated before the connection is treated as broken.
const maxEmptyPayloadReads = 100

// Result describes one received frame.
type Result struct {
	Name     string  // name from the header, unsanitized
	Path     string  // destination path
	Remote   string
	FileSize uint64  // size declared by the header
	Received uint64  // payload bytes actually written
	Reads    int     // payload reads issued to the connection
	Short    bool    // Received != FileSize
	Digest   []byte  // BLAKE2b-256 of the received bytes
	Speed    float64 // smoothed bytes per second at the last chunk
	Duration time.Duration
}

// ReceiverStats counts handled connections.
type ReceiverStats struct {
	Completed   uint64
	Short       uint64
	Failed      uint64
	Disconnects uint64
	Bytes       uint64
}

// Receiver decodes one frame per connection into the output directory.
// A Receiver is safe for concurrent use; concurrent transfers of the same
// name are serialized by the store's per-path lock.
type Receiver struct {
	config ReceiverConfig
	store  *file.Store

	mu               sync.RWMutex
	progressCallback func(name string, received, total uint64)

	completed   atomic.Uint64
	short       atomic.Uint64
	failed      atomic.Uint64
	disconnects atomic.Uint64
	bytes       atomic.Uint64
}

// NewReceiver creates a Receiver. A nil config uses DefaultReceiverConfig.
func NewReceiver(config *ReceiverConfig) (*Receiver, error) {
	if config == nil {
		config = DefaultReceiverConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	normalized := *config
	if normalized.MaxNameLength == 0 {
		normalized.MaxNameLength = limits.MaxFileNameLength
	}
	config = &normalized

	store, err := file.NewStore(config.OutputDir)
	if err != nil {
		return nil, newNetError("create", config.OutputDir, ErrArgument, err)
	}
	if config.TimeProvider != nil {
		store.SetTimeProvider(config.TimeProvider)
	}

	return &Receiver{config: *config, store: store}, nil
}

// OutputDir returns the directory files are written to.
func (r *Receiver) OutputDir() string {
	return r.store.Dir()
}

// OnProgress sets a callback invoked after every payload chunk.
func (r *Receiver) OnProgress(callback func(name string, received, total uint64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progressCallback = callback
}

// Stats returns a snapshot of the receiver's counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Completed:   r.completed.Load(),
		Short:       r.short.Load(),
		Failed:      r.failed.Load(),
		Disconnects: r.disconnects.Load(),
		Bytes:       r.bytes.Load(),
	}
}

// Handle receives one frame from conn and closes it.
//
// A peer that disconnects before sending any header byte yields (nil, nil).
// A short transfer yields a Result with Short set; in strict mode the error
// is ErrShortTransfer as well. Partially written files are left on disk.
func (r *Receiver) Handle(conn io.ReadCloser) (*Result, error) {
	defer conn.Close()
	addr := remoteAddr(conn)
	log := NewLogger("Handle").WithField("remote", addr)

	r.armReadDeadline(conn)
	header, err := frame.DecodeHeaderLimit(conn, r.config.MaxNameLength)
	if err == io.EOF {
		r.disconnects.Add(1)
		log.Debug("Peer disconnected before sending a header")
		return nil, nil
	}
	if err != nil {
		r.failed.Add(1)
		kind := classifyHeaderError(err)
		log.WithError(err, "decode").Error("Failed to decode header")
		return nil, newNetError("decode", addr, kind, err)
	}

	log.WithField("file_name", header.Name).WithField("file_size", header.Size).Info("Receiving file")

	transfer, unlock, err := r.store.Open(header.Name, header.Size)
	if err != nil {
		r.failed.Add(1)
		kind := ErrIO
		if errors.Is(err, file.ErrInvalidName) {
			kind = ErrDecode
		}
		log.WithError(err, "create").Error("Failed to open destination")
		return nil, newNetError("create", addr, kind, err)
	}
	defer func() {
		transfer.Close()
		unlock()
	}()

	r.mu.RLock()
	if cb := r.progressCallback; cb != nil {
		name := header.Name
		transfer.OnProgress(func(received, total uint64) { cb(name, received, total) })
	}
	r.mu.RUnlock()

	reads, copyErr := r.copyPayload(conn, transfer, addr)
	if copyErr != nil {
		transfer.Fail(copyErr)
	}
	closeErr := transfer.Close()

	result := &Result{
		Name:     header.Name,
		Path:     transfer.Path,
		Remote:   addr,
		FileSize: header.Size,
		Received: transfer.GetTransferred(),
		Reads:    reads,
		Digest:   transfer.Digest(),
		Speed:    transfer.GetSpeed(),
		Duration: transfer.Elapsed(),
	}
	result.Short = result.Received != result.FileSize
	r.bytes.Add(result.Received)

	if copyErr == nil && closeErr != nil {
		copyErr = newNetError("close", transfer.Path, ErrIO, closeErr)
	}
	if copyErr != nil {
		r.failed.Add(1)
		log.WithFields(ResultFields(result)).WithError(copyErr, "receive").Error("Transfer failed")
		return result, copyErr
	}

	if result.Short {
		r.short.Add(1)
		log.WithFields(ResultFields(result)).WithField("progress", transfer.GetProgress()).Warn("Connection closed before the declared size was received")
		if r.config.Strict {
			return result, newNetError("receive", addr, ErrShortTransfer,
				fmt.Errorf("received %d of %d bytes", result.Received, result.FileSize))
		}
		return result, nil
	}

	r.completed.Add(1)
	log.WithFields(ResultFields(result)).Info("File saved")
	return result, nil
}

// copyPayload moves up to transfer.FileSize bytes from conn into the file.
// Each iteration asks for at most ChunkSize bytes and writes whatever the
// connection returned. End of stream before the declared size stops the
// loop without an error.
func (r *Receiver) copyPayload(conn io.Reader, transfer *file.Transfer, addr string) (int, error) {
	size := transfer.FileSize
	if size == 0 {
		return 0, nil
	}

	bufSize := uint64(r.config.ChunkSize)
	if size < bufSize {
		bufSize = size
	}
	buf := make([]byte, bufSize)

	var received uint64
	reads := 0
	empty := 0
	for received < size {
		want := uint64(len(buf))
		if remaining := size - received; remaining < want {
			want = remaining
		}

		r.armReadDeadline(conn)
		n, err := conn.Read(buf[:want])
		reads++

		if n > 0 {
			if werr := transfer.WriteChunk(buf[:n]); werr != nil {
				return reads, newNetError("write", transfer.Path, ErrIO, werr)
			}
			received += uint64(n)
			empty = 0
		}

		if err == io.EOF {
			return reads, nil
		}
		if err != nil {
			return reads, newNetError("read", addr, ErrConnection, err)
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyPayloadReads {
				return reads, newNetError("read", addr, ErrConnection, io.ErrNoProgress)
			}
		}
	}
	return reads, nil
}

func (r *Receiver) armReadDeadline(conn io.Reader) {
	if r.config.ReadTimeout <= 0 {
		return
	}
	if dl, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		dl.SetReadDeadline(time.Now().Add(r.config.ReadTimeout))
	}
}

// classifyHeaderError separates transport failures during the header from
// malformed header bytes.
func classifyHeaderError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		return ErrConnection
	}
	return ErrDecode
}

func remoteAddr(conn io.Reader) string {
	if c, ok := conn.(interface{ RemoteAddr() net.Addr }); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return ""
}
