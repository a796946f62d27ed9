package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/opd-ai/tcpxfer/file"
	"github.com/opd-ai/tcpxfer/frame"
	"github.com/opd-ai/tcpxfer/limits"
)

// SendResult describes a completed send.
type SendResult struct {
	Name     string
	Size     uint64
	Sent     uint64
	Reads    int // file reads, including the terminal empty one
	Digest   []byte
	Duration time.Duration
}

// Sender sends one file per connection.
type Sender struct {
	config SenderConfig
	dialer proxy.ContextDialer
}

// NewSender creates a Sender. A nil config uses DefaultSenderConfig.
func NewSender(config *SenderConfig) (*Sender, error) {
	if config == nil {
		config = DefaultSenderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dialer, err := newDialer(config.Proxy, config.DialTimeout)
	if err != nil {
		return nil, newNetError("dial", "", ErrArgument, err)
	}

	return &Sender{config: *config, dialer: dialer}, nil
}

// Send validates path, connects to address, writes one frame and closes the
// connection. The connection is never opened if path is not a regular file.
func (s *Sender) Send(ctx context.Context, address, path string) (*SendResult, error) {
	src, err := s.openSource(path)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Send",
		"address":  address,
		"path":     path,
	}).Info("Connecting")

	conn, err := s.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"address":  address,
			"error":    err.Error(),
		}).Error("Failed to connect")
		return nil, newNetError("dial", address, ErrConnection, err)
	}
	defer conn.Close()

	return s.stream(ctx, conn, src, address)
}

// Stream writes the file at path as one frame to w. It does not close w.
func (s *Sender) Stream(ctx context.Context, w io.Writer, path string) (*SendResult, error) {
	src, err := s.openSource(path)
	if err != nil {
		return nil, err
	}
	return s.stream(ctx, w, src, "")
}

func (s *Sender) openSource(path string) (*file.Transfer, error) {
	src, err := file.NewOutgoing(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "openSource",
			"path":     path,
			"error":    err.Error(),
		}).Error("Source is not a regular file")
		return nil, newNetError("open", path, ErrFileNotFound, err)
	}
	if err := limits.ValidateNameLength(len(src.FileName), limits.MaxFileNameLength); err != nil {
		return nil, newNetError("open", path, ErrArgument, err)
	}
	if s.config.TimeProvider != nil {
		src.SetTimeProvider(s.config.TimeProvider)
	}
	return src, nil
}

func (s *Sender) stream(ctx context.Context, w io.Writer, src *file.Transfer, addr string) (*SendResult, error) {
	if err := src.Start(); err != nil {
		return nil, newNetError("open", src.Path, ErrFileNotFound, err)
	}
	defer src.Close()

	logrus.WithFields(logrus.Fields{
		"function":  "stream",
		"address":   addr,
		"file_name": src.FileName,
		"file_size": src.FileSize,
	}).Info("Sending file")

	s.armWriteDeadline(w)
	if err := frame.WriteHeader(w, frame.Header{Name: src.FileName, Size: src.FileSize}); err != nil {
		return nil, newNetError("write", addr, ErrConnection, err)
	}

	reads, sent, err := s.copyChunks(ctx, w, src, addr)
	result := &SendResult{
		Name:     src.FileName,
		Size:     src.FileSize,
		Sent:     sent,
		Reads:    reads,
		Digest:   src.Digest(),
		Duration: src.Elapsed(),
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "stream",
			"address":   addr,
			"file_name": src.FileName,
			"sent":      result.Sent,
			"error":     err.Error(),
		}).Error("File transmission aborted")
		return result, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "stream",
		"address":   addr,
		"file_name": result.Name,
		"sent":      result.Sent,
		"duration":  result.Duration,
	}).Info("File transmission complete")

	return result, nil
}

// copyChunks streams exactly src.FileSize bytes to w and returns the file
// reads issued and the payload bytes written. Reads are capped at the
// remaining size so a file that grows while being sent cannot corrupt the
// frame; the final read must then report end of file. Bytes are recorded on
// src only once written.
func (s *Sender) copyChunks(ctx context.Context, w io.Writer, src *file.Transfer, addr string) (int, uint64, error) {
	buf := make([]byte, s.config.ChunkSize)
	reads := 0
	var sent uint64

	for {
		if err := ctx.Err(); err != nil {
			return reads, sent, newNetError("write", addr, ErrConnection, err)
		}

		want := len(buf)
		if remaining := src.FileSize - sent; remaining < uint64(want) && remaining > 0 {
			want = int(remaining)
		}

		n, err := src.ReadChunk(buf[:want])
		reads++

		if n > 0 {
			if sent == src.FileSize {
				logrus.WithFields(logrus.Fields{
					"function":  "copyChunks",
					"file_name": src.FileName,
					"file_size": src.FileSize,
				}).Warn("Source grew while sending, extra bytes not sent")
				return reads, sent, nil
			}
			s.armWriteDeadline(w)
			if werr := frame.WriteFull(w, buf[:n]); werr != nil {
				return reads, sent, newNetError("write", addr, ErrConnection, werr)
			}
			src.MarkSent(buf[:n])
			sent += uint64(n)
		}

		if err == io.EOF {
			if sent < src.FileSize {
				return reads, sent, newNetError("read", src.Path, ErrIO,
					fmt.Errorf("source shrank to %d of %d bytes: %w", sent, src.FileSize, io.ErrUnexpectedEOF))
			}
			return reads, sent, nil
		}
		if err != nil {
			return reads, sent, newNetError("read", src.Path, ErrIO, err)
		}
	}
}

func (s *Sender) armWriteDeadline(w io.Writer) {
	if s.config.WriteTimeout <= 0 {
		return
	}
	if conn, ok := w.(net.Conn); ok {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
}
