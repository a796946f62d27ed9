package tagged

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tcpxfer/file"
	"github.com/opd-ai/tcpxfer/limits"
)

// Report describes one transfer from either side.
type Report struct {
	TransferID uuid.UUID
	Name       string
	Path       string
	Size       uint64 // size announced in the metadata
	Bytes      uint64 // payload bytes sent or written
	Messages   int    // data messages, terminator excluded
	Short      bool   // Bytes != Size
	Digest     []byte
	Duration   time.Duration
}

func reportOf(id uuid.UUID, t *file.Transfer, messages int) *Report {
	r := &Report{
		TransferID: id,
		Name:       t.FileName,
		Path:       t.Path,
		Size:       t.FileSize,
		Bytes:      t.GetTransferred(),
		Messages:   messages,
		Digest:     t.Digest(),
		Duration:   t.Elapsed(),
	}
	r.Short = r.Bytes != r.Size
	return r
}

// Sender splits a file into data messages.
type Sender struct {
	chunkSize int
}

// NewSender returns a Sender using chunkSize bytes per data message. An
// invalid size falls back to limits.DefaultChunkSize.
func NewSender(chunkSize int) *Sender {
	if limits.ValidateChunkSize(chunkSize) != nil {
		chunkSize = limits.DefaultChunkSize
	}
	return &Sender{chunkSize: chunkSize}
}

// Send transmits the file at path over ch. If path is not a regular file
// an abort message is sent in place of the metadata and the error is
// returned. Send does not close ch.
func (s *Sender) Send(ctx context.Context, ch *Channel, path string) (*Report, error) {
	id := uuid.New()

	src, err := file.NewOutgoing(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Send",
			"transfer_id": id,
			"path":        path,
			"error":       err.Error(),
		}).Error("Source is not a regular file, aborting")
		if serr := ch.Send(ctx, Message{Tag: TagMetadata, TransferID: id}); serr != nil {
			return nil, errors.Join(err, serr)
		}
		return nil, err
	}
	if err := src.Start(); err != nil {
		ch.Send(ctx, Message{Tag: TagMetadata, TransferID: id})
		return nil, err
	}
	defer src.Close()

	meta := &Metadata{Name: src.FileName, Size: src.FileSize}
	if err := ch.Send(ctx, Message{Tag: TagMetadata, TransferID: id, Meta: meta}); err != nil {
		return nil, fmt.Errorf("send metadata: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Send",
		"transfer_id": id,
		"file_name":   meta.Name,
		"file_size":   meta.Size,
	}).Info("Sending file")

	messages := 0
	buf := make([]byte, s.chunkSize)
	for {
		n, err := src.ReadChunk(buf)
		if n > 0 {
			// the receiver owns every Data slice it is handed
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if serr := ch.Send(ctx, Message{Tag: TagData, TransferID: id, Data: chunk}); serr != nil {
				return reportOf(id, src, messages), fmt.Errorf("send data: %w", serr)
			}
			src.MarkSent(chunk)
			messages++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return reportOf(id, src, messages), fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := ch.Send(ctx, Message{Tag: TagData, TransferID: id}); err != nil {
		return reportOf(id, src, messages), fmt.Errorf("send terminator: %w", err)
	}

	src.Close()
	report := reportOf(id, src, messages)
	logrus.WithFields(logrus.Fields{
		"function":    "Send",
		"transfer_id": id,
		"file_name":   report.Name,
		"sent":        report.Bytes,
		"messages":    report.Messages,
	}).Info("Transfer complete")
	return report, nil
}

// Receiver writes tagged transfers into a file.Store.
type Receiver struct {
	store *file.Store
}

// NewReceiver returns a Receiver writing into store.
func NewReceiver(store *file.Store) *Receiver {
	return &Receiver{store: store}
}

// Receive reads one transfer from ch.
//
// A channel closed before any message yields (nil, nil). A channel closed
// before the terminator yields a Report with Short set and a nil error;
// bytes already written stay on disk.
func (r *Receiver) Receive(ctx context.Context, ch *Channel) (*Report, error) {
	first, err := ch.Recv(ctx)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if first.Tag != TagMetadata {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedTag, first.Tag, TagMetadata)
	}
	if first.Meta == nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Receive",
			"transfer_id": first.TransferID,
		}).Warn("Sender aborted the transfer")
		return nil, ErrAborted
	}

	id := first.TransferID
	transfer, unlock, err := r.store.Open(first.Meta.Name, first.Meta.Size)
	if err != nil {
		return nil, fmt.Errorf("open destination for %q: %w", first.Meta.Name, err)
	}
	defer func() {
		transfer.Close()
		unlock()
	}()

	log := logrus.WithFields(logrus.Fields{
		"function":    "Receive",
		"transfer_id": id,
		"file_name":   first.Meta.Name,
	})
	log.WithField("file_size", first.Meta.Size).Info("Incoming file")

	messages := 0
	for {
		m, err := ch.Recv(ctx)
		if err == io.EOF {
			transfer.Close()
			report := reportOf(id, transfer, messages)
			log.WithField("received", report.Bytes).Warn("Channel closed before the terminator")
			return report, nil
		}
		if err != nil {
			transfer.Fail(err)
			return reportOf(id, transfer, messages), err
		}

		if m.Tag != TagData || m.TransferID != id {
			err := fmt.Errorf("%w: %s message for transfer %s during %s", ErrUnexpectedTag, m.Tag, m.TransferID, id)
			transfer.Fail(err)
			return reportOf(id, transfer, messages), err
		}
		if m.IsTerminator() {
			break
		}

		if err := transfer.WriteChunk(m.Data); err != nil {
			return reportOf(id, transfer, messages), fmt.Errorf("write %s: %w", transfer.Path, err)
		}
		messages++
	}

	if err := transfer.Close(); err != nil {
		return reportOf(id, transfer, messages), fmt.Errorf("close %s: %w", transfer.Path, err)
	}
	report := reportOf(id, transfer, messages)
	entry := log.WithFields(logrus.Fields{
		"path":     report.Path,
		"received": report.Bytes,
		"expected": report.Size,
	})
	if report.Short {
		entry.Warn("Received size differs from metadata")
	} else {
		entry.Info("File saved")
	}
	return report, nil
}
