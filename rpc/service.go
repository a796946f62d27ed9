// Package rpc transfers a whole file in a single XML-RPC call.
//
// The server exposes the method save_file(name, base64 data) at any path,
// including the conventional /RPC2. A call carries the file name and its
// complete contents; the server stores the contents under the name's final
// path component and replies "OK: Saved <name>". Failures are returned as
// XML-RPC faults.
package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/tcpxfer/file"
)

// MethodName is the XML-RPC method clients call.
const MethodName = "save_file"

// ServiceName is the name FileService is registered under; save_file is an
// alias for ServiceName + ".Save".
const ServiceName = "FileService"

// DefaultMaxFileSize bounds the payload of a single save_file call.
const DefaultMaxFileSize = 64 << 20

// ErrTooLarge is returned for a payload above the server's limit.
var ErrTooLarge = errors.New("file exceeds maximum size")

// SaveArgs holds the positional parameters of save_file.
type SaveArgs struct {
	Name string
	Data []byte
}

// SaveReply holds the single string returned by save_file.
type SaveReply struct {
	Message string
}

// FileService stores uploaded files.
type FileService struct {
	store   *file.Store
	maxSize uint64
}

// Save writes args.Data to the store and sets reply to a confirmation.
func (s *FileService) Save(r *http.Request, args *SaveArgs, reply *SaveReply) error {
	size := uint64(len(args.Data))
	if size > s.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, s.maxSize)
	}

	transfer, unlock, err := s.store.Open(args.Name, size)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Save",
			"file_name": args.Name,
			"remote":    r.RemoteAddr,
			"error":     err.Error(),
		}).Error("Failed to open destination")
		return err
	}
	defer unlock()

	werr := transfer.WriteChunk(args.Data)
	if cerr := transfer.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write %s: %w", transfer.Path, werr)
	}

	name := filepath.Base(transfer.Path)
	logrus.WithFields(logrus.Fields{
		"function":  "Save",
		"file_name": name,
		"path":      transfer.Path,
		"file_size": size,
		"remote":    r.RemoteAddr,
	}).Info("File saved")

	reply.Message = "OK: Saved " + name
	return nil
}
