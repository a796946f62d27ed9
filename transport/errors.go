package transport

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	// ErrArgument indicates invalid configuration or call arguments.
	ErrArgument = errors.New("invalid argument")

	// ErrFileNotFound indicates a source path that is missing or not a regular file.
	ErrFileNotFound = errors.New("file not found")

	// ErrConnection indicates a connect, accept, read or write failure on the transport.
	ErrConnection = errors.New("connection error")

	// ErrDecode indicates a malformed frame header.
	ErrDecode = errors.New("malformed header")

	// ErrIO indicates a local file read or write failure.
	ErrIO = errors.New("file I/O error")

	// ErrShortTransfer indicates fewer payload bytes than the header declared.
	// It is only returned when strict mode is enabled.
	ErrShortTransfer = errors.New("short transfer")

	// ErrListenerClosed indicates an operation on a stopped listener.
	ErrListenerClosed = errors.New("listener closed")
)

// NetError represents an error with the operation and address it occurred on.
type NetError struct {
	Op   string // operation that caused the error
	Addr string // peer address or local path, if relevant
	Kind error  // one of the package error kinds
	Err  error  // underlying error, may be nil
}

func (e *NetError) Error() string {
	msg := "xfer " + e.Op
	if e.Addr != "" {
		msg += " " + e.Addr
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying error to errors.Is and errors.As.
func (e *NetError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// newNetError creates a new NetError
func newNetError(op, addr string, kind, err error) *NetError {
	return &NetError{
		Op:   op,
		Addr: addr,
		Kind: kind,
		Err:  err,
	}
}
