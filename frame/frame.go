package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/opd-ai/tcpxfer/limits"
)

// ErrInvalidUTF8 indicates a name that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("name is not valid UTF-8")

// maxEmptyReads is how many consecutive (0, nil) reads ReadExact tolerates.
const maxEmptyReads = 100

// Header describes the file carried by a frame.
type Header struct {
	Name string
	Size uint64
}

// EncodedSize returns the number of header bytes on the wire.
func (h Header) EncodedSize() int {
	return limits.HeaderSize(len(h.Name))
}

// DecodeError reports a malformed or truncated header.
type DecodeError struct {
	Field string // header field being decoded
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeHeader produces the wire form of a header for name and size.
func EncodeHeader(name string, size uint64) ([]byte, error) {
	if len(name) == 0 {
		return nil, limits.ErrNameEmpty
	}
	if uint64(len(name)) > limits.MaxWireNameLength {
		return nil, fmt.Errorf("%w: length %d exceeds limit %d",
			limits.ErrNameTooLong, len(name), uint64(limits.MaxWireNameLength))
	}
	if !utf8.ValidString(name) {
		return nil, ErrInvalidUTF8
	}

	buf := make([]byte, limits.HeaderSize(len(name)))
	binary.BigEndian.PutUint32(buf[:limits.NameLengthFieldSize], uint32(len(name)))
	copy(buf[limits.NameLengthFieldSize:], name)
	binary.BigEndian.PutUint64(buf[limits.NameLengthFieldSize+len(name):], size)
	return buf, nil
}

// WriteHeader encodes h and writes it fully to w.
func WriteHeader(w io.Writer, h Header) error {
	buf, err := EncodeHeader(h.Name, h.Size)
	if err != nil {
		return err
	}
	return WriteFull(w, buf)
}

// DecodeHeader reads a header from r using limits.MaxFileNameLength.
func DecodeHeader(r io.Reader) (Header, error) {
	return DecodeHeaderLimit(r, limits.MaxFileNameLength)
}

// DecodeHeaderLimit reads a header from r, rejecting names longer than
// maxName bytes before allocating them. A maxName of zero means
// limits.MaxFileNameLength; pass limits.MaxWireNameLength to accept the
// whole wire range. It returns io.EOF, unwrapped, only when r ends before
// the first header byte.
func DecodeHeaderLimit(r io.Reader, maxName uint64) (Header, error) {
	if maxName == 0 {
		maxName = limits.MaxFileNameLength
	}

	var lenBuf [limits.NameLengthFieldSize]byte
	if _, err := ReadExact(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Header{}, io.EOF
		}
		return Header{}, &DecodeError{Field: "name length", Err: err}
	}

	nameLen := binary.BigEndian.Uint32(lenBuf[:])
	if nameLen == 0 {
		return Header{}, &DecodeError{Field: "name length", Err: limits.ErrNameEmpty}
	}
	if uint64(nameLen) > maxName {
		return Header{}, &DecodeError{
			Field: "name length",
			Err:   fmt.Errorf("%w: length %d exceeds limit %d", limits.ErrNameTooLong, nameLen, maxName),
		}
	}

	name := make([]byte, nameLen)
	if _, err := ReadExact(r, name); err != nil {
		return Header{}, &DecodeError{Field: "name", Err: unexpected(err)}
	}
	if !utf8.Valid(name) {
		return Header{}, &DecodeError{Field: "name", Err: ErrInvalidUTF8}
	}

	var sizeBuf [limits.FileSizeFieldSize]byte
	if _, err := ReadExact(r, sizeBuf[:]); err != nil {
		return Header{}, &DecodeError{Field: "file size", Err: unexpected(err)}
	}

	return Header{
		Name: string(name),
		Size: binary.BigEndian.Uint64(sizeBuf[:]),
	}, nil
}

// unexpected maps io.EOF to io.ErrUnexpectedEOF once part of a header is in.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
