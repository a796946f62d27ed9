package limits

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxWireNameLength is the largest name the 32-bit length field can describe.
	MaxWireNameLength = math.MaxUint32

	// MaxFileNameLength is the default receive-side cap on the encoded name.
	MaxFileNameLength = 4096

	// DefaultChunkSize is the chunk size for file reads and payload reads.
	DefaultChunkSize = 4096

	// MinChunkSize is the smallest configurable chunk size.
	MinChunkSize = 1

	// MaxChunkSize bounds the per-connection buffer.
	MaxChunkSize = 1024 * 1024

	// NameLengthFieldSize is the width of the name length field on the wire.
	NameLengthFieldSize = 4

	// FileSizeFieldSize is the width of the file size field on the wire.
	FileSizeFieldSize = 8
)

var (
	// ErrNameEmpty indicates a file name with no bytes.
	ErrNameEmpty = errors.New("file name is empty")

	// ErrNameTooLong indicates a file name above the applicable limit.
	ErrNameTooLong = errors.New("file name too long")

	// ErrChunkSize indicates a chunk size outside [MinChunkSize, MaxChunkSize].
	ErrChunkSize = errors.New("chunk size out of range")
)

// ValidateNameLength checks an encoded name length against maxLen.
// A maxLen of zero or above MaxWireNameLength is treated as MaxWireNameLength.
func ValidateNameLength(n int, maxLen uint64) error {
	if n <= 0 {
		return ErrNameEmpty
	}
	if maxLen == 0 || maxLen > MaxWireNameLength {
		maxLen = MaxWireNameLength
	}
	if uint64(n) > maxLen {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrNameTooLong, n, maxLen)
	}
	return nil
}

// ValidateChunkSize checks a configured chunk size.
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrChunkSize, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}

// HeaderSize returns the encoded header size for a name of nameLen bytes.
func HeaderSize(nameLen int) int {
	return NameLengthFieldSize + nameLen + FileSizeFieldSize
}
