package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/tcpxfer/limits"
)

func TestEncodeHeaderLayout(t *testing.T) {
	buf, err := EncodeHeader("a.txt", 258)
	require.NoError(t, err)

	want := []byte{
		0, 0, 0, 5,
		'a', '.', 't', 'x', 't',
		0, 0, 0, 0, 0, 0, 1, 2,
	}
	assert.Equal(t, want, buf)
	assert.Equal(t, len(want), Header{Name: "a.txt"}.EncodedSize())
}

func TestEncodeHeaderRejects(t *testing.T) {
	_, err := EncodeHeader("", 0)
	assert.ErrorIs(t, err, limits.ErrNameEmpty)

	_, err = EncodeHeader(string([]byte{0xff, 0xfe}), 0)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size uint64
	}{
		{"report.pdf", 0},
		{"données.bin", 1},
		{"big.iso", 1 << 40},
		{"max.raw", ^uint64(0)},
		{"../../etc/passwd", 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteHeader(&buf, Header{Name: tt.name, Size: tt.size}))

			got, err := DecodeHeader(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.name, got.Name)
			assert.Equal(t, tt.size, got.Size)
			assert.Zero(t, buf.Len(), "decoder must not consume payload bytes")
		})
	}
}

func TestDecodeHeaderPartialReads(t *testing.T) {
	encoded, err := EncodeHeader("partial-read-name.dat", 4096)
	require.NoError(t, err)
	payload := []byte("payload follows")

	for _, chunk := range []int{1, 2, 3, 7} {
		r := newPartialReader(append(append([]byte{}, encoded...), payload...), chunk)

		h, err := DecodeHeader(r)
		require.NoError(t, err, "chunk size %d", chunk)
		assert.Equal(t, "partial-read-name.dat", h.Name)
		assert.Equal(t, uint64(4096), h.Size)

		rest, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, payload, rest, "chunk size %d", chunk)
	}
}

func TestDecodeHeaderCleanDisconnect(t *testing.T) {
	_, err := DecodeHeader(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)

	var decErr *DecodeError
	assert.False(t, errors.As(err, &decErr))
}

func TestDecodeHeaderTruncated(t *testing.T) {
	full, err := EncodeHeader("truncated.txt", 99)
	require.NoError(t, err)

	cuts := map[string]int{
		"inside name length": 2,
		"before name":        4,
		"inside name":        8,
		"before size":        4 + len("truncated.txt"),
		"inside size":        len(full) - 1,
	}

	for desc, cut := range cuts {
		t.Run(desc, func(t *testing.T) {
			_, err := DecodeHeader(bytes.NewReader(full[:cut]))

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "want DecodeError, got %v", err)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestDecodeHeaderNameLongerThanStream(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(1000))
	buf.WriteString("short")

	_, err := DecodeHeader(&buf)
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, "name", decErr.Field)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeHeaderNameLimit(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(limits.MaxFileNameLength+1))

	_, err := DecodeHeader(&buf)
	assert.ErrorIs(t, err, limits.ErrNameTooLong)

	encoded, err := EncodeHeader(strings.Repeat("n", 64), 1)
	require.NoError(t, err)
	_, err = DecodeHeaderLimit(bytes.NewReader(encoded), 32)
	assert.ErrorIs(t, err, limits.ErrNameTooLong)

	_, err = DecodeHeaderLimit(bytes.NewReader(encoded), 64)
	assert.NoError(t, err)
}

func TestDecodeHeaderZeroLimitUsesDefault(t *testing.T) {
	// a 4-byte stream announcing a 512 MiB name
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(512<<20))

	_, err := DecodeHeaderLimit(&buf, 0)
	assert.ErrorIs(t, err, limits.ErrNameTooLong)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, "name length", decErr.Field)

	long := strings.Repeat("n", limits.MaxFileNameLength+1)
	encoded, err := EncodeHeader(long, 1)
	require.NoError(t, err)
	got, err := DecodeHeaderLimit(bytes.NewReader(encoded), limits.MaxWireNameLength)
	require.NoError(t, err, "the full wire range is still available explicitly")
	assert.Equal(t, long, got.Name)
}

func TestDecodeHeaderZeroNameLength(t *testing.T) {
	_, err := DecodeHeader(bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, limits.ErrNameEmpty)
}

func TestDecodeHeaderInvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(2))
	buf.Write([]byte{0xc3, 0x28})
	binary.Write(&buf, binary.BigEndian, uint64(1))

	_, err := DecodeHeader(&buf)
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}
