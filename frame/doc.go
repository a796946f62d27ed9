// Package frame implements the wire codec for a single file transfer.
//
// A frame is a header followed by a raw payload:
//
//	[4 bytes ] name length, big-endian uint32
//	[N bytes ] file name, UTF-8
//	[8 bytes ] file size, big-endian uint64
//	[S bytes ] payload
//
// There is no trailer and no checksum. The payload ends after exactly
// "file size" bytes and the connection is closed.
//
// # Exact Reads
//
// Stream transports may return fewer bytes than requested from any Read.
// ReadExact is the one place that loops until a buffer is full, and every
// header field is read through it:
//
//	n, err := frame.ReadExact(conn, buf)
//	// err == io.EOF              nothing was read
//	// err == io.ErrUnexpectedEOF the stream ended part way through buf
//
// WriteFull is the matching primitive for writers.
//
// # Decoding
//
// DecodeHeader distinguishes a peer that connected and left without sending
// anything (io.EOF) from a peer that sent a truncated or malformed header
// (*DecodeError). Callers usually treat the former as a clean disconnect.
package frame
