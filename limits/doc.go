// Package limits provides centralized size constants and validation functions
// for the file transfer protocol. Both the frame codec and the transports
// consult this package so that the sender and the receiver agree on what a
// well-formed frame looks like.
//
// # Size Hierarchy
//
//   - MaxWireNameLength (4 GiB - 1): the hard range of the 32-bit name
//     length field. Nothing larger can be encoded.
//
//   - MaxFileNameLength (4096 bytes): the default cap a receiver applies
//     before allocating the name buffer. It matches PATH_MAX on common
//     platforms; the name may still carry directory segments at this point,
//     they are stripped later.
//
//   - DefaultChunkSize (4096 bytes): the chunk size used by the sender's
//     file reads and the receiver's payload reads.
//
//   - MaxChunkSize (1 MiB): the largest chunk either side accepts as
//     configuration, bounding per-connection buffering.
//
// # Validation Functions
//
//	if err := limits.ValidateNameLength(len(name), limits.MaxFileNameLength); err != nil {
//	    // ErrNameEmpty or ErrNameTooLong
//	}
//
//	if err := limits.ValidateChunkSize(size); err != nil {
//	    // ErrChunkSize
//	}
//
// All errors wrap one of the package sentinels and carry the offending value.
package limits
