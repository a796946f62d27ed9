// Package file implements the local file side of a transfer: opening the
// source, creating the destination, chunked I/O and progress accounting.
//
// # Transfers
//
// A Transfer wraps one open file. Incoming transfers create (or truncate)
// their destination and accept chunks through WriteChunk; outgoing transfers
// open a regular file and hand out chunks through ReadChunk, counting them
// once the caller reports them delivered with MarkSent:
//
//	src, err := file.NewOutgoing("/data/report.pdf")
//	if err != nil {
//	    // err wraps file.ErrNotRegular
//	}
//	if err := src.Start(); err != nil {
//	    return err
//	}
//	defer src.Close()
//
// Close settles the final state. An incoming transfer that moved exactly
// FileSize bytes ends Completed, one that moved fewer ends Short. Bytes
// already written are never removed.
//
// # Destination Store
//
// Store maps header names to paths under a single output directory. Names
// are reduced to their final path component by Sanitize, so a header name
// such as "../../etc/passwd" lands in "<dir>/passwd":
//
//	store, _ := file.NewStore(file.DefaultOutputDir)
//	transfer, unlock, err := store.Open(header.Name, header.Size)
//	if err != nil {
//	    return err
//	}
//	defer unlock()
//	defer transfer.Close()
//
// Store.Open holds a per-path lock from PathLocker until unlock is called,
// so two receivers writing the same name overwrite each other in turn
// instead of interleaving.
//
// # Digests
//
// Every transfer keeps a BLAKE2b-256 digest of the bytes it moved. The
// digest is local bookkeeping only and never travels on the wire.
//
// # Deterministic Testing
//
// Transfers take a TimeProvider for their timestamps and speed estimate:
//
//	transfer.SetTimeProvider(&mockTimeProvider{fixedTime})
package file
