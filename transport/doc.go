// Package transport moves one file per TCP connection using the frame
// codec from package frame.
//
// # Components
//
//   - Sender: validates the source, dials the receiver (directly or through
//     a SOCKS5 proxy), writes the header and streams the file in chunks.
//   - Receiver: decodes the header from an accepted connection and streams
//     exactly the declared number of bytes into the output directory.
//   - Listener: owns the bound socket and hands accepted connections to a
//     Receiver, one at a time unless configured otherwise.
//
// # Sending
//
//	sender, err := transport.NewSender(transport.DefaultSenderConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := sender.Send(ctx, "10.0.0.2:9000", "/data/report.pdf")
//
// Send never opens a connection if the path is not a regular file. The
// connection is closed when Send returns, whatever the outcome.
//
// # Receiving
//
//	receiver, _ := transport.NewReceiver(transport.DefaultReceiverConfig())
//	listener, _ := transport.NewListener(nil, receiver)
//	listener.OnResult(func(res *transport.Result, err error) {
//	    // res is nil for a peer that connected and sent nothing
//	})
//	err := listener.ListenAndServe(ctx, ":9000")
//
// Cancelling ctx stops the listener between connections. A transfer in
// progress at that moment runs to completion; a transfer that fails part way
// leaves its partial file on disk. There is no atomic rename.
//
// # Short Transfers
//
// A connection that closes before delivering the declared size is not an
// error by default. The Result carries Short=true and Received<FileSize.
// Set ReceiverConfig.Strict to get ErrShortTransfer instead.
//
// # Concurrency
//
// ListenerConfig.MaxConcurrent above one handles that many connections at
// once. Transfers of the same file name are serialized by a per-path lock
// so that the last one wins without interleaving.
//
// # Error Handling
//
// Errors are *NetError values carrying the operation, the address and one
// of the kinds ErrArgument, ErrFileNotFound, ErrConnection, ErrDecode,
// ErrIO or ErrShortTransfer:
//
//	if errors.Is(err, transport.ErrConnection) {
//	    // retry policy belongs to the caller
//	}
//
// Header decode failures also unwrap to *frame.DecodeError.
package transport
