// Package tagged carries a file as a sequence of tagged messages instead of
// a byte stream.
//
// A transfer is one TagMetadata message holding the name and size, then
// TagData messages holding the payload in order, then a TagData message
// with nil Data marking the end. A TagMetadata message with nil Meta means
// the sender gave up before sending anything; the receiver reports
// ErrAborted and creates no file.
//
// Messages travel over a Channel, an in-process ordered link between one
// sending and one receiving goroutine:
//
//	ch := tagged.NewChannel(16)
//	go tagged.NewSender(4096).Send(ctx, ch, "report.pdf")
//	report, err := tagged.NewReceiver(store).Receive(ctx, ch)
//
// The receiver writes through a file.Store, so names are reduced to their
// final path component exactly as they are for the TCP transport.
package tagged
