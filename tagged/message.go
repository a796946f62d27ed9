package tagged

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Tag identifies what a Message carries.
type Tag uint8

const (
	// TagMetadata marks the message that opens a transfer.
	TagMetadata Tag = 1
	// TagData marks payload messages and the terminator.
	TagData Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagMetadata:
		return "metadata"
	case TagData:
		return "data"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

var (
	// ErrAborted is returned by Receive when the sender announced it could
	// not send the file.
	ErrAborted = errors.New("sender aborted the transfer")
	// ErrUnexpectedTag is returned when a message arrives out of sequence.
	ErrUnexpectedTag = errors.New("unexpected message tag")
	// ErrClosed is returned by Send on a closed Channel.
	ErrClosed = errors.New("channel closed")
)

// Metadata describes the file a transfer carries.
type Metadata struct {
	Name string
	Size uint64
}

// Message is one unit on a Channel. Metadata messages use Meta, data
// messages use Data; nil in either field has the meaning described in the
// package documentation.
type Message struct {
	Tag        Tag
	TransferID uuid.UUID
	Meta       *Metadata
	Data       []byte
}

// IsTerminator reports whether m ends the payload.
func (m Message) IsTerminator() bool {
	return m.Tag == TagData && m.Data == nil
}

// Channel is an ordered, buffered message link. Send and Receive may be
// used from different goroutines.
type Channel struct {
	messages chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewChannel creates a Channel holding up to buffer undelivered messages.
func NewChannel(buffer int) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{
		messages: make(chan Message, buffer),
		done:     make(chan struct{}),
	}
}

// Send delivers m, blocking while the buffer is full.
func (c *Channel) Send(ctx context.Context, m Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.messages <- m:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next message. After Close, buffered messages are still
// delivered and io.EOF is returned once none remain.
func (c *Channel) Recv(ctx context.Context) (Message, error) {
	select {
	case m := <-c.messages:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		select {
		case m := <-c.messages:
			return m, nil
		default:
			return Message{}, io.EOF
		}
	}
}

// Close stops further sends. It is safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
