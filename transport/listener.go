package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
)

// State is the listener's position in its lifecycle.
type State int32

const (
	// StateIdle means Listen has not been called.
	StateIdle State = iota
	// StateListening means the socket is bound and waiting for a peer.
	StateListening
	// StateAccepting means a connection was just accepted.
	StateAccepting
	// StateHandling means the accepted connection is being received.
	StateHandling
	// StateStopped means the listening socket is closed.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAccepting:
		return "accepting"
	case StateHandling:
		return "handling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Listener owns the bound socket and feeds accepted connections to a
// Receiver. By default one connection is handled to completion before the
// next is accepted. A failure or panic while handling one connection is
// logged and never stops the loop.
type Listener struct {
	config   ListenerConfig
	receiver *Receiver

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	onResult func(*Result, error)

	state atomic.Int32
	wg    sync.WaitGroup
}

// NewListener creates a Listener. A nil config uses DefaultListenerConfig.
func NewListener(config *ListenerConfig, receiver *Receiver) (*Listener, error) {
	if config == nil {
		config = DefaultListenerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, fmt.Errorf("%w: receiver cannot be nil", ErrArgument)
	}
	return &Listener{config: *config, receiver: receiver}, nil
}

// OnResult sets a callback invoked after every handled connection. Clean
// disconnects report (nil, nil).
func (l *Listener) OnResult(callback func(*Result, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onResult = callback
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
}

// Listen binds addr over TCP.
func (l *Listener) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		NewLogger("Listen").WithField("address", addr).WithError(err, "listen").Error("Failed to bind")
		return newNetError("listen", addr, ErrConnection, err)
	}
	return l.Attach(ln)
}

// Attach adopts an already bound listener.
func (l *Listener) Attach(ln net.Listener) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		ln.Close()
		return ErrListenerClosed
	}
	if l.listener != nil {
		return fmt.Errorf("%w: listener already bound", ErrArgument)
	}

	if l.config.MaxConcurrent > 1 {
		ln = netutil.LimitListener(ln, l.config.MaxConcurrent)
	}
	l.listener = ln
	l.setState(StateListening)

	NewLogger("Attach").WithFields(map[string]interface{}{
		"address":        ln.Addr().String(),
		"max_concurrent": l.config.MaxConcurrent,
	}).Info("Listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	if err := l.Listen(addr); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Cancellation is observed between connections: a transfer in progress is
// allowed to finish. Serve returns nil after an orderly stop.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%w: Serve called before Listen", ErrArgument)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-done:
		}
	}()

	backoff := time.Duration(0)
	for {
		l.setState(StateListening)
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				l.setState(StateStopped)
				NewLogger("Serve").Info("Listener stopped")
				return nil
			}

			backoff = nextBackoff(backoff)
			NewLogger("Serve").WithError(err, "accept").WithField("retry_in", backoff).Warn("Accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		l.setState(StateAccepting)
		NewLogger("Serve").WithField("remote", conn.RemoteAddr().String()).Info("Connection accepted")

		if l.config.MaxConcurrent > 1 {
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.handleIsolated(conn)
			}()
			continue
		}

		l.setState(StateHandling)
		l.handleIsolated(conn)
	}
}

// handleIsolated runs the receiver on conn inside a recover boundary.
func (l *Listener) handleIsolated(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if rec := recover(); rec != nil {
			conn.Close()
			err := newNetError("handle", remote, ErrConnection, fmt.Errorf("panic: %v", rec))
			NewLogger("handleIsolated").WithError(err, "handle").Error("Recovered from panic in connection handler")
			l.report(nil, err)
		}
	}()

	result, err := l.receiver.Handle(conn)
	if err != nil {
		NewLogger("handleIsolated").WithFields(ResultFields(result)).WithError(err, "handle").
			WithField("remote", remote).Warn("Connection failed, continuing")
	}
	NewLogger("handleIsolated").WithField("remote", remote).Debug("Connection closed")
	l.report(result, err)
}

// report hands the outcome to the OnResult callback. A panicking callback
// is logged and does not reach the accept loop.
func (l *Listener) report(result *Result, err error) {
	l.mu.Lock()
	cb := l.onResult
	l.mu.Unlock()
	if cb == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			NewLogger("report").WithFields(ResultFields(result)).
				WithField("panic", fmt.Sprint(rec)).Error("OnResult callback panicked")
		}
	}()
	cb(result, err)
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops accepting and closes the listening socket. It is safe to call
// more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.listener == nil {
		l.setState(StateStopped)
		return nil
	}
	return l.listener.Close()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
