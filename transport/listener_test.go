package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	result *Result
	err    error
}

// startListener serves r on a loopback port and returns the listener, its
// address and a channel of per-connection outcomes.
func startListener(t *testing.T, r *Receiver, config *ListenerConfig) (*Listener, string, <-chan outcome, context.CancelFunc) {
	t.Helper()

	l, err := NewListener(config, r)
	require.NoError(t, err)
	require.NoError(t, l.Listen("127.0.0.1:0"))

	outcomes := make(chan outcome, 16)
	l.OnResult(func(res *Result, err error) {
		outcomes <- outcome{res, err}
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})

	return l, l.Addr().String(), outcomes, cancel
}

func waitOutcome(t *testing.T, outcomes <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a transfer to finish")
		return outcome{}
	}
}

func TestRoundTripOverTCP(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, nil)

	sizes := []int{0, 1, 4095, 4096, 4097, 1000000}
	for _, size := range sizes {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			content := patternBytes(size)
			name := "file-" + strconv.Itoa(size) + ".bin"
			path := writeSource(t, name, content)

			sent, err := newTestSender(t).Send(context.Background(), addr, path)
			require.NoError(t, err)

			o := waitOutcome(t, outcomes)
			require.NoError(t, o.err)
			require.NotNil(t, o.result)
			assert.Equal(t, name, o.result.Name)
			assert.Equal(t, uint64(size), o.result.Received)
			assert.False(t, o.result.Short)
			assert.Equal(t, sent.Digest, o.result.Digest)

			got, err := os.ReadFile(filepath.Join(r.OutputDir(), name))
			require.NoError(t, err)
			assert.Equal(t, content, got)
		})
	}
}

func TestRoundTripOverPipeReadCounts(t *testing.T) {
	r := newTestReceiver(t, false)
	content := patternBytes(1000000)
	path := writeSource(t, "piped.bin", content)

	client, server := net.Pipe()
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Handle(server)
		done <- outcome{res, err}
	}()

	sent, err := newTestSender(t).Stream(context.Background(), client, path)
	require.NoError(t, err)
	client.Close()

	o := waitOutcome(t, done)
	require.NoError(t, o.err)
	assert.Equal(t, 245, o.result.Reads)
	assert.Equal(t, 246, sent.Reads)
	assert.Equal(t, sent.Digest, o.result.Digest)
}

func TestListenerResilience(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write(malformedHeader())
	require.NoError(t, err)
	conn.(*net.TCPConn).CloseWrite()

	o := waitOutcome(t, outcomes)
	assert.ErrorIs(t, o.err, ErrDecode)

	// the server closed its side
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	conn.Close()

	path := writeSource(t, "after.txt", []byte("still serving"))
	_, err = newTestSender(t).Send(context.Background(), addr, path)
	require.NoError(t, err)

	o = waitOutcome(t, outcomes)
	require.NoError(t, o.err)
	assert.Equal(t, uint64(len("still serving")), o.result.Received)
}

func TestListenerCleanDisconnect(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()

	o := waitOutcome(t, outcomes)
	assert.NoError(t, o.err)
	assert.Nil(t, o.result)
}

func TestListenerShortTransfer(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write(buildTruncatedFrame(t, "cut.bin", 100000, patternBytes(777)))
	require.NoError(t, err)
	conn.Close()

	o := waitOutcome(t, outcomes)
	require.NoError(t, o.err)
	assert.True(t, o.result.Short)
	assert.Equal(t, uint64(777), o.result.Received)
}

func TestListenerRecoversFromPanic(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, nil)

	r.OnProgress(func(string, uint64, uint64) { panic("progress sink exploded") })
	path := writeSource(t, "boom.txt", []byte("payload"))
	newTestSender(t).Send(context.Background(), addr, path)

	o := waitOutcome(t, outcomes)
	assert.ErrorIs(t, o.err, ErrConnection)
	assert.Nil(t, o.result)

	r.OnProgress(nil)
	_, err := newTestSender(t).Send(context.Background(), addr, path)
	require.NoError(t, err)

	o = waitOutcome(t, outcomes)
	require.NoError(t, o.err)
	assert.Equal(t, uint64(len("payload")), o.result.Received)
}

func TestListenerSurvivesPanickingResultCallback(t *testing.T) {
	r := newTestReceiver(t, false)
	l, err := NewListener(nil, r)
	require.NoError(t, err)
	require.NoError(t, l.Listen("127.0.0.1:0"))

	var mu sync.Mutex
	calls := 0
	reported := make(chan *Result, 4)
	l.OnResult(func(res *Result, err error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			panic("result sink exploded")
		}
		reported <- res
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()
	defer func() {
		cancel()
		<-served
	}()

	addr := l.Addr().String()
	path := writeSource(t, "after.txt", []byte("still serving"))
	for i := 0; i < 2; i++ {
		_, err := newTestSender(t).Send(context.Background(), addr, path)
		require.NoError(t, err)
	}

	select {
	case res := <-reported:
		require.NotNil(t, res)
		assert.Equal(t, uint64(len("still serving")), res.Received)
	case <-time.After(10 * time.Second):
		t.Fatal("second connection was never reported")
	}
	assert.NotEqual(t, StateStopped, l.State())
}

func TestListenerStopsOnCancel(t *testing.T) {
	r := newTestReceiver(t, false)
	l, err := NewListener(nil, r)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, l.State())

	require.NoError(t, l.Listen("127.0.0.1:0"))
	assert.Equal(t, StateListening, l.State())
	addr := l.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Equal(t, StateStopped, l.State())
	assert.NoError(t, l.Close(), "Close is idempotent")

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "listening socket must be closed")
}

func TestListenerSerializesConnections(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, nil)

	// first peer sends half a frame and stalls
	slow, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	frameBytes := buildFrame(t, "slow.bin", patternBytes(2000))
	_, err = slow.Write(frameBytes[:1000])
	require.NoError(t, err)

	path := writeSource(t, "fast.bin", []byte("fast"))
	sendDone := make(chan error, 1)
	go func() {
		_, err := newTestSender(t).Send(context.Background(), addr, path)
		sendDone <- err
	}()

	select {
	case o := <-outcomes:
		t.Fatalf("second connection handled while first in progress: %+v", o)
	case <-time.After(200 * time.Millisecond):
	}

	_, err = slow.Write(frameBytes[1000:])
	require.NoError(t, err)
	slow.Close()

	first := waitOutcome(t, outcomes)
	require.NoError(t, first.err)
	assert.Equal(t, "slow.bin", first.result.Name)

	second := waitOutcome(t, outcomes)
	require.NoError(t, second.err)
	assert.Equal(t, "fast.bin", second.result.Name)
	require.NoError(t, <-sendDone)
}

func TestListenerConcurrentSameName(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, &ListenerConfig{MaxConcurrent: 4})

	const senders = 4
	contents := make([][]byte, senders)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		content := make([]byte, 200000)
		for j := range content {
			content[j] = byte('A' + i)
		}
		contents[i] = content
		path := writeSource(t, "shared.bin", content)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := newTestSender(t).Send(context.Background(), addr, path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i := 0; i < senders; i++ {
		o := waitOutcome(t, outcomes)
		require.NoError(t, o.err)
	}

	got, err := os.ReadFile(filepath.Join(r.OutputDir(), "shared.bin"))
	require.NoError(t, err)
	require.Len(t, got, 200000)

	// one writer wins entirely
	for j := range got {
		if got[j] != got[0] {
			t.Fatalf("interleaved content at byte %d: %q vs %q", j, got[j], got[0])
		}
	}
}

func TestListenerConfigValidation(t *testing.T) {
	r := newTestReceiver(t, false)

	_, err := NewListener(&ListenerConfig{MaxConcurrent: -1}, r)
	assert.ErrorIs(t, err, ErrArgument)

	_, err = NewListener(nil, nil)
	assert.ErrorIs(t, err, ErrArgument)

	l, err := NewListener(nil, r)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Serve(context.Background()), ErrArgument)
	assert.Nil(t, l.Addr())
}

func TestListenerBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	l, err := NewListener(nil, newTestReceiver(t, false))
	require.NoError(t, err)
	assert.ErrorIs(t, l.Listen(ln.Addr().String()), ErrConnection)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "handling", StateHandling.String())
	assert.Equal(t, "state(9)", State(9).String())
}

// serveSOCKS5 runs a minimal no-auth SOCKS5 CONNECT proxy for one client.
func serveSOCKS5(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		client, err := ln.Accept()
		if err != nil {
			return
		}
		defer client.Close()

		hdr := make([]byte, 2)
		if _, err := io.ReadFull(client, hdr); err != nil {
			return
		}
		methods := make([]byte, hdr[1])
		if _, err := io.ReadFull(client, methods); err != nil {
			return
		}
		client.Write([]byte{5, 0})

		req := make([]byte, 4)
		if _, err := io.ReadFull(client, req); err != nil {
			return
		}
		var host string
		switch req[3] {
		case 1:
			ip := make([]byte, 4)
			io.ReadFull(client, ip)
			host = net.IP(ip).String()
		case 3:
			l := make([]byte, 1)
			io.ReadFull(client, l)
			name := make([]byte, l[0])
			io.ReadFull(client, name)
			host = string(name)
		default:
			return
		}
		portBuf := make([]byte, 2)
		io.ReadFull(client, portBuf)
		target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(portBuf))))

		upstream, err := net.Dial("tcp", target)
		if err != nil {
			client.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
			return
		}
		defer upstream.Close()
		client.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})

		io.Copy(upstream, client)
	}()
}

func TestSenderThroughSOCKS5(t *testing.T) {
	r := newTestReceiver(t, false)
	_, addr, outcomes, _ := startListener(t, r, nil)

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()
	serveSOCKS5(t, proxyLn)

	config := DefaultSenderConfig()
	config.Proxy = &ProxyConfig{
		Type: "socks5",
		Host: "127.0.0.1",
		Port: uint16(proxyLn.Addr().(*net.TCPAddr).Port),
	}
	s, err := NewSender(config)
	require.NoError(t, err)

	content := patternBytes(50000)
	path := writeSource(t, "proxied.bin", content)
	_, err = s.Send(context.Background(), addr, path)
	require.NoError(t, err)

	o := waitOutcome(t, outcomes)
	require.NoError(t, o.err)
	assert.Equal(t, uint64(len(content)), o.result.Received)

	got, err := os.ReadFile(filepath.Join(r.OutputDir(), "proxied.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
