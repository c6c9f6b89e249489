package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"dnc-service/internal/model"
)

func TestFrameBufferSplitsLines(t *testing.T) {
	fb := newFrameBuffer(32)

	require.NoError(t, fb.push([]byte("OK\r\nPAR")))
	frame, ok := fb.pop()
	require.True(t, ok)
	assert.Equal(t, "OK", string(frame))

	_, ok = fb.pop()
	assert.False(t, ok)

	require.NoError(t, fb.push([]byte("TIAL\n")))
	frame, ok = fb.pop()
	require.True(t, ok)
	assert.Equal(t, "PARTIAL", string(frame))
}

func TestFrameBufferRejectsOversizedFrames(t *testing.T) {
	fb := newFrameBuffer(8)
	err := fb.push([]byte("0123456789"))
	assert.Error(t, err)
}

func startTCPServer(t *testing.T, handle func(conn net.Conn)) model.SocketParams {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return model.SocketParams{Host: "127.0.0.1", Port: addr.Port}
}

func TestTCPTransportRoundTrip(t *testing.T) {
	params := startTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			// reply in two chunks to exercise reassembly
			conn.Write([]byte("ECHO "))
			time.Sleep(5 * time.Millisecond)
			conn.Write([]byte(line))
		}
	})

	tr := NewTCPTransport(params, time.Second, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()
	assert.True(t, tr.IsAlive())
	assert.Equal(t, model.TransportSocket, tr.Kind())

	require.NoError(t, tr.WriteFrame(ctx, []byte("QUERY STATUS\n")))
	frame, err := tr.ReadFrame(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ECHO QUERY STATUS", string(frame))
}

func TestTCPTransportReadTimeout(t *testing.T) {
	params := startTCPServer(t, func(conn net.Conn) {
		time.Sleep(time.Second)
		conn.Close()
	})

	tr := NewTCPTransport(params, time.Second, zap.NewNop())
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	start := time.Now()
	_, err := tr.ReadFrame(context.Background(), time.Now().Add(100*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.True(t, tr.IsAlive(), "a read timeout does not kill the connection")
}

func TestTCPTransportDetectsConnectionLoss(t *testing.T) {
	params := startTCPServer(t, func(conn net.Conn) {
		conn.Close()
	})

	tr := NewTCPTransport(params, time.Second, zap.NewNop())
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	_, err := tr.ReadFrame(context.Background(), time.Now().Add(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrIO)
	assert.ErrorIs(t, err, model.ErrConnectionLost)
	assert.False(t, tr.IsAlive())
}

func TestTCPTransportReadCancelled(t *testing.T) {
	params := startTCPServer(t, func(conn net.Conn) {
		time.Sleep(time.Second)
		conn.Close()
	})

	tr := NewTCPTransport(params, time.Second, zap.NewNop())
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := tr.ReadFrame(ctx, time.Now().Add(5*time.Second))
	assert.ErrorIs(t, err, model.ErrCancelled)
}

func TestTCPTransportOpenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr := NewTCPTransport(model.SocketParams{Host: "127.0.0.1", Port: port}, 200*time.Millisecond, zap.NewNop())
	err = tr.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConnection)
	assert.False(t, tr.IsAlive())
}

func TestTransportWriteWhenClosed(t *testing.T) {
	tr := NewTCPTransport(model.SocketParams{Host: "127.0.0.1", Port: 1}, time.Second, zap.NewNop())
	err := tr.WriteFrame(context.Background(), []byte("x\n"))
	assert.ErrorIs(t, err, model.ErrIO)
	assert.ErrorIs(t, err, model.ErrNotOpen)
	assert.NoError(t, tr.Close())
}

func startChannelServer(t *testing.T, path string, accept bool) {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				encoder := json.NewEncoder(conn)
				for {
					line, err := reader.ReadBytes('\n')
					if err != nil {
						return
					}
					var msg ChannelMessage
					if err := json.Unmarshal(line, &msg); err != nil {
						encoder.Encode(map[string]interface{}{"success": false, "error": "bad message"})
						continue
					}
					if msg.Command == HandshakeCommand {
						encoder.Encode(map[string]interface{}{"success": accept, "error": "denied"})
						continue
					}
					encoder.Encode(map[string]interface{}{"success": true, "data": msg.Command})
				}
			}(conn)
		}
	}()
}

func TestChannelTransportHandshakeAndMessages(t *testing.T) {
	dir := t.TempDir()
	startChannelServer(t, filepath.Join(dir, "dnc.sock"), true)

	tr := NewChannelTransport(model.ChannelParams{Name: "dnc", Dir: dir}, time.Second, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()
	assert.Equal(t, model.TransportChannel, tr.Kind())

	require.NoError(t, tr.WriteFrame(ctx, []byte(`{"command":"get_status","parameters":{},"timestamp":1}`+"\n")))
	frame, err := tr.ReadFrame(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)

	var reply ChannelReply
	require.NoError(t, json.Unmarshal(frame, &reply))
	assert.True(t, reply.Success)
	assert.JSONEq(t, `"get_status"`, string(reply.Data))
}

func TestChannelTransportRejectedHandshake(t *testing.T) {
	dir := t.TempDir()
	startChannelServer(t, filepath.Join(dir, "locked.sock"), false)

	tr := NewChannelTransport(model.ChannelParams{Name: "locked", Dir: dir}, time.Second, zap.NewNop())
	err := tr.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConnection)
	assert.False(t, tr.IsAlive())
}

func TestTCPTransportDiscardDropsStaleInput(t *testing.T) {
	params := startTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		conn.Write([]byte("STALE\nPART"))
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
		conn.Write([]byte("FRESH\n"))
		time.Sleep(time.Second)
	})

	tr := NewTCPTransport(params, time.Second, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()

	require.Eventually(t, func() bool {
		dropped, err := tr.Discard(ctx)
		return err == nil && dropped > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, tr.WriteFrame(ctx, []byte("QUERY POS\n")))
	frame, err := tr.ReadFrame(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "FRESH", string(frame))
	assert.True(t, tr.IsAlive())
}

func TestTCPTransportDiscardDropsBufferedFrames(t *testing.T) {
	params := startTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		conn.Write([]byte("ONE\nTWO\n"))
		time.Sleep(time.Second)
	})

	tr := NewTCPTransport(params, time.Second, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()

	frame, err := tr.ReadFrame(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ONE", string(frame))

	dropped, err := tr.Discard(ctx)
	require.NoError(t, err)
	assert.Equal(t, len("TWO\n"), dropped)

	_, err = tr.ReadFrame(ctx, time.Now().Add(50*time.Millisecond))
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestChannelPath(t *testing.T) {
	assert.Equal(t, "/run/dnc/pipe.sock", ChannelPath(model.ChannelParams{Name: "pipe", Dir: "/run/dnc"}))
	assert.Equal(t, "/var/run/custom.sock", ChannelPath(model.ChannelParams{Name: "/var/run/custom.sock", Dir: "/run/dnc"}))
}

// fakePort is an in-memory serial line
type fakePort struct {
	mu       sync.Mutex
	written  []byte
	replies  [][]byte
	timeout  time.Duration
	closed   bool
	resets   int
	lastMode *serial.Mode
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.replies) > 0 {
		n := copy(b, p.replies[0])
		p.replies = p.replies[1:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()
	time.Sleep(timeout)
	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = nil
	p.resets++
	return nil
}

func withFakeSerial(t *testing.T, port *fakePort) {
	t.Helper()
	orig := openSerialPort
	openSerialPort = func(name string, mode *serial.Mode) (portHandle, error) {
		port.lastMode = mode
		return port, nil
	}
	t.Cleanup(func() { openSerialPort = orig })
}

func TestSerialTransportRoundTrip(t *testing.T) {
	port := &fakePort{replies: [][]byte{[]byte("O"), []byte("K\r\n")}}
	withFakeSerial(t, port)

	cfg := model.SerialParams{Port: "/dev/ttyS0", BaudRate: 19200, DataBits: 7, StopBits: 2, Parity: "even"}
	tr := NewSerialTransport(cfg, time.Second, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	assert.True(t, tr.IsAlive())

	assert.Equal(t, 19200, port.lastMode.BaudRate)
	assert.Equal(t, 7, port.lastMode.DataBits)
	assert.Equal(t, serial.TwoStopBits, port.lastMode.StopBits)
	assert.Equal(t, serial.EvenParity, port.lastMode.Parity)

	require.NoError(t, tr.WriteFrame(ctx, []byte("WRITE #500 12.5\n")))
	assert.Equal(t, "WRITE #500 12.5\n", string(port.written))

	frame, err := tr.ReadFrame(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "OK", string(frame))

	require.NoError(t, tr.Close())
	assert.True(t, port.closed)
	assert.False(t, tr.IsAlive())
}

func TestSerialTransportReadTimeout(t *testing.T) {
	withFakeSerial(t, &fakePort{})

	tr := NewSerialTransport(model.SerialParams{Port: "COM1", BaudRate: 9600, DataBits: 8, StopBits: 1}, time.Second, zap.NewNop())
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	start := time.Now()
	_, err := tr.ReadFrame(context.Background(), time.Now().Add(150*time.Millisecond))
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestSerialTransportDiscardResetsInput(t *testing.T) {
	port := &fakePort{replies: [][]byte{[]byte("OK\nPART"), []byte("IAL\n")}}
	withFakeSerial(t, port)

	tr := NewSerialTransport(model.SerialParams{Port: "COM1", BaudRate: 9600, DataBits: 8, StopBits: 1}, time.Second, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, tr.Open(ctx))
	defer tr.Close()

	frame, err := tr.ReadFrame(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "OK", string(frame))

	dropped, err := tr.Discard(ctx)
	require.NoError(t, err)
	assert.Equal(t, len("PART"), dropped)
	assert.Equal(t, 1, port.resets)

	_, err = tr.ReadFrame(ctx, time.Now().Add(50*time.Millisecond))
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestNewSelectsVariant(t *testing.T) {
	cases := map[model.TransportKind]interface{}{
		model.TransportSerial:  &SerialTransport{},
		model.TransportSocket:  &TCPTransport{},
		model.TransportChannel: &ChannelTransport{},
		model.TransportUSB:     &USBTransport{},
	}
	for kind, want := range cases {
		tr, err := New(&model.ConnectionParams{Transport: kind}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, want, tr)
		assert.Equal(t, kind, tr.Kind())
	}

	_, err := New(&model.ConnectionParams{Transport: "CARRIER_PIGEON"}, zap.NewNop())
	assert.ErrorIs(t, err, model.ErrValidation)
}
