package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/zap/zaptest"
)

func testConfig() config.XKOPConfig {
	return config.XKOPConfig{
		ReceiveTimeout:   20 * time.Millisecond,
		RebindDelay:      20 * time.Millisecond,
		ConnectTimeout:   200 * time.Millisecond,
		ReadTimeout:      20 * time.Millisecond,
		ReconnectBackoff: 20 * time.Millisecond,
	}
}

type recorder struct {
	mu      sync.Mutex
	records [][]xkop.Record
	ch      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan struct{}, 64)}
}

func (r *recorder) HandleRecords(_ string, records []xkop.Record) {
	r.mu.Lock()
	r.records = append(r.records, records)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) [][]xkop.Record {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for frame %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]xkop.Record(nil), r.records...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSuperviseRestartsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	err := Supervise(ctx, zaptest.NewLogger(t), "test", RestartPolicy{Delay: time.Millisecond}, func(context.Context) error {
		runs++
		if runs == 3 {
			cancel()
		}
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Supervise returned %v after cancel", err)
	}
	if runs != 3 {
		t.Fatalf("runs = %d, want 3", runs)
	}
}

func TestSuperviseMaxRestarts(t *testing.T) {
	boom := errors.New("boom")
	err := Supervise(context.Background(), zaptest.NewLogger(t), "test", RestartPolicy{Delay: time.Millisecond, MaxRestarts: 2}, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Supervise error = %v", err)
	}
}

func TestDatagramReceiverSurvivesTimeouts(t *testing.T) {
	rec := newRecorder()
	endpoints := NewEndpoints("127.0.0.1", 0, "")
	r := NewDatagramReceiver(endpoints, rec, testConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	eventually(t, "bind", func() bool { return r.LocalAddr() != nil })
	// several receive timeouts elapse before anything arrives
	time.Sleep(100 * time.Millisecond)
	if !r.Active() {
		t.Fatal("receiver stopped after idle timeouts")
	}

	conn, err := net.Dial("udp", r.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	good := xkop.Build([]xkop.Record{{Index: 3, Value: 1}})
	bad := good
	bad[16] ^= 0xFF

	conn.Write([]byte{0xCA, 0x35})
	conn.Write(bad[:])
	conn.Write(good[:])

	got := rec.wait(t, 1)
	if len(got) != 1 || got[0][0] != (xkop.Record{Index: 3, Value: 1}) {
		t.Fatalf("records = %v", got)
	}

	eventually(t, "drop counters", func() bool {
		s := r.Stats()
		return s.Dropped == 2 && s.CRCFailures == 1 && s.FramesIn == 1
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}

func TestDatagramReceiverRebindsAfterKick(t *testing.T) {
	endpoints := NewEndpoints("127.0.0.1", 0, "")
	r := NewDatagramReceiver(endpoints, newRecorder(), testConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	eventually(t, "bind", func() bool { return r.LocalAddr() != nil })
	first := r.LocalAddr().String()
	r.Kick()
	eventually(t, "rebind", func() bool {
		addr := r.LocalAddr()
		return addr != nil && addr.String() != first
	})
}

func listenTCP(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestStreamClientReassemblesFrames(t *testing.T) {
	ln, port := listenTCP(t)
	rec := newRecorder()
	c := NewStreamClient(NewEndpoints("127.0.0.1", port, "127.0.0.1"), rec, testConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()
	eventually(t, "connected", func() bool { return c.State() == StateConnected })

	one := xkop.Build([]xkop.Record{{Index: 1, Value: 1}})
	two := xkop.Build([]xkop.Record{{Index: 2, Value: 0}, {Index: 5, Value: 9}})

	// garbage, then a frame split across writes, then a whole frame
	server.Write([]byte{0x00, 0x11})
	server.Write(one[:5])
	time.Sleep(30 * time.Millisecond)
	server.Write(one[5:])
	server.Write(two[:])

	got := rec.wait(t, 2)
	if len(got[0]) != 1 || got[0][0].Index != 1 {
		t.Fatalf("first frame = %v", got[0])
	}
	if len(got[1]) != 2 || got[1][1] != (xkop.Record{Index: 5, Value: 9}) {
		t.Fatalf("second frame = %v", got[1])
	}

	out := xkop.Build([]xkop.Record{{Index: 7, Value: 1}})
	if err := c.Send(out); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, xkop.FrameSize)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(server, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if xkop.Frame(buf) != out {
		t.Fatalf("server got % X", buf)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func TestStreamClientReconnectsAfterPeerClose(t *testing.T) {
	ln, port := listenTCP(t)
	c := NewStreamClient(NewEndpoints("127.0.0.1", port, "127.0.0.1"), newRecorder(), testConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	first, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	eventually(t, "connected", func() bool { return c.State() == StateConnected })
	first.Close()

	second, err := ln.Accept()
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	defer second.Close()
	eventually(t, "reconnected", func() bool { return c.State() == StateConnected })
}

func TestStreamClientRetriesIndefinitely(t *testing.T) {
	ln, port := listenTCP(t)
	ln.Close() // nothing listens on port now

	c := NewStreamClient(NewEndpoints("127.0.0.1", port, "127.0.0.1"), newRecorder(), testConfig(), zaptest.NewLogger(t))
	if err := c.Send(xkop.BuildAlive()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send while disconnected = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	eventually(t, "several attempts", func() bool { return c.Stats().Restarts >= 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestStreamClientWaitsWithoutController(t *testing.T) {
	c := NewStreamClient(NewEndpoints("127.0.0.1", 8001, ""), newRecorder(), testConfig(), zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestSenderDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	s := NewSender(NewEndpoints("127.0.0.1", port, "127.0.0.1"), nil, true, time.Second, zaptest.NewLogger(t))
	frames := xkop.Batch([]xkop.Record{
		xkop.NewRecord(1, 1), xkop.NewRecord(2, 1), xkop.NewRecord(3, 0), xkop.NewRecord(4, 1), xkop.NewRecord(5, 1),
	})
	if err := s.Send(context.Background(), frames...); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 64)
	for i := range frames {
		pc.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if n != xkop.FrameSize || xkop.Frame(buf[:n]) != frames[i] {
			t.Fatalf("datagram %d = % X", i, buf[:n])
		}
	}
	if s.Stats().FramesOut != 2 {
		t.Fatalf("frames out = %d", s.Stats().FramesOut)
	}
}

func TestSenderSkipsWithoutController(t *testing.T) {
	s := NewSender(NewEndpoints("0.0.0.0", 8001, ""), nil, true, time.Second, zaptest.NewLogger(t))
	if err := s.Send(context.Background(), xkop.BuildAlive()); err != nil {
		t.Fatalf("Send = %v", err)
	}
	if s.Stats().FramesOut != 0 {
		t.Fatal("frame counted without a target")
	}
}
