package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/zap/zaptest"
)

type captureSender struct {
	mu     sync.Mutex
	frames []xkop.Frame
}

func (c *captureSender) Send(_ context.Context, frames ...xkop.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frames...)
	return nil
}

func (c *captureSender) snapshot() []xkop.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]xkop.Frame(nil), c.frames...)
}

func TestPollerSendsReadRequests(t *testing.T) {
	sender := &captureSender{}
	p := NewPoller(func() []int { return []int{1, 2, 3, 4, 30} }, sender, 10*time.Millisecond, zaptest.NewLogger(t))
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	_ = p.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("poller sent nothing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()
	if p.IsRunning() {
		t.Fatal("still running after Stop")
	}

	frames := sender.snapshot()
	first, err := xkop.Parse(frames[0][:])
	if err != nil {
		t.Fatal(err)
	}
	second, err := xkop.Parse(frames[1][:])
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 4 || len(second) != 1 || second[0] != xkop.NewRecord(30, 0) {
		t.Fatalf("frames = %v / %v", first, second)
	}
	for _, r := range append(first, second...) {
		if r.Value != 0 {
			t.Fatalf("read request carries value: %v", r)
		}
	}
}

func TestPollerSkipsEmptyIndexSet(t *testing.T) {
	sender := &captureSender{}
	p := NewPoller(func() []int { return nil }, sender, 5*time.Millisecond, zaptest.NewLogger(t))
	_ = p.Start()
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	if n := len(sender.snapshot()); n != 0 {
		t.Fatalf("sent %d frames for an empty row set", n)
	}
}
