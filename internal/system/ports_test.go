package system

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/KevinKickass/xkop-gateway/internal/config"
)

// freeRange returns an XKOP config whose first port is currently free.
func freeRange(t *testing.T, width int) config.XKOPConfig {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()
	if port+width > 65535 {
		t.Skip("ephemeral port too close to the top of the range")
	}

	cfg := config.Default().XKOP
	cfg.ListenHost = "127.0.0.1"
	cfg.BasePort = port - 1
	cfg.MinPort = port
	cfg.MaxPort = port + width
	return cfg
}

func occupyUDP(t *testing.T, port int) {
	t.Helper()
	pc, err := net.ListenPacket("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Skipf("port %d not available for the test: %v", port, err)
	}
	t.Cleanup(func() { pc.Close() })
}

func TestSelectPortPrefersInstancePort(t *testing.T) {
	cfg := freeRange(t, 10)
	port, err := SelectPort(cfg, "127.0.0.1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if port != cfg.MinPort {
		t.Fatalf("port = %d, want %d", port, cfg.MinPort)
	}
	if got := InstanceFor(cfg, port); got != 1 {
		t.Fatalf("instance = %d, want 1", got)
	}
}

func TestSelectPortSkipsBusyPort(t *testing.T) {
	cfg := freeRange(t, 10)
	occupyUDP(t, cfg.MinPort)

	port, err := SelectPort(cfg, "127.0.0.1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if port <= cfg.MinPort || port > cfg.MaxPort {
		t.Fatalf("port = %d, want in (%d, %d]", port, cfg.MinPort, cfg.MaxPort)
	}
}

func TestSelectPortOwnedCountsAsFree(t *testing.T) {
	cfg := freeRange(t, 10)
	occupyUDP(t, cfg.MinPort)

	port, err := SelectPort(cfg, "127.0.0.1", 1, cfg.MinPort)
	if err != nil {
		t.Fatal(err)
	}
	if port != cfg.MinPort {
		t.Fatalf("port = %d, want owned %d", port, cfg.MinPort)
	}
}

func TestSelectPortOutOfRangeInstance(t *testing.T) {
	cfg := freeRange(t, 10)
	port, err := SelectPort(cfg, "127.0.0.1", 500, 0)
	if err != nil {
		t.Fatal(err)
	}
	if port != cfg.MinPort {
		t.Fatalf("port = %d, want fallback %d", port, cfg.MinPort)
	}
}

func TestSelectPortExhausted(t *testing.T) {
	cfg := freeRange(t, 0)
	occupyUDP(t, cfg.MinPort)

	if _, err := SelectPort(cfg, "127.0.0.1", 1, 0); !errors.Is(err, ErrNoFreePort) {
		t.Fatalf("err = %v, want ErrNoFreePort", err)
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateRunning, StateReconfiguring, true},
		{StateReconfiguring, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateInitializing, StateReconfiguring, false},
		{StateStopped, StateRunning, false},
		{SystemState(42), StateRunning, false},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v", tt.from, tt.to, err)
		}
	}
}
