package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/KevinKickass/xkop-gateway/internal/bridge"
	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/logbuf"
	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/KevinKickass/xkop-gateway/internal/storage"
	"github.com/KevinKickass/xkop-gateway/internal/transport"
)

// Addr is a host/port pair; it travels as [host, port] on the wire.
type Addr struct {
	Host string
	Port int
}

// ParseAddr splits "host:port". Malformed input yields the zero Addr.
func ParseAddr(hostport string) Addr {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}
	}
	p, _ := strconv.Atoi(port)
	return Addr{Host: host, Port: p}
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{a.Host, a.Port})
}

func (a *Addr) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("address must be [host, port], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &a.Host); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &a.Port)
}

type TransportStats struct {
	Datagram transport.StatsSnapshot `json:"udp"`
	Stream   transport.StatsSnapshot `json:"tcp"`
	Sender   transport.StatsSnapshot `json:"sender"`
}

// GatewayStatus represents the current gateway state
type GatewayStatus struct {
	State          string         `json:"state"`
	Error          string         `json:"error,omitempty"`
	Rows           int            `json:"rows"`
	TestMode       bool           `json:"test_mode"`
	ListenerActive bool           `json:"xkop_listener_active"`
	StreamState    string         `json:"stream_state"`
	Listen         Addr           `json:"listen"`
	TX             Addr           `json:"tx"`
	Transport      TransportStats `json:"transport"`
	Timestamp      int64          `json:"timestamp"`
}

// ReconfigureResult reports where the transports run after a reconfigure.
type ReconfigureResult struct {
	Listen Addr `json:"listen"`
	TX     Addr `json:"tx"`
	XKOP   int  `json:"xkop"`
	Rows   int  `json:"rows"`
}

type Gateway interface {
	Config() *config.Config
	Bridge() *bridge.Bridge
	Store() *state.Store
	LogBuffers() *logbuf.Set
	// Storage is nil unless database.enabled.
	Storage() *storage.PostgresClient
	CurrentGateway() config.Gateway
	Reconfigure(ctx context.Context, gw config.Gateway) (ReconfigureResult, error)
	ListenAddrs() (listen, tx Addr)
	GetCurrentStatus() GatewayStatus
	Shutdown(ctx context.Context) error
}
