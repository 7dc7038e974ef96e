package system

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/KevinKickass/xkop-gateway/internal/config"
)

var ErrNoFreePort = errors.New("no free XKOP port")

// SelectPort picks the XKOP port for instance: cfg.Port(instance), or the
// next port up to cfg.MaxPort where both a TCP and a UDP bind on host
// succeed. owned is the port the gateway already holds; it counts as free.
func SelectPort(cfg config.XKOPConfig, host string, instance, owned int) (int, error) {
	start := cfg.Port(instance)
	for port := start; port <= cfg.MaxPort; port++ {
		if port == owned || portFree(host, port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w in %d-%d", ErrNoFreePort, start, cfg.MaxPort)
}

// InstanceFor maps a port back to its XKOP instance number.
func InstanceFor(cfg config.XKOPConfig, port int) int {
	return port - cfg.BasePort
}

func portFree(host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return false
	}
	ln.Close()

	pc, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
