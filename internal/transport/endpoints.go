package transport

import (
	"net"
	"strconv"
	"sync"

	"github.com/KevinKickass/xkop-gateway/internal/xkop"
)

// Endpoints holds the addresses the transports read on every (re)start.
type Endpoints struct {
	mu         sync.RWMutex
	listen     string
	controller string
}

func NewEndpoints(listenHost string, port int, controllerIP string) *Endpoints {
	e := &Endpoints{}
	e.Update(listenHost, port, controllerIP)
	return e
}

// Update replaces both addresses. An empty controllerIP leaves the
// controller address unset.
func (e *Endpoints) Update(listenHost string, port int, controllerIP string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listen = net.JoinHostPort(listenHost, strconv.Itoa(port))
	e.controller = ""
	if controllerIP != "" {
		e.controller = net.JoinHostPort(controllerIP, strconv.Itoa(port))
	}
}

func (e *Endpoints) Listen() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listen
}

func (e *Endpoints) Controller() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.controller
}

// FrameHandler consumes records decoded from a valid inbound frame.
type FrameHandler interface {
	HandleRecords(source string, records []xkop.Record)
}

type FrameHandlerFunc func(source string, records []xkop.Record)

func (f FrameHandlerFunc) HandleRecords(source string, records []xkop.Record) {
	f(source, records)
}
