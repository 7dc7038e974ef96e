package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Stream connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	eventDial        = "dial"
	eventEstablished = "established"
	eventDrop        = "drop"
)

var (
	ErrNotConnected = errors.New("transport: stream not connected")
	errNoController = errors.New("controller address not configured")
	errPeerClosed   = errors.New("peer closed connection")
)

var syncPrefix = []byte{xkop.SyncByte1, xkop.SyncByte2}

func newConnectionStateMachine(callbacks fsm.Callbacks) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventEstablished, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventDrop, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
		},
		callbacks,
	)
}

// StreamClient keeps a TCP connection to the controller, reconnecting with
// a fixed backoff, and reassembles 17-byte frames from the byte stream.
type StreamClient struct {
	endpoints *Endpoints
	handler   FrameHandler
	cfg       config.XKOPConfig
	logger    *zap.Logger
	stats     *Stats
	state     *fsm.FSM

	mu   sync.Mutex
	conn net.Conn
}

func NewStreamClient(endpoints *Endpoints, handler FrameHandler, cfg config.XKOPConfig, logger *zap.Logger) *StreamClient {
	c := &StreamClient{
		endpoints: endpoints,
		handler:   handler,
		cfg:       cfg,
		logger:    logger,
		stats:     newStats(),
	}
	c.state = newConnectionStateMachine(fsm.Callbacks{
		"enter_" + StateConnected:    c.onStateConnected,
		"enter_" + StateDisconnected: c.onStateDisconnected,
	})
	return c
}

func (c *StreamClient) onStateConnected(_ context.Context, _ *fsm.Event) {
	c.logger.Info("Stream connected", zap.String("controller", c.endpoints.Controller()))
}

func (c *StreamClient) onStateDisconnected(_ context.Context, e *fsm.Event) {
	c.logger.Info("Stream disconnected", zap.String("from_state", e.Src))
}

func (c *StreamClient) fire(ctx context.Context, event string) {
	// the machine outlives ctx; transitions must land even during shutdown
	if err := c.state.Event(context.WithoutCancel(ctx), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			c.logger.Debug("State transition refused", zap.String("event", event), zap.Error(err))
		}
	}
}

// Run blocks until ctx is done.
func (c *StreamClient) Run(ctx context.Context) error {
	return Supervise(ctx, c.logger, "stream client", RestartPolicy{Delay: c.cfg.ReconnectBackoff}, c.serve)
}

func (c *StreamClient) serve(ctx context.Context) error {
	addr := c.endpoints.Controller()
	if addr == "" {
		c.logger.Debug("Stream idle, no controller configured")
		return errNoController
	}

	c.fire(ctx, eventDial)
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.stats.Restarts.Inc()
		c.fire(ctx, eventDrop)
		return fmt.Errorf("connect %s failed: %w", addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.fire(ctx, eventEstablished)

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		c.fire(ctx, eventDrop)
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	pending := make([]byte, 0, 2*xkop.FrameSize)
	chunk := make([]byte, 512)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			pending = c.drain(append(pending, chunk[:n]...), addr)
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			c.stats.Restarts.Inc()
			if errors.Is(err, io.EOF) {
				return errPeerClosed
			}
			return fmt.Errorf("read failed: %w", err)
		}
	}
}

// drain dispatches every complete frame in buf and returns the remainder.
// A frame with bad sync bytes realigns the buffer to the next sync pair.
func (c *StreamClient) drain(buf []byte, source string) []byte {
	for len(buf) >= xkop.FrameSize {
		records, err := xkop.Parse(buf[:xkop.FrameSize])
		switch {
		case err == nil:
			c.stats.FramesIn.Inc()
			c.logger.Info("RX frame",
				zap.String("from", source),
				zap.String("transport", "tcp"),
				zap.Any("records", records))
			c.handler.HandleRecords(source, records)
			buf = buf[xkop.FrameSize:]
		case errors.Is(err, xkop.ErrSync):
			c.stats.Dropped.Inc()
			next := bytes.Index(buf[1:], syncPrefix)
			if next < 0 {
				// keep a trailing first sync byte, it may pair with the next read
				if buf[len(buf)-1] == xkop.SyncByte1 {
					buf = buf[len(buf)-1:]
				} else {
					buf = buf[:0]
				}
				continue
			}
			buf = buf[next+1:]
		default:
			c.stats.Dropped.Inc()
			if errors.Is(err, xkop.ErrCRCMismatch) {
				c.stats.CRCFailures.Inc()
			}
			c.logger.Warn("Dropped invalid frame", zap.String("from", source), zap.Error(err))
			buf = buf[xkop.FrameSize:]
		}
	}
	return append([]byte(nil), buf...)
}

// Send writes one frame on the current connection. A write failure closes
// the connection; the read loop then reconnects.
func (c *StreamClient) Send(f xkop.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	if _, err := c.conn.Write(f[:]); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("stream write failed: %w", err)
	}
	c.stats.FramesOut.Inc()
	return nil
}

// Kick drops the current connection so the client reconnects to the
// current controller address.
func (c *StreamClient) Kick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// State reports the connection state machine's current state.
func (c *StreamClient) State() string { return c.state.Current() }

func (c *StreamClient) Stats() StatsSnapshot { return c.stats.Snapshot() }
