package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DatagramReceiver listens for XKOP frames on UDP and rebinds after any
// socket error.
type DatagramReceiver struct {
	endpoints *Endpoints
	handler   FrameHandler
	cfg       config.XKOPConfig
	logger    *zap.Logger
	stats     *Stats

	mu     sync.Mutex
	conn   net.PacketConn
	active *atomic.Bool
}

func NewDatagramReceiver(endpoints *Endpoints, handler FrameHandler, cfg config.XKOPConfig, logger *zap.Logger) *DatagramReceiver {
	return &DatagramReceiver{
		endpoints: endpoints,
		handler:   handler,
		cfg:       cfg,
		logger:    logger,
		stats:     newStats(),
		active:    atomic.NewBool(false),
	}
}

// Run blocks until ctx is done.
func (r *DatagramReceiver) Run(ctx context.Context) error {
	return Supervise(ctx, r.logger, "datagram receiver", RestartPolicy{Delay: r.cfg.RebindDelay}, r.serve)
}

func (r *DatagramReceiver) serve(ctx context.Context) error {
	addr := r.endpoints.Listen()
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		r.stats.Restarts.Inc()
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	r.setConn(conn)
	defer r.clearConn(conn)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	r.logger.Info("Listening UDP", zap.String("address", conn.LocalAddr().String()))

	buf := make([]byte, 2048)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(r.cfg.ReceiveTimeout)); err != nil {
			r.stats.Restarts.Inc()
			return fmt.Errorf("set deadline: %w", err)
		}
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			r.stats.Restarts.Inc()
			return fmt.Errorf("receive failed: %w", err)
		}
		if n != xkop.FrameSize {
			r.stats.Dropped.Inc()
			continue
		}

		records, err := xkop.Parse(buf[:n])
		if err != nil {
			r.stats.Dropped.Inc()
			if errors.Is(err, xkop.ErrCRCMismatch) {
				r.stats.CRCFailures.Inc()
			}
			r.logger.Warn("Dropped invalid frame",
				zap.String("from", from.String()),
				zap.Error(err))
			continue
		}

		r.stats.FramesIn.Inc()
		r.logger.Info("RX frame",
			zap.String("from", from.String()),
			zap.String("transport", "udp"),
			zap.Any("records", records))
		r.handler.HandleRecords(from.String(), records)
	}
}

func (r *DatagramReceiver) setConn(c net.PacketConn) {
	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()
	r.active.Store(true)
}

func (r *DatagramReceiver) clearConn(c net.PacketConn) {
	r.mu.Lock()
	if r.conn == c {
		r.conn = nil
	}
	r.mu.Unlock()
	r.active.Store(false)
	c.Close()
}

// Kick closes the current socket so the receiver rebinds with fresh
// endpoint parameters.
func (r *DatagramReceiver) Kick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
	}
}

// LocalAddr returns the bound address, or nil while unbound.
func (r *DatagramReceiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *DatagramReceiver) Active() bool { return r.active.Load() }

func (r *DatagramReceiver) Stats() StatsSnapshot { return r.stats.Snapshot() }
