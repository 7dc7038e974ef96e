// Package simulator emulates the TCP side of an XKOP traffic controller
// for bench tests without hardware.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrNoClient = errors.New("simulator: no client connected")

const readTimeout = time.Second

// Controller serves one client at a time and keeps a 256-entry index memory.
// A DATA frame with any non-zero value is a write: the values are stored
// and the frame is echoed back. A DATA frame whose values are all zero is
// a read: the stored values of those indexes are returned. ALIVE frames
// are ignored.
type Controller struct {
	addr   string
	logger *zap.Logger

	memMu  sync.RWMutex
	memory [256]uint16

	connMu sync.Mutex
	conn   net.Conn
	lis    net.Listener

	framesIn  *atomic.Uint64
	framesOut *atomic.Uint64
	dropped   *atomic.Uint64
}

func New(addr string, logger *zap.Logger) *Controller {
	return &Controller{
		addr:      addr,
		logger:    logger,
		framesIn:  atomic.NewUint64(0),
		framesOut: atomic.NewUint64(0),
		dropped:   atomic.NewUint64(0),
	}
}

// Listen binds the TCP port. Serve must follow.
func (c *Controller) Listen() error {
	lis, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.addr, err)
	}
	c.lis = lis
	c.logger.Info("Controller simulator listening", zap.String("address", lis.Addr().String()))
	return nil
}

// Addr is the bound address after Listen.
func (c *Controller) Addr() net.Addr {
	if c.lis == nil {
		return nil
	}
	return c.lis.Addr()
}

// Run listens and serves until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Listen(); err != nil {
		return err
	}
	return c.Serve(ctx)
}

// Serve accepts clients one after another until ctx is done.
func (c *Controller) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.lis.Close()
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	defer stop()

	for {
		conn, err := c.lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		c.handle(ctx, conn)
	}
}

func (c *Controller) handle(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	c.logger.Info("Client connected", zap.String("peer", peer))

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
		c.logger.Info("Client disconnected", zap.String("peer", peer))
	}()

	buf := make([]byte, xkop.FrameSize)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, err := io.ReadFull(conn, buf); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.logger.Warn("Receive failed", zap.String("peer", peer), zap.Error(err))
			}
			return
		}

		c.framesIn.Inc()
		reply, err := c.respond(buf)
		if err != nil {
			c.dropped.Inc()
			c.logger.Warn("Dropped invalid frame", zap.Binary("frame", buf), zap.Error(err))
			continue
		}
		if reply == nil {
			continue
		}
		if err := c.write(conn, *reply); err != nil {
			c.logger.Warn("Reply failed", zap.String("peer", peer), zap.Error(err))
			return
		}
	}
}

// respond computes the reply for one frame; nil means no reply.
func (c *Controller) respond(b []byte) (*xkop.Frame, error) {
	records, err := xkop.Parse(b)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	write := false
	for _, r := range records {
		if r.Value != 0 {
			write = true
			break
		}
	}

	if write {
		c.memMu.Lock()
		for _, r := range records {
			c.memory[r.Index] = r.Value
		}
		c.memMu.Unlock()
		c.logger.Info("WRITE", zap.Any("records", records))
		ack := xkop.Build(records)
		return &ack, nil
	}

	c.memMu.RLock()
	reply := make([]xkop.Record, len(records))
	for i, r := range records {
		reply[i] = xkop.Record{Index: r.Index, Value: c.memory[r.Index]}
	}
	c.memMu.RUnlock()
	c.logger.Info("READ", zap.Any("records", reply))
	f := xkop.Build(reply)
	return &f, nil
}

func (c *Controller) write(conn net.Conn, f xkop.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if _, err := conn.Write(f[:]); err != nil {
		return err
	}
	c.framesOut.Inc()
	return nil
}

// Push sends records to the connected client unsolicited, four per frame.
func (c *Controller) Push(records ...xkop.Record) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNoClient
	}
	for _, f := range xkop.Batch(records) {
		if err := c.write(c.conn, f); err != nil {
			c.conn.Close()
			return fmt.Errorf("push: %w", err)
		}
		c.logger.Info("PUSH", zap.Stringer("frame", f))
	}
	return nil
}

// Set stores value at idx without telling the client.
func (c *Controller) Set(idx uint8, value uint16) {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	c.memory[idx] = value
}

func (c *Controller) Value(idx uint8) uint16 {
	c.memMu.RLock()
	defer c.memMu.RUnlock()
	return c.memory[idx]
}

// Values returns the non-zero memory entries.
func (c *Controller) Values() map[uint8]uint16 {
	c.memMu.RLock()
	defer c.memMu.RUnlock()
	out := make(map[uint8]uint16)
	for i, v := range c.memory {
		if v != 0 {
			out[uint8(i)] = v
		}
	}
	return out
}

// Connected reports whether a client is attached.
func (c *Controller) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

type Stats struct {
	FramesIn  uint64 `json:"frames_in"`
	FramesOut uint64 `json:"frames_out"`
	Dropped   uint64 `json:"dropped"`
}

func (c *Controller) Stats() Stats {
	return Stats{
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		Dropped:   c.dropped.Load(),
	}
}
