package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/zap"
)

// Sender fans outbound frames out to the controller over UDP and over the
// stream connection when one is up.
type Sender struct {
	endpoints *Endpoints
	stream    *StreamClient
	datagram  bool
	timeout   time.Duration
	logger    *zap.Logger
	stats     *Stats
}

func NewSender(endpoints *Endpoints, stream *StreamClient, datagram bool, timeout time.Duration, logger *zap.Logger) *Sender {
	return &Sender{
		endpoints: endpoints,
		stream:    stream,
		datagram:  datagram,
		timeout:   timeout,
		logger:    logger,
		stats:     newStats(),
	}
}

// Send transmits frames in order. Failures on one transport do not stop
// the other; the joined error is informational.
func (s *Sender) Send(ctx context.Context, frames ...xkop.Frame) error {
	var errs []error
	target := s.endpoints.Controller()

	for _, f := range frames {
		if s.datagram {
			if target == "" {
				s.logger.Debug("UDP send skipped, no controller configured")
			} else if err := s.sendDatagram(ctx, target, f); err != nil {
				errs = append(errs, err)
				s.logger.Warn("UDP send failed", zap.String("target", target), zap.Error(err))
			} else {
				s.stats.FramesOut.Inc()
				s.logger.Info("TX frame", zap.String("target", target), zap.String("transport", "udp"), zap.Stringer("frame", f))
			}
		}

		if s.stream != nil {
			err := s.stream.Send(f)
			switch {
			case err == nil:
				s.logger.Info("TX frame", zap.String("target", target), zap.String("transport", "tcp"), zap.Stringer("frame", f))
			case errors.Is(err, ErrNotConnected):
				s.logger.Debug("TCP send skipped, not connected")
			default:
				errs = append(errs, err)
				s.logger.Warn("TCP send failed", zap.Error(err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Sender) sendDatagram(ctx context.Context, target string, f xkop.Frame) error {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "udp", target)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := conn.Write(f[:]); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

func (s *Sender) Stats() StatsSnapshot { return s.stats.Snapshot() }
