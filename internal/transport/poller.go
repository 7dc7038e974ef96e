package transport

import (
	"context"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/zap"
)

// FrameSender is what the poller transmits through.
type FrameSender interface {
	Send(ctx context.Context, frames ...xkop.Frame) error
}

// Poller periodically asks the controller for the current value of every
// output index by sending read requests (records with value 0). Replies
// arrive through the normal receive path.
type Poller struct {
	indexes  func() []int
	sender   FrameSender
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewPoller(indexes func() []int, sender FrameSender, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		indexes:  indexes,
		sender:   sender,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins polling every interval. Calling it twice is a no-op.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.wg.Add(1)

	go p.pollLoop()

	p.logger.Info("Poller started", zap.Duration("interval", p.interval))

	return nil
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.logger.Info("Poller stopped")
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	indexes := p.indexes()
	if len(indexes) == 0 {
		return
	}

	records := make([]xkop.Record, len(indexes))
	for i, idx := range indexes {
		records[i] = xkop.NewRecord(idx, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.interval/2)
	defer cancel()

	if err := p.sender.Send(ctx, xkop.Batch(records)...); err != nil {
		p.logger.Warn("Poll failed", zap.Int("indexes", len(indexes)), zap.Error(err))
	}
}

// IsRunning reports whether the poll loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
