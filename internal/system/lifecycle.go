package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/api/rest"
	"github.com/KevinKickass/xkop-gateway/internal/api/websocket"
	"github.com/KevinKickass/xkop-gateway/internal/auth"
	"github.com/KevinKickass/xkop-gateway/internal/bridge"
	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/interfaces"
	"github.com/KevinKickass/xkop-gateway/internal/logbuf"
	"github.com/KevinKickass/xkop-gateway/internal/rows"
	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/KevinKickass/xkop-gateway/internal/storage"
	"github.com/KevinKickass/xkop-gateway/internal/transport"
	"github.com/KevinKickass/xkop-gateway/internal/utmc"
	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that tracks the XKOP link.
const HealthService = "xkop.Gateway"

const healthInterval = time.Second

// LifecycleManager owns every long-lived part of the gateway and
// implements interfaces.Gateway for the control surface.
type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	buffers *logbuf.Set
	logger  *zap.Logger

	store     *state.Store
	bridge    *bridge.Bridge
	endpoints *transport.Endpoints
	receiver  *transport.DatagramReceiver
	stream    *transport.StreamClient
	sender    *transport.Sender
	poller    *transport.Poller

	wsHub       *websocket.Hub
	authService *auth.AuthService
	restServer  *rest.Server
	grpcServer  *grpc.Server
	grpcLis     net.Listener
	health      *health.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	gwMu    sync.Mutex
	current config.Gateway
	port    int

	cancel context.CancelFunc
	tasks  sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires the gateway. db may be nil when persistence
// is disabled.
func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, buffers *logbuf.Set, logger *zap.Logger) *LifecycleManager {
	lm := &LifecycleManager{
		config:       cfg,
		storage:      db,
		buffers:      buffers,
		logger:       logger,
		store:        state.NewStore(logger),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	protocol := logger.Named(logbuf.Protocol)
	lm.current = cfg.InitialGateway()
	lm.port = cfg.XKOP.Port(lm.current.XKOP)
	lm.endpoints = transport.NewEndpoints(cfg.XKOP.ListenHost, lm.port, lm.current.ControllerIP)

	// transports exist before the bridge they feed
	handler := transport.FrameHandlerFunc(func(source string, records []xkop.Record) {
		lm.bridge.HandleRecords(source, records)
	})
	if cfg.XKOP.StreamEnabled {
		lm.stream = transport.NewStreamClient(lm.endpoints, handler, cfg.XKOP, protocol)
	}
	if cfg.XKOP.DatagramEnabled {
		lm.receiver = transport.NewDatagramReceiver(lm.endpoints, handler, cfg.XKOP, protocol)
	}
	lm.sender = transport.NewSender(lm.endpoints, lm.stream, cfg.XKOP.DatagramEnabled, cfg.XKOP.ConnectTimeout, protocol)

	if cfg.XKOP.PollInterval > 0 {
		lm.poller = transport.NewPoller(lm.outputIndexes, lm.sender, cfg.XKOP.PollInterval, protocol)
	}

	lm.bridge = bridge.New(lm.store, lm.sender, bridge.Options{
		LenientPreIndex: cfg.UTMC.Lenient(),
		TestModeExpiry:  cfg.TestMode.Expiry,
	}, logger)
	if db != nil {
		lm.bridge.SetAuditSink(db)
	}

	lm.authService = auth.NewAuthService(cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, lm.authService)
	lm.store.OnChange(func(c state.Change) {
		lm.wsHub.Broadcast(websocket.NewPointUpdateMessage(c))
	})

	return lm
}

// Start loads the initial row table, starts the transports and both API
// servers.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting XKOP gateway")

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	if lm.storage != nil {
		if err := lm.storage.Migrate(ctx); err != nil {
			lm.setError(err)
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	initial, err := lm.initialRows(ctx)
	if err != nil {
		lm.setError(err)
		return err
	}

	gw := lm.config.InitialGateway()
	gw.Rows = initial
	if _, err := lm.apply(gw, false); err != nil {
		lm.setError(err)
		return fmt.Errorf("failed to apply initial configuration: %w", err)
	}

	lm.spawn(func() { lm.wsHub.Run(ctx) })
	if lm.receiver != nil {
		lm.spawn(func() { _ = lm.receiver.Run(ctx) })
	}
	if lm.stream != nil {
		lm.spawn(func() { _ = lm.stream.Run(ctx) })
	}

	if lm.poller != nil {
		if err := lm.poller.Start(); err != nil {
			lm.setError(err)
			return err
		}
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}
	lm.spawn(func() { lm.watchHealth(ctx) })

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)
	lm.broadcastStatus()

	listen, tx := lm.ListenAddrs()
	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Stringer("xkop_listen", listen),
		zap.Stringer("xkop_tx", tx),
		zap.Int("rows", lm.store.Len()))

	return nil
}

// initialRows reads the configured rows file, else the active stored table.
func (lm *LifecycleManager) initialRows(ctx context.Context) ([]state.RowConfig, error) {
	if path := lm.config.Rows.File; path != "" {
		loader, err := rows.NewLoader()
		if err != nil {
			return nil, err
		}
		configs, err := loader.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load rows from %s: %w", path, err)
		}
		lm.logger.Info("Loaded row table from file", zap.String("path", path), zap.Int("rows", len(configs)))
		return configs, nil
	}

	if lm.storage == nil {
		return nil, nil
	}
	table, err := lm.storage.LoadActiveRowTable(ctx)
	if errors.Is(err, storage.ErrNoActiveTable) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active row table: %w", err)
	}
	lm.logger.Info("Loaded active row table from database",
		zap.String("name", table.Name),
		zap.Int("rows", len(table.Rows)))
	return table.Rows, nil
}

// outputIndexes lists the distinct output indexes of the current rows.
func (lm *LifecycleManager) outputIndexes() []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range lm.store.Snapshot() {
		idx, ok := r.Index(utmc.Out)
		if !ok || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

func (lm *LifecycleManager) spawn(fn func()) {
	lm.tasks.Add(1)
	go func() {
		defer lm.tasks.Done()
		fn()
	}()
}

// Reconfigure selects the port, reseeds the rows, repoints the transports
// and persists the table when storage is enabled. On error the previous
// configuration stays in effect.
func (lm *LifecycleManager) Reconfigure(ctx context.Context, gw config.Gateway) (interfaces.ReconfigureResult, error) {
	lm.stateMu.Lock()
	prev := lm.currentState
	if err := ValidateTransition(prev, StateReconfiguring); err != nil {
		lm.stateMu.Unlock()
		return interfaces.ReconfigureResult{}, err
	}
	lm.currentState = StateReconfiguring
	lm.stateMu.Unlock()
	defer lm.setState(prev)

	gw = gw.Normalize()
	result, err := lm.apply(gw, true)
	if err != nil {
		return result, err
	}

	if lm.storage != nil {
		name := fmt.Sprintf("xkop%d", result.XKOP)
		if _, err := lm.storage.SaveRowTable(ctx, name, gw.Rows); err != nil {
			lm.logger.Error("Failed to persist row table", zap.String("name", name), zap.Error(err))
		}
	}

	lm.logger.Info("Gateway reconfigured",
		zap.Stringer("listen", result.Listen),
		zap.Stringer("tx", result.TX),
		zap.Int("xkop", result.XKOP),
		zap.Int("rows", result.Rows))
	return result, nil
}

func (lm *LifecycleManager) apply(gw config.Gateway, running bool) (interfaces.ReconfigureResult, error) {
	lm.gwMu.Lock()
	defer lm.gwMu.Unlock()

	owned := 0
	if running {
		owned = lm.port
	}
	port, err := SelectPort(lm.config.XKOP, lm.config.XKOP.ListenHost, gw.XKOP, owned)
	if err != nil {
		return interfaces.ReconfigureResult{}, err
	}
	gw.XKOP = InstanceFor(lm.config.XKOP, port)

	if err := lm.store.Seed(gw.Rows); err != nil {
		return interfaces.ReconfigureResult{}, err
	}

	lm.endpoints.Update(lm.config.XKOP.ListenHost, port, gw.ControllerIP)
	lm.port = port
	lm.current = gw

	if running {
		if lm.receiver != nil {
			lm.receiver.Kick()
		}
		if lm.stream != nil {
			lm.stream.Kick()
		}
	}

	return interfaces.ReconfigureResult{
		Listen: interfaces.Addr{Host: lm.config.XKOP.ListenHost, Port: port},
		TX:     interfaces.Addr{Host: gw.ControllerIP, Port: port},
		XKOP:   gw.XKOP,
		Rows:   lm.store.Len(),
	}, nil
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 2. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.health.Shutdown()
			lm.grpcServer.GracefulStop()
		}()
	}

	// 3. Poller, transports, hub and health watcher
	if lm.poller != nil {
		lm.poller.Stop()
	}
	if lm.cancel != nil {
		lm.cancel()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.tasks.Wait()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		return err
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcLis = lis

	lm.grpcServer = grpc.NewServer()
	lm.health = health.NewServer()
	lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// GRPCAddr is the bound gRPC address once Start succeeded.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	if lm.grpcLis == nil {
		return nil
	}
	return lm.grpcLis.Addr()
}

// watchHealth mirrors the XKOP link into the gRPC health service.
func (lm *LifecycleManager) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_NOT_SERVING
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if lm.linkUp() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			lm.health.SetServingStatus(HealthService, status)
			lm.logger.Info("XKOP link health changed", zap.Stringer("status", status))
			last = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// linkUp is true while the UDP listener is bound or the TCP stream is up.
func (lm *LifecycleManager) linkUp() bool {
	if lm.receiver != nil && lm.receiver.Active() {
		return true
	}
	return lm.stream != nil && lm.stream.State() == transport.StateConnected
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// RESTAddr is the bound HTTP address once Start succeeded.
func (lm *LifecycleManager) RESTAddr() net.Addr {
	if lm.restServer == nil {
		return nil
	}
	return lm.restServer.Addr()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if lm.currentState == state {
		return
	}
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
	lm.lastError = err.Error()
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeGatewayStatus, lm.GetCurrentStatus()))
}

// GetCurrentStatus returns current gateway status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.GatewayStatus {
	listen, tx := lm.ListenAddrs()

	lm.stateMu.RLock()
	st, lastError := lm.currentState, lm.lastError
	lm.stateMu.RUnlock()

	status := interfaces.GatewayStatus{
		State:     st.String(),
		Error:     lastError,
		Rows:      lm.store.Len(),
		TestMode:  lm.bridge.TestMode().Enabled,
		Listen:    listen,
		TX:        tx,
		Timestamp: time.Now().Unix(),
	}
	status.Transport.Sender = lm.sender.Stats()
	if lm.receiver != nil {
		status.ListenerActive = lm.receiver.Active()
		status.Transport.Datagram = lm.receiver.Stats()
	}
	if lm.stream != nil {
		status.StreamState = lm.stream.State()
		status.Transport.Stream = lm.stream.Stats()
	}
	return status
}

// ListenAddrs reports the local bind address and the controller target.
func (lm *LifecycleManager) ListenAddrs() (interfaces.Addr, interfaces.Addr) {
	lm.gwMu.Lock()
	defer lm.gwMu.Unlock()
	return interfaces.Addr{Host: lm.config.XKOP.ListenHost, Port: lm.port},
		interfaces.Addr{Host: lm.current.ControllerIP, Port: lm.port}
}

func (lm *LifecycleManager) CurrentGateway() config.Gateway {
	lm.gwMu.Lock()
	defer lm.gwMu.Unlock()
	gw := lm.current
	gw.Rows = lm.store.Configs()
	return gw
}

func (lm *LifecycleManager) Config() *config.Config           { return lm.config }
func (lm *LifecycleManager) Bridge() *bridge.Bridge           { return lm.bridge }
func (lm *LifecycleManager) Store() *state.Store              { return lm.store }
func (lm *LifecycleManager) LogBuffers() *logbuf.Set          { return lm.buffers }
func (lm *LifecycleManager) Storage() *storage.PostgresClient { return lm.storage }

var _ interfaces.Gateway = (*LifecycleManager)(nil)
