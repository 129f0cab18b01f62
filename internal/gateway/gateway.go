// ABOUTME: Gateway orchestrator wiring store, link, intake, dispatcher, sync, and supervisor
// ABOUTME: Owns startup seeding, the goroutine set, and graceful shutdown order

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/meshlink/meshmini/internal/bbs"
	"github.com/meshlink/meshmini/internal/config"
	"github.com/meshlink/meshmini/internal/dmqueue"
	"github.com/meshlink/meshmini/internal/intake"
	"github.com/meshlink/meshmini/internal/mesh"
	"github.com/meshlink/meshmini/internal/peersync"
	"github.com/meshlink/meshmini/internal/store"
	"github.com/meshlink/meshmini/internal/supervisor"
)

// Gateway runs the mesh board: one radio, one store, a handful of
// cooperating loops.
type Gateway struct {
	cfg    *config.Config
	store  store.Store
	link   mesh.Link
	bus    *mesh.PacketBus
	logger *slog.Logger

	intake     *intake.Intake
	dispatcher *bbs.Dispatcher
	sync       *peersync.Engine
	super      *supervisor.Supervisor

	httpServer *http.Server
}

// New opens the store and the serial radio and wires the components.
// A radio that cannot be opened on any candidate port is a startup
// failure; the caller exits non-zero.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	bus := mesh.NewPacketBus(logger)
	link, err := mesh.OpenSerial(cfg.Device, cfg.TxGap(), bus, logger)
	if err != nil {
		st.Close()
		bus.Close()
		return nil, fmt.Errorf("opening radio: %w", err)
	}

	return assemble(cfg, st, link, bus, logger), nil
}

// NewWithLink wires a gateway over an existing link and store. Used by
// tests and by transports other than the serial radio.
func NewWithLink(cfg *config.Config, st store.Store, link mesh.Link, bus *mesh.PacketBus, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return assemble(cfg, st, link, bus, logger)
}

func assemble(cfg *config.Config, st store.Store, link mesh.Link, bus *mesh.PacketBus, logger *slog.Logger) *Gateway {
	in := intake.New(link, bus, logger)
	dmq := dmqueue.New(st, link, cfg.DMTTL(), logger)
	eng := peersync.New(st, link, cfg.SyncInv, cfg.SyncChunk, cfg.Sync, logger)
	disp := bbs.New(cfg, st, link, dmq, eng, logger)
	disp.LastRX = in.LastRX

	var reconn supervisor.Reconnector
	if r, ok := link.(mesh.Reconnector); ok {
		reconn = r
	} else {
		reconn = noReconnect{}
	}

	return &Gateway{
		cfg:        cfg,
		store:      st,
		link:       link,
		bus:        bus,
		logger:     logger.With("component", "gateway"),
		intake:     in,
		dispatcher: disp,
		sync:       eng,
		super: supervisor.New(eng, in, reconn,
			cfg.SyncPeriod(), cfg.WatchTick(), cfg.RxStale(), logger),
	}
}

// noReconnect is used when the link cannot be re-established; the
// watchdog then only logs.
type noReconnect struct{}

func (noReconnect) Reconnect() error { return errors.New("link does not support reconnect") }

// seed applies the configured admin and peer lists, idempotently.
func (g *Gateway) seed(ctx context.Context) error {
	for _, raw := range g.cfg.Admins {
		id, ok := mesh.Canonical(raw)
		if !ok {
			g.logger.Warn("ignoring malformed admin id in config", "id", raw)
			continue
		}
		if err := g.store.AddAdmin(ctx, id); err != nil {
			return fmt.Errorf("seeding admin %s: %w", id, err)
		}
	}
	for _, raw := range g.cfg.Peers {
		id, ok := mesh.Canonical(raw)
		if !ok {
			g.logger.Warn("ignoring malformed peer id in config", "id", raw)
			continue
		}
		if err := g.store.AddPeer(ctx, id); err != nil {
			return fmt.Errorf("seeding peer %s: %w", id, err)
		}
	}

	admins, err := g.store.ListAdmins(ctx)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		g.logger.Warn("no admins configured: bootstrap mode treats every sender as admin until one is added")
	}
	return nil
}

// Run starts every loop and blocks until ctx is cancelled. In-flight
// handlers complete before shutdown; the link closes last.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.seed(ctx); err != nil {
		return fmt.Errorf("seeding config state: %w", err)
	}

	g.logger.Info("gateway running",
		"name", g.cfg.Name,
		"sync", g.cfg.Sync,
		"max_text", g.cfg.MaxText,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.intake.Run(runCtx)
	}()

	// Handlers get a context that survives cancellation so in-flight
	// work completes during shutdown; the loop ends when intake closes
	// the message channel.
	handleCtx := context.WithoutCancel(runCtx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range g.intake.Messages() {
			g.dispatcher.Handle(handleCtx, msg.FromID, msg.Text)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.super.RunSyncTicker(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.super.RunWatchdog(runCtx)
	}()

	if g.cfg.Health.Addr != "" {
		g.startHealthServer()
	}

	<-ctx.Done()
	g.logger.Info("shutting down")

	cancel()
	wg.Wait()

	return g.shutdown()
}

// shutdown releases resources. The link closes after everything that
// might still want to transmit has stopped.
func (g *Gateway) shutdown() error {
	var firstErr error

	if g.httpServer != nil {
		// The run context is already cancelled; use a fresh timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.httpServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}

	if g.bus != nil {
		g.bus.Close()
	}
	if err := g.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := g.link.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	g.logger.Info("gateway stopped")
	return firstErr
}

// startHealthServer exposes the health report on a local HTTP listener.
// Same text as the "health" command; "?full=1" adds the full counters.
func (g *Gateway) startHealthServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		full := r.URL.Query().Get("full") != ""
		lines := g.dispatcher.HealthLines(r.Context(), full)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, strings.Join(lines, "\n"))
	})

	g.httpServer = &http.Server{
		Addr:    g.cfg.Health.Addr,
		Handler: mux,
	}

	go func() {
		g.logger.Info("health endpoint listening", "addr", g.cfg.Health.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("health endpoint failed", "error", err)
		}
	}()
}
