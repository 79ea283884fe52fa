// Package main provides the valence server binary: it hosts world instances,
// runs gameplay scripts every tick and streams equipment changes to websocket
// observers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mymatsubara/valence/internal/config"
	"github.com/mymatsubara/valence/internal/frontend/ws"
	"github.com/mymatsubara/valence/internal/game/inventory"
	"github.com/mymatsubara/valence/internal/game/session"
	"github.com/mymatsubara/valence/internal/game/world"
	"github.com/mymatsubara/valence/internal/gameserver"
	"github.com/mymatsubara/valence/internal/observability"
	"github.com/mymatsubara/valence/internal/scripting"
	"github.com/mymatsubara/valence/internal/server"
)

// healthService is the gRPC health service name reported by the server.
const healthService = "valence.Equipment"

// app holds the wired server components.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	catalog     *inventory.Catalog
	world       *world.Manager
	sessions    *session.Manager
	broadcaster *gameserver.EquipmentBroadcaster
	scripts     *scripting.Manager
	ticks       *gameserver.TickLoop
	handler     *ws.Handler
}

// newApp loads content and scripts from cfg and wires every component.
//
// Postcondition: Returns a ready app or the first error encountered.
func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	catalog, err := inventory.LoadCatalog(cfg.Content.ItemsFile)
	if err != nil {
		return nil, fmt.Errorf("loading item catalog: %w", err)
	}
	defs, err := world.LoadInstancesFromFile(cfg.Content.InstancesFile)
	if err != nil {
		return nil, fmt.Errorf("loading instances: %w", err)
	}
	worldMgr, err := world.NewManager(nil)
	if err != nil {
		return nil, fmt.Errorf("creating world manager: %w", err)
	}
	for _, def := range defs {
		spawned, err := worldMgr.Populate(def, catalog)
		if err != nil {
			return nil, fmt.Errorf("populating instance %q: %w", def.Instance.Name, err)
		}
		logger.Info("instance loaded",
			zap.String("instance", def.Instance.Name),
			zap.String("id", def.Instance.ID.String()),
			zap.Int("entities", len(spawned)),
		)
	}

	sessions := session.NewManager(cfg.Sync.OutboxSize)
	broadcaster := gameserver.NewEquipmentBroadcaster(worldMgr, sessions, observability.Component(logger, "broadcast"))

	scripts := scripting.NewManager(observability.Component(logger, "scripting"))
	gameserver.BindScripting(scripts, worldMgr, catalog, broadcaster)
	if cfg.Content.ScriptDir != "" {
		for _, def := range defs {
			dir := filepath.Join(cfg.Content.ScriptDir, def.Instance.Name)
			if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err := scripts.LoadInstance(def.Instance.Name, dir, 0); err != nil {
				scripts.Close()
				return nil, err
			}
			logger.Info("scripts loaded", zap.String("instance", def.Instance.Name), zap.String("dir", dir))
		}
	}

	ticks := gameserver.NewTickLoop(cfg.Sync.TickInterval, observability.Component(logger, "tick"))
	if err := ticks.AddPhase("scripts", scripts.OnTick); err != nil {
		return nil, err
	}
	if err := ticks.AddPhase("equipment_broadcast", func(uint64) { broadcaster.Run() }); err != nil {
		return nil, err
	}

	handler := ws.NewHandler(worldMgr, sessions, broadcaster, ws.HandlerConfig{
		ViewDistance: cfg.Sync.ViewDistance,
		ReadTimeout:  cfg.Transport.ReadTimeout,
		WriteTimeout: cfg.Transport.WriteTimeout,
	}, observability.Component(logger, "ws"))

	return &app{
		cfg:         cfg,
		logger:      logger,
		catalog:     catalog,
		world:       worldMgr,
		sessions:    sessions,
		broadcaster: broadcaster,
		scripts:     scripts,
		ticks:       ticks,
		handler:     handler,
	}, nil
}

// lifecycle registers the websocket, health and tick services.
func (a *app) lifecycle() *server.Lifecycle {
	lc := server.NewLifecycle(a.logger)

	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	lc.Add("health", &server.FuncService{
		StartFn: func(context.Context) error {
			lis, err := net.Listen("tcp", a.cfg.Health.Addr())
			if err != nil {
				return fmt.Errorf("listening on %s: %w", a.cfg.Health.Addr(), err)
			}
			a.logger.Info("health server listening", zap.String("addr", lis.Addr().String()))
			healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
			return grpcServer.Serve(lis)
		},
		StopFn: func(context.Context) {
			healthSrv.Shutdown()
			grpcServer.GracefulStop()
		},
	})

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Transport.Path, a.handler)
	httpServer := &http.Server{
		Addr:              a.cfg.Transport.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Add("websocket", &server.FuncService{
		StartFn: func(context.Context) error {
			a.logger.Info("websocket server listening",
				zap.String("addr", httpServer.Addr),
				zap.String("path", a.cfg.Transport.Path),
			)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func(ctx context.Context) {
			if err := httpServer.Shutdown(ctx); err != nil {
				a.logger.Warn("websocket server shutdown", zap.Error(err))
			}
			a.handler.CloseAll()
		},
	})

	lc.Add("ticks", &server.FuncService{StartFn: a.ticks.Run})
	return lc
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("initializing server", zap.Error(err))
	}
	defer a.scripts.Close()

	logger.Info("valence server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Int("instances", a.world.InstanceCount()),
		zap.Int("entities", a.world.EntityCount()),
		zap.Int("item_kinds", a.catalog.Len()),
		zap.Duration("tick_interval", cfg.Sync.TickInterval),
	)

	if err := a.lifecycle().Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
