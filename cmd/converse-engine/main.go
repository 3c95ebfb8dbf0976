package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/converse/internal/agentfamily"
	"github.com/kandev/converse/internal/agentmanager"
	"github.com/kandev/converse/internal/collector"
	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/config"
	"github.com/kandev/converse/internal/coordinator"
	ctxmgr "github.com/kandev/converse/internal/context"
	"github.com/kandev/converse/internal/credentials"
	"github.com/kandev/converse/internal/events/bus"
	"github.com/kandev/converse/internal/execenv"
	"github.com/kandev/converse/internal/httpapi"
	"github.com/kandev/converse/internal/model"
	"github.com/kandev/converse/internal/routing"
	"github.com/kandev/converse/internal/sandbox"
	"github.com/kandev/converse/internal/snapshot"
	"github.com/kandev/converse/internal/snapshot/postgres"
	"github.com/kandev/converse/internal/teamconfig"
	"github.com/kandev/converse/internal/wsstream"
)

func main() {
	configPath := flag.String("config", "", "path to converse.yaml (optional; defaults and env vars apply otherwise)")
	teamPath := flag.String("team", "", "path to the team roster YAML file (required)")
	resumeSessionID := flag.String("resume", "", "session id to resume from session storage")
	flag.Parse()

	// 1. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting conversation engine")

	if *teamPath == "" {
		log.Fatal("-team is required")
	}
	team, err := teamconfig.Load(*teamPath)
	if err != nil {
		log.Fatal("failed to load team", zap.Error(err))
	}
	log.Info("loaded team", zap.String("team_id", team.ID), zap.Int("members", len(team.Members)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: in-process by default, NATS when configured for a
	// multi-process deployment.
	var eventBus bus.EventBus
	if cfg.NATS.Enabled {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to nats event bus", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("connected to nats event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("using in-process event bus")
	}
	defer eventBus.Close()

	// 4. Execution environment: a bare OS subprocess by default, or a
	// Docker-backed sandbox when configured. A sandboxed Member still routes
	// through the same agentmanager.Manager; the choice only changes how
	// Send's subprocess actually gets spawned.
	var env execenv.ExecutionEnvironment
	if cfg.Sandbox.Enabled {
		sandboxEnv, err := sandbox.New(ctx, cfg.Sandbox, log)
		if err != nil {
			log.Fatal("failed to initialize sandbox execution environment", zap.Error(err))
		}
		defer sandboxEnv.Close()
		env = sandboxEnv
		log.Info("using docker sandbox execution environment")
	} else {
		env = execenv.NewOSProcessEnv(log)
		log.Info("using os subprocess execution environment")
	}

	// 5. Core collaborators.
	factory := agentfamily.NewFactory()
	coll := collector.New()

	credsMgr := credentials.NewManager(log)
	credsMgr.AddProvider(credentials.NewEnvProvider("CONVERSE_"))

	agents := agentmanager.New(env, factory, eventBus, coll, credsMgr, log)
	agents.StartCleanupLoop(ctx)
	defer agents.StopCleanupLoop()

	queue := routing.New(routing.Config{
		MaxQueueSize:  cfg.Routing.MaxQueueSize,
		MaxBranchSize: cfg.Routing.MaxBranchSize,
		MaxLocalSeq:   cfg.Routing.MaxLocalSeq,
	}, log)

	ctxMgr := ctxmgr.NewManager(cfg.Context.WindowSize, cfg.Context.TeamTaskMaxRune)

	// 6. Session storage: in-memory by default, Postgres when configured.
	var storage coordinator.SessionStorage
	switch cfg.Persistence.Backend {
	case "postgres":
		pgStore, err := postgres.New(ctx, cfg.Persistence.PostgresDSN, 10, 1)
		if err != nil {
			log.Fatal("failed to connect to postgres session storage", zap.Error(err))
		}
		defer pgStore.Close()
		storage = pgStore
		log.Info("using postgres session storage")
	default:
		storage = snapshot.NewMemoryStore()
		log.Info("using in-memory session storage")
	}

	turnTimeout := cfg.Routing.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = 5 * time.Minute
	}
	if cfg.Routing.MaxTurnTimeout > 0 && turnTimeout > cfg.Routing.MaxTurnTimeout {
		turnTimeout = cfg.Routing.MaxTurnTimeout
	}

	coord := coordinator.New(queue, ctxMgr, agents, eventBus, storage, turnTimeout, log)

	for _, member := range team.Members {
		if member.Role == model.RoleAI {
			if err := agents.EnsureStarted(member); err != nil {
				log.Fatal("failed to prepare agent adapter", zap.String("member_id", member.ID), zap.Error(err))
			}
		}
	}

	if err := coord.SetTeam(ctx, team, *resumeSessionID); err != nil {
		log.Fatal("failed to start conversation session", zap.Error(err))
	}

	// 7. WebSocket hub: self-subscribes to every event on construction, so
	// it needs to exist before any agent turn can run.
	hub, err := wsstream.NewHub(eventBus, log)
	if err != nil {
		log.Fatal("failed to initialize websocket hub", zap.Error(err))
	}
	go hub.Run(ctx)

	// 8. HTTP/WS server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpapi.Recovery(log), httpapi.RequestLogger(log), httpapi.CORS(), httpapi.RateLimit(50), httpapi.ErrorHandler(log))

	v1 := router.Group("/api/v1")
	httpapi.SetupRoutes(v1, coord, log)
	wsstream.SetupRoutes(v1, wsstream.NewHandler(hub, log))

	statusHandler := httpapi.NewHandler(coord, log)
	router.GET("/health", statusHandler.HealthCheck)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down conversation engine")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	coord.Stop(shutdownCtx)

	log.Info("conversation engine stopped")
}
