// Command orcad is the unified entry point for the orchestration core: one
// binary runs the Orchestrator, its durable stores, and the websocket
// gateway that fronts them, all communication happening over that one
// transport.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/orcad/internal/agentrunner"
	"github.com/kandev/orcad/internal/catalog"
	"github.com/kandev/orcad/internal/common/config"
	"github.com/kandev/orcad/internal/common/httpmw"
	"github.com/kandev/orcad/internal/common/logger"
	"github.com/kandev/orcad/internal/contextasm"
	"github.com/kandev/orcad/internal/eventbus"
	"github.com/kandev/orcad/internal/gateway"
	"github.com/kandev/orcad/internal/memory"
	"github.com/kandev/orcad/internal/orchestrator"
	"github.com/kandev/orcad/internal/persistence"
	"github.com/kandev/orcad/internal/toolregistry"
	"github.com/kandev/orcad/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting orcad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, closePool, err := persistence.ProvidePool(cfg, log)
	if err != nil {
		log.Fatal("failed to open database pool", zap.Error(err))
	}
	defer closePool()

	store := persistence.NewProvider(pool)
	checkpoints, err := store.Checkpoints()
	if err != nil {
		log.Fatal("failed to initialize checkpoint store", zap.Error(err))
	}
	runtimeMem, err := store.RuntimeMemory()
	if err != nil {
		log.Fatal("failed to initialize runtime memory store", zap.Error(err))
	}

	provided, closeBus, err := eventbus.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		log.Fatal("failed to load catalogs", zap.Error(err))
	}
	log.Info("catalogs loaded",
		zap.Int("tools", len(cat.Tools)),
		zap.Int("agents", len(cat.Agents)),
		zap.Int("permission_policies", len(cat.Permissions)))

	// ============================================
	// TOOL REGISTRY
	// ============================================
	registry := toolregistry.NewRegistry()
	invokers := map[string]toolregistry.Invoker{}

	var dockerTool *toolregistry.DockerExecTool
	if cfg.Docker.Enabled {
		dockerTool, err = toolregistry.NewDockerExecTool(cfg.Docker, log)
		if err != nil {
			log.Warn("docker exec tool unavailable, sandboxed tools will fail to register", zap.Error(err))
		} else {
			defer dockerTool.Close()
			invokers["docker_exec"] = dockerTool.AsInvoker("docker_exec")
			log.Info("docker exec tool initialized")
		}
	}

	if err := cat.RegisterTools(registry, invokers); err != nil {
		log.Fatal("failed to register catalog tools", zap.Error(err))
	}

	if mcpCmd := os.Getenv("ORCAD_MCP_COMMAND"); mcpCmd != "" {
		parts := strings.Fields(mcpCmd)
		mcpSource := toolregistry.NewMCPSource(parts[0], parts[1:], nil)
		registry.AddSource(mcpSource)
		log.Info("mcp tool source attached", zap.String("command", mcpCmd))
	}

	// ============================================
	// MEMORY STORE
	// ============================================
	cache := memory.NewCache(cfg.Memory.CacheTTL(), cfg.Memory.JanitorInterval())
	vectorStore := memory.NewVectorStore()
	memStore := memory.NewStore(cache, runtimeMem, vectorStore, catalog.RankWeights(cfg.Memory))

	// ============================================
	// CONTEXT ASSEMBLER
	// ============================================
	assembler := contextasm.NewAssembler(memStore, registry, contextasm.WordHeuristicCounter{}, cat.Agents)

	// ============================================
	// AGENT RUNNER
	// ============================================
	backends := agentrunner.NewBackendRegistry()
	if acpCmd := os.Getenv("ORCAD_ACP_COMMAND"); acpCmd != "" {
		parts := strings.Fields(acpCmd)
		backends.Register("acp", agentrunner.NewACPBackend(parts[0], parts[1:], log))
		log.Info("acp backend registered", zap.String("command", acpCmd))
	}
	backends.Register("copilot", agentrunner.NewCopilotBackend(os.Getenv("ORCAD_COPILOT_CLI_URL"), log))
	runner := agentrunner.NewRunner(backends)

	// ============================================
	// ORCHESTRATOR
	// ============================================
	orch := orchestrator.New(orchestrator.Deps{
		Checkpoints:    checkpoints,
		Events:         provided.Bus,
		Assembler:      assembler,
		Runner:         runner,
		Tools:          registry,
		Agents:         cat.Agents,
		Logger:         log,
		RecoveryPolicy: cat.Recovery,
	})

	// ============================================
	// WEBSOCKET GATEWAY
	// ============================================
	if strings.ToLower(cfg.Logging.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.OtelTracing("orcad"))
	router.Use(httpmw.RequestLogger(log, "orcad"))

	gatewayHandler := gateway.NewHandler(orch, provided.Bus, log)
	gateway.RegisterRoutes(router, gatewayHandler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orcad"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("gateway listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orcad")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("orcad stopped")
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
