// Package baley is the public API for embedding the Baley execution
// governance server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := baley.New(
//	    baley.WithVersion(version),
//	    baley.WithLogger(logger),
//	    baley.WithRunner(myBackend),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: baley (root) imports
// internal/*, but internal/* never imports baley (root). Public types
// (RunRequest, Completion) are standalone structs with no internal imports;
// adapters live here because this is the only file that sees both sides of
// the boundary.
package baley

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/baleyhq/baley/internal/approval"
	"github.com/baleyhq/baley/internal/auth"
	"github.com/baleyhq/baley/internal/config"
	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/mcp"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/policy"
	"github.com/baleyhq/baley/internal/ratelimit"
	"github.com/baleyhq/baley/internal/runner"
	"github.com/baleyhq/baley/internal/server"
	"github.com/baleyhq/baley/internal/spawn"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/telemetry"
	"github.com/baleyhq/baley/internal/tools"
	"github.com/baleyhq/baley/internal/trigger"
	"github.com/baleyhq/baley/migrations"
)

// DefaultWorkspaceID is the bootstrap workspace used by the admin seed and
// the MCP endpoint when no override is configured.
var DefaultWorkspaceID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// App is the Baley server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg             config.Config
	db              *storage.DB
	srv             *server.Server
	broker          *server.Broker
	policies        *policy.Loader
	limiter         ratelimit.Limiter
	otelShutdown    func(context.Context) error
	completionHooks []CompletionHook
	logger          *slog.Logger
	version         string
}

// New initialises the Baley server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}
	workspaceID := o.workspaceID
	if workspaceID == uuid.Nil {
		workspaceID = DefaultWorkspaceID
	}

	logger.Info("baley starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Model backend — external override takes priority over auto-detect.
	var rn runner.Runner
	if o.runner != nil {
		rn = &runnerAdapter{r: o.runner}
		logger.Info("runner: external", "name", o.runner.Name())
	} else {
		rn = newRunner(cfg, logger)
	}

	// Core wiring. Two deliberate late bindings break what would otherwise be
	// import cycles: the registry's spawner (tools -> spawn) and the execution
	// service's completion sink (exec -> trigger).
	registry := tools.NewRegistry(db, rn, logger)
	execSvc := exec.New(db, registry, rn, cfg.ExecutionTimeout, logger)
	policies := policy.NewLoader(db, cfg.PolicyCacheTTL)
	spawner := spawn.NewExecutor(db, execSvc, policies, cfg.MaxSpawnDepth, logger)
	registry.BindSpawner(spawner)
	triggers := trigger.NewEngine(db, execSvc, logger)
	execSvc.SetCompletionSink(triggers)
	approvals := approval.NewEngine(db, int64(cfg.TrustThreshold), cfg.PatternExpiry, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(mcp.Config{
		DB:          db,
		ExecSvc:     execSvc,
		Spawner:     spawner,
		Approvals:   approvals,
		Registry:    registry,
		WorkspaceID: workspaceID,
		Version:     version,
		Logger:      logger,
	})

	// The SSE broker only works when a dedicated notify connection exists;
	// without one the stream endpoint reports unavailable.
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(logger)
	}

	srv := server.New(server.ServerConfig{
		DB:           db,
		JWTMgr:       jwtMgr,
		ExecSvc:      execSvc,
		Spawner:      spawner,
		Triggers:     triggers,
		Approvals:    approvals,
		Registry:     registry,
		Policies:     policies,
		Limiter:      limiter,
		MCPServer:    mcpSrv.MCPServer(),
		Broker:       broker,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
		MaxBodyBytes: cfg.MaxRequestBodyBytes,
	})

	if err := seedAdmin(context.Background(), db, workspaceID, cfg.AdminAPIKey, logger); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:             cfg,
		db:              db,
		srv:             srv,
		broker:          broker,
		policies:        policies,
		limiter:         limiter,
		otelShutdown:    otelShutdown,
		completionHooks: o.completionHooks,
		logger:          logger,
		version:         version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.sharedSweepLoop(ctx)
	go a.patternSweepLoop(ctx)
	if a.db.HasNotifyConn() {
		go a.completionListenLoop(ctx)
	} else if len(a.completionHooks) > 0 {
		a.logger.Warn("completion hooks registered but no notify connection — hooks will not fire")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the policy cache,
// rate limiter, OTEL providers, and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("baley shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	a.policies.Close()
	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("baley stopped")
	return nil
}

// ── Background loops ──────────────────────────────────────────────────────

func (a *App) sharedSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SharedSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := a.db.SweepExpiredShared(opCtx)
			cancel()
			if err != nil {
				a.logger.Warn("shared storage sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("shared storage sweep", "deleted", n)
			}
		}
	}
}

func (a *App) patternSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PatternSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := a.db.SweepExpiredPatterns(opCtx)
			cancel()
			if err != nil {
				a.logger.Warn("approval pattern sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("approval pattern sweep", "revoked", n)
			}
		}
	}
}

// completionListenLoop consumes LISTEN/NOTIFY completion events and fans them
// out to the SSE broker and to registered hooks. Trigger-chain firing does NOT
// go through this path; it is driven synchronously by the execution service.
func (a *App) completionListenLoop(ctx context.Context) {
	if err := a.db.Listen(ctx, storage.ChannelCompletions); err != nil {
		a.logger.Warn("completion listener failed to subscribe", "error", err)
		return
	}

	for {
		channel, payload, err := a.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("completion listener error", "error", err)
			return
		}
		if channel != storage.ChannelCompletions {
			continue
		}

		if a.broker != nil {
			a.broker.Publish(storage.ChannelCompletions, payload)
		}

		var ev model.CompletionEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			a.logger.Warn("completion payload unmarshal failed", "error", err)
			continue
		}

		if len(a.completionHooks) == 0 {
			continue
		}
		pub := a.toPublicCompletion(ctx, ev)
		hooks := a.completionHooks
		go func() {
			hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, h := range hooks {
				if err := h.OnExecutionCompleted(hookCtx, pub); err != nil {
					a.logger.Warn("completion hook failed", "error", err)
				}
			}
		}()
	}
}

// ── Adapters and converters ───────────────────────────────────────────────

// runnerAdapter wraps a public Runner to satisfy the internal runner.Runner.
type runnerAdapter struct {
	r Runner
}

func (a *runnerAdapter) Run(ctx context.Context, req runner.Request) (runner.Result, error) {
	toolNames := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		toolNames[i] = t.Name
	}
	out, err := a.r.Run(ctx, RunRequest{
		AgentName:  req.Agent.Name,
		Goal:       req.Agent.Goal,
		Model:      req.Agent.Model,
		Input:      req.Input,
		Tools:      toolNames,
		Invoke:     req.Invoke,
		SpawnDepth: req.SpawnDepth,
	})
	if err != nil {
		return runner.Result{}, err
	}
	return runner.Result{Output: out}, nil
}

func (a *runnerAdapter) Name() string { return a.r.Name() }

// toPublicCompletion converts an internal completion event to the public
// shape. The agent name is hydrated best-effort.
func (a *App) toPublicCompletion(ctx context.Context, ev model.CompletionEvent) Completion {
	pub := Completion{
		ExecutionID: ev.ExecutionID,
		AgentID:     ev.AgentID,
		WorkspaceID: ev.WorkspaceID,
		Status:      string(ev.Status),
		Output:      ev.Output,
		SpawnDepth:  ev.SpawnDepth,
		CompletedAt: time.Now().UTC(),
	}
	if agent, err := a.db.GetAgentByID(ctx, ev.WorkspaceID, ev.AgentID); err == nil {
		pub.AgentName = agent.Name
	}
	if rec, err := a.db.GetExecution(ctx, ev.WorkspaceID, ev.ExecutionID); err == nil {
		pub.Error = rec.Error
		if rec.CompletedAt != nil {
			pub.CompletedAt = *rec.CompletedAt
		}
	}
	return pub
}

// ── Helpers ───────────────────────────────────────────────────────────────

// newRunner selects the model backend based on configuration.
// Provider selection: "ollama", "noop", or "auto" (default). Auto mode uses
// Ollama when reachable, else noop — the governance paths (records, triggers,
// approvals) work fully without inference.
func newRunner(cfg config.Config, logger *slog.Logger) runner.Runner {
	switch cfg.RunnerProvider {
	case "ollama":
		logger.Info("runner: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return runner.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.ExecutionTimeout)
	case "noop":
		logger.Info("runner: noop (agents echo their input)")
		return runner.NewNoop()
	case "auto":
		fallthrough
	default:
		ol := runner.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.ExecutionTimeout)
		probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if ol.Healthy(probeCtx) == nil {
			logger.Info("runner: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
			return ol
		}
		logger.Warn("no model backend reachable, using noop runner")
		return runner.NewNoop()
	}
}

// seedAdmin ensures an admin API key exists for the bootstrap workspace.
// No-op when BALEY_ADMIN_API_KEY is unset or the key id already exists.
func seedAdmin(ctx context.Context, db *storage.DB, workspaceID uuid.UUID, adminKey string, logger *slog.Logger) error {
	if adminKey == "" {
		logger.Warn("BALEY_ADMIN_API_KEY not set — no admin credential seeded")
		return nil
	}
	const adminKeyID = "admin"
	if _, err := db.GetActiveAPIKey(ctx, adminKeyID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hash, err := auth.HashAPIKey(adminKey)
	if err != nil {
		return err
	}
	_, err = db.CreateAPIKey(ctx, model.APIKey{
		KeyID:       adminKeyID,
		KeyHash:     hash,
		WorkspaceID: workspaceID,
		Role:        model.RoleAdmin,
		Label:       "bootstrap admin",
	})
	if err != nil {
		return err
	}
	logger.Info("seeded admin api key", "key_id", adminKeyID, "workspace_id", workspaceID)
	return nil
}
