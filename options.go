package baley

import (
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	notifyURL       string
	logger          *slog.Logger
	version         string
	runner          Runner
	completionHooks []CompletionHook
	workspaceID     uuid.UUID
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (BALEY_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries — LISTEN/NOTIFY
// requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithRunner replaces the auto-detected model backend (Ollama/noop).
func WithRunner(r Runner) Option {
	return func(o *resolvedOptions) { o.runner = r }
}

// WithCompletionHook registers a hook for terminal execution events.
// Multiple hooks may be registered; all registered hooks receive every event.
func WithCompletionHook(hook CompletionHook) Option {
	return func(o *resolvedOptions) { o.completionHooks = append(o.completionHooks, hook) }
}

// WithWorkspaceID overrides the workspace the MCP endpoint and admin seed
// bind to. Defaults to the fixed bootstrap workspace.
func WithWorkspaceID(id uuid.UUID) Option {
	return func(o *resolvedOptions) { o.workspaceID = id }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run after
// the embedded migrations. Multiple filesystems may be registered; they are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
