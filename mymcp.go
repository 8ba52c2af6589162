package mymcp

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickchristie/mysql-mcp/internal/errprompt"
	"github.com/rickchristie/mysql-mcp/internal/hooks"
	"github.com/rickchristie/mysql-mcp/internal/sanitize"
	"github.com/rickchristie/mysql-mcp/internal/timeout"
)

// MySQLMcp is the core engine that executes read-only queries and answers
// catalog lookups for the MCP resource and tool handlers. All exported
// methods are safe for concurrent use from multiple goroutines.
type MySQLMcp struct {
	config        Config
	conn          ConnConfig
	db            *sql.DB
	semaphore     chan struct{}
	cmdHooks      *hooks.Runner          // command-based hooks (CLI mode)
	goBeforeHooks []BeforeQueryHookEntry // Go function hooks (library mode)
	goAfterHooks  []AfterQueryHookEntry  // Go function hooks (library mode)
	sanitizer     *sanitize.Sanitizer
	errPrompts    *errprompt.Matcher
	timeoutMgr    *timeout.Manager
	logger        zerolog.Logger
	closeOnce     sync.Once
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	serverHooks *ServerHooksConfig
}

// WithServerHooks passes command-based hook configuration to MySQLMcp.
// Mutually exclusive with Config.BeforeQueryHooks/AfterQueryHooks (Go hooks).
func WithServerHooks(h ServerHooksConfig) Option {
	return func(o *options) {
		o.serverHooks = &h
	}
}

// New creates a new MySQLMcp instance. The connection config is validated
// before any pool is opened, and no connection is dialed here; call Ping to
// verify reachability. Panics on invalid Config (programmer error). Returns
// an error for invalid connection parameters or pool setup failures.
func New(ctx context.Context, conn ConnConfig, config Config, logger zerolog.Logger, opts ...Option) (*MySQLMcp, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Connection validation (before any connection attempt) ---

	if err := conn.validate(); err != nil {
		return nil, err
	}

	// --- Config validation (panics on invalid config) ---

	if config.Query.DefaultTimeoutSeconds < 0 {
		panic("mymcp: query.default_timeout_seconds must be >= 0")
	}
	if config.Query.CatalogTimeoutSeconds < 0 {
		panic("mymcp: query.catalog_timeout_seconds must be >= 0")
	}

	// Apply defaults for zero values
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("mymcp: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("mymcp: query.max_result_length must be > 0")
	}

	// Validate hook configuration: Go hooks and command hooks are mutually exclusive
	hasGoHooks := len(config.BeforeQueryHooks) > 0 || len(config.AfterQueryHooks) > 0
	hasCmdHooks := o.serverHooks != nil && (len(o.serverHooks.BeforeQuery) > 0 || len(o.serverHooks.AfterQuery) > 0)
	if hasGoHooks && hasCmdHooks {
		panic("mymcp: Go hooks (Config.BeforeQueryHooks/AfterQueryHooks) and command hooks (WithServerHooks) are mutually exclusive")
	}

	// Validate DefaultHookTimeoutSeconds if any hooks are configured
	if hasGoHooks && config.DefaultHookTimeoutSeconds <= 0 {
		panic("mymcp: default_hook_timeout_seconds must be > 0 when Go hooks are configured")
	}

	// Validate per-hook timeouts for Go hooks
	for _, entry := range config.BeforeQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("mymcp: before_query hook %q has negative timeout", entry.Name))
		}
	}
	for _, entry := range config.AfterQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("mymcp: after_query hook %q has negative timeout", entry.Name))
		}
	}

	// Validate timeout rules
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("mymcp: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Open pool ---

	// sql.Open validates the DSN but does not dial.
	db, err := sql.Open("mysql", conn.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool: %w", err)
	}

	db.SetMaxOpenConns(conn.PoolLimit)
	if config.Pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.Pool.MaxIdleConns)
	}
	if config.Pool.ConnMaxLifetime != "" {
		d, err := time.ParseDuration(config.Pool.ConnMaxLifetime)
		if err != nil {
			panic(fmt.Sprintf("mymcp: invalid pool.conn_max_lifetime %q: %v", config.Pool.ConnMaxLifetime, err))
		}
		db.SetConnMaxLifetime(d)
	}
	if config.Pool.ConnMaxIdleTime != "" {
		d, err := time.ParseDuration(config.Pool.ConnMaxIdleTime)
		if err != nil {
			panic(fmt.Sprintf("mymcp: invalid pool.conn_max_idle_time %q: %v", config.Pool.ConnMaxIdleTime, err))
		}
		db.SetConnMaxIdleTime(d)
	}

	// --- Initialize internal components ---

	san := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	matcher := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})

	// Initialize command hooks if configured
	var cmdHooks *hooks.Runner
	if hasCmdHooks {
		hookEntries := func(entries []HookEntry) []hooks.HookEntry {
			result := make([]hooks.HookEntry, len(entries))
			for i, e := range entries {
				result[i] = hooks.HookEntry{
					Pattern: e.Pattern,
					Command: e.Command,
					Args:    e.Args,
					Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
				}
			}
			return result
		}
		cmdHooks = hooks.NewRunner(hooks.Config{
			DefaultTimeout: time.Duration(config.DefaultHookTimeoutSeconds) * time.Second,
			BeforeQuery:    hookEntries(o.serverHooks.BeforeQuery),
			AfterQuery:     hookEntries(o.serverHooks.AfterQuery),
		}, logger)
	}

	return &MySQLMcp{
		config:        config,
		conn:          conn,
		db:            db,
		semaphore:     make(chan struct{}, conn.PoolLimit),
		cmdHooks:      cmdHooks,
		goBeforeHooks: config.BeforeQueryHooks,
		goAfterHooks:  config.AfterQueryHooks,
		sanitizer:     san,
		errPrompts:    matcher,
		timeoutMgr:    tmgr,
		logger:        logger,
	}, nil
}

// Ping verifies the database is reachable. Called once at server startup so
// a bad address or credentials surface immediately instead of on the first
// tool call.
func (m *MySQLMcp) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return nil
}

// Close closes the connection pool. Safe to call from multiple shutdown
// paths; only the first call closes. Accepts context for API
// forward-compatibility, but database/sql close does not support
// context-based shutdown.
func (m *MySQLMcp) Close(ctx context.Context) {
	m.closeOnce.Do(func() {
		if err := m.db.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("error closing connection pool")
			return
		}
		m.logger.Info().Msg("connection pool closed")
	})
}

// mapSanitizationRules converts mymcp SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorPromptRules converts mymcp ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
