package mymcp

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ConnConfig holds database connection parameters. The server binary fills
// it from MYSQL_* environment variables via ConnFromEnv; library users can
// construct it directly. Exactly one addressing mode must be set: either
// Socket, or Host and Port together.
type ConnConfig struct {
	Host      string
	Port      int
	Socket    string
	User      string
	Password  string
	Database  string
	PoolLimit int // max open connections, must be > 0
}

// ConnFromEnv builds a ConnConfig from environment variables:
//
//	MYSQL_HOST, MYSQL_PORT   TCP address, both must be set together
//	MYSQL_SOCKET             Unix socket path, alternative to host+port
//	MYSQL_USER               required
//	MYSQL_PASS               required
//	MYSQL_DB                 required
//	MYSQL_POOL_LIMIT         max open connections, default "10"
//
// All problems are reported in a single error so a misconfigured deployment
// can be fixed in one pass. No connection is attempted here.
func ConnFromEnv() (ConnConfig, error) {
	conn := ConnConfig{
		Host:     os.Getenv("MYSQL_HOST"),
		Socket:   os.Getenv("MYSQL_SOCKET"),
		User:     os.Getenv("MYSQL_USER"),
		Password: os.Getenv("MYSQL_PASS"),
		Database: os.Getenv("MYSQL_DB"),
	}

	var problems []string
	if conn.User == "" {
		problems = append(problems, "MYSQL_USER is required")
	}
	if conn.Password == "" {
		problems = append(problems, "MYSQL_PASS is required")
	}
	if conn.Database == "" {
		problems = append(problems, "MYSQL_DB is required")
	}

	portRaw := os.Getenv("MYSQL_PORT")
	if portRaw != "" {
		port, err := strconv.Atoi(portRaw)
		if err != nil || port <= 0 {
			problems = append(problems, fmt.Sprintf("MYSQL_PORT must be a positive integer, got %q", portRaw))
		} else {
			conn.Port = port
		}
	}

	if conn.Socket == "" && (conn.Host == "" || portRaw == "") {
		problems = append(problems, "either MYSQL_SOCKET or both MYSQL_HOST and MYSQL_PORT must be set")
	}
	if conn.Socket != "" && (conn.Host != "" || portRaw != "") {
		problems = append(problems, "MYSQL_SOCKET and MYSQL_HOST/MYSQL_PORT are mutually exclusive")
	}

	limitRaw := os.Getenv("MYSQL_POOL_LIMIT")
	if limitRaw == "" {
		conn.PoolLimit = 10
	} else {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil || limit <= 0 {
			problems = append(problems, fmt.Sprintf("MYSQL_POOL_LIMIT must be a positive integer, got %q", limitRaw))
		} else {
			conn.PoolLimit = limit
		}
	}

	if len(problems) > 0 {
		return ConnConfig{}, fmt.Errorf("invalid connection environment: %s", strings.Join(problems, "; "))
	}
	return conn, nil
}

// validate checks a directly constructed ConnConfig. ConnFromEnv performs
// the same checks with environment variable names in the messages.
func (c ConnConfig) validate() error {
	var problems []string
	if c.User == "" {
		problems = append(problems, "User is required")
	}
	if c.Password == "" {
		problems = append(problems, "Password is required")
	}
	if c.Database == "" {
		problems = append(problems, "Database is required")
	}
	if c.Socket == "" && (c.Host == "" || c.Port == 0) {
		problems = append(problems, "either Socket or both Host and Port must be set")
	}
	if c.Socket != "" && (c.Host != "" || c.Port != 0) {
		problems = append(problems, "Socket and Host/Port are mutually exclusive")
	}
	if c.PoolLimit <= 0 {
		problems = append(problems, "PoolLimit must be > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid connection config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN renders the config as a go-sql-driver DSN. ParseTime is always on so
// temporal columns scan as time.Time instead of raw bytes.
func (c ConnConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.ParseTime = true
	if c.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = c.Socket
	} else {
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	return cfg.FormatDSN()
}

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool                      PoolConfig         `json:"pool"`
	Query                     QueryConfig        `json:"query"`
	ErrorPrompts              []ErrorPromptRule  `json:"error_prompts"`
	Sanitization              []SanitizationRule `json:"sanitization"`
	DefaultHookTimeoutSeconds int                `json:"default_hook_timeout_seconds"`

	// Library mode: Go function hooks (not serializable).
	// Mutually exclusive with ServerConfig.ServerHooks.
	BeforeQueryHooks []BeforeQueryHookEntry `json:"-"`
	AfterQueryHooks  []AfterQueryHookEntry  `json:"-"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
// Connection parameters never appear here: they are read from MYSQL_*
// environment variables only, so credentials stay out of config files.
type ServerConfig struct {
	Config
	Server      ServerSettings    `json:"server"`
	Logging     LoggingConfig     `json:"logging"`
	ServerHooks ServerHooksConfig `json:"server_hooks"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	Transport          string `json:"transport"` // stdio (default), http
	Port               int    `json:"port"`      // http transport only
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// PoolConfig holds connection pool tuning. The open connection limit itself
// comes from ConnConfig.PoolLimit (MYSQL_POOL_LIMIT), not from here.
type PoolConfig struct {
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
	ConnMaxIdleTime string `json:"conn_max_idle_time"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stderr, or file path
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds"` // 0 means no deadline
	CatalogTimeoutSeconds int           `json:"catalog_timeout_seconds"` // 0 means no deadline
	MaxSQLLength          int           `json:"max_sql_length"`
	MaxResultLength       int           `json:"max_result_length"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// ServerHooksConfig holds command-based hook configuration for CLI mode.
type ServerHooksConfig struct {
	BeforeQuery []HookEntry `json:"before_query"`
	AfterQuery  []HookEntry `json:"after_query"`
}

// HookEntry defines a single command-based hook.
type HookEntry struct {
	Pattern        string   `json:"pattern"`
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// BeforeQueryHook can inspect and modify queries before execution.
type BeforeQueryHook interface {
	Run(ctx context.Context, query string) (string, error)
}

// AfterQueryHook can inspect and modify results after execution.
type AfterQueryHook interface {
	Run(ctx context.Context, result *QueryOutput) (*QueryOutput, error)
}

// BeforeQueryHookEntry wraps a BeforeQueryHook with metadata.
type BeforeQueryHookEntry struct {
	Name    string
	Timeout time.Duration
	Hook    BeforeQueryHook
}

// AfterQueryHookEntry wraps an AfterQueryHook with metadata.
type AfterQueryHookEntry struct {
	Name    string
	Timeout time.Duration
	Hook    AfterQueryHook
}
