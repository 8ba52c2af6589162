package mymcp_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	mymcp "github.com/rickchristie/mysql-mcp"
	"github.com/rs/zerolog"
)

// Database-backed tests need a running MySQL server. Point them at one
// with MYSQL_TEST_HOST, MYSQL_TEST_PORT, MYSQL_TEST_USER, MYSQL_TEST_PASS,
// and MYSQL_TEST_DB; they skip when MYSQL_TEST_HOST is unset. The test
// user needs CREATE and DROP on the test database for fixtures; the engine
// under test only ever runs SELECT. The database is shared, so each test
// uses its own table names.

func testConn(t *testing.T) mymcp.ConnConfig {
	t.Helper()
	host := os.Getenv("MYSQL_TEST_HOST")
	if host == "" {
		t.Skip("MYSQL_TEST_HOST not set, skipping database test")
	}
	port := 3306
	if raw := os.Getenv("MYSQL_TEST_PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			t.Fatalf("invalid MYSQL_TEST_PORT %q: %v", raw, err)
		}
		port = p
	}
	return mymcp.ConnConfig{
		Host:      host,
		Port:      port,
		User:      os.Getenv("MYSQL_TEST_USER"),
		Password:  os.Getenv("MYSQL_TEST_PASS"),
		Database:  os.Getenv("MYSQL_TEST_DB"),
		PoolLimit: 5,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() mymcp.Config {
	return mymcp.Config{
		Query: mymcp.QueryConfig{
			DefaultTimeoutSeconds: 30,
			CatalogTimeoutSeconds: 10,
			MaxSQLLength:          100000,
			MaxResultLength:       100000,
		},
	}
}

func newTestInstance(t *testing.T, config mymcp.Config) (*mymcp.MySQLMcp, mymcp.ConnConfig) {
	t.Helper()
	conn := testConn(t)
	ctx := context.Background()
	m, err := mymcp.New(ctx, conn, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create MySQLMcp: %v", err)
	}
	if err := m.Ping(ctx); err != nil {
		t.Fatalf("Failed to reach test database: %v", err)
	}
	t.Cleanup(func() { m.Close(ctx) })
	return m, conn
}

func newTestInstanceWithHooks(t *testing.T, config mymcp.Config, hooks mymcp.ServerHooksConfig) *mymcp.MySQLMcp {
	t.Helper()
	conn := testConn(t)
	ctx := context.Background()
	m, err := mymcp.New(ctx, conn, config, testLogger(), mymcp.WithServerHooks(hooks))
	if err != nil {
		t.Fatalf("Failed to create MySQLMcp: %v", err)
	}
	if err := m.Ping(ctx); err != nil {
		t.Fatalf("Failed to reach test database: %v", err)
	}
	t.Cleanup(func() { m.Close(ctx) })
	return m
}

func hookScript(name string) string {
	return filepath.Join("testdata", "hooks", name)
}

// setupDB opens a direct database/sql handle for DDL and seed data.
// Fixtures go through this side channel because the engine rejects
// everything but SELECT.
func setupDB(t *testing.T, conn mymcp.ConnConfig) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", conn.DSN())
	if err != nil {
		t.Fatalf("failed to open setup connection: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupExec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("setup failed: %v (statement: %s)", err, stmt)
		}
	}
}

// createTable drops any leftover copy of the table from a previous failed
// run, creates it, and registers a cleanup drop.
func createTable(t *testing.T, db *sql.DB, name, ddl string) {
	t.Helper()
	setupExec(t, db, fmt.Sprintf("DROP TABLE IF EXISTS %s", name))
	setupExec(t, db, ddl)
	t.Cleanup(func() {
		_, _ = db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", name))
	})
}
