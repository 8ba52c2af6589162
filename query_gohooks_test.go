package mymcp_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	mymcp "github.com/rickchristie/mysql-mcp"
)

// --- Go hook implementations for testing ---

// passthroughBeforeHook returns the query unchanged.
type passthroughBeforeHook struct{}

func (h *passthroughBeforeHook) Run(_ context.Context, query string) (string, error) {
	return query, nil
}

// rejectBeforeHook always returns an error.
type rejectBeforeHook struct{}

func (h *rejectBeforeHook) Run(_ context.Context, _ string) (string, error) {
	return "", fmt.Errorf("query not allowed by policy")
}

// modifyBeforeHook replaces the query with a fixed query.
type modifyBeforeHook struct {
	replacement string
}

func (h *modifyBeforeHook) Run(_ context.Context, _ string) (string, error) {
	return h.replacement, nil
}

// slowBeforeHook sleeps until context is cancelled or duration elapses.
type slowBeforeHook struct {
	sleepDuration time.Duration
}

func (h *slowBeforeHook) Run(ctx context.Context, query string) (string, error) {
	select {
	case <-time.After(h.sleepDuration):
		return query, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// trackingBeforeHook records whether it was called.
type trackingBeforeHook struct {
	called bool
}

func (h *trackingBeforeHook) Run(_ context.Context, query string) (string, error) {
	h.called = true
	return query, nil
}

// appendBeforeHook appends a suffix to the query.
type appendBeforeHook struct {
	suffix string
}

func (h *appendBeforeHook) Run(_ context.Context, query string) (string, error) {
	return query + h.suffix, nil
}

// passthroughAfterHook returns the result unchanged.
type passthroughAfterHook struct{}

func (h *passthroughAfterHook) Run(_ context.Context, result *mymcp.QueryOutput) (*mymcp.QueryOutput, error) {
	return result, nil
}

// rejectAfterHook always returns an error.
type rejectAfterHook struct{}

func (h *rejectAfterHook) Run(_ context.Context, _ *mymcp.QueryOutput) (*mymcp.QueryOutput, error) {
	return nil, fmt.Errorf("result rejected by audit hook")
}

// addColumnAfterHook adds a synthetic column to every row.
type addColumnAfterHook struct{}

func (h *addColumnAfterHook) Run(_ context.Context, result *mymcp.QueryOutput) (*mymcp.QueryOutput, error) {
	result.Columns = append(result.Columns, "hook_added")
	for _, row := range result.Rows {
		row["hook_added"] = "injected"
	}
	return result, nil
}

// appendRowAfterHook appends a synthetic row to the result.
type appendRowAfterHook struct{}

func (h *appendRowAfterHook) Run(_ context.Context, result *mymcp.QueryOutput) (*mymcp.QueryOutput, error) {
	newRow := make(map[string]interface{})
	for _, col := range result.Columns {
		newRow[col] = "appended"
	}
	result.Rows = append(result.Rows, newRow)
	return result, nil
}

// slowAfterHook sleeps until context is cancelled or duration elapses.
type slowAfterHook struct {
	sleepDuration time.Duration
}

func (h *slowAfterHook) Run(ctx context.Context, result *mymcp.QueryOutput) (*mymcp.QueryOutput, error) {
	select {
	case <-time.After(h.sleepDuration):
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// captureAfterHook captures the result for later inspection.
type captureAfterHook struct {
	captured *mymcp.QueryOutput
}

func (h *captureAfterHook) Run(_ context.Context, result *mymcp.QueryOutput) (*mymcp.QueryOutput, error) {
	h.captured = result
	return result, nil
}

// typeAssertAfterHook records the Go types the hook receives per column.
type typeAssertAfterHook struct {
	receivedTypes map[string]string
}

func (h *typeAssertAfterHook) Run(_ context.Context, result *mymcp.QueryOutput) (*mymcp.QueryOutput, error) {
	h.receivedTypes = make(map[string]string)
	if len(result.Rows) > 0 {
		for col, val := range result.Rows[0] {
			h.receivedTypes[col] = fmt.Sprintf("%T", val)
		}
	}
	return result, nil
}

// --- Test cases ---

func TestQuery_GoBeforeHook_Accept(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{Name: "passthrough", Hook: &passthroughBeforeHook{}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1 AS val"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(output.Rows))
	}
	if output.Rows[0]["val"] != int64(1) {
		t.Fatalf("expected int64(1), got %T: %v", output.Rows[0]["val"], output.Rows[0]["val"])
	}
}

func TestQuery_GoBeforeHook_Reject(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{Name: "rejector", Hook: &rejectBeforeHook{}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1"})
	if output.Error == "" {
		t.Fatal("expected hook rejection error")
	}
	if !strings.Contains(output.Error, "rejector") {
		t.Fatalf("expected hook name 'rejector' in error, got %q", output.Error)
	}
	if !strings.Contains(output.Error, "query not allowed by policy") {
		t.Fatalf("expected rejection message in error, got %q", output.Error)
	}
}

func TestQuery_GoBeforeHook_ModifyQuery(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{Name: "modifier", Hook: &modifyBeforeHook{replacement: "SELECT 2 AS val"}},
	}
	m, _ := newTestInstance(t, config)

	// The hook replaces any query with "SELECT 2 AS val"
	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 999 AS val"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(output.Rows))
	}
	if output.Rows[0]["val"] != int64(2) {
		t.Fatalf("expected int64(2), got %T: %v", output.Rows[0]["val"], output.Rows[0]["val"])
	}
}

func TestQuery_GoBeforeHook_Timeout(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 1
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{Name: "slowpoke", Hook: &slowBeforeHook{sleepDuration: 10 * time.Second}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1"})
	if output.Error == "" {
		t.Fatal("expected hook timeout error")
	}
	if !strings.Contains(output.Error, "hook timed out") {
		t.Fatalf("expected 'hook timed out' in error, got %q", output.Error)
	}
	if !strings.Contains(output.Error, "slowpoke") {
		t.Fatalf("expected hook name 'slowpoke' in error, got %q", output.Error)
	}
}

func TestQuery_GoBeforeHook_SelectGateStillApplied(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{Name: "sneaky", Hook: &modifyBeforeHook{replacement: "DROP TABLE users"}},
	}
	m, _ := newTestInstance(t, config)

	// The gate runs after hooks, so a hook cannot smuggle a write through.
	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1"})
	if output.Error == "" {
		t.Fatal("expected gate error after hook modified query")
	}
	if !strings.Contains(output.Error, "only SELECT statements are allowed") {
		t.Fatalf("expected SELECT gate message, got %q", output.Error)
	}
}

func TestQuery_GoAfterHook_Accept(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.AfterQueryHooks = []mymcp.AfterQueryHookEntry{
		{Name: "passthrough", Hook: &passthroughAfterHook{}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 42 AS val"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(output.Rows))
	}
	if output.Rows[0]["val"] != int64(42) {
		t.Fatalf("expected int64(42), got %T: %v", output.Rows[0]["val"], output.Rows[0]["val"])
	}
}

func TestQuery_GoAfterHook_Reject(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.AfterQueryHooks = []mymcp.AfterQueryHookEntry{
		{Name: "auditor", Hook: &rejectAfterHook{}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1"})
	if output.Error == "" {
		t.Fatal("expected hook rejection error")
	}
	if !strings.Contains(output.Error, "auditor") {
		t.Fatalf("expected hook name 'auditor' in error, got %q", output.Error)
	}
	if !strings.Contains(output.Error, "result rejected by audit hook") {
		t.Fatalf("expected rejection message in error, got %q", output.Error)
	}
}

func TestQuery_GoAfterHook_ModifyResult(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.AfterQueryHooks = []mymcp.AfterQueryHookEntry{
		{Name: "enricher", Hook: &addColumnAfterHook{}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1 AS val"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	if len(output.Columns) != 2 {
		t.Fatalf("expected 2 columns (val + hook_added), got %d: %v", len(output.Columns), output.Columns)
	}
	if output.Columns[1] != "hook_added" {
		t.Fatalf("expected 'hook_added' column, got %q", output.Columns[1])
	}
	if output.Rows[0]["hook_added"] != "injected" {
		t.Fatalf("expected 'injected' value, got %v", output.Rows[0]["hook_added"])
	}
}

func TestQuery_GoAfterHook_Timeout(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 1
	config.AfterQueryHooks = []mymcp.AfterQueryHookEntry{
		{Name: "slow_auditor", Hook: &slowAfterHook{sleepDuration: 10 * time.Second}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1"})
	if output.Error == "" {
		t.Fatal("expected hook timeout error")
	}
	if !strings.Contains(output.Error, "hook timed out") {
		t.Fatalf("expected 'hook timed out' in error, got %q", output.Error)
	}
	if !strings.Contains(output.Error, "slow_auditor") {
		t.Fatalf("expected hook name 'slow_auditor' in error, got %q", output.Error)
	}
}

func TestQuery_GoAfterHook_NoPrecisionLoss(t *testing.T) {
	t.Parallel()
	captureHook := &captureAfterHook{}
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.AfterQueryHooks = []mymcp.AfterQueryHookEntry{
		{Name: "capture", Hook: captureHook},
	}
	m, conn := newTestInstance(t, config)
	db := setupDB(t, conn)

	// 2^53+1 cannot survive a float64 round-trip; Go hooks must see int64.
	createTable(t, db, "gh_bigint", "CREATE TABLE gh_bigint (big_id BIGINT)")
	setupExec(t, db, "INSERT INTO gh_bigint VALUES (9007199254740993)")

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT big_id FROM gh_bigint"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}

	if captureHook.captured == nil {
		t.Fatal("hook did not capture result")
	}
	val, ok := captureHook.captured.Rows[0]["big_id"].(int64)
	if !ok {
		t.Fatalf("expected int64 in hook, got %T", captureHook.captured.Rows[0]["big_id"])
	}
	if val != 9007199254740993 {
		t.Fatalf("expected 9007199254740993, got %d", val)
	}

	finalVal, ok := output.Rows[0]["big_id"].(int64)
	if !ok {
		t.Fatalf("expected int64 in output, got %T", output.Rows[0]["big_id"])
	}
	if finalVal != 9007199254740993 {
		t.Fatalf("expected 9007199254740993 in output, got %d", finalVal)
	}
}

func TestQuery_GoAfterHook_ReceivesNativeTypes(t *testing.T) {
	t.Parallel()
	typeHook := &typeAssertAfterHook{}
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	config.AfterQueryHooks = []mymcp.AfterQueryHookEntry{
		{Name: "type_check", Hook: typeHook},
	}
	m, conn := newTestInstance(t, config)
	db := setupDB(t, conn)

	createTable(t, db, "gh_native", "CREATE TABLE gh_native (big_id BIGINT, name TEXT)")
	setupExec(t, db, "INSERT INTO gh_native VALUES (9007199254740993, 'hello')")

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT big_id, name FROM gh_native"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}

	// Go hooks see the decoded native types, no JSON round-trip in between.
	if typeHook.receivedTypes["big_id"] != "int64" {
		t.Fatalf("expected int64 for big_id, hook received %s", typeHook.receivedTypes["big_id"])
	}
	if typeHook.receivedTypes["name"] != "string" {
		t.Fatalf("expected string for name, hook received %s", typeHook.receivedTypes["name"])
	}
}

func TestQuery_GoBeforeHook_Chaining(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	// First hook appends " AS a", second appends a comment.
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{Name: "append_as_a", Hook: &appendBeforeHook{suffix: " AS a"}},
		{Name: "append_tag", Hook: &appendBeforeHook{suffix: " -- tagged"}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}
	// "SELECT 1" -> "SELECT 1 AS a" -> "SELECT 1 AS a -- tagged"
	if len(output.Columns) != 1 || output.Columns[0] != "a" {
		t.Fatalf("expected column 'a' from chained hooks, got %v", output.Columns)
	}
	if output.Rows[0]["a"] != int64(1) {
		t.Fatalf("expected int64(1), got %T: %v", output.Rows[0]["a"], output.Rows[0]["a"])
	}
}

func TestQuery_GoBeforeHook_PerHookTimeout(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 1
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{
			Name:    "slow_but_ok",
			Timeout: 2 * time.Second,
			Hook:    &slowBeforeHook{sleepDuration: 1500 * time.Millisecond},
		},
	}
	m, _ := newTestInstance(t, config)

	// The hook sleeps 1.5s: the 1s default would fail, the per-hook 2s wins.
	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1 AS val"})
	if output.Error != "" {
		t.Fatalf("expected query to succeed with per-hook timeout override, got error: %s", output.Error)
	}
	if output.Rows[0]["val"] != int64(1) {
		t.Fatalf("expected int64(1), got %T: %v", output.Rows[0]["val"], output.Rows[0]["val"])
	}
}

func TestQuery_GoAfterHook_Chaining(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.DefaultHookTimeoutSeconds = 5
	// First hook adds a column, second hook appends a row.
	config.AfterQueryHooks = []mymcp.AfterQueryHookEntry{
		{Name: "add_column", Hook: &addColumnAfterHook{}},
		{Name: "append_row", Hook: &appendRowAfterHook{}},
	}
	m, _ := newTestInstance(t, config)

	output := m.Query(context.Background(), mymcp.QueryInput{SQL: "SELECT 1 AS val"})
	if output.Error != "" {
		t.Fatalf("unexpected error: %s", output.Error)
	}

	if len(output.Columns) != 2 || output.Columns[0] != "val" || output.Columns[1] != "hook_added" {
		t.Fatalf("expected columns [val, hook_added], got %v", output.Columns)
	}
	if len(output.Rows) != 2 {
		t.Fatalf("expected 2 rows (original + appended), got %d", len(output.Rows))
	}
	if output.Rows[0]["hook_added"] != "injected" {
		t.Fatalf("expected 'injected' in first row, got %v", output.Rows[0]["hook_added"])
	}
	if output.Rows[1]["val"] != "appended" || output.Rows[1]["hook_added"] != "appended" {
		t.Fatalf("expected appended row values, got %v", output.Rows[1])
	}
}

func TestQuery_MaxSQLLength_RejectsBeforeHooks(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.MaxSQLLength = 20
	config.DefaultHookTimeoutSeconds = 5

	tracker := &trackingBeforeHook{}
	config.BeforeQueryHooks = []mymcp.BeforeQueryHookEntry{
		{Name: "tracker", Hook: tracker},
	}
	m, _ := newTestInstance(t, config)

	longSQL := "SELECT " + strings.Repeat("1,", 20) + "1"
	output := m.Query(context.Background(), mymcp.QueryInput{SQL: longSQL})
	if output.Error == "" {
		t.Fatal("expected SQL length error")
	}
	if !strings.Contains(output.Error, "SQL query too long") {
		t.Fatalf("expected SQL length error, got %q", output.Error)
	}
	if tracker.called {
		t.Fatal("expected BeforeQuery hook to NOT be called when max_sql_length rejects the query")
	}
}
