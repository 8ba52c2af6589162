package mymcp

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Query executes the full read-only query pipeline and returns only
// QueryOutput. All errors (MySQL errors, hook rejections, Go errors) are
// converted to output.Error. The error message is then evaluated against
// error_prompts patterns and any matching prompt messages are appended.
// This means callers only need to check output.Error, never a Go error.
//
// The statement must be a SELECT. Execution always happens inside a
// transaction that is rolled back, on a session switched to read-only for
// the duration of the call, so even a statement that slips past the prefix
// check can have no durable effect.
func (m *MySQLMcp) Query(ctx context.Context, input QueryInput) *QueryOutput {
	startTime := time.Now()
	sqlText := input.SQL

	// 1. Acquire semaphore (respects context cancellation to prevent deadlock)
	select {
	case m.semaphore <- struct{}{}:
	case <-ctx.Done():
		return m.handleError(fmt.Errorf("failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(m.semaphore), ctx.Err()))
	}
	defer func() { <-m.semaphore }()

	// 2. Check SQL length (before any processing)
	if len(sqlText) > m.config.Query.MaxSQLLength {
		return m.handleError(fmt.Errorf("SQL query too long: %d bytes exceeds maximum of %d bytes", len(sqlText), m.config.Query.MaxSQLLength))
	}

	// --- Pipeline tracking ---
	var beforeHooks, afterHooks []string
	timeoutRule := ""
	sanitized := false

	// 3. Run BeforeQuery hooks (middleware chain)
	var err error
	if len(m.goBeforeHooks) > 0 {
		sqlText, err = m.runGoBeforeHooks(ctx, sqlText)
		for _, entry := range m.goBeforeHooks {
			beforeHooks = append(beforeHooks, entry.Name)
		}
	} else if m.cmdHooks != nil {
		sqlText, beforeHooks, err = m.cmdHooks.RunBeforeQuery(ctx, sqlText)
	}
	if err != nil {
		return m.handleError(err)
	}

	// 4. SELECT gate (on potentially modified query)
	if !isSelect(sqlText) {
		return m.handleError(fmt.Errorf("only SELECT statements are allowed, got: %s", truncateForLog(sqlText, 80)))
	}

	// 5. Determine timeout (0 means no deadline)
	var queryTimeout time.Duration
	queryTimeout, timeoutRule = m.timeoutMgr.GetTimeoutWithPattern(sqlText)
	queryCtx := ctx
	if queryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, queryTimeout)
		defer cancel()
	}

	// 6. Pin a connection and execute in a rollback-only transaction.
	// The session transaction mode must be set outside the transaction,
	// MySQL rejects changing it while one is open.
	conn, err := m.db.Conn(queryCtx)
	if err != nil {
		return m.handleError(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(queryCtx, "SET SESSION TRANSACTION READ ONLY"); err != nil {
		return m.handleError(err)
	}
	// Restore runs after the rollback and before the connection returns to
	// the pool. The context is detached so a cancelled query still restores.
	defer m.restoreReadWrite(context.WithoutCancel(ctx), conn)

	tx, err := conn.BeginTx(queryCtx, nil)
	if err != nil {
		return m.handleError(err)
	}
	// Always roll back, never commit. The transaction exists to guarantee
	// the statement has no durable effect, so rollback is the success path.
	defer tx.Rollback()

	rows, err := tx.QueryContext(queryCtx, sqlText)
	if err != nil {
		return m.handleError(err)
	}

	// 7. Collect results
	result, err := m.collectRows(rows)
	if err != nil {
		return m.handleError(err)
	}

	// 8. AfterQuery hooks, which may veto or rewrite the result
	var finalResult *QueryOutput
	if len(m.goAfterHooks) > 0 {
		finalResult, err = m.runGoAfterHooks(ctx, result)
		if err != nil {
			return m.handleError(err)
		}
		for _, entry := range m.goAfterHooks {
			afterHooks = append(afterHooks, entry.Name)
		}
	} else if m.cmdHooks != nil && m.cmdHooks.HasAfterQueryHooks() {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return m.handleError(err)
		}

		modifiedJSON, executed, err := m.cmdHooks.RunAfterQuery(ctx, string(resultJSON))
		if err != nil {
			return m.handleError(err)
		}
		afterHooks = executed

		finalResult = &QueryOutput{}
		dec := json.NewDecoder(strings.NewReader(modifiedJSON))
		dec.UseNumber()
		if err := dec.Decode(finalResult); err != nil {
			return m.handleError(err)
		}
	} else {
		finalResult = result
	}

	// 9. Apply sanitization (per-field, recursive into JSON documents)
	sanitized = m.sanitizer.HasRules()
	finalResult.Rows = m.sanitizer.SanitizeRows(finalResult.Rows)

	// 10. Apply max result length truncation
	m.truncateIfNeeded(finalResult)

	// 11. Log successful query execution with pipeline details
	logEvent := m.logger.Info().
		Str("sql", truncateForLog(sqlText, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(finalResult.Rows))
	if len(beforeHooks) > 0 {
		logEvent = logEvent.Strs("before_hooks", beforeHooks)
	}
	if len(afterHooks) > 0 {
		logEvent = logEvent.Strs("after_hooks", afterHooks)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return finalResult
}

// isSelect reports whether the statement is a SELECT after trimming
// surrounding whitespace. This is a cheap prefix test; the read-only
// session and the rollback-only transaction are the real enforcement.
func isSelect(sqlText string) bool {
	trimmed := strings.TrimSpace(sqlText)
	if len(trimmed) < len("select") {
		return false
	}
	return strings.EqualFold(trimmed[:len("select")], "select")
}

// restoreReadWrite returns the session to read-write before the connection
// goes back to the pool. A connection that cannot be restored must not be
// reused half-configured, so it is marked bad and the pool discards it.
func (m *MySQLMcp) restoreReadWrite(ctx context.Context, conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(ctx, "SET SESSION TRANSACTION READ WRITE"); err != nil {
		m.logger.Warn().Err(err).Msg("failed to restore read-write session, discarding connection")
		_ = conn.Raw(func(driverConn any) error {
			return driver.ErrBadConn
		})
	}
}

// runGoBeforeHooks runs Go-interface BeforeQuery hooks in middleware chain.
func (m *MySQLMcp) runGoBeforeHooks(ctx context.Context, sqlText string) (string, error) {
	for _, entry := range m.goBeforeHooks {
		timeout := entry.Timeout
		if timeout == 0 {
			timeout = time.Duration(m.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, timeout)

		modified, err := entry.Hook.Run(hookCtx, sqlText)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("before_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, timeout)
			}
			return "", fmt.Errorf("before_query hook error: hook rejected query (name: %s): %w", entry.Name, err)
		}
		sqlText = modified
	}
	return sqlText, nil
}

// runGoAfterHooks runs Go-interface AfterQuery hooks in middleware chain.
func (m *MySQLMcp) runGoAfterHooks(ctx context.Context, result *QueryOutput) (*QueryOutput, error) {
	for _, entry := range m.goAfterHooks {
		timeout := entry.Timeout
		if timeout == 0 {
			timeout = time.Duration(m.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, timeout)

		modified, err := entry.Hook.Run(hookCtx, result)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("after_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, timeout)
			}
			return nil, fmt.Errorf("after_query hook error: hook rejected result (name: %s): %w", entry.Name, err)
		}
		result = modified
	}
	return result, nil
}

// collectRows reads all rows from sql.Rows and returns a QueryOutput.
func (m *MySQLMcp) collectRows(rows *sql.Rows) (*QueryOutput, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	resultRows := make([]map[string]interface{}, 0)
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i], colTypes[i].DatabaseTypeName())
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryOutput{Columns: columns, Rows: resultRows}, nil
}

// convertValue converts a driver-returned value to a JSON-friendly Go type.
// The MySQL text protocol hands most values over as []byte, so the column's
// database type decides the decoding: integer columns become int64, float
// columns float64, JSON columns stay raw JSON, and everything else becomes
// a string. DECIMAL keeps its text form, a JSON number would lose precision.
func convertValue(v interface{}, dbType string) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format("2006-01-02 15:04:05.999999")
	case []byte:
		return convertBytes(val, dbType)
	default:
		// int64, float64, uint64 from the binary protocol pass through.
		return val
	}
}

// convertBytes decodes a text-protocol value according to its column type.
// The driver reuses scan buffers between rows, so every branch copies.
func convertBytes(b []byte, dbType string) interface{} {
	unsigned := strings.HasPrefix(dbType, "UNSIGNED ")
	base := strings.TrimPrefix(dbType, "UNSIGNED ")
	switch base {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		if unsigned {
			if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
				return n
			}
		} else if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
	case "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	case "JSON":
		return json.RawMessage(append([]byte(nil), b...))
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

// handleError converts any error into a QueryOutput with error message.
// The error message is evaluated against error_prompts and matching prompt messages are appended.
func (m *MySQLMcp) handleError(err error) *QueryOutput {
	errMsg := err.Error()
	prompt := m.errPrompts.Match(errMsg)
	patterns := m.errPrompts.MatchedPatterns(errMsg)

	logEvent := m.logger.Error().Err(err)
	if len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")

	if prompt != "" {
		errMsg = errMsg + "\n\n" + prompt
	}
	return &QueryOutput{Error: errMsg}
}

// truncateIfNeeded truncates query output rows if they exceed MaxResultLength (in characters).
func (m *MySQLMcp) truncateIfNeeded(output *QueryOutput) {
	jsonBytes, _ := json.Marshal(output.Rows)
	jsonStr := string(jsonBytes)
	if utf8.RuneCountInString(jsonStr) <= m.config.Query.MaxResultLength {
		return
	}
	// Truncate to MaxResultLength characters (runes)
	runes := []rune(jsonStr)
	truncated := string(runes[:m.config.Query.MaxResultLength])
	output.Rows = nil
	output.Error = truncated + "...[truncated] Result is too long! Add limits in your query!"
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
