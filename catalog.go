package mymcp

import (
	"context"
	"fmt"
	"time"
)

const listTablesSQL = `
SELECT
    table_name,
    CASE table_type
        WHEN 'BASE TABLE' THEN 'table'
        WHEN 'VIEW' THEN 'view'
        ELSE LOWER(table_type)
    END AS type
FROM information_schema.tables
WHERE table_schema = ?
ORDER BY table_name
`

const tableColumnsSQL = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position
`

// ListTables returns all tables and views in the configured database. Does
// NOT go through the hook/sanitization pipeline; catalog lookups are
// adapter-authored SQL with positionally bound parameters.
func (m *MySQLMcp) ListTables(ctx context.Context) ([]TableEntry, error) {
	startTime := time.Now()

	// 1. Acquire semaphore
	select {
	case m.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("ListTables: failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(m.semaphore), ctx.Err())
	}
	defer func() { <-m.semaphore }()

	// 2. Apply configurable timeout (0 means no deadline)
	queryCtx := ctx
	if m.config.Query.CatalogTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, time.Duration(m.config.Query.CatalogTimeoutSeconds)*time.Second)
		defer cancel()
	}

	// 3. Execute
	rows, err := m.db.QueryContext(queryCtx, listTablesSQL, m.conn.Database)
	if err != nil {
		return nil, fmt.Errorf("ListTables query failed: %w", err)
	}
	defer rows.Close()

	var tables []TableEntry
	for rows.Next() {
		var entry TableEntry
		if err := rows.Scan(&entry.Name, &entry.Type); err != nil {
			return nil, fmt.Errorf("ListTables scan failed: %w", err)
		}
		tables = append(tables, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTables rows error: %w", err)
	}

	if tables == nil {
		tables = []TableEntry{}
	}

	m.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	return tables, nil
}

// TableSchema returns the column descriptors for one table in the
// configured database, in ordinal position order. An unknown table name
// yields an empty descriptor list, not an error: the catalog query simply
// returns no rows.
func (m *MySQLMcp) TableSchema(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	startTime := time.Now()

	// 1. Acquire semaphore
	select {
	case m.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("TableSchema: failed to acquire query slot: all %d connection slots are in use, context cancelled while waiting: %w", cap(m.semaphore), ctx.Err())
	}
	defer func() { <-m.semaphore }()

	// 2. Apply configurable timeout (0 means no deadline)
	queryCtx := ctx
	if m.config.Query.CatalogTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, time.Duration(m.config.Query.CatalogTimeoutSeconds)*time.Second)
		defer cancel()
	}

	// 3. Execute. The table name is bound positionally, never interpolated.
	rows, err := m.db.QueryContext(queryCtx, tableColumnsSQL, m.conn.Database, table)
	if err != nil {
		return nil, fmt.Errorf("TableSchema query failed: %w", err)
	}
	defer rows.Close()

	var columns []ColumnDescriptor
	for rows.Next() {
		var col ColumnDescriptor
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("TableSchema scan failed: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TableSchema rows error: %w", err)
	}

	if columns == nil {
		columns = []ColumnDescriptor{}
	}

	m.logger.Info().
		Str("table", table).
		Dur("duration", time.Since(startTime)).
		Int("column_count", len(columns)).
		Msg("TableSchema executed")

	return columns, nil
}
