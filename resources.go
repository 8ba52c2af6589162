package mymcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// schemaURI returns the canonical resource URI for a table's schema,
// mysql://<database>/<table>/schema.
func (m *MySQLMcp) schemaURI(table string) string {
	return fmt.Sprintf("mysql://%s/%s/schema", m.conn.Database, table)
}

// schemaURITemplate returns the URI template advertised to clients so they
// can construct a schema URI for any table without listing resources first.
func (m *MySQLMcp) schemaURITemplate() string {
	return fmt.Sprintf("mysql://%s/{table}/schema", m.conn.Database)
}

// parseSchemaURI extracts the table name from a schema resource URI.
//
// The accepted shape is mysql://<database>/<table>/schema: the final path
// segment must be the literal "schema", and the segment before it is the
// table name. Anything else is an invalid URI.
func parseSchemaURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "mysql://")
	if !ok {
		return "", fmt.Errorf("invalid resource URI %q: expected mysql://<database>/<table>/schema", uri)
	}
	segments := strings.Split(rest, "/")
	if len(segments) < 3 || segments[len(segments)-1] != "schema" {
		return "", fmt.Errorf("invalid resource URI %q: expected mysql://<database>/<table>/schema", uri)
	}
	table := segments[len(segments)-2]
	if table == "" {
		return "", fmt.Errorf("invalid resource URI %q: empty table name", uri)
	}
	return table, nil
}

// ReadSchemaResource resolves a schema resource URI and returns the JSON
// payload describing the table's columns.
//
// The URI is validated before any database work. The table name from the
// URI is looked up in the configured database only; the database segment
// of the URI is not used for routing, so a crafted URI cannot read schemas
// from another database on the same server. An unknown table yields "[]"
// rather than an error.
func (m *MySQLMcp) ReadSchemaResource(ctx context.Context, uri string) (string, error) {
	table, err := parseSchemaURI(uri)
	if err != nil {
		return "", err
	}

	columns, err := m.TableSchema(ctx, table)
	if err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema for table %s: %w", table, err)
	}
	return string(payload), nil
}

// schemaResource builds the MCP resource descriptor for one table.
func (m *MySQLMcp) schemaResource(uri, table string) mcp.Resource {
	return mcp.NewResource(
		uri,
		fmt.Sprintf("Schema for table '%s'", table),
		mcp.WithResourceDescription(fmt.Sprintf("Column names and data types for table '%s'", table)),
		mcp.WithMIMEType("application/json"),
	)
}

// handleSchemaResource serves read requests for schema resources. The same
// handler backs both the per-table resources and the URI template.
func (m *MySQLMcp) handleSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload, err := m.ReadSchemaResource(ctx, req.Params.URI)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     payload,
		},
	}, nil
}

// resourceSyncer keeps the MCP server's resource list aligned with the
// tables that currently exist in the database. Tables are created and
// dropped while the server runs, so the list is refreshed from the catalog
// right before every resources/list response instead of once at startup.
type resourceSyncer struct {
	engine    *MySQLMcp
	mcpServer *server.MCPServer

	mu         sync.Mutex
	registered map[string]string // schema URI -> table name
}

func newResourceSyncer(engine *MySQLMcp, mcpServer *server.MCPServer) *resourceSyncer {
	return &resourceSyncer{
		engine:     engine,
		mcpServer:  mcpServer,
		registered: make(map[string]string),
	}
}

// sync diffs the live table catalog against the registered resources and
// applies the difference to the MCP server. When the catalog query fails
// the last known registrations are kept; a transient database error should
// degrade the list, not empty it.
func (rs *resourceSyncer) sync(ctx context.Context) {
	tables, err := rs.engine.ListTables(ctx)
	if err != nil {
		rs.engine.logger.Warn().
			Err(err).
			Msg("failed to refresh resource list from catalog")
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	current := make(map[string]string, len(tables))
	for _, table := range tables {
		current[rs.engine.schemaURI(table.Name)] = table.Name
	}

	for uri, table := range current {
		if _, ok := rs.registered[uri]; ok {
			continue
		}
		rs.mcpServer.AddResource(rs.engine.schemaResource(uri, table), rs.engine.handleSchemaResource)
		rs.registered[uri] = table
	}
	for uri := range rs.registered {
		if _, ok := current[uri]; ok {
			continue
		}
		rs.mcpServer.RemoveResource(uri)
		delete(rs.registered, uri)
	}
}
