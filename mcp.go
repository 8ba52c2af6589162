package mymcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPHandlers registers the mysql_query tool, the schema URI
// template, and the catalog-driven schema resources on the given MCP
// server.
//
// hooks must be the same Hooks instance that was passed to the server via
// server.WithHooks: the resource list is kept in sync with the database
// catalog through a before-list hook appended here.
func RegisterMCPHandlers(mcpServer *server.MCPServer, hooks *server.Hooks, m *MySQLMcp) {
	// Query tool
	queryTool := mcp.NewTool("mysql_query",
		mcp.WithDescription("Execute a read-only SQL query against the MySQL database. Only SELECT statements are accepted. Returns matching rows as a JSON array."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SELECT statement to execute"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(queryTool, m.loggedToolHandler("mysql_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Malformed requests are protocol errors, not tool results: a
		// missing or non-string sql argument and a non-SELECT statement
		// both mean the caller built the request wrong. Database errors
		// from well-formed requests come back as error-flagged results
		// below.
		sqlText, err := req.RequireString("sql")
		if err != nil {
			return nil, fmt.Errorf("invalid sql parameter: %w", err)
		}
		if !isSelect(sqlText) {
			return nil, fmt.Errorf("only SELECT statements are allowed, got: %s", truncateForLog(sqlText, 80))
		}

		output := m.Query(ctx, QueryInput{SQL: sqlText})
		if output.Error != "" {
			return mcp.NewToolResultError(output.Error), nil
		}
		jsonBytes, err := json.MarshalIndent(output.Rows, "", "  ")
		if err != nil {
			return mcp.NewToolResultError("failed to marshal query result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// Schema resource template, for clients that construct URIs directly
	// instead of listing resources first.
	schemaTemplate := mcp.NewResourceTemplate(
		m.schemaURITemplate(),
		"Table schema",
		mcp.WithTemplateDescription(fmt.Sprintf("Column names and data types for a table in database '%s'", m.conn.Database)),
		mcp.WithTemplateMIMEType("application/json"),
	)
	mcpServer.AddResourceTemplate(schemaTemplate, m.handleSchemaResource)

	// Per-table schema resources, refreshed from the catalog before each
	// resources/list response so created and dropped tables show up
	// without a restart.
	syncer := newResourceSyncer(m, mcpServer)
	hooks.AddBeforeListResources(func(ctx context.Context, id any, message *mcp.ListResourcesRequest) {
		syncer.sync(ctx)
	})
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (m *MySQLMcp) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		m.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
