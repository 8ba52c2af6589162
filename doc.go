// Package mymcp exposes a MySQL database to AI agents through the Model
// Context Protocol (MCP): every table is published as a schema resource
// addressed by mysql://<database>/<table>/schema, and a single mysql_query
// tool runs read-only SQL.
//
// Only SELECT statements pass the tool's gate, and every statement executes
// on a session switched to read-only, inside a transaction that is always
// rolled back. Even a mutating statement that slips past the prefix check
// therefore has no durable effect. Around execution sits the full pipeline:
// query hooks, per-pattern timeouts, data sanitization, result truncation,
// and dynamic agent steering via error prompts.
//
// Connection parameters come from the environment (MYSQL_USER, MYSQL_PASS,
// MYSQL_DB, and either MYSQL_SOCKET or MYSQL_HOST + MYSQL_PORT), never from
// a config file.
//
// # Library Usage
//
//	conn, err := mymcp.ConnFromEnv()
//	if err != nil {
//		log.Fatal(err)
//	}
//	m, err := mymcp.New(ctx, conn, mymcp.Config{
//		Query: mymcp.QueryConfig{
//			DefaultTimeoutSeconds: 30,
//			CatalogTimeoutSeconds: 10,
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close(ctx)
//
//	// Use directly
//	output := m.Query(ctx, mymcp.QueryInput{SQL: "SELECT * FROM users LIMIT 10"})
//
//	// Or register the tool, resources, and URI template on an MCP server
//	hooks := &server.Hooks{}
//	mcpServer := server.NewMCPServer("gomymcp", "1.0.0",
//		server.WithToolCapabilities(true),
//		server.WithResourceCapabilities(false, true),
//		server.WithHooks(hooks),
//	)
//	mymcp.RegisterMCPHandlers(mcpServer, hooks, m)
//
// # Hooks
//
// BeforeQuery and AfterQuery hooks run as a middleware chain around query
// execution. Implement [BeforeQueryHook] and [AfterQueryHook] for native Go
// hooks with full type safety:
//
//	type AuditHook struct{}
//
//	func (h *AuditHook) Run(ctx context.Context, query string) (string, error) {
//		log.Printf("query: %s", query)
//		return query, nil // return modified query or original
//	}
//
// Unlike command-based hooks (server mode), Go hooks have no regex pattern
// matching — the hook function itself decides whether to act.
//
// AfterQuery hooks run after the result set is collected and before the
// transaction is rolled back; they can rewrite or veto the result, never
// persist anything.
//
// For full documentation, configuration reference, and examples, see:
// https://github.com/rickchristie/mysql-mcp
package mymcp
