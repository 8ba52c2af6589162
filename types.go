package mymcp

// QueryInput is the input for the Query tool.
type QueryInput struct {
	SQL string `json:"sql"`
}

// QueryOutput is the output of the Query tool. All execution errors (MySQL
// errors, hook rejections, Go errors) are placed in Error. The error message
// is evaluated against error_prompts and matching prompt messages are
// appended.
type QueryOutput struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
	Error   string                   `json:"error,omitempty"`
}

// TableEntry represents a single table or view in the configured database.
type TableEntry struct {
	Name string `json:"name"`
	Type string `json:"type"` // "table", "view"
}

// ColumnDescriptor describes one column of a table. JSON field names mirror
// the information_schema columns they are read from, so a schema resource
// round-trips against a direct catalog query.
type ColumnDescriptor struct {
	Name string `json:"column_name"`
	Type string `json:"data_type"`
}
