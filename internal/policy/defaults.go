package policy

// Default forbidden patterns. They are always part of a loaded document;
// a policy file can add to them but not remove them.
var defaultPatterns = []PatternSpec{
	{
		Name:    "comment_marker",
		Pattern: `--|/\*|\*/`,
		Reason:  "comment marker detected",
	},
	{
		Name:    "statement_separator",
		Pattern: `;\s*\S`,
		Reason:  "multi-statement pattern detected",
	},
	{
		Name:    "set_operation",
		Pattern: `(?i)\b(UNION|INTERSECT|EXCEPT)\b`,
		Reason:  "set-operation injection detected",
	},
}

// defaultBlockedFunctions is the blocklist of DuckDB functions that can read
// the filesystem, run nested SQL, or leak engine metadata.
var defaultBlockedFunctions = []string{
	// filesystem and remote readers
	"read_csv",
	"read_csv_auto",
	"read_parquet",
	"parquet_scan",
	"parquet_metadata",
	"parquet_schema",
	"read_json",
	"read_json_auto",
	"read_json_objects",
	"read_ndjson",
	"read_ndjson_auto",
	"read_ndjson_objects",
	"read_text",
	"read_blob",
	"read_xlsx",
	"glob",
	"sqlite_scan",
	"sqlite_attach",
	"postgres_scan",
	"mysql_scan",

	// nested SQL execution
	"query",
	"query_table",
	"json_execute_serialized_sql",

	// environment, session and engine metadata
	"getenv",
	"getvariable",
	"current_setting",
	"current_database",
	"current_catalog",
	"current_schema",
	"current_schemas",
	"current_query",
	"current_user",
	"session_user",
	"version",
	"pragma_version",
	"pragma_platform",
	"pragma_user_agent",
	"pragma_metadata_info",
	"which_secret",
	"txid_current",
	"duckdb_memory",
	"duckdb_temporary_files",
	"duckdb_sequences",
	"duckdb_dependencies",
	"duckdb_extensions",
	"duckdb_settings",
	"duckdb_databases",
	"duckdb_secrets",
	"duckdb_tables",
	"duckdb_columns",
	"duckdb_views",
	"duckdb_functions",
	"duckdb_schemas",
	"duckdb_indexes",
	"duckdb_constraints",
	"pragma_database_list",
	"pragma_table_info",
	"pragma_storage_info",
}

// DefaultPatterns returns a copy of the built-in forbidden patterns.
func DefaultPatterns() []PatternSpec {
	out := make([]PatternSpec, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}

// DefaultBlockedFunctions returns a copy of the built-in function blocklist.
func DefaultBlockedFunctions() []string {
	out := make([]string, len(defaultBlockedFunctions))
	copy(out, defaultBlockedFunctions)
	return out
}
