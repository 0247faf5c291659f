package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"duck-gateway/internal/policy"
)

const columnsQuery = `SELECT table_schema, table_name, column_name
FROM information_schema.columns
WHERE table_catalog = current_database()
  AND table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position`

// LoadSchema describes every user table and view of the current database.
// Tables in defaultSchema are keyed by bare name, others by schema.name,
// matching policy.Document.TableKey.
func LoadSchema(ctx context.Context, db *sql.DB, defaultSchema string) (policy.Schema, error) {
	if defaultSchema == "" {
		defaultSchema = policy.DefaultSchemaName
	}
	rows, err := db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return policy.Schema{}, fmt.Errorf("query information_schema.columns: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	tables := make(map[string][]string)
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return policy.Schema{}, fmt.Errorf("scan column: %w", err)
		}
		key := strings.ToLower(table)
		if !strings.EqualFold(schema, defaultSchema) {
			key = strings.ToLower(schema) + "." + key
		}
		tables[key] = append(tables[key], column)
	}
	if err := rows.Err(); err != nil {
		return policy.Schema{}, fmt.Errorf("iterate columns: %w", err)
	}
	return policy.NewSchema(tables), nil
}
