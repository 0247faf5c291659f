package pool

import (
	"context"
	"fmt"
	"strings"
)

// BatchInsert writes rows into table in chunks of batchSize, one
// parameterized multi-row INSERT per chunk, on a high-priority writer.
// Chunks commit independently; a failure returns a *BatchError carrying
// the number of rows already written.
func (p *Pool) BatchInsert(ctx context.Context, table string, columns []string, rows [][]interface{}, batchSize int) (int64, error) {
	if err := checkBatch(table, columns, rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = p.cfg.DefaultBatchSize
	}

	c, err := p.acquire(ctx, RoleWriter, PriorityHigh, p.cfg.WaitTimeout)
	if err != nil {
		return 0, err
	}

	target := quoteQualified(table)
	cols := make([]string, len(columns))
	for i, col := range columns {
		cols[i] = quoteIdent(col)
	}
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", target, strings.Join(cols, ", "))
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var inserted int64
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString(head)
		args := make([]interface{}, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(tuple)
			args = append(args, row...)
		}
		stmt := sb.String()

		_, alive, err := p.execute(ctx, c, p.cfg.QueryTimeout, func(ctx context.Context) (*QueryResult, error) {
			return execStmt(ctx, c.conn, stmt, args)
		})
		if err != nil {
			if alive {
				_ = p.Release(c)
			}
			return inserted, &BatchError{Inserted: inserted, Err: err}
		}
		inserted += int64(len(chunk))
	}

	if err := p.Release(c); err != nil {
		p.logger.Warn("release after batch insert", "connection", c.id, "error", err)
	}
	p.logger.Debug("batch insert complete", "table", table, "rows", inserted)
	return inserted, nil
}

func checkBatch(table string, columns []string, rows [][]interface{}) error {
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidBatch)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", ErrInvalidBatch)
	}
	for _, col := range columns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("%w: empty column name", ErrInvalidBatch)
		}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidBatch, i, len(row), len(columns))
		}
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// quoteQualified quotes each dot-separated part of a table reference.
func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = quoteIdent(part)
	}
	return strings.Join(parts, ".")
}
