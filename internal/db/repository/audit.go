// Package repository implements the audit store ports on SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"duck-gateway/internal/domain"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// AuditRepo persists audit records. Appends go through the single-connection
// write pool; listings use the read pool.
type AuditRepo struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewAuditRepo creates an AuditRepo. readDB may be nil, in which case reads
// share writeDB.
func NewAuditRepo(writeDB, readDB *sql.DB) *AuditRepo {
	if readDB == nil {
		readDB = writeDB
	}
	return &AuditRepo{writeDB: writeDB, readDB: readDB}
}

var (
	_ domain.AuditSink   = (*AuditRepo)(nil)
	_ domain.AuditReader = (*AuditRepo)(nil)
)

// Append implements domain.AuditSink.
func (r *AuditRepo) Append(ctx context.Context, rec *domain.AuditRecord) error {
	tables := rec.TablesAccessed
	if tables == nil {
		tables = []string{}
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}

	_, err = r.writeDB.ExecContext(ctx, `
		INSERT INTO audit_log (
			seq, id, created_at, kind, input_text, candidate_sql, validation_outcome,
			sanitized_sql, tables_accessed, rejection_code, duration_ms, row_count,
			success, error_class, error_detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Sequence, rec.ID, rec.CreatedAt.UTC().Format(timeLayout), string(rec.Kind),
		rec.InputText, rec.CandidateSQL, rec.ValidationOutcome,
		nullString(rec.SanitizedSQL), string(tablesJSON), nullString(rec.RejectionCode),
		rec.DurationMs, nullInt64(rec.RowCount), boolToInt(rec.Success),
		string(rec.ErrorClass), nullString(rec.ErrorDetail),
	)
	return mapDBError(err)
}

// List implements domain.AuditReader. Newest records come first.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Success != nil {
		where = append(where, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}
	if filter.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	q := `SELECT seq, id, created_at, kind, input_text, candidate_sql, validation_outcome,
		sanitized_sql, tables_accessed, rejection_code, duration_ms, row_count,
		success, error_class, error_detail
		FROM audit_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq DESC LIMIT ?"
	args = append(args, filter.EffectiveLimit())

	rows, err := r.readDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count implements domain.AuditReader.
func (r *AuditRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.readDB.QueryRowContext(ctx, `SELECT count(*) FROM audit_log`).Scan(&n)
	return n, err
}

// DeleteOlderThan implements domain.AuditReader. It is the only way rows
// leave the store.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.writeDB.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastSequence returns the highest stored sequence, or 0 for an empty store.
func (r *AuditRepo) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.readDB.QueryRowContext(ctx, `SELECT max(seq) FROM audit_log`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (domain.AuditRecord, error) {
	var (
		rec        domain.AuditRecord
		createdAt  string
		kind       string
		sanitized  sql.NullString
		tablesJSON string
		rejection  sql.NullString
		rowCount   sql.NullInt64
		success    int64
		errClass   string
		errDetail  sql.NullString
	)
	if err := s.Scan(&rec.Sequence, &rec.ID, &createdAt, &kind, &rec.InputText, &rec.CandidateSQL,
		&rec.ValidationOutcome, &sanitized, &tablesJSON, &rejection, &rec.DurationMs, &rowCount,
		&success, &errClass, &errDetail); err != nil {
		return rec, err
	}

	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return rec, fmt.Errorf("audit %s: created_at: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(tablesJSON), &rec.TablesAccessed); err != nil {
		return rec, fmt.Errorf("audit %s: tables_accessed: %w", rec.ID, err)
	}
	rec.CreatedAt = ts
	rec.Kind = domain.RequestKind(kind)
	rec.SanitizedSQL = ptrString(sanitized)
	rec.RejectionCode = ptrString(rejection)
	rec.RowCount = ptrInt64(rowCount)
	rec.Success = success != 0
	rec.ErrorClass = domain.ErrorClass(errClass)
	rec.ErrorDetail = ptrString(errDetail)
	return rec, nil
}
