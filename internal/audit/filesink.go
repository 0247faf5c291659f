package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"duck-gateway/internal/domain"
)

// fileRecord is the JSON-lines layout of an audit record.
type fileRecord struct {
	ID                string   `json:"id"`
	Sequence          int64    `json:"sequence"`
	CreatedAt         string   `json:"created_at"`
	Kind              string   `json:"kind"`
	InputText         string   `json:"input_text,omitempty"`
	CandidateSQL      string   `json:"candidate_sql,omitempty"`
	ValidationOutcome string   `json:"validation_outcome"`
	SanitizedSQL      *string  `json:"sanitized_sql,omitempty"`
	TablesAccessed    []string `json:"tables_accessed,omitempty"`
	RejectionCode     *string  `json:"rejection_code,omitempty"`
	DurationMs        int64    `json:"duration_ms"`
	RowCount          *int64   `json:"row_count,omitempty"`
	Success           bool     `json:"success"`
	ErrorClass        string   `json:"error_class,omitempty"`
	ErrorDetail       *string  `json:"error_detail,omitempty"`
}

func toFileRecord(r *domain.AuditRecord) fileRecord {
	return fileRecord{
		ID:                r.ID,
		Sequence:          r.Sequence,
		CreatedAt:         r.CreatedAt.UTC().Format(time.RFC3339Nano),
		Kind:              string(r.Kind),
		InputText:         r.InputText,
		CandidateSQL:      r.CandidateSQL,
		ValidationOutcome: r.ValidationOutcome,
		SanitizedSQL:      r.SanitizedSQL,
		TablesAccessed:    r.TablesAccessed,
		RejectionCode:     r.RejectionCode,
		DurationMs:        r.DurationMs,
		RowCount:          r.RowCount,
		Success:           r.Success,
		ErrorClass:        string(r.ErrorClass),
		ErrorDetail:       r.ErrorDetail,
	}
}

func (f fileRecord) toDomain() (domain.AuditRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, f.CreatedAt)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("record %s: created_at: %w", f.ID, err)
	}
	return domain.AuditRecord{
		ID:                f.ID,
		Sequence:          f.Sequence,
		CreatedAt:         ts,
		Kind:              domain.RequestKind(f.Kind),
		InputText:         f.InputText,
		CandidateSQL:      f.CandidateSQL,
		ValidationOutcome: f.ValidationOutcome,
		SanitizedSQL:      f.SanitizedSQL,
		TablesAccessed:    f.TablesAccessed,
		RejectionCode:     f.RejectionCode,
		DurationMs:        f.DurationMs,
		RowCount:          f.RowCount,
		Success:           f.Success,
		ErrorClass:        domain.ErrorClass(f.ErrorClass),
		ErrorDetail:       f.ErrorDetail,
	}, nil
}

// FileSink appends records to a JSON-lines file and fsyncs each write.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileSink opens (or creates) path for appending.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileSink{path: path, f: f}, nil
}

// Append implements domain.AuditSink.
func (s *FileSink) Append(ctx context.Context, rec *domain.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(toFileRecord(rec))
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return s.f.Sync()
}

// LastSequence scans the file for the highest sequence written so far.
func (s *FileSink) LastSequence() (int64, error) {
	recs, err := ReadFile(s.path)
	if err != nil {
		return 0, err
	}
	var last int64
	for _, r := range recs {
		if r.Sequence > last {
			last = r.Sequence
		}
	}
	return last, nil
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReadFile decodes every record in a JSON-lines audit file.
func ReadFile(path string) ([]domain.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var out []domain.AuditRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var fr fileRecord
		if err := json.Unmarshal(sc.Bytes(), &fr); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		rec, err := fr.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
