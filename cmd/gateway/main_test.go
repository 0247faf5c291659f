package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-gateway/internal/db"
	"duck-gateway/internal/db/repository"
	"duck-gateway/internal/domain"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	t.Setenv("POLICY_PATH", "")

	tests := []struct {
		name    string
		stdin   string
		args    []string
		outcome string
		code    string
	}{
		{"accepted arg", "", []string{"SELECT county FROM county_population LIMIT 5000"}, domain.OutcomeAccepted, ""},
		{"accepted stdin", "SELECT state, year FROM county_population\n", nil, domain.OutcomeAccepted, ""},
		{"wildcard", "", []string{"SELECT * FROM county_population"}, domain.OutcomeRejected, "wildcard"},
		{"unknown table", "", []string{"SELECT name FROM secrets"}, domain.OutcomeRejected, "table_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.stdin, append([]string{"validate"}, tt.args...)...)
			var v verdict
			require.NoError(t, json.Unmarshal([]byte(out), &v), out)
			assert.Equal(t, tt.outcome, string(v.Outcome))
			assert.Equal(t, tt.code, v.Code)
			if tt.outcome == domain.OutcomeAccepted {
				require.NoError(t, err)
				assert.Contains(t, v.SanitizedSQL, "LIMIT 1000")
				assert.Equal(t, []string{"county_population"}, v.Tables)
			} else {
				assert.ErrorIs(t, err, errRejected)
				assert.Empty(t, v.SanitizedSQL)
			}
		})
	}
}

func TestValidate_NoInput(t *testing.T) {
	t.Setenv("POLICY_PATH", "")
	_, err := run(t, "  ", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no statement")
}

func seedAuditStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.sqlite")
	writeDB, readDB, err := db.OpenAuditStore(path)
	require.NoError(t, err)
	defer writeDB.Close() //nolint:errcheck
	defer readDB.Close()  //nolint:errcheck

	repo := repository.NewAuditRepo(writeDB, readDB)
	old := time.Now().Add(-48 * time.Hour)
	for i, rec := range []domain.AuditRecord{
		{ID: "a", CreatedAt: old, Kind: domain.RequestDirect, InputText: "SELECT 1", ValidationOutcome: domain.OutcomeAccepted, Success: true},
		{ID: "b", CreatedAt: time.Now(), Kind: domain.RequestDirect, InputText: "SELECT *", ValidationOutcome: domain.OutcomeRejected, ErrorClass: domain.ErrorClassPolicyViolation},
		{ID: "c", CreatedAt: time.Now(), Kind: domain.RequestNaturalLanguage, InputText: "how many?", ValidationOutcome: domain.OutcomeAccepted, Success: true},
	} {
		rec.Sequence = int64(i + 1)
		require.NoError(t, repo.Append(context.Background(), &rec))
	}
	return path
}

func TestAuditList(t *testing.T) {
	path := seedAuditStore(t)

	out, err := run(t, "", "audit", "list", "--db", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "SEQ"))
	assert.True(t, strings.HasPrefix(lines[1], "3"), "newest first")

	out, err = run(t, "", "audit", "list", "--db", path, "--status", "failure", "-o", "json")
	require.NoError(t, err)
	var rec struct {
		ID         string `json:"id"`
		ErrorClass string `json:"error_class"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &rec))
	assert.Equal(t, "b", rec.ID)
	assert.Equal(t, string(domain.ErrorClassPolicyViolation), rec.ErrorClass)

	_, err = run(t, "", "audit", "list", "--db", path, "--status", "sometimes")
	require.Error(t, err)
	_, err = run(t, "", "audit", "list", "--db", filepath.Join(t.TempDir(), "missing.sqlite"))
	require.Error(t, err)
}

func TestAuditPrune(t *testing.T) {
	path := seedAuditStore(t)

	out, err := run(t, "", "audit", "prune", "--db", path, "--older-than", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 records")

	out, err = run(t, "", "audit", "list", "--db", path, "-o", "json")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	_, err = run(t, "", "audit", "prune", "--db", path)
	require.Error(t, err)
}

func TestFilterRecords(t *testing.T) {
	t.Parallel()
	ok := true
	all := []domain.AuditRecord{
		{Sequence: 1, Success: true},
		{Sequence: 2, Success: false},
		{Sequence: 3, Success: true},
	}
	got := filterRecords(all, domain.AuditFilter{Success: &ok})
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].Sequence)
	assert.Equal(t, int64(1), got[1].Sequence)

	got = filterRecords(all, domain.AuditFilter{Limit: 1})
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Sequence)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SELECT a FROM b", truncate("SELECT a\n  FROM b", 60))
	assert.Equal(t, "abcdefg...", truncate(strings.Repeat("abcdefghij", 3), 10))
}

func TestEnumFlag(t *testing.T) {
	t.Parallel()
	f := newEnumFlag("table", "table", "json")
	assert.Equal(t, "table", f.String())
	require.NoError(t, f.Set(" JSON "))
	assert.Equal(t, "json", f.String())
	err := f.Set("yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table, json")
	assert.Equal(t, "json", f.String())
}
