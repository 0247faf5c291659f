package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"duck-gateway/internal/api"
	"duck-gateway/internal/audit"
	"duck-gateway/internal/db"
	"duck-gateway/internal/db/repository"
	"duck-gateway/internal/domain"
)

func newAuditCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune the audit trail",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite audit store (default $AUDIT_DB_PATH, else gateway_audit.sqlite)")

	resolve := func(cmd *cobra.Command) string {
		if cmd.Flags().Changed("db") {
			return dbPath
		}
		if v := os.Getenv("AUDIT_DB_PATH"); v != "" {
			return v
		}
		return "gateway_audit.sqlite"
	}

	cmd.AddCommand(newAuditListCmd(resolve))
	cmd.AddCommand(newAuditPruneCmd(resolve))
	return cmd
}

func openAuditRepo(path string) (*repository.AuditRepo, func(), error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("audit store %s: %w", path, err)
	}
	writeDB, readDB, err := db.OpenAuditStore(path)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	}
	return repository.NewAuditRepo(writeDB, readDB), closeFn, nil
}

func newAuditListCmd(resolve func(*cobra.Command) string) *cobra.Command {
	var (
		limit int
		file  string
	)
	status := newEnumFlag("", "success", "failure")
	kind := newEnumFlag("", string(domain.RequestNaturalLanguage), string(domain.RequestDirect),
		string(domain.RequestTransaction), string(domain.RequestToolInvocation))
	output := newEnumFlag("table", "table", "json")
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit records, newest first",
		Example: `  gateway audit list --status failure --limit 20
  gateway audit list --file gateway_audit.jsonl -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.AuditFilter{Limit: limit}
			if status.String() != "" {
				ok := status.String() == "success"
				filter.Success = &ok
			}
			if kind.String() != "" {
				k := domain.RequestKind(kind.String())
				filter.Kind = &k
			}

			var records []domain.AuditRecord
			if file != "" {
				all, err := audit.ReadFile(file)
				if err != nil {
					return err
				}
				records = filterRecords(all, filter)
			} else {
				repo, closeFn, err := openAuditRepo(resolve(cmd))
				if err != nil {
					return err
				}
				defer closeFn()
				records, err = repo.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
			}

			if output.String() == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range records {
					if err := enc.Encode(api.NewAuditRecord(r)); err != nil {
						return err
					}
				}
				return nil
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to list (1-1000)")
	cmd.Flags().Var(status, "status", "only success or failure")
	cmd.Flags().Var(kind, "kind", "only natural_language, direct, transaction or tool_invocation")
	cmd.Flags().StringVar(&file, "file", "", "read a JSON-lines audit file instead of the SQLite store")
	cmd.Flags().VarP(output, "output", "o", "output format (table, json)")
	return cmd
}

// filterRecords applies filter to file records, newest first.
func filterRecords(all []domain.AuditRecord, filter domain.AuditFilter) []domain.AuditRecord {
	limit := filter.EffectiveLimit()
	out := make([]domain.AuditRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		r := all[i]
		if filter.Success != nil && r.Success != *filter.Success {
			continue
		}
		if filter.Kind != nil && r.Kind != *filter.Kind {
			continue
		}
		if filter.Since != nil && r.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func printRecords(w io.Writer, records []domain.AuditRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tCREATED\tKIND\tOUTCOME\tSUCCESS\tCLASS\tMS\tINPUT")
	for _, r := range records {
		class := string(r.ErrorClass)
		if class == "" {
			class = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%d\t%s\n",
			r.Sequence, r.CreatedAt.UTC().Format(time.RFC3339), r.Kind, r.ValidationOutcome,
			r.Success, class, r.DurationMs, truncate(r.InputText, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newAuditPruneCmd(resolve func(*cobra.Command) string) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit records older than a retention period",
		Long: `Delete audit records older than a retention period.

The gateway itself never deletes audit records; retention is enforced by
running this command on a schedule.`,
		Example: `  gateway audit prune --older-than 2160h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be a positive duration")
			}
			repo, closeFn, err := openAuditRepo(resolve(cmd))
			if err != nil {
				return err
			}
			defer closeFn()
			cutoff := time.Now().Add(-olderThan)
			n, err := repo.DeleteOlderThan(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records created before %s\n", n, cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention period, e.g. 720h")
	return cmd
}
