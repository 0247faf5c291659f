package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"duck-gateway/internal/engine"
	"duck-gateway/internal/policy"
	"duck-gateway/internal/validator"
)

// verdict is the JSON printed by validate.
type verdict struct {
	Outcome      validator.Outcome `json:"outcome"`
	SanitizedSQL string            `json:"sanitized_sql,omitempty"`
	Tables       []string          `json:"tables,omitempty"`
	Columns      []string          `json:"columns,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Code         string            `json:"code,omitempty"`
	Reason       string            `json:"reason,omitempty"`
}

func newValidateCmd() *cobra.Command {
	var policyPath string
	cmd := &cobra.Command{
		Use:   "validate [sql]",
		Short: "Validate a statement against the policy without executing it",
		Long: `Validate a statement against the policy without executing it.

The statement is read from the arguments, or from stdin when it is piped.
Without --policy (or POLICY_PATH) the demo policy is used. The exit status is
non-zero when the statement is rejected.`,
		Example: `  gateway validate "SELECT county FROM county_population"
  echo "SELECT * FROM county_population" | gateway validate --policy policy.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("policy") {
				policyPath = os.Getenv("POLICY_PATH")
			}
			doc, err := loadPolicyFile(policyPath)
			if err != nil {
				return err
			}
			sqlText, err := readStatement(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			res := validator.Validate(sqlText, doc, policy.Schema{})
			v := verdict{Outcome: res.Outcome()}
			if rej, ok := res.Rejection(); ok {
				v.Code, v.Reason = rej.Code, rej.Reason
			} else {
				v.SanitizedSQL, v.Tables, v.Columns, v.Limit = res.Sanitized(), res.Tables(), res.Columns(), res.Limit()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(v); err != nil {
				return err
			}
			if !res.Accepted() {
				return errRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy file (default $POLICY_PATH, else the demo policy)")
	return cmd
}

func loadPolicyFile(path string) (*policy.Document, error) {
	if path == "" {
		return policy.New(engine.DemoPolicy())
	}
	return policy.Load(path)
}

// readStatement joins args, or reads in when it is not an interactive
// terminal.
func readStatement(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("no statement given: pass it as an argument or pipe it on stdin")
	}
	data, err := io.ReadAll(io.LimitReader(in, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "", fmt.Errorf("no statement given")
	}
	return s, nil
}
