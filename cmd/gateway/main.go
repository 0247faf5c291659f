// Package main is the entry point for the gateway binary: it serves the
// HTTP API, validates statements offline and manages the audit store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duck-gateway/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// errRejected signals a rejected statement; the verdict is already printed.
var errRejected = errors.New("statement rejected")

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Guarded SQL gateway for DuckDB",
		Long:          "Validates, executes and audits SQL submitted to a DuckDB engine under an allowlist policy.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newAuditCmd())
	return rootCmd
}
