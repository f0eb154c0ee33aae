package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpmux/proxy/pkg/mcperr"
)

// Exit codes, generalized from the teacher's auth-required/auth-failed
// scheme (cmd/root.go) to this proxy's own fatal-startup classes.
const (
	ExitCodeSuccess        = 0
	ExitCodeError          = 1
	ExitCodeConfigError    = 2
	ExitCodeBindError      = 3
	ExitCodeCAError        = 4
)

var rootCmd = &cobra.Command{
	Use:          "mcpmux",
	Short:        "Multiplex multiple MCP backends behind one namespaced front end",
	Long:         `mcpmux aggregates several Model Context Protocol backends behind one front-end connection, translating between protocol revisions, tracking which backend contexts contributed to which upstream responses, and optionally intercepting outbound LLM API traffic for attribution.`,
	SilenceUsage: true,
}

// SetVersion injects the build-time version into the root command.
func SetVersion(v string) { rootCmd.Version = v }

// Execute runs the CLI, exiting with a semantic code derived from the
// returned error's mcperr.Kind.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpmux version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var mcpErr *mcperr.Error
	if errors.As(err, &mcpErr) {
		switch mcpErr.Kind {
		case mcperr.KindConfig:
			return ExitCodeConfigError
		case mcperr.KindTransport:
			return ExitCodeBindError
		case mcperr.KindCapture:
			return ExitCodeCAError
		}
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpmux version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpmux version %s\n", rootCmd.Version)
			return nil
		},
	}
}
