package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/herd/pkg/engine"
)

// Exit codes returned by the herd binary.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitHostsFailed = 2
)

// globalOptions holds the persistent flags and build information.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool
	noColor    bool

	version   string
	commit    string
	buildDate string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(&globalOptions{
		version:   version,
		commit:    commit,
		buildDate: buildDate,
	})
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to the process exit code. Runs where some
// hosts failed exit with ExitHostsFailed.
func ExitCode(err error) int {
	var aggErr *engine.AggregatedError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &aggErr):
		return ExitHostsFailed
	default:
		return ExitError
	}
}

func newRootCommand(g *globalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "herd",
		Short: "herd - run tasks across an inventory of hosts",
		Long: `herd runs tasks concurrently across an inventory of hosts.

Hosts inherit data from groups and defaults, are selected with filter
expressions, Starlark or rego policies, and are reached over SSH.
Runs can be recorded to a SQLite history and resumed on the hosts that
failed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", g.version, g.commit, g.buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newInventoryCommand(g))
	rootCmd.AddCommand(newRunCommand(g))
	rootCmd.AddCommand(newUploadCommand(g))
	rootCmd.AddCommand(newFactsCommand(g))
	rootCmd.AddCommand(newHistoryCommand(g))
	rootCmd.AddCommand(newVersionCommand(g))

	return rootCmd
}

func newVersionCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd.OutOrStdout(), g)
		},
	}
}

func printVersion(w io.Writer, g *globalOptions) error {
	if g.jsonOutput {
		return writeJSON(w, map[string]string{
			"version":    g.version,
			"commit":     g.commit,
			"build_date": g.buildDate,
		})
	}
	_, err := fmt.Fprintf(w, "herd %s\n  commit: %s\n  built:  %s\n", g.version, g.commit, g.buildDate)
	return err
}
