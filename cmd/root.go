// Package cmd provides the datashare CLI commands. Each share lifecycle
// operation is a subcommand taking a share URI; the heavy lifting lives in
// internal/sharing.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nicholasgasior/datashare/internal/cli"
)

// NewRootCommand creates and returns the root cobra command with all global
// persistent flags registered. Subcommands are attached here.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "datashare",
		Short:         "Orchestrate cross-account dataset sharing on AWS",
		Long:          "Orchestrate cross-account sharing of S3 buckets, folders and Glue tables between AWS accounts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := cli.NewCLIContext(cmd)
			ctx := cli.WithContext(context.Background(), cliCtx)

			if commandNeedsDeps(cmd.Name()) {
				d, err := initDeps(ctx, cliCtx)
				if err != nil {
					return err
				}
				ctx = contextWithDeps(ctx, d)
			}

			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if d := depsFromContext(cmd.Context()); d != nil {
				d.close()
			}
		},
	}

	rootCmd.PersistentFlags().Bool("verbose", false, "Show processing steps")
	rootCmd.PersistentFlags().Bool("debug", false, "Show AWS SDK call details")
	rootCmd.PersistentFlags().Bool("json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().Bool("yes", false, "Skip confirmation on destructive operations")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newApproveCommand())
	rootCmd.AddCommand(newRejectCommand())
	rootCmd.AddCommand(newRevokeCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newProcessRevokeCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newReapplyCommand())

	return rootCmd
}

// commandNeedsDeps returns true if the command requires the full dependency
// graph (config, database, AWS clients). Commands that operate locally
// (version, config, help) return false.
func commandNeedsDeps(cmdName string) bool {
	switch cmdName {
	case "version", "config", "set", "help":
		return false
	default:
		return true
	}
}

// Execute creates the root command and runs it. Called from main.
func Execute() error {
	return NewRootCommand().Execute()
}
