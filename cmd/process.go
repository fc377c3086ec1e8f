package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newProcessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process <share-uri>",
		Short: "Apply the grants of an approved share",
		Long:  "Apply the grants of an approved share: folders first, then buckets, then tables. Items that fail are marked unhealthy and the rest continue.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "process", args[0], func(ctx context.Context, d *deps) error {
				return d.service.ApproveShare(ctx, args[0])
			})
		},
	}
}

func newProcessRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process-revoke <share-uri>",
		Short: "Remove the grants of items flagged for revocation",
		Long:  "Remove the grants of items flagged for revocation and clean up access points, resource links and shared databases no share still needs.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "process-revoke", args[0], func(ctx context.Context, d *deps) error {
				return d.service.RevokeShare(ctx, args[0])
			})
		},
	}
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <share-uri>",
		Short: "Check the grants of shared items and record their health",
		Long:  "Check that every successfully shared item still has its grants in place. Findings are recorded as item health; nothing is changed on AWS.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "verify", args[0], func(ctx context.Context, d *deps) error {
				return d.service.VerifyShare(ctx, args[0])
			})
		},
	}
}

func newReapplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reapply <share-uri>",
		Short: "Re-apply grants for items flagged for repair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "reapply", args[0], func(ctx context.Context, d *deps) error {
				return d.service.ReapplyShare(ctx, args[0])
			})
		},
	}
}
