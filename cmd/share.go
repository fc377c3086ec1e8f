package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicholasgasior/datashare/internal/cli"
	"github.com/nicholasgasior/datashare/internal/sharing"
	"github.com/nicholasgasior/datashare/internal/store"
)

// shareResult is the JSON representation of a share command outcome.
type shareResult struct {
	Command  string `json:"command"`
	ShareURI string `json:"share_uri"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// runShareCommand wraps a share lifecycle operation with audit logging and
// output handling shared by every share subcommand.
func runShareCommand(cmd *cobra.Command, name, shareURI string, fn func(context.Context, *deps) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d := depsFromContext(ctx)
	if d == nil {
		return fmt.Errorf("dependencies not configured")
	}

	if err := d.audit.LogCommand(name, shareURI, d.caller.ARN); err != nil {
		d.logger.Warn("audit log write failed", "error", err)
	}

	runErr := fn(ctx, d)

	cliCtx := cli.FromContext(ctx)
	if cliCtx != nil && cliCtx.JSON {
		result := shareResult{Command: name, ShareURI: shareURI, Status: "ok"}
		if runErr != nil {
			result.Status = "failed"
			result.Error = describeError(shareURI, runErr)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if runErr != nil {
			return silentExitError{}
		}
		return nil
	}

	if runErr != nil {
		return errors.New(describeError(shareURI, runErr))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, shareURI)
	return nil
}

// describeError maps well-known failures to operator-friendly messages.
func describeError(shareURI string, err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("share %s not found", shareURI)
	case errors.Is(err, sharing.ErrLockNotAcquired):
		return fmt.Sprintf("dataset is locked by another share operation: %v", err)
	default:
		return err.Error()
	}
}

func newSubmitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <share-uri>",
		Short: "Submit a draft share request for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "submit", args[0], func(ctx context.Context, d *deps) error {
				return d.service.SubmitShare(ctx, args[0])
			})
		},
	}
}

func newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <share-uri>",
		Short: "Approve a submitted share request",
		Long:  "Approve a submitted share request. Grants are applied afterwards with `datashare process`.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "approve", args[0], func(ctx context.Context, d *deps) error {
				return d.service.ApproveRequest(ctx, args[0])
			})
		},
	}
}

func newRejectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <share-uri>",
		Short: "Reject a submitted share request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "reject", args[0], func(ctx context.Context, d *deps) error {
				return d.service.RejectRequest(ctx, args[0])
			})
		},
	}
}

func newRevokeCommand() *cobra.Command {
	var items []string
	cmd := &cobra.Command{
		Use:   "revoke <share-uri>",
		Short: "Flag shared items for revocation",
		Long:  "Flag shared items for revocation. Without --item, every successfully shared item is flagged. Grants are removed afterwards with `datashare process-revoke`.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCommand(cmd, "revoke", args[0], func(ctx context.Context, d *deps) error {
				return d.service.RequestRevoke(ctx, args[0], items)
			})
		},
	}
	cmd.Flags().StringSliceVar(&items, "item", nil, "Item URI to revoke (repeatable; default all shared items)")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <share-uri>",
		Short: "Delete a share request with no live grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := cli.FromCommand(cmd)
			if cliCtx == nil || !cliCtx.Yes {
				return fmt.Errorf("refusing to delete share %s without --yes", args[0])
			}
			return runShareCommand(cmd, "delete", args[0], func(ctx context.Context, d *deps) error {
				return d.service.DeleteShare(ctx, args[0])
			})
		},
	}
}
