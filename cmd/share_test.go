package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/nicholasgasior/datashare/internal/alarm"
	"github.com/nicholasgasior/datashare/internal/cli"
	"github.com/nicholasgasior/datashare/internal/identity"
	"github.com/nicholasgasior/datashare/internal/lock"
	"github.com/nicholasgasior/datashare/internal/logging"
	"github.com/nicholasgasior/datashare/internal/retry"
	"github.com/nicholasgasior/datashare/internal/share"
	"github.com/nicholasgasior/datashare/internal/sharing"
	"github.com/nicholasgasior/datashare/internal/store"
)

// stubManagers satisfies sharing.Managers for commands that never touch AWS.
type stubManagers struct{}

func (stubManagers) Bucket(*share.Data, *share.Bucket) sharing.BucketManager { return nil }
func (stubManagers) Folder(*share.Data, *share.StorageLocation) sharing.FolderManager {
	return nil
}
func (stubManagers) Table(*share.Data, *share.Table, *share.DataFilter) sharing.TableManager {
	return nil
}

type cmdFixture struct {
	deps  *deps
	mem   *store.Memory
	share *share.Object
	item  *share.Item
}

func newCmdFixture(t *testing.T) *cmdFixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	mem.PutDataset(&share.Dataset{URI: "ds-1", Name: "sales", AccountID: "111122223333", Region: "eu-west-1", GlueDatabaseName: "sales_db", S3BucketName: "sales-data"})
	mem.PutEnvironment(&share.Environment{URI: "env-src", AccountID: "111122223333", Region: "eu-west-1"})
	mem.PutEnvironment(&share.Environment{URI: "env-tgt", AccountID: "444455556666", Region: "eu-west-1"})
	mem.PutEnvironmentGroup(&share.EnvironmentGroup{GroupURI: "grp-1", EnvURI: "env-tgt", IAMRoleName: "analytics-consumer"})
	mem.PutBucket(&share.Bucket{URI: "bkt-1", DatasetURI: "ds-1", Name: "sales-data"})
	if err := mem.CreateLock(ctx, "ds-1"); err != nil {
		t.Fatalf("CreateLock() error: %v", err)
	}

	obj := share.NewObject("ds-1", "env-src", "env-tgt", "grp-1", "grp-1", share.PrincipalGroup, "analytics-consumer", "dana", []share.Permission{share.PermissionRead})
	if err := mem.CreateShare(ctx, obj); err != nil {
		t.Fatalf("CreateShare() error: %v", err)
	}
	item := share.NewItem(obj.URI, share.KindBucket, "bkt-1", "sales-data")
	if err := mem.CreateItem(ctx, item); err != nil {
		t.Fatalf("CreateItem() error: %v", err)
	}

	logger := hclog.NewNullLogger()
	audit, err := logging.NewAuditLogger(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatalf("NewAuditLogger() error: %v", err)
	}
	t.Cleanup(func() { audit.Close() })

	locks := lock.New(mem, retry.Policy{MaxAttempts: 1}, logger)
	alarms := alarm.New(nil, "", "test", "eu-west-1", logger)
	svc := sharing.New(mem, locks, stubManagers{}, alarms, logger)

	return &cmdFixture{
		deps: &deps{
			service: svc,
			store:   mem,
			caller:  &identity.Caller{Name: "dana", ARN: "arn:aws:iam::444455556666:user/dana", AccountID: "444455556666"},
			audit:   audit,
			logger:  logger,
		},
		mem:   mem,
		share: obj,
		item:  item,
	}
}

// runCommand executes a subcommand the way the root command would: global
// flags on the context, deps injected, args already parsed.
func (f *cmdFixture) runCommand(t *testing.T, c *cobra.Command, cliCtx *cli.CLIContext, args ...string) (string, error) {
	t.Helper()
	if cliCtx == nil {
		cliCtx = &cli.CLIContext{}
	}

	ctx := cli.WithContext(context.Background(), cliCtx)
	ctx = contextWithDeps(ctx, f.deps)
	c.SetContext(ctx)

	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)

	err := c.RunE(c, args)
	return out.String(), err
}

func (f *cmdFixture) shareStatus(t *testing.T) share.ObjectStatus {
	t.Helper()
	obj, err := f.mem.GetShare(context.Background(), f.share.URI)
	if err != nil {
		t.Fatalf("GetShare() error: %v", err)
	}
	return obj.Status
}

func TestSubmitCommandTransitionsShare(t *testing.T) {
	f := newCmdFixture(t)

	out, err := f.runCommand(t, newSubmitCommand(), nil, f.share.URI)
	if err != nil {
		t.Fatalf("submit error: %v", err)
	}
	if !strings.Contains(out, f.share.URI) {
		t.Errorf("output %q should name the share", out)
	}
	if got := f.shareStatus(t); got != share.ObjectSubmitted {
		t.Errorf("share status = %q, want %q", got, share.ObjectSubmitted)
	}
}

func TestApproveAfterSubmit(t *testing.T) {
	f := newCmdFixture(t)

	if _, err := f.runCommand(t, newSubmitCommand(), nil, f.share.URI); err != nil {
		t.Fatalf("submit error: %v", err)
	}
	if _, err := f.runCommand(t, newApproveCommand(), nil, f.share.URI); err != nil {
		t.Fatalf("approve error: %v", err)
	}
	if got := f.shareStatus(t); got != share.ObjectApproved {
		t.Errorf("share status = %q, want %q", got, share.ObjectApproved)
	}
}

func TestApproveDraftFails(t *testing.T) {
	f := newCmdFixture(t)

	_, err := f.runCommand(t, newApproveCommand(), nil, f.share.URI)
	if err == nil {
		t.Fatal("approve on a draft share should fail")
	}
	if !strings.Contains(err.Error(), string(share.ObjectDraft)) {
		t.Errorf("error %q should name the current state", err)
	}
}

func TestRejectAfterSubmit(t *testing.T) {
	f := newCmdFixture(t)

	if _, err := f.runCommand(t, newSubmitCommand(), nil, f.share.URI); err != nil {
		t.Fatalf("submit error: %v", err)
	}
	if _, err := f.runCommand(t, newRejectCommand(), nil, f.share.URI); err != nil {
		t.Fatalf("reject error: %v", err)
	}
	if got := f.shareStatus(t); got != share.ObjectRejected {
		t.Errorf("share status = %q, want %q", got, share.ObjectRejected)
	}
}

func TestUnknownShareReportsNotFound(t *testing.T) {
	f := newCmdFixture(t)

	_, err := f.runCommand(t, newSubmitCommand(), nil, "share-missing")
	if err == nil {
		t.Fatal("submit of unknown share should fail")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error %q should say not found", err)
	}
}

func TestJSONOutputOnFailure(t *testing.T) {
	f := newCmdFixture(t)

	out, err := f.runCommand(t, newSubmitCommand(), &cli.CLIContext{JSON: true}, "share-missing")
	if err == nil {
		t.Fatal("submit of unknown share should fail")
	}
	var silent silentExitError
	if !errors.As(err, &silent) {
		t.Errorf("JSON mode should return silentExitError, got %v", err)
	}

	var result shareResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if result.Status != "failed" {
		t.Errorf("Status = %q, want %q", result.Status, "failed")
	}
	if result.Command != "submit" {
		t.Errorf("Command = %q, want %q", result.Command, "submit")
	}
	if !strings.Contains(result.Error, "not found") {
		t.Errorf("Error = %q, should say not found", result.Error)
	}
}

func TestJSONOutputOnSuccess(t *testing.T) {
	f := newCmdFixture(t)

	out, err := f.runCommand(t, newSubmitCommand(), &cli.CLIContext{JSON: true}, f.share.URI)
	if err != nil {
		t.Fatalf("submit error: %v", err)
	}

	var result shareResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if result.Status != "ok" {
		t.Errorf("Status = %q, want %q", result.Status, "ok")
	}
	if result.ShareURI != f.share.URI {
		t.Errorf("ShareURI = %q, want %q", result.ShareURI, f.share.URI)
	}
}

func TestDeleteRequiresYes(t *testing.T) {
	f := newCmdFixture(t)

	_, err := f.runCommand(t, newDeleteCommand(), &cli.CLIContext{}, f.share.URI)
	if err == nil {
		t.Fatal("delete without --yes should fail")
	}
	if !strings.Contains(err.Error(), "--yes") {
		t.Errorf("error %q should mention --yes", err)
	}

	if _, err := f.runCommand(t, newDeleteCommand(), &cli.CLIContext{Yes: true}, f.share.URI); err != nil {
		t.Fatalf("delete with --yes error: %v", err)
	}
	if got := f.shareStatus(t); got != share.ObjectDeleted {
		t.Errorf("share status = %q, want %q", got, share.ObjectDeleted)
	}
}

func TestMigrateWithoutDatabaseFails(t *testing.T) {
	f := newCmdFixture(t)

	_, err := f.runCommand(t, newMigrateCommand(), nil)
	if err == nil {
		t.Fatal("migrate without database_url should fail")
	}
	if !strings.Contains(err.Error(), "database_url") {
		t.Errorf("error %q should mention database_url", err)
	}
}

func TestCommandsRecordAuditEntries(t *testing.T) {
	f := newCmdFixture(t)
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	audit, err := logging.NewAuditLogger(auditPath)
	if err != nil {
		t.Fatalf("NewAuditLogger() error: %v", err)
	}
	defer audit.Close()
	f.deps.audit = audit

	if _, err := f.runCommand(t, newSubmitCommand(), nil, f.share.URI); err != nil {
		t.Fatalf("submit error: %v", err)
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var entry logging.AuditLogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("audit entry is not valid JSON: %v", err)
	}
	if entry.Command != "submit" {
		t.Errorf("Command = %q, want %q", entry.Command, "submit")
	}
	if entry.ShareURI != f.share.URI {
		t.Errorf("ShareURI = %q, want %q", entry.ShareURI, f.share.URI)
	}
	if entry.CallerARN != f.deps.caller.ARN {
		t.Errorf("CallerARN = %q, want %q", entry.CallerARN, f.deps.caller.ARN)
	}
}
