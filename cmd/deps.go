// This file defines the shared dependency graph used by PersistentPreRunE
// to initialize config, logging, the share store and AWS clients once and
// share them across subcommands via context.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/nicholasgasior/datashare/internal/alarm"
	"github.com/nicholasgasior/datashare/internal/awsc"
	"github.com/nicholasgasior/datashare/internal/cli"
	"github.com/nicholasgasior/datashare/internal/config"
	"github.com/nicholasgasior/datashare/internal/identity"
	"github.com/nicholasgasior/datashare/internal/lock"
	"github.com/nicholasgasior/datashare/internal/logging"
	"github.com/nicholasgasior/datashare/internal/retry"
	"github.com/nicholasgasior/datashare/internal/sharing"
	"github.com/nicholasgasior/datashare/internal/store"
)

// deps holds the initialized dependency graph for share commands.
// Created once in PersistentPreRunE and stored on the command context.
type deps struct {
	service *sharing.Service
	store   store.Store
	caller  *identity.Caller
	audit   logging.Auditor
	calls   logging.Logger
	logger  hclog.Logger

	pg *store.Postgres // nil when the in-memory store is selected
}

// depsKey is the context key for storing deps.
type depsKey struct{}

// depsFromContext retrieves the deps from the context.
// Returns nil if no deps have been stored.
func depsFromContext(ctx context.Context) *deps {
	d, _ := ctx.Value(depsKey{}).(*deps)
	return d
}

// contextWithDeps returns a new context carrying the given deps.
func contextWithDeps(ctx context.Context, d *deps) context.Context {
	return context.WithValue(ctx, depsKey{}, d)
}

// newLogger builds the hclog logger for the command run. Verbose raises the
// level to Debug, debug raises it to Trace; JSON mode switches the format so
// log lines do not corrupt machine-readable stdout.
func newLogger(cliCtx *cli.CLIContext) hclog.Logger {
	level := hclog.Info
	if cliCtx.Verbose {
		level = hclog.Debug
	}
	if cliCtx.Debug {
		level = hclog.Trace
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "datashare",
		Level:      level,
		JSONFormat: cliCtx.JSON,
	})
}

// initDeps loads the config, opens the log files, resolves the caller
// identity, connects the share store and builds the sharing service with
// AWS-backed managers. Returns a deps struct ready to be stored on the
// command context.
func initDeps(ctx context.Context, cliCtx *cli.CLIContext) (*deps, error) {
	configDir := config.DefaultConfigDir()
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cliCtx)

	calls, err := logging.NewCallLogger(filepath.Join(configDir, "calls.log"), cliCtx.Debug)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	audit, err := logging.NewAuditLogger(filepath.Join(configDir, "audit.log"))
	if err != nil {
		calls.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	var opts []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	opts = append(opts, awscfg.WithAPIOptions([]func(*middleware.Stack) error{awsc.WithCallLogging(calls)}))

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		calls.Close()
		audit.Close()
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	resolver := identity.NewResolver(sts.NewFromConfig(awsCfg))
	caller, err := resolver.Resolve(ctx)
	if err != nil {
		calls.Close()
		audit.Close()
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	logger = logger.With("actor", caller.Name)

	d := &deps{
		caller: caller,
		audit:  audit,
		calls:  calls,
		logger: logger,
	}

	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("connect share database: %w", err)
		}
		d.pg = pg
		d.store = pg
	} else {
		logger.Warn("no database_url configured, using in-memory store")
		d.store = store.NewMemory()
	}

	lockPolicy := retry.Policy{
		MaxAttempts: cfg.LockMaxAttempts,
		Interval:    time.Duration(cfg.LockRetrySeconds) * time.Second,
	}
	locks := lock.New(d.store, lockPolicy, logger)

	alarms := alarm.New(sns.NewFromConfig(awsCfg), cfg.AlarmTopicARN, cfg.EnvironmentName, awsCfg.Region, logger)

	managers := newAWSManagers(awsCfg, caller.AccountID, cfg.PivotRoleName, cfg.ResourcePrefix, logger)

	d.service = sharing.New(d.store, locks, managers, alarms, logger)
	return d, nil
}

// close releases log files and the database handle. Close errors are
// swallowed; the command result has already been decided.
func (d *deps) close() {
	if d.pg != nil {
		_ = d.pg.Close()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	if d.calls != nil {
		_ = d.calls.Close()
	}
}
