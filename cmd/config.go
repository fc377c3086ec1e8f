package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nicholasgasior/datashare/internal/cli"
	"github.com/nicholasgasior/datashare/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Display current configuration",
		Long:  "Display all datashare configuration values. Uses ~/.config/datashare/config.toml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := config.DefaultConfigDir()
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			cliCtx := cli.FromCommand(cmd)
			if cliCtx != nil && cliCtx.JSON {
				return printConfigJSON(cmd, cfg)
			}

			return printConfigHuman(cmd, cfg)
		},
	}

	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Validate and persist a single configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := config.DefaultConfigDir()
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}

			if err := config.Save(cfg, configDir); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func printConfigJSON(cmd *cobra.Command, cfg *config.Config) error {
	data := map[string]any{
		"region":             cfg.Region,
		"database_url":       cfg.DatabaseURL,
		"pivot_role_name":    cfg.PivotRoleName,
		"resource_prefix":    cfg.ResourcePrefix,
		"alarm_topic_arn":    cfg.AlarmTopicARN,
		"environment_name":   cfg.EnvironmentName,
		"lock_max_attempts":  cfg.LockMaxAttempts,
		"lock_retry_seconds": cfg.LockRetrySeconds,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printConfigHuman(cmd *cobra.Command, cfg *config.Config) error {
	w := cmd.OutOrStdout()

	region := cfg.Region
	if region == "" {
		region = "(not set)"
	}
	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		dbURL = "(not set, in-memory store)"
	}
	topic := cfg.AlarmTopicARN
	if topic == "" {
		topic = "(not set, alarms disabled)"
	}

	_, err := fmt.Fprintf(w,
		"region             %s\n"+
			"database_url       %s\n"+
			"pivot_role_name    %s\n"+
			"resource_prefix    %s\n"+
			"alarm_topic_arn    %s\n"+
			"environment_name   %s\n"+
			"lock_max_attempts  %d\n"+
			"lock_retry_seconds %d\n",
		region,
		dbURL,
		cfg.PivotRoleName,
		cfg.ResourcePrefix,
		topic,
		cfg.EnvironmentName,
		cfg.LockMaxAttempts,
		cfg.LockRetrySeconds,
	)
	return err
}
