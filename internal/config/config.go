// Package config manages worker settings stored in ~/.config/datashare/config.toml.
// Config stores only local settings (region, database URL, pivot role name).
// The share database and AWS are the source of truth for all share state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds worker settings from ~/.config/datashare/config.toml.
// All fields use flat snake_case TOML keys.
type Config struct {
	Region           string `mapstructure:"region"             toml:"region"`
	DatabaseURL      string `mapstructure:"database_url"       toml:"database_url"`
	PivotRoleName    string `mapstructure:"pivot_role_name"    toml:"pivot_role_name"`
	ResourcePrefix   string `mapstructure:"resource_prefix"    toml:"resource_prefix"`
	AlarmTopicARN    string `mapstructure:"alarm_topic_arn"    toml:"alarm_topic_arn"`
	EnvironmentName  string `mapstructure:"environment_name"   toml:"environment_name"`
	LockMaxAttempts  int    `mapstructure:"lock_max_attempts"  toml:"lock_max_attempts"`
	LockRetrySeconds int    `mapstructure:"lock_retry_seconds" toml:"lock_retry_seconds"`
}

// validator is a function that validates a string value for a config key.
type validator func(value string) error

// validators maps config keys to their validation functions.
var validators = map[string]validator{
	"region":             validateRegion,
	"database_url":       validateDatabaseURL,
	"pivot_role_name":    validateNonEmpty("pivot_role_name"),
	"resource_prefix":    validateResourcePrefix,
	"alarm_topic_arn":    validateAlarmTopicARN,
	"environment_name":   func(string) error { return nil },
	"lock_max_attempts":  validatePositiveInt,
	"lock_retry_seconds": validateNonNegativeInt,
}

// ValidKeys returns the sorted list of valid config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(validators))
	for k := range validators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultConfigDir returns the default config directory path
// (~/.config/datashare). If DATASHARE_CONFIG_DIR is set, that value is
// used instead.
func DefaultConfigDir() string {
	if dir := os.Getenv("DATASHARE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "datashare")
	}
	return filepath.Join(home, ".config", "datashare")
}

// Load reads the config file from configDir/config.toml and returns a Config
// with defaults applied for any missing keys. If the file does not exist,
// all defaults are returned without error.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("region", "")
	v.SetDefault("database_url", "")
	v.SetDefault("pivot_role_name", "datasharePivotRole")
	v.SetDefault("resource_prefix", "datashare")
	v.SetDefault("alarm_topic_arn", "")
	v.SetDefault("environment_name", "")
	v.SetDefault("lock_max_attempts", 10)
	v.SetDefault("lock_retry_seconds", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to configDir/config.toml, creating the directory
// if it does not exist.
func Save(cfg *Config, configDir string) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.Set("region", cfg.Region)
	v.Set("database_url", cfg.DatabaseURL)
	v.Set("pivot_role_name", cfg.PivotRoleName)
	v.Set("resource_prefix", cfg.ResourcePrefix)
	v.Set("alarm_topic_arn", cfg.AlarmTopicARN)
	v.Set("environment_name", cfg.EnvironmentName)
	v.Set("lock_max_attempts", cfg.LockMaxAttempts)
	v.Set("lock_retry_seconds", cfg.LockRetrySeconds)

	path := filepath.Join(configDir, "config.toml")
	if err := v.WriteConfigAs(path); err != nil {
		return err
	}
	// The database URL may carry credentials.
	return os.Chmod(path, 0o600)
}

// Set validates and applies a single key-value pair to the config.
// Returns an error if the key is unknown or the value fails validation.
func (c *Config) Set(key, value string) error {
	validate, ok := validators[key]
	if !ok {
		return fmt.Errorf("unknown config key %q; valid keys: %s", key, strings.Join(ValidKeys(), ", "))
	}

	if err := validate(value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	switch key {
	case "region":
		c.Region = value
	case "database_url":
		c.DatabaseURL = value
	case "pivot_role_name":
		c.PivotRoleName = value
	case "resource_prefix":
		c.ResourcePrefix = value
	case "alarm_topic_arn":
		c.AlarmTopicARN = value
	case "environment_name":
		c.EnvironmentName = value
	case "lock_max_attempts":
		n, _ := strconv.Atoi(value) // already validated
		c.LockMaxAttempts = n
	case "lock_retry_seconds":
		n, _ := strconv.Atoi(value) // already validated
		c.LockRetrySeconds = n
	}

	return nil
}

// regionPattern matches valid AWS region formats like us-west-2, eu-central-1.
var regionPattern = regexp.MustCompile(`^[a-z]{2}-[a-z]+-\d+$`)

func validateRegion(value string) error {
	if value == "" {
		return nil // empty falls back to the SDK default chain
	}
	if !regionPattern.MatchString(value) {
		return fmt.Errorf("%q does not match AWS region format (e.g., us-west-2)", value)
	}
	return nil
}

func validateDatabaseURL(value string) error {
	if value == "" {
		return nil // empty selects the in-memory store
	}
	if !strings.HasPrefix(value, "postgres://") && !strings.HasPrefix(value, "postgresql://") {
		return fmt.Errorf("%q is not a postgres:// URL", value)
	}
	return nil
}

// resourcePrefixPattern keeps generated IAM policy names within AWS naming
// rules: lowercase alphanumerics and hyphens, starting with a letter.
var resourcePrefixPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

func validateResourcePrefix(value string) error {
	if value == "" {
		return fmt.Errorf("resource_prefix cannot be empty")
	}
	if len(value) > 30 {
		return fmt.Errorf("must be <= 30 characters (got %d)", len(value))
	}
	if !resourcePrefixPattern.MatchString(value) {
		return fmt.Errorf("%q must be lowercase alphanumerics and hyphens, starting with a letter", value)
	}
	return nil
}

func validateAlarmTopicARN(value string) error {
	if value == "" {
		return nil // empty disables alarm publishing
	}
	if !strings.HasPrefix(value, "arn:aws:sns:") && !strings.HasPrefix(value, "arn:aws-us-gov:sns:") && !strings.HasPrefix(value, "arn:aws-cn:sns:") {
		return fmt.Errorf("%q is not an SNS topic ARN", value)
	}
	return nil
}

func validateNonEmpty(key string) validator {
	return func(value string) error {
		if value == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
		return nil
	}
}

func validatePositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%q is not a valid integer", value)
	}
	if n < 1 {
		return fmt.Errorf("must be >= 1 (got %d)", n)
	}
	return nil
}

func validateNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%q is not a valid integer", value)
	}
	if n < 0 {
		return fmt.Errorf("must be >= 0 (got %d)", n)
	}
	return nil
}
