// Package config resolves the settings shared by the library CLI and the
// seed tool from library.yaml, LIBRARY_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"library-registry/library"
)

const (
	configFileName = "library"
	configFileType = "yaml"
	envPrefix      = "LIBRARY"

	cfgKeyDBPath      = "db_path"
	cfgKeyOwner       = "owner"
	cfgKeyReaddPolicy = "readd_policy"
	cfgKeyLogLevel    = "log_level"
	cfgKeyMember      = "member"

	// Flags bound to keys when the flag set defines them.
	flagDB          = "db"
	flagAs          = "as"
	flagOwner       = "owner"
	flagReaddPolicy = "readd-policy"

	defaultDBPath      = "library.db"
	defaultOwner       = "admin"
	defaultReaddPolicy = "overwrite"
	defaultLogLevel    = "warn"
)

// Config is the resolved configuration for one run.
type Config struct {
	DBPath      string
	Owner       library.Identity
	ReaddPolicy library.ReaddPolicy
	LogLevel    slog.Level
	// Member is who state-changing commands act as when --as is not given.
	// Empty means the owner.
	Member library.Identity
}

// Load reads library.yaml (from configFile when set, else the working
// directory), LIBRARY_* environment variables and the bound flags. A missing
// config file is not an error.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetDefault(cfgKeyDBPath, defaultDBPath)
	v.SetDefault(cfgKeyOwner, defaultOwner)
	v.SetDefault(cfgKeyReaddPolicy, defaultReaddPolicy)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetDefault(cfgKeyMember, "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range map[string]string{
			flagDB:          cfgKeyDBPath,
			flagAs:          cfgKeyMember,
			flagOwner:       cfgKeyOwner,
			flagReaddPolicy: cfgKeyReaddPolicy,
		} {
			f := flags.Lookup(flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	policy, err := library.ParseReaddPolicy(v.GetString(cfgKeyReaddPolicy))
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(cfgKeyLogLevel))); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	owner := strings.TrimSpace(v.GetString(cfgKeyOwner))
	if owner == "" {
		return nil, errors.New("owner must not be empty")
	}

	return &Config{
		DBPath:      v.GetString(cfgKeyDBPath),
		Owner:       library.Identity(owner),
		ReaddPolicy: policy,
		LogLevel:    level,
		Member:      library.Identity(strings.TrimSpace(v.GetString(cfgKeyMember))),
	}, nil
}

// NewLogger builds the stderr text logger at level.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
