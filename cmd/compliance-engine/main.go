// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the compliance-engine CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/internal/secrets"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// secretsDir holds one file per API key.
const secretsDir = ".secrets/"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the compliance-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "compliance-engine",
	Short: "Extract testable compliance requirements from regulatory documents",
	Long: `compliance-engine turns pre-chunked regulatory text into typed, grounded,
confidence-scored requirements. A run batches fragments, calls the language
model, validates and repairs the output, scores and filters it, evaluates the
result, and routes it through a confidence gate (accept, human_review, reject).

Runs can be stored in a local SQLite database for search and export.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(secretsDir)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./compliance-engine.yaml or ~/.config/compliance-engine/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().String("store-dir", "", "requirement store directory (holds compliance.db)")
	bindFlag(rootCmd.PersistentFlags().Lookup("log-level"), "log.level")
	bindFlag(rootCmd.PersistentFlags().Lookup("log-format"), "log.format")
	bindFlag(rootCmd.PersistentFlags().Lookup("store-dir"), "store.dir")
	setFlagDefaults(types.DefaultPipelineConfig())
}

// setFlagDefaults registers defaults for every flag-bound key. Viper falls
// back to a bound flag's own default last, so these keep an unset flag from
// blanking the built-in configuration.
func setFlagDefaults(d types.PipelineConfig) {
	viper.SetDefault("extraction.provider", d.Extraction.Provider)
	viper.SetDefault("extraction.model", d.Extraction.Model)
	viper.SetDefault("store.dir", d.Store.Dir)
	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("compliance-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "compliance-engine"))
		}
	}

	viper.SetEnvPrefix("COMPLIANCE_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Unmarshal only sees env values for keys viper already knows about.
	_ = viper.BindEnv("extraction.api_key")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig returns the defaults overlaid with the config file, the
// environment and bound flags.
func loadConfig() (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return types.PipelineConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg types.LogConfig) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{Level: cfg.Level, Format: cfg.Format})
}

// apiKey returns the configured key, falling back to .secrets/.
func apiKey(ai types.AIConfig) (string, error) {
	if ai.APIKey != "" {
		return ai.APIKey, nil
	}
	return secrets.KeyFor(loadedSecrets, ai.Provider)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
