package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-skyport/internal/auth"
	"github.com/joshp123/gohome-skyport/internal/config"
	"github.com/joshp123/gohome-skyport/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "gohome",
	Short:         "GoHome server for Daikin Skyport thermostats",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides core.log_level)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(manifestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logr.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, logging.Init(logLevel), err
	}
	level := cfg.Core.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return cfg, logging.Init(level), nil
}

// blobStore returns the configured state mirror, or nil without a blob section.
func blobStore(cfg *config.BlobConfig) (auth.BlobStore, error) {
	store, err := auth.NewS3Store(cfg)
	if err != nil || store == nil {
		return nil, err
	}
	return store, nil
}
