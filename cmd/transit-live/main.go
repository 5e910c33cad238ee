package main

import (
	"os"

	"github.com/agentuity/transit-live/config"
	"github.com/agentuity/transit-live/env"
	"github.com/agentuity/transit-live/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "transit-live",
	Short:         "Live Berlin public transport departures and vehicle positions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("env-file", "", "path to a dotenv file (default .env, or TRANSIT_ENV_FILE)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console or json)")
	rootCmd.AddCommand(serveCmd, cacheCheckCmd)
}

// loadConfig resolves the settings for cmd and returns a logger honoring them.
func loadConfig(cmd *cobra.Command) (*config.Config, logger.Logger) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile := env.FlagOrEnv(cmd, "env-file", "TRANSIT_ENV_FILE", ".env")
	cfg, err := config.Load(configFile, envFile, nil)
	if err == nil {
		err = cfg.ApplyFlags(cmd)
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		env.NewLogger(cmd).Fatal("invalid configuration: %s", err)
	}
	return cfg, logger.New(cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		env.NewLogger(rootCmd).Error("%s", err)
		os.Exit(1)
	}
}
