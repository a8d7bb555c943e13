package main

import (
	"fmt"
	"os"

	"composer/api/internal/config"
	"composer/api/internal/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
	log        zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "composer-api",
	Short: "Page composition API for template and page region editing",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			cfg = config.Load()
		} else {
			loaded, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		log = logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
		return nil
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var rollbackSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations, or roll back with --rollback",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context(), rollbackSteps)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables override it)")
	migrateCmd.Flags().IntVar(&rollbackSteps, "rollback", 0, "Roll back this many applied migrations instead of migrating up")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
