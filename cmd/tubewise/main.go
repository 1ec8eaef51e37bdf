package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tubewise/tubewise/config"
	srv "github.com/tubewise/tubewise/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "tubewise"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (json)")

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			if err := cfg.OpenAI.Validate(); err != nil {
				return err
			}
			return srv.Run(cfg)
		},
	}

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, migrate)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
