// cmd/omnidrive-migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/nadalpiantini/omnidrive/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "omnidrive-migrate"}

func dsn(cmd *cobra.Command) (string, error) {
	if connStr, _ := cmd.Flags().GetString("db"); connStr != "" {
		return connStr, nil
	}
	// Loads .env and OMNIDRIVE_JOBS_DSN / DATABASE_URL the same way the CLI does.
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Jobs.DSN == "" {
		return "", fmt.Errorf("--db flag, jobs.dsn or DATABASE_URL required")
	}
	return cfg.Jobs.DSN, nil
}

func newMigrate(cmd *cobra.Command) *migrate.Migrate {
	connStr, err := dsn(cmd)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	source, _ := cmd.Flags().GetString("path")
	m, err := migrate.New("file://"+source, connStr)
	if err != nil {
		fmt.Printf("Failed to initialize migrations: %v\n", err)
		os.Exit(1)
	}
	return m
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending job store migrations",
	Run: func(cmd *cobra.Command, args []string) {
		m := newMigrate(cmd)
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last job store migration",
	Run: func(cmd *cobra.Command, args []string) {
		m := newMigrate(cmd)
		if err := m.Steps(-1); err != nil {
			fmt.Printf("Failed to roll back migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Rolled back one migration")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Run: func(cmd *cobra.Command, args []string) {
		m := newMigrate(cmd)
		v, dirty, err := m.Version()
		if err == migrate.ErrNilVersion {
			fmt.Println("No migrations applied")
			return
		}
		if err != nil {
			fmt.Printf("Failed to read version: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Version %d (dirty: %t)\n", v, dirty)
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (defaults to jobs.dsn / DATABASE_URL)")
	rootCmd.PersistentFlags().String("config", "", "OmniDrive config file")
	rootCmd.PersistentFlags().String("path", "migrations", "Directory holding the SQL migrations")
	rootCmd.AddCommand(upCmd, downCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
