// ABOUTME: Entry point for the tag-lookup directory service
// ABOUTME: Holds leased bailiff registrations that units query to find hosts

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/gotag/internal/config"
	"github.com/2389/gotag/internal/logging"
	"github.com/2389/gotag/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "tag-lookup",
	Short:         "Directory of bailiffs for the tag game",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lookup service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to lookup config (default $GOTAG_LOOKUP_CONFIG)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, or falls back to defaults on
// 127.0.0.1:4160 when none is given.
func loadConfig() (*config.LookupConfig, string, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("GOTAG_LOOKUP_CONFIG")
	}
	if path == "" {
		cfg := &config.LookupConfig{
			Server:   config.ServerConfig{GRPCAddr: config.DefaultLookupAddr, HTTPAddr: "127.0.0.1:4180"},
			Database: config.DatabaseConfig{Path: ":memory:"},
			Registry: config.RegistryConfig{MaxLease: config.DefaultMaxLease, SweepInterval: config.DefaultSweep},
		}
		return cfg, "(defaults)", nil
	}

	cfg, err := config.LoadLookup(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Println("\n    tag-lookup")
	gray.Printf("    version: %s\n\n", version)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	if cfg.Server.HTTPAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Max lease: %s\n\n", cfg.Registry.MaxLease)

	ls, err := server.NewLookup(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating lookup: %w", err)
	}
	return ls.Run(ctx)
}
