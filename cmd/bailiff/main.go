// ABOUTME: Entry point for the bailiff host server
// ABOUTME: Serves the tag game to migrating units and reports its residents

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/gotag/internal/config"
	"github.com/2389/gotag/internal/logging"
	"github.com/2389/gotag/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
 _           _ _ _  __  __
| |__   __ _(_) (_)/ _|/ _|
| '_ \ / _' | | | | |_| |_
| |_) | (_| | | | |  _|  _|
|_.__/ \__,_|_|_|_|_| |_|
`

var configPath string

// getConfigPath returns the path to the bailiff config file.
// Priority: --config flag > GOTAG_CONFIG env var > XDG_CONFIG_HOME/gotag/bailiff.yaml > ~/.config/gotag/bailiff.yaml
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("GOTAG_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bailiff.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gotag", "bailiff.yaml")
}

var rootCmd = &cobra.Command{
	Use:           "bailiff",
	Short:         "Host migrating units in the tag game",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bailiff server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check bailiff health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runHealth(cmd.Context())
	},
}

var residentsCmd = &cobra.Command{
	Use:   "residents",
	Short: "List units resident on this bailiff",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runResidents(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to bailiff config (default $GOTAG_CONFIG or ~/.config/gotag/bailiff.yaml)")
	rootCmd.AddCommand(serveCmd, healthCmd, residentsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	path := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s (advertised as %s)\n", cfg.Server.GRPCAddr, cfg.Server.AdvertiseAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Lookup:    %s (lease %s)\n", cfg.Lookup.Addr, cfg.Lookup.Lease)
	green.Print("    ▶ ")
	fmt.Printf("Evasion:   %s\n", cfg.Player.Evasion)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	srv, err := server.New(cfg, logger, server.Options{})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	logger.Info("starting bailiff",
		"config", path,
		"host_id", srv.Bailiff().ID(),
		"name", srv.Bailiff().Name(),
	)

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runResidents(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/residents", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing residents failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing residents failed: status %d", resp.StatusCode)
	}

	var body server.ResidentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	color.New(color.Bold).Printf("%s ", body.Name)
	color.New(color.FgHiBlack).Printf("(%s)\n", body.HostID)
	if len(body.Residents) == 0 {
		fmt.Println("  no residents")
		return nil
	}
	for _, r := range body.Residents {
		printResident(r.ID, r.Tagged, r.Migrating, r.Phase)
	}
	return nil
}

func printResident(id string, tagged, migrating bool, phase string) {
	fmt.Printf("  %s  %-14s", id, phase)
	if tagged {
		color.New(color.FgRed, color.Bold).Print(" IT")
	}
	if migrating {
		color.New(color.FgYellow).Print(" (migrating)")
	}
	fmt.Println()
}
