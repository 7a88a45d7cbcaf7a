// ABOUTME: Entry point for tagplayer, which creates one unit and launches it into the game
// ABOUTME: Exits once the unit has migrated into a bailiff

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/gotag/internal/agent"
	"github.com/2389/gotag/internal/config"
	"github.com/2389/gotag/internal/discovery"
	"github.com/2389/gotag/internal/logging"
	"github.com/2389/gotag/internal/rpc"
)

var (
	debugFlag  bool
	itFlag     bool
	configFlag string
	lookupFlag string
)

var rootCmd = &cobra.Command{
	Use:   "tagplayer",
	Short: "Launch one unit into the tag game",
	Long: `Create a unit with a fresh identity and migrate it into one of the
bailiffs registered with the lookup service. With --it the unit starts as
"it" and begins chasing as soon as it lands.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&itFlag, "it", false, "start the unit tagged")
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "path to player config (default ~/.config/gotag/player.toml)")
	rootCmd.Flags().StringVar(&lookupFlag, "lookup", "", "lookup service address (overrides config)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// defaultConfigPath returns XDG_CONFIG_HOME/gotag/player.toml or ~/.config/gotag/player.toml.
func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "player.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "gotag", "player.toml")
}

func run(ctx context.Context) error {
	path, explicit := configFlag, configFlag != ""
	if !explicit {
		path = defaultConfigPath()
	}

	cfg, err := Load(path, explicit)
	if err != nil {
		return err
	}
	if lookupFlag != "" {
		cfg.Lookup.Addr = lookupFlag
	}
	if debugFlag {
		cfg.Logging.Level = "debug"
	}

	timing, err := cfg.Timing()
	if err != nil {
		return err
	}

	logger := logging.New(config.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, os.Stderr)

	pool := rpc.NewPool()
	defer pool.Close()

	cc, err := pool.Get(cfg.Lookup.Addr)
	if err != nil {
		return fmt.Errorf("connecting to lookup: %w", err)
	}
	disc := discovery.NewClient(rpc.NewLookupClient(cc), pool, nil, logger)

	unit := agent.NewUnit(itFlag)

	fmt.Print("Launching unit ")
	color.New(color.Bold).Print(unit.ID())
	if unit.Tagged() {
		color.New(color.FgRed, color.Bold).Print(" (it)")
	}
	color.New(color.FgHiBlack).Printf(" via %s\n", cfg.Lookup.Addr)

	ctrl := agent.NewController(agent.ControllerConfig{
		Unit:      unit,
		Discovery: disc,
		Timing:    timing,
		OnMigrated: func() {
			color.New(color.FgGreen).Print("✓ ")
			fmt.Printf("unit %s has entered the game\n", unit.ID())
		},
		Logger: logger.With("component", "tagplayer"),
	})

	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("unit did not reach a bailiff: %w", err)
	}
	return nil
}
