// Package cli implements the relayctl command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/relaykit/go-relay/internal/config"
	"github.com/relaykit/go-relay/internal/logging"
	"github.com/relaykit/go-relay/relay"
	"github.com/relaykit/go-relay/transport"
	"github.com/spf13/cobra"
)

var (
	cfg         *config.Config
	logger      *logging.Logger
	verboseFlag bool
	jsonFlag    bool
	entityFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Relay-tunneled stream tooling",
	Long:  `relayctl - listen for, originate, and provision relay-tunneled duplex streams`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load configuration
		cfg = config.Load()
		if entityFlag != "" {
			cfg.EntityPath = entityFlag
		}

		// Determine log level
		level := logging.ParseLevel(cfg.LogLevel)
		if verboseFlag {
			level = logging.DebugLevel
		}

		// Determine format
		format := logging.FormatConsole
		if jsonFlag {
			format = logging.FormatJSON
		}

		logger = logging.NewWithFormat(level, format)
	},
}

func init() {
	// Disable default completion and help commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Add persistent flags
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&entityFlag, "entity", "", "Hybrid connection name (overrides RELAY_ENTITY_PATH)")
}

// localRelay backs local mode: commands in the same process share it, so a
// listener and sender wired through it can rendezvous without Azure.
var localRelay = transport.NewMemoryRelay()

// relayConfig builds the relay configuration from the environment. In remote
// mode the connection string supplies the namespace and credential; in local
// mode the in-process relay is used and the entity is created on the fly.
func relayConfig() (*relay.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Mode == config.ModeLocal {
		entity := cfg.EntityPath
		if entity == "" {
			entity = "local"
		}
		localRelay.CreateEndpoint(entity, "")
		return &relay.Config{
			Namespace:  "local.relay",
			EntityPath: entity,
			Connector:  localRelay,
			Logger:     logger,
		}, nil
	}

	cs, err := relay.ParseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	rc, err := cs.Config(cfg.EntityPath)
	if err != nil {
		return nil, err
	}
	rc.Logger = logger
	return rc, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
