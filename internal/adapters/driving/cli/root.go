// Package cli provides the dcindex command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/local"
	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// version is set at build time via SetVersion.
var version = "dev"

// skipSetup marks commands that run without settings or a backend.
const skipSetup = "skip-setup"

// Backend provides the services of one process. Implementations build
// them lazily, so commands only touch the infrastructure they use.
type Backend interface {
	Ingestion(ctx context.Context) (driving.IngestionService, error)
	Grounding(ctx context.Context) (driving.GroundingService, error)
	Consumer(ctx context.Context) (driving.ConsumerService, error)
	Publisher() driving.PublisherService
	Index() (driven.VectorIndex, error)
	Ledger() (driven.IngestionLedger, error)
	FileStore() *local.FileStore
	Close() error
}

// SettingsOptions locates the configuration.
type SettingsOptions struct {
	// ConfigPath is the config file; empty selects the default location.
	ConfigPath string

	// InMemory ignores files and the environment and uses defaults only.
	InMemory bool

	// EnvFiles are loaded into the environment before reading settings.
	EnvFiles []string
}

// Wiring connects the CLI to concrete adapters. It is supplied by main.
type Wiring struct {
	Settings func(opts SettingsOptions) (driving.SettingsService, error)
	Backend  func(settings *domain.AppSettings) (Backend, error)
}

var wiring Wiring

// Populated by setup before each command runs.
var (
	settingsService driving.SettingsService
	currentSettings *domain.AppSettings
	backend         Backend
)

var (
	configPath string
	noConfig   bool
	envFiles   []string
	verbose    bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "dcindex",
	Short: "Index and question electoral programmes",
	Long: `dcindex turns uploaded electoral programmes into searchable vectors and
answers citizens' questions from them.

The consume command runs the ingestion worker against the message queue.
The ask and retrieve commands, and the MCP server, answer questions from
the indexed programmes.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.dcindex/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&noConfig, "no-config", false, "ignore config files and environment, use defaults")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
}

// SetWiring sets the adapter constructors used by every command.
func SetWiring(w Wiring) {
	wiring = w
}

// SetVersion sets the version printed by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx. The backend is closed even
// when the command fails, since cobra skips post-run hooks on error.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if backend != nil {
		if cerr := backend.Close(); cerr != nil {
			logger.Warn("close: %v", cerr)
		}
		backend = nil
	}
	return err
}

func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipSetup] == "true" {
		return nil
	}
	if wiring.Settings == nil || wiring.Backend == nil {
		return errors.New("wiring not configured")
	}

	opts := SettingsOptions{ConfigPath: configPath, InMemory: noConfig}
	if !noConfig {
		opts.EnvFiles = envFiles
	}
	svc, err := wiring.Settings(opts)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings, err := svc.Get()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := configureLogger(settings); err != nil {
		return err
	}

	// The settings command inspects invalid configurations too.
	if cmd.Annotations["settings"] != "true" {
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
	}

	b, err := wiring.Backend(settings)
	if err != nil {
		return err
	}
	settingsService, currentSettings, backend = svc, settings, b
	return nil
}

func teardown(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipSetup] == "true" || backend == nil {
		return nil
	}
	err := backend.Close()
	backend = nil
	return err
}

func configureLogger(settings *domain.AppSettings) error {
	level := settings.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	l, err := logger.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(l)
	if verbose {
		logger.SetVerbose(true)
	}
	return nil
}

// requireBackend returns the configured backend or an error.
func requireBackend() (Backend, error) {
	if backend == nil {
		return nil, errors.New("backend not configured")
	}
	return backend, nil
}
