package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/queue/amqp"
	"github.com/democracy-chain/dcindex/internal/core/domain"
)

var settingsAnnotations = map[string]string{"settings": "true"}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View, validate and initialise settings.

Settings come from the config file, then DCINDEX_<SECTION>_<KEY> environment
variables and the deployment's legacy names (RABBITMQ_URL, QDRANT_URL, ...).`,
	Annotations: settingsAnnotations,
	RunE:        runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Show current settings",
	Annotations: settingsAnnotations,
	RunE:        runSettingsShow,
}

var settingsValidateCmd = &cobra.Command{
	Use:         "validate",
	Short:       "Check settings and reach the AI providers",
	Annotations: settingsAnnotations,
	RunE:        runSettingsValidate,
}

var settingsInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the default settings to the config file",
	Annotations: settingsAnnotations,
	RunE:        runSettingsInit,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsValidateCmd)
	settingsCmd.AddCommand(settingsInitCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Queue]")
	cmd.Printf("  URL: %s\n", amqp.Redact(settings.Queue.URL))
	cmd.Printf("  Queue: %s (prefetch %d)\n", settings.Queue.Name, settings.Queue.Prefetch)
	cmd.Printf("  Startup: %d attempts, %s apart\n", settings.Queue.ConnectAttempts, settings.Queue.ConnectDelay)
	cmd.Println()

	cmd.Println("[Storage]")
	cmd.Printf("  Upload dir: %s\n", settings.Storage.UploadDir)
	cmd.Println()

	cmd.Println("[Embedding]")
	cmd.Printf("  Provider: %s\n", settings.Embedding.Provider.Description())
	cmd.Printf("  Model: %s\n", settings.Embedding.Model)
	cmd.Printf("  Base URL: %s\n", settings.Embedding.BaseURL)
	printAPIKey(cmd, settings.Embedding.Provider, settings.Embedding.APIKey)
	cmd.Printf("  Status: %s\n", configuredStatus(settings.Embedding.IsConfigured()))
	cmd.Println()

	cmd.Println("[LLM]")
	cmd.Printf("  Provider: %s\n", settings.LLM.Provider.Description())
	cmd.Printf("  Model: %s\n", settings.LLM.Model)
	cmd.Printf("  Base URL: %s\n", settings.LLM.BaseURL)
	printAPIKey(cmd, settings.LLM.Provider, settings.LLM.APIKey)
	cmd.Printf("  Temperature: %g\n", settings.LLM.Temperature)
	cmd.Printf("  Status: %s\n", configuredStatus(settings.LLM.IsConfigured()))
	cmd.Println()

	cmd.Println("[Vector index]")
	cmd.Printf("  Backend: %s\n", settings.VectorIndex.Backend)
	cmd.Printf("  Collection: %s\n", settings.VectorIndex.Collection)
	if settings.VectorIndex.Backend == domain.VectorBackendBolt {
		cmd.Printf("  Path: %s\n", valueOr(settings.VectorIndex.Path, "(default)"))
	} else {
		cmd.Printf("  URL: %s\n", settings.VectorIndex.URL)
	}
	cmd.Println()

	cmd.Println("[Ingestion]")
	cmd.Printf("  Chunk size: %d words\n", settings.Ingestion.ChunkSize)
	cmd.Printf("  Workers: %d\n", settings.Ingestion.Workers)
	cmd.Println()

	cmd.Println("[Grounding]")
	cmd.Printf("  Top K: %d (max %d)\n", settings.Grounding.TopK, settings.Grounding.MaxTopK)
	cmd.Printf("  Excerpts per wallet: %d\n", settings.Grounding.MaxChunksPerOwner)
	cmd.Println()

	cmd.Println("[Ledger]")
	cmd.Printf("  Enabled: %t\n", settings.Ledger.Enabled)

	return nil
}

func runSettingsValidate(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	var failed bool
	check := func(name string, err error) {
		if err != nil {
			failed = true
			cmd.Printf("FAIL %s: %v\n", name, err)
			return
		}
		cmd.Printf("ok   %s\n", name)
	}

	check("settings", settingsService.Validate())
	check("embedding provider", settingsService.ValidateEmbeddingConfig())
	check("language model", settingsService.ValidateLLMConfig())

	if failed {
		return errors.New("settings validation failed")
	}
	return nil
}

func runSettingsInit(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	defaults := settingsService.GetDefaults()
	if err := settingsService.Save(&defaults); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	cmd.Println("Default settings written.")
	return nil
}

func printAPIKey(cmd *cobra.Command, provider domain.AIProvider, key string) {
	if !provider.RequiresAPIKey() {
		return
	}
	if key == "" {
		cmd.Printf("  API Key: (not set)\n")
		return
	}
	cmd.Printf("  API Key: %s\n", maskAPIKey(key))
}

func configuredStatus(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// maskAPIKey masks an API key for display.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
