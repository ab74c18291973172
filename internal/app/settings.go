package app

import (
	"fmt"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/ai"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/config/file"
	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/memory"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/services"
)

// SettingsSource selects where settings are read from.
type SettingsSource struct {
	// ConfigPath is the TOML or YAML file, ~/.dcindex/config.toml when empty.
	ConfigPath string

	// InMemory starts from defaults, ignoring the config file and
	// environment overrides.
	InMemory bool

	// EnvFiles are loaded into the environment first. Missing files are skipped.
	EnvFiles []string
}

// NewSettingsService loads env files and opens the config store described by src.
func NewSettingsService(src SettingsSource) (*services.SettingsService, error) {
	if err := file.LoadDotEnv(src.EnvFiles...); err != nil {
		return nil, err
	}

	var store driven.ConfigStore
	if src.InMemory {
		store = memory.NewConfigStore()
	} else {
		fs, err := file.NewConfigStore(src.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		store = fs
	}
	return services.NewSettingsService(store, ai.NewConfigValidator()), nil
}
