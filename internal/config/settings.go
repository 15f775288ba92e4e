package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Collection struct {
		// Enabled is the master switch for every collector.
		Enabled bool `json:"enabled"`
		// ForceDisable overrides everything, including manual triggers.
		ForceDisable bool `json:"force_disable"`

		Workers           uint32 `json:"workers"`
		RunTimeoutSeconds uint32 `json:"run_timeout_seconds"`
		RetentionDays     uint32 `json:"retention_days"`
		LookbackDays      uint32 `json:"lookback_days"`

		CollectionTimer Timer `json:"collection_timer"`

		Sources []string `json:"sources"`
	} `json:"collection"`

	Auth struct {
		MaxAttempts uint32 `json:"max_attempts"`
		WindowHours uint32 `json:"window_hours"`
		// CooldownHours of 0 blocks until the next UTC calendar day.
		CooldownHours uint32 `json:"cooldown_hours"`
	} `json:"auth"`

	Cache struct {
		ViewTTLSeconds   uint32 `json:"view_ttl_seconds"`
		StatusTTLSeconds uint32 `json:"status_ttl_seconds"`
	} `json:"cache"`

	RestartProtection struct {
		Enabled       bool   `json:"enabled"`
		MaxBoots      uint32 `json:"max_boots"`
		WindowMinutes uint32 `json:"window_minutes"`
	} `json:"restart_protection"`

	GeoLite struct {
		DatabasePath string `json:"database_path"`
	} `json:"geolite"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	configValue.Store(Config{})
}

func ReadSettings() {

	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			err = os.MkdirAll("data", os.ModePerm)
			if err != nil {
				log.Error("Error creating directory for settings file:", err)
				return
			}

			err = os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm)
			if err != nil {
				log.Error("Error writing default settings file:", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file:", err)
			return
		}
	}

	var newConfig Config
	err = json.Unmarshal(data, &newConfig)
	if err != nil {
		log.Error("Error unmarshalling settings file:", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file:", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update:", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

type configUpdateOptions struct {
	persistToFile bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	SetCollectionInterval()

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration:", err)
			return err
		}
		if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
			log.Error("Error writing new configuration to file:", err)
			return err
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return nil
}

func GetConfig() Config {
	// Get the current Config atomically
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}

// LogLevel returns the logging verbosity for the current runtime mode:
// production runs at Info, everything else at Debug.
func LogLevel() log.Level {
	if InProductionMode {
		return log.InfoLevel
	}
	return log.DebugLevel
}

// SetConfigForTests swaps the in-memory configuration without touching the
// settings file.
func SetConfigForTests(newConfig Config) {
	configValue.Store(newConfig)
}
