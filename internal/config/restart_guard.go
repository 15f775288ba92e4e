package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

const restartStatePath = "data/restart_state.json"

type restartState struct {
	Boots []time.Time `json:"boots"`
}

// RegisterBoot records this process start and reports whether restart
// protection tripped. A tripped guard means the process has been restarting
// faster than the configured budget allows, so collection must come up
// force-disabled instead of hammering the sources again.
func RegisterBoot(now time.Time) bool {
	cfg := GetConfig()
	if !cfg.RestartProtection.Enabled {
		return false
	}

	maxBoots := int(cfg.RestartProtection.MaxBoots)
	if maxBoots == 0 {
		maxBoots = 5
	}
	window := time.Duration(cfg.RestartProtection.WindowMinutes) * time.Minute
	if window == 0 {
		window = 10 * time.Minute
	}

	state := loadRestartState()
	cutoff := now.Add(-window)

	recent := state.Boots[:0]
	for _, ts := range state.Boots {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	state.Boots = recent

	saveRestartState(state)

	if len(recent) > maxBoots {
		log.Error("Restart protection tripped, collection starts disabled",
			"boots", len(recent), "window", window)
		return true
	}
	return false
}

func loadRestartState() restartState {
	var state restartState
	data, err := os.ReadFile(restartStatePath)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn("Discarding unreadable restart state", "error", err)
		return restartState{}
	}
	return state
}

func saveRestartState(state restartState) {
	data, err := json.Marshal(state)
	if err != nil {
		log.Warn("Error marshalling restart state", "error", err)
		return
	}
	if err := os.MkdirAll("data", os.ModePerm); err != nil {
		log.Warn("Error creating data directory", "error", err)
		return
	}
	if err := os.WriteFile(restartStatePath, data, os.ModePerm); err != nil {
		log.Warn("Error writing restart state", "error", err)
	}
}
