package collector

import (
	"strings"

	"shrike/internal/config"
	"shrike/internal/domain"

	"github.com/charmbracelet/log"
)

// NewCollectors builds one collector per source enabled in settings.
func NewCollectors(recorder AttemptRecorder) []SourceCollector {
	cfg := config.GetConfig()

	var out []SourceCollector
	for _, name := range cfg.Collection.Sources {
		switch domain.Source(strings.ToUpper(strings.TrimSpace(name))) {
		case domain.SourceREGTECH:
			out = append(out, NewRegtech(recorder))
		case domain.SourceSECUDIUM:
			out = append(out, NewSecudium(recorder))
		default:
			log.Warn("Unknown collection source in settings", "source", name)
		}
	}
	return out
}
