package config

import (
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogLevelFollowsProductionMode(t *testing.T) {
	orig := InProductionMode
	t.Cleanup(func() {
		InProductionMode = orig
	})

	SetProductionMode(false)
	if got := LogLevel(); got != log.DebugLevel {
		t.Fatalf("LogLevel in development is %v, want debug", got)
	}

	SetProductionMode(true)
	if got := LogLevel(); got != log.InfoLevel {
		t.Fatalf("LogLevel in production is %v, want info", got)
	}
}
