package state

import (
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.State.DataDir = t.TempDir()

	mgr, err := NewManager(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
