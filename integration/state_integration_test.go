package integration

import (
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/state"
)

// TestState_RecoveryAfterCrash leaves a run open, reopens the database and
// expects recovery to close it as interrupted
func TestState_RecoveryAfterCrash(t *testing.T) {
	env := SetupTestEnvironment(t)
	ctx := t.Context()

	run := state.Run{
		ID:        "run-crashed",
		InputURL:  "rtmp://localhost:1935/live/stream",
		OutputURL: "rtmp://localhost:1935/live/processed",
		StartedAt: time.Now().Add(-time.Minute),
	}
	if err := env.StateMgr.SaveRunStarted(ctx, run); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if err := env.StateMgr.SaveSystemState(ctx, state.LastRunKey, run.ID); err != nil {
		t.Fatalf("Failed to save system state: %v", err)
	}

	// Simulate a restart
	env.StateMgr.Close()

	stateMgr2, err := state.NewManager(env.Config, env.Logger)
	if err != nil {
		t.Fatalf("Failed to recreate state manager: %v", err)
	}
	defer stateMgr2.Close()

	recovered, err := stateMgr2.RecoverState(ctx)
	if err != nil {
		t.Fatalf("Failed to recover state: %v", err)
	}

	if len(recovered.Interrupted) != 1 || recovered.Interrupted[0] != run.ID {
		t.Fatalf("Expected %q to be interrupted, got %v", run.ID, recovered.Interrupted)
	}
	if recovered.SystemState[state.LastRunKey] != run.ID {
		t.Errorf("Expected last run %q, got %q", run.ID, recovered.SystemState[state.LastRunKey])
	}

	got, err := stateMgr2.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Running() {
		t.Error("Expected the interrupted run to be closed")
	}
	if got.StopReason != state.StopReasonInterrupted {
		t.Errorf("Expected stop reason %q, got %q", state.StopReasonInterrupted, got.StopReason)
	}
}
