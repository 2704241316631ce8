package etl_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"gridflow/internal/etl"
)

func TestErrorTaxonomy(t *testing.T) {
	cfg := etl.NewConfigurationError("unknown source %q", "typo")
	require.True(t, etl.IsConfiguration(cfg))
	require.False(t, etl.IsTransient(cfg))
	require.Contains(t, cfg.Error(), "typo")

	transient := etl.Transient("extract:wb", errors.New("connection reset"))
	require.True(t, etl.IsTransient(transient))
	require.False(t, etl.IsConfiguration(transient))

	// Wrapping preserves classification.
	wrapped := fmt.Errorf("batch aborted: %w", transient)
	require.True(t, etl.IsTransient(wrapped))
}

func TestSourceFailure_Unwrap(t *testing.T) {
	inner := etl.Transient("extract:wb", errors.New("timeout"))
	sf := &etl.SourceFailure{SourceID: "wb", Attempts: 3, Err: inner}

	require.True(t, etl.IsSourceFailure(sf))
	require.True(t, etl.IsTransient(sf))
	require.Contains(t, sf.Error(), "after 3 attempts")
}

func TestJobStatus_Terminal(t *testing.T) {
	require.False(t, etl.StatusQueued.Terminal())
	require.False(t, etl.StatusRunning.Terminal())
	require.True(t, etl.StatusCompleted.Terminal())
	require.True(t, etl.StatusFailed.Terminal())
}
