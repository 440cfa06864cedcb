package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.DatabaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0.10, cfg.ValueChangeThreshold)
	assert.Equal(t, 10, cfg.ReviewTopK)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.OCDSEpoch)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TENDERMATCH_VALUE_CHANGE_THRESHOLD", "0.25")
	t.Setenv("TENDERMATCH_HTTP_TIMEOUT", "5s")
	t.Setenv("TENDERMATCH_OCDS_EPOCH", "2024-06-01T00:00:00Z")
	t.Setenv("TENDERMATCH_RECALC_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.ValueChangeThreshold)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2024, cfg.OCDSEpoch.Year())
	assert.Equal(t, 8, cfg.RecalcWorkers)
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	t.Setenv("TENDERMATCH_VALUE_CHANGE_THRESHOLD", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALUE_CHANGE_THRESHOLD")
}

func TestInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("TENDERMATCH_HTTP_RETRIES", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.HTTPRetries)
}
