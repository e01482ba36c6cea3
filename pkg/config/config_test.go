package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYMBOL", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, "5m", cfg.BaseInterval)
	assert.Equal(t, 200, cfg.CandleLimit)
	assert.Equal(t, 80.0, cfg.Risk.MaxPositionSizePct)
	assert.Equal(t, 20.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, 0.5, cfg.Risk.MinConfidence)
	assert.Equal(t, 30.0, cfg.Risk.MaxDrawdownPct)
	assert.Equal(t, 10, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 3*time.Second, cfg.Stream.ReconnectDelay)
	assert.Equal(t, 500, cfg.Stream.TradeBuffer)
	assert.Equal(t, []string{"5m", "1m"}, cfg.Stream.Intervals)
	assert.Len(t, cfg.Timeframes, 5)
	assert.Equal(t, "4h", cfg.Timeframes[4].Label)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signal.yaml")
	yml := `
symbol: ETHUSDT
risk:
  max_leverage: 10
stream:
  reconnect_delay: 5s
timeframes:
  - label: 15m
    interval: 15m
    limit: 80
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("MAX_LEVERAGE", "12")
	t.Setenv("SYMBOL", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 12.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, 5*time.Second, cfg.Stream.ReconnectDelay)
	require.Len(t, cfg.Timeframes, 1)
	assert.Equal(t, 80, cfg.Timeframes[0].Limit)
}

func TestValidateRejectsBadLimits(t *testing.T) {
	t.Setenv("SYMBOL", "")
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Risk.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())

	cfg.Risk.MinConfidence = 0.5
	cfg.Stream.Intervals = []string{"1m"}
	assert.Error(t, cfg.Validate())
}
