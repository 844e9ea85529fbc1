package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadSelectionType(t *testing.T) {
	cfg := Default()
	cfg.Node.SelectionType = "weighted"
	require.ErrorIs(t, cfg.Validate(), ErrBadSelection)
}

func TestValidateRejectsReadyThresholdAboveEchoSampleSize(t *testing.T) {
	cfg := Default()
	cfg.Consensus.ReadyThreshold = cfg.Consensus.EchoSampleSize + 1
	require.ErrorIs(t, cfg.Validate(), ErrBadConfig)
}

func TestValidateRejectsDeliveryThresholdAboveReadySampleSize(t *testing.T) {
	cfg := Default()
	cfg.Consensus.DeliveryThreshold = cfg.Consensus.ReadySampleSize + 1
	require.ErrorIs(t, cfg.Validate(), ErrBadConfig)
}

func TestValidateRejectsEvenWindowSize(t *testing.T) {
	cfg := Default()
	cfg.Plato.WindowSize = 10
	require.ErrorIs(t, cfg.Validate(), ErrBadConfig)
}

func TestDedupRetentionDefaultsToTenXTargetLatency(t *testing.T) {
	cfg := Default()
	cfg.Consensus.DedupRetentionSecs = 0
	cfg.Plato.TargetLatencySecs = 0.5
	require.Equal(t, 5.0, cfg.DedupRetention().Seconds())
}

func TestLoadParsesAndValidatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "racer.toml")
	contents := `
[node]
router_bind = "0.0.0.0:9100"
selection_type = "normal"

[consensus]
echo_sample_size = 6
ready_sample_size = 6
ready_threshold = 4
delivery_threshold = 4

[plato]
target_latency_secs = 0.3
target_publishing_frequency_secs = 1.0
window_size = 11
rsi_period = 14
k_up = 1.5
k_down = 0.75
alpha = 0.2
interval_max = 20
overbought = 70
oversold = 30

[peers]
routers = ["10.0.0.1:9000", "10.0.0.2:9000"]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9100", cfg.Node.RouterBind)
	require.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000"}, cfg.Peers.Routers)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	contents := `
[consensus]
ready_threshold = 99
echo_sample_size = 1
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrBadConfig)
}
