package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigRejectsNonJSONExtension(t *testing.T) {
	path := writeConfigFile(t, "{}")
	txtPath := path[:len(path)-len(".json")] + ".txt"
	require.NoError(t, os.Rename(path, txtPath))
	_, err := LoadConfig(txtPath)
	require.Error(t, err)
}

func TestLoadConfigAppliesOverridesAndDefaults(t *testing.T) {
	path := writeConfigFile(t, `{"self_id": 3, "pgo_mode": "distributed"}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.GetSelfID())
	require.Equal(t, PGODistributed, cfg.GetPGOMode())
	require.Equal(t, 10, cfg.GetMaxSldWinSize())
}

func TestValidateRejectsDistributedConsensusWithoutDistributedPGO(t *testing.T) {
	path := writeConfigFile(t, `{"estimation_mode": "distributed_consensus", "pgo_mode": "non_dist"}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestValidateRejectsMalformedDuration(t *testing.T) {
	path := writeConfigFile(t, `{"recv_msg_duration": "not-a-duration"}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestValidateRejectsUnknownCameraConfiguration(t *testing.T) {
	path := writeConfigFile(t, `{"camera_configuration": "wide_angle_quad"}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestGetRecvMsgDurationParsesOverride(t *testing.T) {
	path := writeConfigFile(t, `{"recv_msg_duration": "25ms"}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 25*time.Millisecond, cfg.GetRecvMsgDuration())
}

func TestEmptyConfigUsesDefaultsThroughout(t *testing.T) {
	cfg := EmptyConfig()
	require.Equal(t, 0, cfg.GetSelfID())
	require.Equal(t, PGONonDistributed, cfg.GetPGOMode())
	require.Equal(t, ":9700", cfg.GetSwarmListenAddr())
	require.False(t, cfg.GetLazyBroadcastKeyframe())
}
