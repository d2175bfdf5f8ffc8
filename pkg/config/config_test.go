package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const validYAML = `
sydpower:
  hostname: sydpower.example.com
  port: 1883
client:
  hostname: localhost
  port: 1883
devices:
  "aabbccddeeff":
    name: station1
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load([]string{path})
	require.NoError(t, err)

	assert.Equal(t, DefaultLesydName, cfg.LesydName)
	assert.Equal(t, DefaultHAPrefix, cfg.HAPrefix)
	dev := cfg.Devices["aabbccddeeff"]
	assert.Equal(t, DefaultInputRefresh, dev.InputRefresh)
	assert.Equal(t, DefaultHoldingRefresh, dev.HoldingRefresh)
}

func TestLoadFallsThroughMissingCandidates(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load([]string{"/no/such/file.yaml", path})
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 1)
}

func TestLoadFailsWhenNoCandidateExists(t *testing.T) {
	_, err := Load([]string{"/no/such/file.yaml"})
	require.Error(t, err)
}

func TestValidateRejectsReservedDeviceName(t *testing.T) {
	path := writeTempConfig(t, `
sydpower: {hostname: h, port: 1}
client: {hostname: h, port: 1}
devices:
  "aabbccddeeff":
    name: bridge
`)
	_, err := Load([]string{path})
	require.Error(t, err)
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	path := writeTempConfig(t, `
sydpower: {hostname: h, port: 1}
client: {hostname: h, port: 1}
devices:
  "aabbccddee01":
    name: station
  "aabbccddee02":
    name: station
`)
	_, err := Load([]string{path})
	require.Error(t, err)
}

func TestValidateRejectsBadTransport(t *testing.T) {
	path := writeTempConfig(t, `
sydpower: {hostname: h, port: 1, transport: carrier-pigeon}
client: {hostname: h, port: 1}
devices:
  "aabbccddeeff":
    name: station
`)
	_, err := Load([]string{path})
	require.Error(t, err)
}

func TestRefreshIntervalsAreClamped(t *testing.T) {
	path := writeTempConfig(t, `
sydpower: {hostname: h, port: 1}
client: {hostname: h, port: 1}
devices:
  "aabbccddeeff":
    name: station
    input_refresh: 1
    holding_refresh: 999
`)
	cfg, err := Load([]string{path})
	require.NoError(t, err)
	dev := cfg.Devices["aabbccddeeff"]
	assert.Equal(t, minRefreshSeconds, dev.InputRefresh)
	assert.Equal(t, maxRefreshSeconds, dev.HoldingRefresh)
}

func TestPresetFillsOnlyUnsetFields(t *testing.T) {
	path := writeTempConfig(t, `
sydpower: {hostname: h, port: 1}
client: {hostname: h, port: 1}
presets:
  f2400:
    manufacturer: Fossibot
    model_id: F2400
    ac_charging_levels: [300, 500, 700]
devices:
  "aabbccddeeff":
    name: station
    preset: f2400
    manufacturer: CustomBrand
`)
	cfg, err := Load([]string{path})
	require.NoError(t, err)
	dev := cfg.Devices["aabbccddeeff"]
	assert.Equal(t, "CustomBrand", dev.Manufacturer) // explicit field wins
	assert.Equal(t, "F2400", dev.ModelID)             // filled from preset
	assert.Equal(t, []int{300, 500, 700}, dev.ACChargingLevels)
}
