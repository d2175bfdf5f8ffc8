package discovery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMeta() DeviceMeta {
	return DeviceMeta{
		MAC:          "aabbccddeeff",
		Name:         "station",
		Manufacturer: "Fossibot",
		ModelID:      "F2400",
		HWVersion:    "1.0rev2",
		StatusTopic:  "lesyd/station/status",
		StateTopic:   "lesyd/station/state",
		LEDChoices:   []string{"Off", "On", "SOS", "Flash"},
		MaxACChargingBooking: 1439,
		MaxDCChargingCurrent: 20,
		MaxDischargeLowerLimit: 50.0,
		MaxACChargingUpperLimit: 100.0,
		MinACChargingUpperLimit: 60.0,
	}
}

func TestBuildIncludesPresentFieldWithCommandTopic(t *testing.T) {
	present := []string{"ac_output"}
	doc := Build("lesyd", "1.2.3", "lesyd/bridge/status", sampleMeta(), present)

	c, ok := doc.Components["ac_output"]
	require.True(t, ok)
	assert.Equal(t, "switch", c.Platform)
	assert.Equal(t, "lesyd/station/state/set/ac_output", c.CommandTopic)
	assert.Equal(t, "lesyd_aa:bb:cc:dd:ee:ff_ac_output", c.UniqueID)
}

func TestBuildReducesAbsentFieldToStub(t *testing.T) {
	present := []string{"ac_output"} // dc_output absent
	doc := Build("lesyd", "1.2.3", "lesyd/bridge/status", sampleMeta(), present)

	c, ok := doc.Components["dc_output"]
	require.True(t, ok)
	assert.Equal(t, "switch", c.Platform)
	assert.Empty(t, c.CommandTopic)
	assert.Empty(t, c.Name)
}

func TestDCInputPowerIsAlwaysAnObsoleteStub(t *testing.T) {
	doc := Build("lesyd", "1.2.3", "lesyd/bridge/status", sampleMeta(), []string{"dc_input_power"})
	c := doc.Components["dc_input_power"]
	assert.Equal(t, "sensor", c.Platform)
	assert.Empty(t, c.Name)
}

func TestAvailabilityListsBothTopicsWithModeAll(t *testing.T) {
	doc := Build("lesyd", "1.2.3", "lesyd/bridge/status", sampleMeta(), nil)
	require.Len(t, doc.Availability, 2)
	assert.Equal(t, "lesyd/bridge/status", doc.Availability[0]["topic"])
	assert.Equal(t, "all", doc.AvailabilityMode)
}

func TestDocumentMarshalsCleanly(t *testing.T) {
	doc := Build("lesyd", "1.2.3", "lesyd/bridge/status", sampleMeta(), []string{"led"})
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"options":["Off","On","SOS","Flash"]`)
}

func TestConfigTopicLowercasesMAC(t *testing.T) {
	assert.Equal(t, "homeassistant/device/lesyd/aabbccddeeff/config",
		ConfigTopic("homeassistant", "AABBCCDDEEFF"))
}
