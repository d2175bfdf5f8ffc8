// Package discovery builds Home Assistant MQTT Discovery documents for a
// device, as a pure function of its metadata and its present-field set.
// Grounded on the per-topic publish/validate pattern the teacher used for
// its own MQTT topic handlers, generalized here into one multi-component
// document builder.
package discovery

import (
	"fmt"
	"strings"
)

// DeviceMeta carries the device-level facts a discovery document needs
// beyond the field values themselves.
type DeviceMeta struct {
	MAC             string
	Name            string
	Manufacturer    string
	ModelID         string
	HWVersion       string
	WillTopic       string
	StatusTopic     string
	StateTopic      string
	LEDChoices      []string
	MaxACChargingBooking   int
	MaxDCChargingCurrent   int
	MinDischargeLowerLimit float64
	MaxDischargeLowerLimit float64
	MinACChargingUpperLimit float64
	MaxACChargingUpperLimit float64
}

// component is one entry under the document's "components" map. Fields are
// tagged so an absent field serializes to nothing, matching the source's
// sparse per-platform option sets.
type component struct {
	Platform         string      `json:"platform"`
	Name             string      `json:"name,omitempty"`
	DeviceClass      string      `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	EntityCategory   string      `json:"entity_category,omitempty"`
	Icon             string      `json:"icon,omitempty"`
	Options          []string    `json:"options,omitempty"`
	Min              interface{} `json:"min,omitempty"`
	Max              interface{} `json:"max,omitempty"`
	Step             interface{} `json:"step,omitempty"`
	PayloadOn        interface{} `json:"payload_on,omitempty"`
	PayloadOff       interface{} `json:"payload_off,omitempty"`
	UniqueID         string      `json:"unique_id,omitempty"`
	ObjectID         string      `json:"object_id,omitempty"`
	ValueTemplate    string      `json:"value_template,omitempty"`
	CommandTopic     string      `json:"command_topic,omitempty"`
}

// Document is the full retained JSON payload published to
// "<ha_prefix>/device/lesyd/<mac-lower>/config".
type Document struct {
	Device          map[string]interface{} `json:"device"`
	Origin          map[string]interface{} `json:"origin"`
	Availability    []map[string]string    `json:"availability"`
	AvailabilityMode string                 `json:"availability_mode"`
	Components      map[string]component    `json:"components"`
	StateTopic      string                  `json:"state_topic"`
}

// componentsByPlatform enumerates every component the original source's
// homeassistant_discovery() knows about, including the platform-only
// "dc_input_power" stub that exists purely to retire a stale HA entity.
func componentsByPlatform(meta DeviceMeta) map[string]component {
	return map[string]component{
		"dc_input_power": {Platform: "sensor"},

		"state_of_charge":  {Platform: "sensor", Name: "State of Charge", DeviceClass: "battery", UnitOfMeasurement: "%"},
		"ac_output_power":  {Platform: "sensor", Name: "AC Output Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"dc_output_power":  {Platform: "sensor", Name: "DC Output Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"dc_charging_power": {Platform: "sensor", Name: "DC Charging Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"usb_output_power": {Platform: "sensor", Name: "USB Output Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"ac_input_power":   {Platform: "sensor", Name: "AC Input Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"ac_charging_power": {Platform: "sensor", Name: "AC Charging Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"charging_power":   {Platform: "sensor", Name: "Charging Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"total_input_power": {Platform: "sensor", Name: "Total Input Power", DeviceClass: "power", UnitOfMeasurement: "W"},
		"ac_charging_rate": {Platform: "sensor", Name: "AC Charging Rate", EntityCategory: "diagnostic"},
		"ac_charging_level": {Platform: "sensor", Name: "AC Charging Level", DeviceClass: "power", UnitOfMeasurement: "W", EntityCategory: "diagnostic"},

		"led": {Platform: "select", Name: "Led", Options: meta.LEDChoices},

		"ac_charging_booking": {Platform: "number", Name: "AC Charging Booking", UnitOfMeasurement: "min",
			Min: 0, Max: meta.MaxACChargingBooking, Step: 1},
		"dc_max_charging_current": {Platform: "number", Name: "DC Max Charging Current", UnitOfMeasurement: "A",
			Min: 1, Max: meta.MaxDCChargingCurrent, Step: 1, EntityCategory: "config"},
		"discharge_lower_limit": {Platform: "number", Name: "Discharge Lower Limit", UnitOfMeasurement: "%",
			Min: meta.MinDischargeLowerLimit, Max: meta.MaxDischargeLowerLimit, Step: 0.1, EntityCategory: "config"},
		"ac_charging_upper_limit": {Platform: "number", Name: "AC Charging Upper Limit", UnitOfMeasurement: "%",
			Min: meta.MinACChargingUpperLimit, Max: meta.MaxACChargingUpperLimit, Step: 0.1, EntityCategory: "config"},

		"ac_output":  {Platform: "switch", Name: "AC Output", PayloadOn: true, PayloadOff: false},
		"usb_output": {Platform: "switch", Name: "USB Output", PayloadOn: true, PayloadOff: false},
		"dc_output":  {Platform: "switch", Name: "DC Output", PayloadOn: true, PayloadOff: false},
		"ac_silent_charging": {Platform: "switch", Name: "AC Silent Charging", Icon: "mdi:fan", PayloadOn: true, PayloadOff: false},
		"key_sound":  {Platform: "switch", Name: "Key Sound", PayloadOn: true, PayloadOff: false, EntityCategory: "config"},
	}
}

var commandTopicPlatforms = map[string]bool{"switch": true, "number": true, "select": true}

// Build assembles the discovery document. Fields absent from `present`
// (excluded or gated off) are reduced to their bare platform stub so Home
// Assistant retires the entity, matching the source's "obsolete entries"
// cleanup behavior. dc_input_power is always reduced this way: the field
// was removed from the data model entirely, so it is permanently obsolete.
func Build(bridgeName, bridgeVersion, willTopic string, meta DeviceMeta, present []string) Document {
	presentSet := make(map[string]bool, len(present))
	for _, f := range present {
		presentSet[f] = true
	}

	uniqueID := bridgeName + "_" + strings.ToLower(meta.MAC)
	components := make(map[string]component)

	for key, c := range componentsByPlatform(meta) {
		if key != "dc_input_power" && presentSet[key] {
			c.UniqueID = fmt.Sprintf("%s_%s", uniqueID, key)
			c.ObjectID = fmt.Sprintf("%s_%s", meta.Name, key)
			c.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", key)
			if commandTopicPlatforms[c.Platform] {
				c.CommandTopic = meta.StateTopic + "/set/" + key
			}
			components[key] = c
			continue
		}
		components[key] = component{Platform: c.Platform}
	}

	return Document{
		Device: map[string]interface{}{
			"identifiers":  []string{uniqueID},
			"name":         meta.Name,
			"manufacturer": meta.Manufacturer,
			"model_id":     meta.ModelID,
			"hw_version":   meta.HWVersion,
		},
		Origin: map[string]interface{}{
			"name": "lesyd-bridge",
			"sw":   bridgeVersion,
			"url":  "https://github.com/",
		},
		Availability: []map[string]string{
			{"topic": willTopic},
			{"topic": meta.StatusTopic},
		},
		AvailabilityMode: "all",
		Components:       components,
		StateTopic:        meta.StateTopic,
	}
}

// ConfigTopic builds the retained discovery config topic for a device.
func ConfigTopic(haPrefix, mac string) string {
	return haPrefix + "/device/lesyd/" + strings.ToLower(mac) + "/config"
}
