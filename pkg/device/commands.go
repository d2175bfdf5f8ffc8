package device

import (
	"strconv"
	"strings"

	"lesyd-bridge/pkg/devicestate"
)

// decodedCommand is a successfully parsed state/set/<field> payload, ready
// to be turned into a holding-register write.
type decodedCommand struct {
	field string
	raw   uint16 // value to write to the holding register
}

// parseCommand decodes one state/set/<field> payload per the field table.
// Parse or range failures return ok=false; the caller drops them silently.
func parseCommand(field, payload string) (decodedCommand, bool) {
	wt, known := writeTargets[field]
	if !known {
		return decodedCommand{}, false
	}

	switch field {
	case "ac_output", "dc_output", "usb_output", "ac_silent_charging", "key_sound":
		b, ok := parseBool(payload)
		if !ok {
			return decodedCommand{}, false
		}
		v := uint16(0)
		if b {
			v = 1
		}
		return decodedCommand{field: field, raw: v}, true

	case "led":
		led, ok := devicestate.ParseLED(payload)
		if !ok {
			return decodedCommand{}, false
		}
		return decodedCommand{field: field, raw: uint16(led)}, true

	case "ac_charging_booking", "dc_max_charging_current":
		n, err := strconv.Atoi(strings.TrimSpace(payload))
		if err != nil || n < 0 || n > 65535 {
			return decodedCommand{}, false
		}
		v := uint16(n)
		if !wt.validate(v) {
			return decodedCommand{}, false
		}
		return decodedCommand{field: field, raw: v}, true

	case "discharge_lower_limit", "ac_charging_upper_limit":
		f, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if err != nil {
			return decodedCommand{}, false
		}
		scaled := int(f*10 + 0.5)
		if scaled < 0 || scaled > 65535 {
			return decodedCommand{}, false
		}
		v := uint16(scaled)
		if !wt.validate(v) {
			return decodedCommand{}, false
		}
		return decodedCommand{field: field, raw: v}, true

	default:
		return decodedCommand{}, false
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "t", "1":
		return true, true
	case "off", "false", "f", "0":
		return false, true
	default:
		return false, false
	}
}
