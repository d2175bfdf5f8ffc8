// Package devicestate defines the canonical observable state of one
// Fossibot-family device: a mapping from field name to typed value, with
// per-device field exclusion and the two fields that only exist when their
// owning feature is enabled (ac_input_power, ac_charging_level).
package devicestate

import "encoding/json"

// LED is the enum carried by the led field.
type LED int

const (
	LEDOff LED = iota
	LEDOn
	LEDSOS
	LEDFlash
)

var ledNames = [...]string{"Off", "On", "SOS", "Flash"}

func (l LED) String() string {
	if int(l) < 0 || int(l) >= len(ledNames) {
		return "Unknown"
	}
	return ledNames[l]
}

func (l LED) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ParseLED matches a command payload case-insensitively against the enum.
func ParseLED(s string) (LED, bool) {
	for i, name := range ledNames {
		if equalFold(name, s) {
			return LED(i), true
		}
	}
	return 0, false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Fields lists every field this spec knows about, in a fixed order used
// for discovery-document generation and deterministic iteration. JSON
// publication itself sorts keys independently (map marshaling does that).
var Fields = []string{
	"state_of_charge",
	"ac_output", "dc_output", "usb_output",
	"ac_silent_charging", "key_sound",
	"led",
	"ac_charging_booking",
	"ac_charging_rate",
	"ac_charging_level",
	"dc_max_charging_current",
	"discharge_lower_limit",
	"ac_charging_upper_limit",
	"ac_output_power", "ac_charging_power", "dc_charging_power",
	"total_input_power", "ac_input_power", "charging_power",
	"usb_output_power", "dc_output_power",
}

// State holds one populated-or-not value per field. A nil pointer means
// "not yet decoded"; the zero value is never used as a sentinel (I2).
type State struct {
	StateOfCharge *float64

	ACOutput          *bool
	DCOutput          *bool
	USBOutput         *bool
	ACSilentCharging  *bool
	KeySound          *bool

	LED *LED

	ACChargingBooking    *int
	ACChargingRate       *int
	ACChargingLevel      *int
	DCMaxChargingCurrent *int

	DischargeLowerLimit  *float64
	ACChargingUpperLimit *float64

	ACOutputPower     *int
	ACChargingPower   *int
	DCChargingPower   *int
	TotalInputPower   *int
	ACInputPower      *int
	ChargingPower     *int

	USBOutputPower *float64
	DCOutputPower  *float64
}

// FieldValue returns the current value of the named field and whether it
// has been populated. Unknown names return (nil, false).
func (s *State) FieldValue(name string) (interface{}, bool) {
	switch name {
	case "state_of_charge":
		return derefF(s.StateOfCharge)
	case "ac_output":
		return derefB(s.ACOutput)
	case "dc_output":
		return derefB(s.DCOutput)
	case "usb_output":
		return derefB(s.USBOutput)
	case "ac_silent_charging":
		return derefB(s.ACSilentCharging)
	case "key_sound":
		return derefB(s.KeySound)
	case "led":
		if s.LED == nil {
			return nil, false
		}
		return *s.LED, true
	case "ac_charging_booking":
		return derefI(s.ACChargingBooking)
	case "ac_charging_rate":
		return derefI(s.ACChargingRate)
	case "ac_charging_level":
		return derefI(s.ACChargingLevel)
	case "dc_max_charging_current":
		return derefI(s.DCMaxChargingCurrent)
	case "discharge_lower_limit":
		return derefF(s.DischargeLowerLimit)
	case "ac_charging_upper_limit":
		return derefF(s.ACChargingUpperLimit)
	case "ac_output_power":
		return derefI(s.ACOutputPower)
	case "ac_charging_power":
		return derefI(s.ACChargingPower)
	case "dc_charging_power":
		return derefI(s.DCChargingPower)
	case "total_input_power":
		return derefI(s.TotalInputPower)
	case "ac_input_power":
		return derefI(s.ACInputPower)
	case "charging_power":
		return derefI(s.ChargingPower)
	case "usb_output_power":
		return derefF(s.USBOutputPower)
	case "dc_output_power":
		return derefF(s.DCOutputPower)
	default:
		return nil, false
	}
}

func derefF(p *float64) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func derefI(p *int) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func derefB(p *bool) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

// PresentFields computes which fields exist for a device given its
// exclusion set and the two gated optional fields.
func PresentFields(exclude map[string]bool, guessACInputPower, acChargingLevelsConfigured bool) []string {
	present := make([]string, 0, len(Fields))
	for _, f := range Fields {
		if exclude[f] {
			continue
		}
		if f == "ac_input_power" && !guessACInputPower {
			continue
		}
		if f == "ac_charging_level" && !acChargingLevelsConfigured {
			continue
		}
		present = append(present, f)
	}
	return present
}

// AllPopulated reports whether every field in present has been decoded at
// least once (I2's publication gate).
func (s *State) AllPopulated(present []string) bool {
	for _, f := range present {
		if _, ok := s.FieldValue(f); !ok {
			return false
		}
	}
	return true
}

// ToJSON renders the state as sorted-key JSON containing only present
// fields (excluded and not-yet-populated fields are elided, never null).
// map[string]any already marshals with sorted keys in encoding/json, so no
// extra dependency is needed for the "sorted keys" requirement.
func (s *State) ToJSON(present []string) ([]byte, error) {
	m := make(map[string]interface{}, len(present))
	for _, f := range present {
		if v, ok := s.FieldValue(f); ok {
			m[f] = v
		}
	}
	return json.Marshal(m)
}

// Equal compares two states by value over the given field subset, per the
// "state changed?" predicate in the design notes (structural, not identity).
func (s *State) Equal(other *State, present []string) bool {
	if other == nil {
		return false
	}
	for _, f := range present {
		va, oka := s.FieldValue(f)
		vb, okb := other.FieldValue(f)
		if oka != okb {
			return false
		}
		if oka && va != vb {
			return false
		}
	}
	return true
}

// Clone returns a deep copy suitable for snapshotting as state_last.
func (s *State) Clone() *State {
	c := *s
	c.StateOfCharge = clonePtr(s.StateOfCharge)
	c.ACOutput = clonePtr(s.ACOutput)
	c.DCOutput = clonePtr(s.DCOutput)
	c.USBOutput = clonePtr(s.USBOutput)
	c.ACSilentCharging = clonePtr(s.ACSilentCharging)
	c.KeySound = clonePtr(s.KeySound)
	c.LED = clonePtr(s.LED)
	c.ACChargingBooking = clonePtr(s.ACChargingBooking)
	c.ACChargingRate = clonePtr(s.ACChargingRate)
	c.ACChargingLevel = clonePtr(s.ACChargingLevel)
	c.DCMaxChargingCurrent = clonePtr(s.DCMaxChargingCurrent)
	c.DischargeLowerLimit = clonePtr(s.DischargeLowerLimit)
	c.ACChargingUpperLimit = clonePtr(s.ACChargingUpperLimit)
	c.ACOutputPower = clonePtr(s.ACOutputPower)
	c.ACChargingPower = clonePtr(s.ACChargingPower)
	c.DCChargingPower = clonePtr(s.DCChargingPower)
	c.TotalInputPower = clonePtr(s.TotalInputPower)
	c.ACInputPower = clonePtr(s.ACInputPower)
	c.ChargingPower = clonePtr(s.ChargingPower)
	c.USBOutputPower = clonePtr(s.USBOutputPower)
	c.DCOutputPower = clonePtr(s.DCOutputPower)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
