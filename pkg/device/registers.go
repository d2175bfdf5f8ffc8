package device

// Holding bank register indices (function 0x03, 80 words from 0).
const (
	hregACChargingRate       = 13
	hregDCMaxChargingCurrent = 20
	hregUSBOutput            = 24
	hregDCOutput             = 25
	hregACOutput             = 26
	hregLED                  = 27
	hregKeySound             = 56 // see DESIGN.md: original source reads this from 63 in the bulk decode
	hregACSilentCharging     = 57
	hregACChargingBooking    = 63
	hregDischargeLowerLimit  = 66
	hregACChargingUpperLimit = 67
)

// Input bank register indices (function 0x04, 80 words from 0).
const (
	iregACChargingRate    = 2
	iregACChargingPower   = 3
	iregDCChargingPower   = 4
	iregTotalInputPower   = 6
	iregDCOutputPower1    = 9
	iregLEDPower          = 15
	iregACOutputVoltage   = 18
	iregACOutputFrequency = 19
	iregACOutputPower     = 20
	iregACInputVoltage    = 21
	iregACInputFrequency  = 22
	iregLEDState          = 25
	iregStatusBits        = 41
	iregStateOfCharge     = 56
	iregACChargingBooking = 57
	iregTimeToFull        = 58
	iregTimeToEmpty       = 59
)

var usbOutputPowerRegs = [6]int{30, 31, 34, 35, 36, 37}

const (
	statusBitUSB = 9
	statusBitDC  = 10
	statusBitAC  = 11
)

// writeTarget describes one holding register a state/set command may write,
// and how to validate an echoed 0x06 response before trusting it.
type writeTarget struct {
	index    uint16
	validate func(v uint16) bool
}

// writeTargets maps command field names to their holding register and the
// echo-validation rule from the register map (§6 of the source spec).
var writeTargets = map[string]writeTarget{
	"ac_output":                {hregACOutput, func(v uint16) bool { return v == 0 || v == 1 }},
	"dc_output":                {hregDCOutput, func(v uint16) bool { return v == 0 || v == 1 }},
	"usb_output":               {hregUSBOutput, func(v uint16) bool { return v == 0 || v == 1 }},
	"ac_silent_charging":       {hregACSilentCharging, func(v uint16) bool { return v == 0 || v == 1 }},
	"key_sound":                {hregKeySound, func(v uint16) bool { return v == 0 || v == 1 }},
	"led":                      {hregLED, func(v uint16) bool { return v <= 3 }},
	"ac_charging_booking":      {hregACChargingBooking, func(v uint16) bool { return v <= 1439 }},
	"dc_max_charging_current":  {hregDCMaxChargingCurrent, func(v uint16) bool { return v >= 1 && v <= 20 }},
	"discharge_lower_limit":    {hregDischargeLowerLimit, func(v uint16) bool { return v <= 500 }},
	"ac_charging_upper_limit":  {hregACChargingUpperLimit, func(v uint16) bool { return v >= 600 && v <= 1000 }},
}

// writeFieldForIndex finds the command field name owning a holding index,
// used to apply an optimistic writeback when a 0x06 echo arrives.
func writeFieldForIndex(index uint16) (string, writeTarget, bool) {
	for field, wt := range writeTargets {
		if wt.index == index {
			return field, wt, true
		}
	}
	return "", writeTarget{}, false
}
