// Package device implements the per-device protocol engine: the request
// scheduler, register decode and optimistic writeback, liveness tracking,
// and state/status publication coalescing. One Engine is created per
// configured device and is driven exclusively by the bridge's single event
// loop — nothing here touches a network socket or spawns a goroutine.
package device

import (
	"math"
	"time"

	"lesyd-bridge/pkg/devicestate"
	bridgeerrors "lesyd-bridge/pkg/errors"
	"lesyd-bridge/pkg/logger"
	"lesyd-bridge/pkg/protocol"
)

const (
	requestTimeout  = 300 * time.Millisecond
	queueOverflow   = 10
	livenessTimeout = 20 * time.Second
	statusRepublish = 10 * time.Second
)

// Transport identifies which MQTT connection an Action targets.
type Transport int

const (
	TransportSydpower Transport = iota
	TransportClient
)

// ActionKind distinguishes the handful of outbound effects an Engine asks
// the bridge to perform on its behalf.
type ActionKind int

const (
	ActionPublishRequest ActionKind = iota
	ActionPublishStatus
	ActionPublishState
)

// Action is one outbound effect requested by the engine. The bridge owns
// the actual MQTT client and performs the publish; the engine never imports
// paho directly, matching the gateway interface's narrow DI seam.
type Action struct {
	Kind      ActionKind
	Transport Transport
	Topic     string
	Payload   []byte
	Retain    bool
}

type requestKind int

const (
	requestNone requestKind = iota
	requestInput
	requestHolding
	requestWrite
)

type inflight struct {
	kind   requestKind
	sentAt time.Time
}

type queuedWrite struct {
	index uint16
	value uint16
}

// EngineConfig is the static, per-device configuration an Engine needs.
// It is assembled by pkg/builder from the device's YAML entry.
type EngineConfig struct {
	MAC               string
	DeviceName        string
	BridgeName        string
	InputRefresh      time.Duration
	HoldingRefresh    time.Duration
	StateRefresh      time.Duration
	Exclude           map[string]bool
	GuessACInputPower bool
	ACChargingLevels  []int
}

// Engine is the per-device protocol and publication state machine.
type Engine struct {
	cfg     EngineConfig
	present []string
	log     logger.ILogger

	requestTopic string
	statusTopic  string
	stateTopic   string

	state *devicestate.State

	current inflight
	queue   []queuedWrite

	inputResponseTime   time.Time
	holdingResponseTime time.Time

	online         bool
	lastDeviceTime time.Time
	statusConfirmed bool
	statusTime      time.Time

	hasPublishedState bool
	stateLast         *devicestate.State
	stateLastTime     time.Time
}

// NewEngine builds an Engine for one device. present is the precomputed
// field set (devicestate.PresentFields), passed in rather than recomputed
// on every tick.
func NewEngine(cfg EngineConfig, present []string, log logger.ILogger) *Engine {
	return &Engine{
		cfg:          cfg,
		present:      present,
		log:          log,
		requestTopic: cfg.MAC + "/client/request/data",
		statusTopic:  cfg.BridgeName + "/" + cfg.DeviceName + "/status",
		stateTopic:   cfg.BridgeName + "/" + cfg.DeviceName + "/state",
		state:        &devicestate.State{},
	}
}

// MAC returns the device's MAC address as configured.
func (e *Engine) MAC() string { return e.cfg.MAC }

// Online reports the currently derived liveness status.
func (e *Engine) Online() bool { return e.online }

// Present returns the field set this engine was constructed with, for
// callers building a discovery document from the live engine rather than
// recomputing devicestate.PresentFields themselves.
func (e *Engine) Present() []string { return e.present }

// EnqueueCommand parses a state/set/<field> payload and, if valid, appends
// a write to the queue. It reports whether the command was accepted;
// rejected commands are dropped silently by the caller, per the spec's
// "no NACK" policy.
func (e *Engine) EnqueueCommand(field, payload string) bool {
	cmd, ok := parseCommand(field, payload)
	if !ok {
		return false
	}
	wt := writeTargets[cmd.field]
	e.queue = append(e.queue, queuedWrite{index: wt.index, value: cmd.raw})
	return true
}

// OnTick runs the request scheduler, liveness timeout, and publication
// checks for one tick. now is the tick's timestamp, supplied by the bridge
// so the engine never calls time.Now() itself (kept deterministic for tests).
func (e *Engine) OnTick(now time.Time) []Action {
	var actions []Action

	if e.online && !e.lastDeviceTime.IsZero() && now.Sub(e.lastDeviceTime) > livenessTimeout {
		e.setOnline(false)
	}

	e.maintainInflight(now)

	if e.current.kind == requestNone {
		if a, ok := e.selectRequest(now); ok {
			actions = append(actions, a)
		}
	}

	if a, ok := e.statusAction(now); ok {
		actions = append(actions, a)
	}
	if a, ok := e.stateAction(now); ok {
		actions = append(actions, a)
	}

	return actions
}

// maintainInflight abandons a stale or preempted outstanding request so the
// next selection can run. Abandonment never rewinds the optimistic refresh
// timer set when the request was sent (I3/I4 in the design notes).
func (e *Engine) maintainInflight(now time.Time) {
	if e.current.kind == requestNone {
		return
	}
	timedOut := now.Sub(e.current.sentAt) > requestTimeout
	overflowed := len(e.queue) > queueOverflow
	if timedOut || overflowed {
		e.current = inflight{}
	}
}

func (e *Engine) overdue(now time.Time, last time.Time, refresh time.Duration) time.Duration {
	if last.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(last) - refresh
}

// selectRequest implements the §4.2 selection rule: input wins ties, only
// one request goes out per tick.
func (e *Engine) selectRequest(now time.Time) (Action, bool) {
	inputOverdue := e.overdue(now, e.inputResponseTime, e.cfg.InputRefresh)
	holdingOverdue := e.overdue(now, e.holdingResponseTime, e.cfg.HoldingRefresh)

	switch {
	case inputOverdue >= 0 && inputOverdue >= holdingOverdue:
		e.current = inflight{kind: requestInput, sentAt: now}
		e.inputResponseTime = now
		return e.requestAction(protocol.BuildReadInput(0, protocol.BankSize)), true

	case holdingOverdue >= 0 && holdingOverdue >= inputOverdue:
		e.current = inflight{kind: requestHolding, sentAt: now}
		e.holdingResponseTime = now
		return e.requestAction(protocol.BuildReadHolding(0, protocol.BankSize)), true

	case len(e.queue) > 0:
		w := e.queue[0]
		e.queue = e.queue[1:]
		e.current = inflight{kind: requestWrite, sentAt: now}
		return e.requestAction(protocol.BuildWriteSingle(w.index, w.value)), true
	}
	return Action{}, false
}

func (e *Engine) requestAction(frame []byte) Action {
	return Action{
		Kind:      ActionPublishRequest,
		Transport: TransportSydpower,
		Topic:     e.requestTopic,
		Payload:   frame,
	}
}

// OnResponse handles an inbound MODBUS response frame arriving on either
// the generic data topic or the 04-specific topic (both use this parser).
// Any message here, parseable or not, is evidence the device is alive.
func (e *Engine) OnResponse(now time.Time, raw []byte) {
	e.touchLiveness(now)

	frame, err := protocol.Parse(raw)
	if err != nil {
		e.log.LogWarn("device %s: discarding response: %v", e.cfg.MAC, err)
		e.failInflight()
		e.current = inflight{}
		return
	}

	switch {
	case frame.Exception:
		e.current = inflight{}

	case frame.ReadBank != nil && frame.Function == protocol.FuncReadHolding:
		e.decodeHolding(frame.ReadBank.Values)
		e.current = inflight{}

	case frame.ReadBank != nil && frame.Function == protocol.FuncReadInput:
		e.decodeInput(frame.ReadBank.Values)
		e.current = inflight{}

	case frame.WriteEcho != nil:
		e.applyWriteback(frame.WriteEcho.Index, frame.WriteEcho.Value)
		e.current = inflight{}
	}
}

// failInflight resets the refresh timer of whichever bank read was
// outstanding, forcing an immediate retry next tick (the "reset on decode
// failure" clause of §4.2).
func (e *Engine) failInflight() {
	switch e.current.kind {
	case requestInput:
		e.inputResponseTime = time.Time{}
	case requestHolding:
		e.holdingResponseTime = time.Time{}
	}
}

// touchLiveness marks the device as having communicated just now. A silent
// device does not regain online status until it actually sends something;
// ticks only ever move online->offline (see DESIGN.md).
func (e *Engine) touchLiveness(now time.Time) {
	e.lastDeviceTime = now
	if !e.online {
		e.setOnline(true)
	}
}

// OnStateSignal handles the one-byte (or other) payload on the sydpower
// state topic: 0x30 forces immediate offline without touching
// last_device_time; 0x31 is a no-op; anything else means online and
// refreshes last_device_time.
func (e *Engine) OnStateSignal(now time.Time, payload []byte) {
	if len(payload) == 1 {
		switch payload[0] {
		case 0x30:
			e.setOnline(false)
			return
		case 0x31:
			return
		}
	}
	if !e.online {
		e.setOnline(true)
	}
	e.lastDeviceTime = now
}

// setOnline flips the derived status and, on an actual transition, clears
// status_confirmed/status_time so the new status gets republished.
func (e *Engine) setOnline(online bool) {
	if e.online == online {
		return
	}
	e.online = online
	e.statusConfirmed = false
	e.statusTime = time.Time{}
	e.log.LogInfo("%v", bridgeerrors.NewDeviceLivenessError(e.cfg.MAC, online))
}

// OnStatusEcho confirms a previously published retained status once the
// bridge observes the same payload echoed back on its own status topic.
func (e *Engine) OnStatusEcho(payload string) {
	if payload == e.statusPayload() {
		e.statusConfirmed = true
	}
}

func (e *Engine) statusPayload() string {
	if e.online {
		return "online"
	}
	return "offline"
}

func (e *Engine) statusAction(now time.Time) (Action, bool) {
	if e.statusConfirmed || now.Sub(e.statusTime) < statusRepublish {
		return Action{}, false
	}
	e.statusTime = now
	return Action{
		Kind:      ActionPublishStatus,
		Transport: TransportClient,
		Topic:     e.statusTopic,
		Payload:   []byte(e.statusPayload()),
		Retain:    true,
	}, true
}

func (e *Engine) stateAction(now time.Time) (Action, bool) {
	firstEligible := !e.hasPublishedState && e.state.AllPopulated(e.present)
	changed := e.hasPublishedState && !e.state.Equal(e.stateLast, e.present)
	stale := e.hasPublishedState && now.Sub(e.stateLastTime) > e.cfg.StateRefresh

	if !firstEligible && !changed && !stale {
		return Action{}, false
	}

	payload, err := e.state.ToJSON(e.present)
	if err != nil {
		e.log.LogError("device %s: encoding state: %v", e.cfg.MAC, err)
		return Action{}, false
	}

	e.stateLast = e.state.Clone()
	e.stateLastTime = now
	e.hasPublishedState = true

	return Action{
		Kind:      ActionPublishState,
		Transport: TransportClient,
		Topic:     e.stateTopic,
		Payload:   payload,
		Retain:    false,
	}, true
}

// decodeHolding applies the §6 holding-bank register map.
func (e *Engine) decodeHolding(v [protocol.BankSize]uint16) {
	s := e.state
	s.ACSilentCharging = boolPtr(v[hregACSilentCharging] != 0)
	s.ACOutput = boolPtr(v[hregACOutput] != 0)
	s.DCOutput = boolPtr(v[hregDCOutput] != 0)
	s.USBOutput = boolPtr(v[hregUSBOutput] != 0)
	dmcc := int(v[hregDCMaxChargingCurrent])
	s.DCMaxChargingCurrent = &dmcc
	acb := int(v[hregACChargingBooking])
	s.ACChargingBooking = &acb
	s.KeySound = boolPtr(v[hregKeySound] != 0)
	led := devicestate.LED(v[hregLED] & 0x3)
	s.LED = &led
	e.setACChargingRate(int(v[hregACChargingRate]))
	dll := float64(v[hregDischargeLowerLimit]) / 10
	s.DischargeLowerLimit = &dll
	acul := float64(v[hregACChargingUpperLimit]) / 10
	s.ACChargingUpperLimit = &acul
}

// decodeInput applies the §6 input-bank register map.
func (e *Engine) decodeInput(v [protocol.BankSize]uint16) {
	s := e.state

	soc := float64(v[iregStateOfCharge]) / 10
	s.StateOfCharge = &soc

	statusBits := v[iregStatusBits]
	s.USBOutput = boolPtr(statusBits&(1<<statusBitUSB) != 0)
	s.DCOutput = boolPtr(statusBits&(1<<statusBitDC) != 0)
	s.ACOutput = boolPtr(statusBits&(1<<statusBitAC) != 0)

	acChargingPower := int(v[iregACChargingPower])
	s.ACChargingPower = &acChargingPower
	dcChargingPower := int(v[iregDCChargingPower])
	s.DCChargingPower = &dcChargingPower
	totalInputPower := int(v[iregTotalInputPower])
	s.TotalInputPower = &totalInputPower
	acOutputPower := int(v[iregACOutputPower])
	s.ACOutputPower = &acOutputPower

	chargingPower := acChargingPower + dcChargingPower
	s.ChargingPower = &chargingPower

	led := devicestate.LED(v[iregLEDState] & 0x3)
	s.LED = &led

	usbSum := 0
	for _, reg := range usbOutputPowerRegs {
		usbSum += int(v[reg])
	}
	usbPower := float64(usbSum) / 10
	s.USBOutputPower = &usbPower

	dcPower := float64(int(v[iregLEDPower])+int(v[iregDCOutputPower1])) / 10
	s.DCOutputPower = &dcPower

	acb := int(v[iregACChargingBooking])
	s.ACChargingBooking = &acb

	e.setACChargingRate(int(v[iregACChargingRate]))

	if e.cfg.GuessACInputPower {
		guess := totalInputPower - dcChargingPower
		if guess < 0 {
			guess = 0
		}
		s.ACInputPower = &guess
	}
}

// setACChargingRate applies the rate->level derivation shared by both bank
// decodes, clamping an out-of-range rate to the last configured level.
func (e *Engine) setACChargingRate(rate int) {
	r := rate
	e.state.ACChargingRate = &r

	levels := e.cfg.ACChargingLevels
	if len(levels) == 0 {
		return
	}
	idx := rate - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(levels)-1 {
		idx = len(levels) - 1
	}
	level := levels[idx]
	e.state.ACChargingLevel = &level
}

// applyWriteback validates an echoed 0x06 response against its register's
// rule and, if valid, mutates local state immediately (optimistic
// writeback). An invalid echo forces an immediate holding re-read instead
// of trusting the device's reported value.
func (e *Engine) applyWriteback(index, value uint16) {
	field, wt, ok := writeFieldForIndex(index)
	if !ok {
		return
	}
	if !wt.validate(value) {
		e.log.LogWarn("device %s: write echo for %s failed validation (value=%d), forcing re-read", e.cfg.MAC, field, value)
		e.holdingResponseTime = time.Time{}
		return
	}

	switch field {
	case "ac_output":
		e.state.ACOutput = boolPtr(value != 0)
	case "dc_output":
		e.state.DCOutput = boolPtr(value != 0)
	case "usb_output":
		e.state.USBOutput = boolPtr(value != 0)
	case "ac_silent_charging":
		e.state.ACSilentCharging = boolPtr(value != 0)
	case "key_sound":
		e.state.KeySound = boolPtr(value != 0)
	case "led":
		led := devicestate.LED(value)
		e.state.LED = &led
	case "ac_charging_booking":
		n := int(value)
		e.state.ACChargingBooking = &n
	case "dc_max_charging_current":
		n := int(value)
		e.state.DCMaxChargingCurrent = &n
	case "discharge_lower_limit":
		f := float64(value) / 10
		e.state.DischargeLowerLimit = &f
	case "ac_charging_upper_limit":
		f := float64(value) / 10
		e.state.ACChargingUpperLimit = &f
	}
}

func boolPtr(b bool) *bool { return &b }
