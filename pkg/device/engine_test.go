package device

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesyd-bridge/pkg/crc"
	"lesyd-bridge/pkg/devicestate"
	"lesyd-bridge/pkg/logger"
	"lesyd-bridge/pkg/protocol"
)

func testEngine(t *testing.T, cfg EngineConfig) *Engine {
	t.Helper()
	if cfg.MAC == "" {
		cfg.MAC = "aabbccddeeff"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "station"
	}
	if cfg.BridgeName == "" {
		cfg.BridgeName = "lesyd"
	}
	if cfg.InputRefresh == 0 {
		cfg.InputRefresh = 6 * time.Second
	}
	if cfg.HoldingRefresh == 0 {
		cfg.HoldingRefresh = 30 * time.Second
	}
	if cfg.StateRefresh == 0 {
		cfg.StateRefresh = 30 * time.Second
	}
	present := devicestate.PresentFields(cfg.Exclude, cfg.GuessACInputPower, len(cfg.ACChargingLevels) > 0)
	return NewEngine(cfg, present, logger.NewMockLogger())
}

func inputBankFrame(t *testing.T, set func(v *[protocol.BankSize]uint16)) []byte {
	t.Helper()
	var values [protocol.BankSize]uint16
	if set != nil {
		set(&values)
	}
	body := make([]byte, 6+protocol.BankSize*2)
	body[0], body[1] = protocol.UnitID, protocol.FuncReadInput
	body[4], body[5] = 0, protocol.BankSize
	for i, v := range values {
		off := 6 + i*2
		body[off] = byte(v >> 8)
		body[off+1] = byte(v)
	}
	return crc.AppendCRC(body)
}

func holdingBankFrame(t *testing.T, set func(v *[protocol.BankSize]uint16)) []byte {
	t.Helper()
	var values [protocol.BankSize]uint16
	if set != nil {
		set(&values)
	}
	body := make([]byte, 6+protocol.BankSize*2)
	body[0], body[1] = protocol.UnitID, protocol.FuncReadHolding
	body[4], body[5] = 0, protocol.BankSize
	for i, v := range values {
		off := 6 + i*2
		body[off] = byte(v >> 8)
		body[off+1] = byte(v)
	}
	return crc.AppendCRC(body)
}

func TestOverdueSelectionTiesFavorInput(t *testing.T) {
	e := testEngine(t, EngineConfig{InputRefresh: 6 * time.Second, HoldingRefresh: 6 * time.Second})
	now := time.Now()

	actions := e.OnTick(now)
	require.Len(t, actions, 2) // request + initial status publish
	assert.Equal(t, ActionPublishRequest, actions[0].Kind)
	assert.Equal(t, requestInput, e.current.kind)
}

func TestOnlyOneBankOverdueIsSelected(t *testing.T) {
	e := testEngine(t, EngineConfig{InputRefresh: 60 * time.Second, HoldingRefresh: 6 * time.Second})
	now := time.Now()
	e.inputResponseTime = now // input freshly satisfied, not overdue

	e.OnTick(now)
	assert.Equal(t, requestHolding, e.current.kind)
}

func TestRequestTimeoutAbandonsOutstanding(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	now := time.Now()
	e.OnTick(now)
	require.Equal(t, requestInput, e.current.kind)

	e.OnTick(now.Add(301 * time.Millisecond))
	// input was just optimistically marked fresh before the timeout; holding
	// was never read at all, so it is the one selected on the very next tick.
	assert.Equal(t, requestHolding, e.current.kind)
}

func TestQueueOverflowAbandonsOutstandingRequest(t *testing.T) {
	e := testEngine(t, EngineConfig{InputRefresh: time.Hour, HoldingRefresh: time.Hour})
	now := time.Now()
	e.inputResponseTime = now
	e.holdingResponseTime = now

	for i := 0; i < 12; i++ {
		require.True(t, e.EnqueueCommand("key_sound", "on"))
	}
	e.current = inflight{kind: requestWrite, sentAt: now}

	e.OnTick(now.Add(time.Millisecond))
	assert.Equal(t, requestWrite, e.current.kind) // a fresh write was selected from the drained queue
	assert.Len(t, e.queue, 11)
}

func TestOptimisticWritebackAppliesOnValidEcho(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	now := time.Now()
	require.True(t, e.EnqueueCommand("ac_output", "on"))
	e.current = inflight{kind: requestWrite, sentAt: now}

	echo := protocol.BuildWriteSingle(hregACOutput, 1)
	e.OnResponse(now, echo)

	require.NotNil(t, e.state.ACOutput)
	assert.True(t, *e.state.ACOutput)
	assert.Equal(t, requestNone, e.current.kind)
}

func TestInvalidEchoForcesHoldingReread(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	now := time.Now()
	e.holdingResponseTime = now
	e.current = inflight{kind: requestWrite, sentAt: now}

	echo := protocol.BuildWriteSingle(hregDischargeLowerLimit, 700) // out of 0..500 range
	e.OnResponse(now, echo)

	assert.Nil(t, e.state.DischargeLowerLimit)
	assert.True(t, e.holdingResponseTime.IsZero())
}

func TestLivenessTimeoutGoesOffline(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	now := time.Now()
	e.OnResponse(now, inputBankFrame(t, nil))
	require.True(t, e.Online())

	e.OnTick(now.Add(25 * time.Second))
	assert.False(t, e.Online())
}

func TestState30ForcesOfflineWithoutTouchingLastDeviceTime(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	now := time.Now()
	e.OnResponse(now, inputBankFrame(t, nil))
	before := e.lastDeviceTime

	e.OnStateSignal(now.Add(time.Second), []byte{0x30})
	assert.False(t, e.Online())
	assert.Equal(t, before, e.lastDeviceTime)
}

func TestState31IsANoOp(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	now := time.Now()
	e.OnStateSignal(now, []byte{0x31})
	assert.False(t, e.Online())
}

func TestStatusConfirmationViaEcho(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	now := time.Now()
	actions := e.OnTick(now)

	var published string
	for _, a := range actions {
		if a.Kind == ActionPublishStatus {
			published = string(a.Payload)
		}
	}
	require.Equal(t, "offline", published)
	assert.False(t, e.statusConfirmed)

	e.OnStatusEcho(published)
	assert.True(t, e.statusConfirmed)
}

func TestStatePublicationRequiresFullPopulationFirst(t *testing.T) {
	e := testEngine(t, EngineConfig{Exclude: allExcept("state_of_charge")})
	now := time.Now()

	actions := e.OnTick(now)
	assertNoStateAction(t, actions)

	e.OnResponse(now, inputBankFrame(t, func(v *[protocol.BankSize]uint16) { v[iregStateOfCharge] = 732 }))
	actions = e.OnTick(now)
	payload := findStateAction(t, actions)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.InDelta(t, 73.2, decoded["state_of_charge"], 0.001)
}

func TestACChargingLevelDerivationClampsOutOfRange(t *testing.T) {
	e := testEngine(t, EngineConfig{ACChargingLevels: []int{300, 500, 700, 900, 1100}})
	e.setACChargingRate(4)
	require.NotNil(t, e.state.ACChargingLevel)
	assert.Equal(t, 900, *e.state.ACChargingLevel)

	e.setACChargingRate(9)
	assert.Equal(t, 1100, *e.state.ACChargingLevel)
}

func TestGuessACInputPower(t *testing.T) {
	e := testEngine(t, EngineConfig{GuessACInputPower: true})
	e.OnResponse(time.Now(), inputBankFrame(t, func(v *[protocol.BankSize]uint16) {
		v[iregTotalInputPower] = 150
		v[iregDCChargingPower] = 50
	}))
	require.NotNil(t, e.state.ACInputPower)
	assert.Equal(t, 100, *e.state.ACInputPower)
}

func TestHoldingDecodeUsesKeySoundIndex56(t *testing.T) {
	e := testEngine(t, EngineConfig{})
	e.decodeHolding(buildHoldingValues(func(v *[protocol.BankSize]uint16) {
		v[hregKeySound] = 1
		v[hregACChargingBooking] = 0 // would read as key_sound=false if the source bug were replicated
	}))
	require.NotNil(t, e.state.KeySound)
	assert.True(t, *e.state.KeySound)
}

func buildHoldingValues(set func(v *[protocol.BankSize]uint16)) [protocol.BankSize]uint16 {
	var values [protocol.BankSize]uint16
	set(&values)
	return values
}

func allExcept(keep string) map[string]bool {
	exclude := map[string]bool{}
	for _, f := range devicestate.Fields {
		if f != keep {
			exclude[f] = true
		}
	}
	return exclude
}

func assertNoStateAction(t *testing.T, actions []Action) {
	t.Helper()
	for _, a := range actions {
		assert.NotEqual(t, ActionPublishState, a.Kind)
	}
}

func findStateAction(t *testing.T, actions []Action) []byte {
	t.Helper()
	for _, a := range actions {
		if a.Kind == ActionPublishState {
			return a.Payload
		}
	}
	t.Fatal("no state publish action found")
	return nil
}
