package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lesyd-bridge/pkg/device"
	"lesyd-bridge/pkg/logger"
	"lesyd-bridge/pkg/recovery"
)

// fakeClient is an in-memory MQTTClient stand-in: it records every publish
// and lets a test invoke a subscribed handler directly, without a broker.
type fakeClient struct {
	connected bool
	published []publishedMsg
	handlers  map[string]func(topic string, payload []byte)
	failNext  bool
}

type publishedMsg struct {
	topic   string
	payload []byte
	retain  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]func(string, []byte))}
}

func (f *fakeClient) Connect() error   { f.connected = true; return nil }
func (f *fakeClient) Disconnect()      { f.connected = false }
func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload []byte) error {
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.published = append(f.published, publishedMsg{topic: topic, payload: payload, retain: retained})
	return nil
}

func (f *fakeClient) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	f.handlers[topic] = handler
	return nil
}

func testEngine(mac, name string) *device.Engine {
	cfg := device.EngineConfig{
		MAC:            mac,
		DeviceName:     name,
		BridgeName:     "lesyd",
		InputRefresh:   6 * time.Second,
		HoldingRefresh: 30 * time.Second,
		StateRefresh:   30 * time.Second,
	}
	return device.NewEngine(cfg, nil, logger.NewStandardLogger())
}

func testBridge() (*Bridge, *fakeClient, *deviceEntry) {
	sydpower := newFakeClient()
	client := newFakeClient()
	eng := testEngine("aabbccddeeff", "station1")
	entry := &deviceEntry{
		engine:      eng,
		dataTopic:   "aabbccddeeff/device/response/client/data",
		input04:     "aabbccddeeff/device/response/client/04",
		stateSig:    "aabbccddeeff/device/response/state",
		statusTopic: "lesyd/station1/status",
		setPrefix:   "lesyd/station1/state/set/",
	}
	r := newRouter()
	r.add(entry)

	b := &Bridge{
		sydpower:  sydpower,
		client:    client,
		router:    r,
		events:    make(chan event, 8),
		breaker:   map[string]*recovery.CircuitBreaker{eng.MAC(): recovery.NewCircuitBreaker(recovery.CircuitBreakerConfig{})},
		willTopic: "lesyd/bridge/status",
	}
	return b, client, entry
}

// TestOnMessageCommandEnqueuesOnEngine drains the two overdue-bank polls a
// fresh engine always issues first (each abandoned by timeout so the next
// tick can select again), then confirms a third tick — with neither bank
// due — still fires a request: proof the command reached the write queue.
func TestOnMessageCommandEnqueuesOnEngine(t *testing.T) {
	b, _, entry := testBridge()
	b.onMessage(device.TransportClient, entry.setPrefix+"led", []byte("On"))

	base := time.Now()
	entry.engine.OnTick(base)
	entry.engine.OnTick(base.Add(301 * time.Millisecond))

	requestCount := 0
	for _, a := range entry.engine.OnTick(base.Add(602 * time.Millisecond)) {
		if a.Kind == device.ActionPublishRequest {
			requestCount++
		}
	}
	assert.Equal(t, 1, requestCount)
}

func TestOnMessageUnknownTopicIsIgnored(t *testing.T) {
	b, _, _ := testBridge()
	assert.NotPanics(t, func() {
		b.onMessage(device.TransportClient, "lesyd/unknown/state/set/led", []byte("On"))
	})
}

func TestPerformPublishesThroughTheMatchingTransport(t *testing.T) {
	b, client, entry := testBridge()
	action := device.Action{Kind: device.ActionPublishState, Transport: device.TransportClient, Topic: entry.statusTopic, Payload: []byte("online"), Retain: true}
	b.perform(entry, action)
	require.Len(t, client.published, 1)
	assert.Equal(t, entry.statusTopic, client.published[0].topic)
	assert.True(t, client.published[0].retain)
}

func TestPerformWrapsSydpowerPublishesInTheCircuitBreaker(t *testing.T) {
	b, _, entry := testBridge()
	sydpower := b.sydpower.(*fakeClient)
	sydpower.failNext = true

	action := device.Action{Kind: device.ActionPublishRequest, Transport: device.TransportSydpower, Topic: entry.dataTopic, Payload: []byte{1, 2, 3}}
	b.perform(entry, action)

	assert.Equal(t, 1, b.breaker[entry.engine.MAC()].GetFailures())
}

func TestShutdownPublishesRetainedOffline(t *testing.T) {
	b, client, _ := testBridge()
	b.shared = true

	err := b.shutdown()
	require.NoError(t, err)
	require.Len(t, client.published, 1)
	assert.Equal(t, b.willTopic, client.published[0].topic)
	assert.Equal(t, []byte("offline"), client.published[0].payload)
	assert.True(t, client.published[0].retain)
}
