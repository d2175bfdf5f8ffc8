// Package bridge implements the single-threaded cooperative event loop that
// ties the two MQTT transports to the per-device protocol engines: it owns
// the subscription routing table, the periodic tick, and graceful
// shutdown, but never decodes a register or mutates device state itself.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lesyd-bridge/pkg/config"
	"lesyd-bridge/pkg/device"
	"lesyd-bridge/pkg/discovery"
	bridgeerrors "lesyd-bridge/pkg/errors"
	"lesyd-bridge/pkg/health"
	"lesyd-bridge/pkg/logger"
	"lesyd-bridge/pkg/metrics"
	"lesyd-bridge/pkg/recovery"
)

// ErrInterrupted is returned by Run when shutdown was triggered by SIGINT
// rather than the caller cancelling ctx, so main.go can exit 1 per the
// interface's exit-code table while still treating ctx cancellation (used
// by tests and embedders) as a clean return.
var ErrInterrupted = errors.New("interrupted")

const (
	tickInterval = 200 * time.Millisecond
	tickFloor    = 100 * time.Millisecond
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventConnectFail
	eventDisconnect
	eventMessage
	eventShutdown
)

type event struct {
	kind      eventKind
	transport device.Transport
	topic     string
	payload   []byte
	err       error
}

// Bridge is the bridge-level event loop and its two MQTT connections.
type Bridge struct {
	cfg  *config.Config
	name string

	sydpower MQTTClient
	client   MQTTClient
	shared   bool // sydpower and client point at the same broker connection

	router *router

	events chan event

	health  *health.Monitor
	metrics metrics.Collector
	errs    *bridgeerrors.Handler
	breaker map[string]*recovery.CircuitBreaker // per-device sydpower publish breaker

	healthPort  int
	metricsPort int
	healthSrv   *http.Server

	willTopic string
}

// New builds a Bridge from configuration and the already-constructed
// per-device engines. engines is keyed by MAC, matching config.Config.Devices.
func New(cfg *config.Config, engines map[string]*device.Engine, mon *health.Monitor, col metrics.Collector, errs *bridgeerrors.Handler) *Bridge {
	b := &Bridge{
		cfg:         cfg,
		name:        cfg.LesydName,
		router:      newRouter(),
		events:      make(chan event, 256),
		health:      mon,
		metrics:     col,
		errs:        errs,
		breaker:     make(map[string]*recovery.CircuitBreaker),
		healthPort:  cfg.HealthPort,
		metricsPort: cfg.MetricsPort,
		willTopic:   cfg.LesydName + "/bridge/status",
	}

	for mac, eng := range engines {
		dev := cfg.Devices[mac]
		entry := &deviceEntry{
			engine:      eng,
			dataTopic:   mac + "/device/response/client/data",
			input04:     mac + "/device/response/client/04",
			stateSig:    mac + "/device/response/state",
			statusTopic: cfg.LesydName + "/" + dev.Name + "/status",
			setPrefix:   cfg.LesydName + "/" + dev.Name + "/state/set/",
		}
		b.router.add(entry)
		b.breaker[mac] = recovery.NewCircuitBreaker(recovery.CircuitBreakerConfig{})
	}

	b.sydpower = NewPahoClient("sydpower", cfg.Sydpower, func() {
		b.events <- event{kind: eventConnect, transport: device.TransportSydpower}
	}, func(err error) {
		b.events <- event{kind: eventDisconnect, transport: device.TransportSydpower, err: err}
	})

	sameEndpoint := cfg.Sydpower == cfg.Client
	if sameEndpoint {
		b.client = b.sydpower
		b.shared = true
	} else {
		b.client = NewPahoClient("client", cfg.Client, func() {
			b.events <- event{kind: eventConnect, transport: device.TransportClient}
		}, func(err error) {
			b.events <- event{kind: eventDisconnect, transport: device.TransportClient, err: err}
		})
	}

	return b
}

func (b *Bridge) transportClient(t device.Transport) MQTTClient {
	if t == device.TransportClient {
		return b.client
	}
	return b.sydpower
}

// Run connects both transports and drives the event loop until ctx is
// cancelled or SIGINT arrives. It returns after a clean shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if err := b.sydpower.Connect(); err != nil {
		return bridgeerrors.NewTransportError("connect", err, "sydpower")
	}
	if !b.shared {
		if err := b.client.Connect(); err != nil {
			return bridgeerrors.NewTransportError("connect", err, "client")
		}
	}

	b.startObservabilityServers()

	nextTick := time.Now().Add(tickInterval)

	for {
		timeout := time.Until(nextTick)
		if timeout < tickFloor {
			timeout = tickFloor
		}
		timer := time.NewTimer(timeout)

		select {
		case <-ctx.Done():
			timer.Stop()
			return b.shutdown()

		case <-sigCh:
			timer.Stop()
			if err := b.shutdown(); err != nil {
				return err
			}
			return ErrInterrupted

		case now := <-timer.C:
			if now.After(nextTick) || now.Equal(nextTick) {
				b.onTick(now)
				nextTick = now.Add(tickInterval)
			}

		case ev := <-b.events:
			timer.Stop()
			b.handleEvent(ev)
		}
	}
}

// startObservabilityServers launches /healthz and /metrics as background
// goroutines, each gated on its port being configured. Both StartServer and
// NewServer's ListenAndServe block, so each runs on its own goroutine;
// ErrServerClosed from a graceful shutdown is expected and not logged.
func (b *Bridge) startObservabilityServers() {
	if b.metricsPort > 0 && b.metrics != nil {
		addr := fmt.Sprintf(":%d", b.metricsPort)
		go func() {
			if err := b.metrics.StartServer(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogError("metrics: server on %s: %v", addr, err)
			}
		}()
	}

	if b.healthPort > 0 && b.health != nil {
		addr := fmt.Sprintf(":%d", b.healthPort)
		b.healthSrv = health.NewServer(addr, b.health)
		go func() {
			if err := b.healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogError("health: server on %s: %v", addr, err)
			}
		}()
	}
}

func (b *Bridge) handleEvent(ev event) {
	switch ev.kind {
	case eventConnect:
		b.onConnect(ev.transport)
	case eventDisconnect:
		b.onDisconnect(ev.transport, ev.err)
	case eventMessage:
		b.onMessage(ev.transport, ev.topic, ev.payload)
	}
}

func (b *Bridge) onConnect(t device.Transport) {
	if b.health != nil {
		if t == device.TransportSydpower {
			b.health.RecordConnect(health.TransportSydpower)
		} else {
			b.health.RecordConnect(health.TransportClient)
		}
	}

	if t == device.TransportSydpower {
		for _, d := range b.router.devices {
			for _, topic := range []string{d.dataTopic, d.input04, d.stateSig} {
				topic := topic
				if err := b.sydpower.Subscribe(topic, 0, func(topic string, payload []byte) {
					b.events <- event{kind: eventMessage, transport: device.TransportSydpower, topic: topic, payload: payload}
				}); err != nil {
					logger.LogError("sydpower: subscribe %s: %v", topic, err)
				}
			}
		}
		return
	}

	if err := b.client.Publish(b.willTopic, 0, true, []byte("online")); err != nil {
		logger.LogError("client: publish bridge status: %v", err)
	}

	for _, d := range b.router.devices {
		d := d
		if err := b.client.Subscribe(d.statusTopic, 0, func(topic string, payload []byte) {
			b.events <- event{kind: eventMessage, transport: device.TransportClient, topic: topic, payload: payload}
		}); err != nil {
			logger.LogError("client: subscribe %s: %v", d.statusTopic, err)
		}
		cmdTopic := d.setPrefix + "+"
		if err := b.client.Subscribe(cmdTopic, 0, func(topic string, payload []byte) {
			b.events <- event{kind: eventMessage, transport: device.TransportClient, topic: topic, payload: payload}
		}); err != nil {
			logger.LogError("client: subscribe %s: %v", cmdTopic, err)
		}
	}

	if b.cfg.HADiscovery {
		b.publishDiscovery()
	}
}

func (b *Bridge) onDisconnect(t device.Transport, err error) {
	name := "client"
	ht := health.TransportClient
	if t == device.TransportSydpower {
		name = "sydpower"
		ht = health.TransportSydpower
	}
	if b.health != nil {
		b.health.RecordDisconnect(ht)
	}
	if b.errs != nil {
		b.errs.Handle(bridgeerrors.NewTransportError("disconnect", err, name))
	}
}

func (b *Bridge) onMessage(t device.Transport, topic string, payload []byte) {
	now := time.Now()

	if t == device.TransportSydpower {
		d, ok := b.router.lookup(t, topic)
		if !ok {
			return
		}
		if topic == d.stateSig {
			d.engine.OnStateSignal(now, payload)
		} else {
			d.engine.OnResponse(now, payload)
		}
		if b.metrics != nil {
			b.metrics.IncFramesReceived()
		}
		return
	}

	if d, ok := b.router.lookup(t, topic); ok {
		d.engine.OnStatusEcho(string(payload))
		return
	}
	if d, field, ok := b.router.lookupCommand(topic); ok {
		if !d.engine.EnqueueCommand(field, string(payload)) {
			logger.LogWarn("client: dropped invalid command on %s: %q", topic, payload)
		}
	}
}

func (b *Bridge) onTick(now time.Time) {
	for _, d := range b.router.devices {
		for _, action := range d.engine.OnTick(now) {
			b.perform(d, action)
		}
	}

	if b.metrics != nil {
		online, total := 0, len(b.router.devices)
		for _, d := range b.router.devices {
			if d.engine.Online() {
				online++
			}
		}
		b.metrics.SetDevicesOnline(online, total)
	}
}

func (b *Bridge) perform(d *deviceEntry, action device.Action) {
	client := b.transportClient(action.Transport)
	qos := byte(0)

	publish := func() error {
		return client.Publish(action.Topic, qos, action.Retain, action.Payload)
	}

	var err error
	if action.Transport == device.TransportSydpower {
		if breaker, ok := b.breaker[d.engine.MAC()]; ok {
			err = breaker.Call(publish)
		} else {
			err = publish()
		}
	} else {
		err = publish()
	}

	if err != nil {
		logger.LogWarn("publish %s: %v", action.Topic, err)
		return
	}

	if b.metrics != nil {
		switch action.Kind {
		case device.ActionPublishRequest:
			b.metrics.IncFramesSent()
		case device.ActionPublishState:
			b.metrics.IncStatePublishes()
		}
	}
}

func (b *Bridge) publishDiscovery() {
	for mac, dev := range b.cfg.Devices {
		entry, ok := b.router.lookup(device.TransportClient, b.cfg.LesydName+"/"+dev.Name+"/status")
		if !ok {
			continue
		}
		meta := discovery.DeviceMeta{
			MAC:                     mac,
			Name:                    dev.Name,
			Manufacturer:            dev.Manufacturer,
			ModelID:                 dev.ModelID,
			HWVersion:               "1.0rev2",
			WillTopic:               b.willTopic,
			StatusTopic:             entry.statusTopic,
			StateTopic:              b.cfg.LesydName + "/" + dev.Name + "/state",
			LEDChoices:              []string{"Off", "On", "SOS", "Flash"},
			MaxACChargingBooking:    1439,
			MaxDCChargingCurrent:    20,
			MaxDischargeLowerLimit:  50.0,
			MinACChargingUpperLimit: 60.0,
			MaxACChargingUpperLimit: 100.0,
		}

		payload, err := discoveryPayload(b.name, meta, entry.engine.Present())
		if err != nil {
			logger.LogError("discovery: encode %s: %v", dev.Name, err)
			continue
		}
		topic := discovery.ConfigTopic(b.cfg.HAPrefix, mac)
		if err := b.client.Publish(topic, 0, true, payload); err != nil {
			logger.LogError("discovery: publish %s: %v", dev.Name, err)
			continue
		}
		if b.metrics != nil {
			b.metrics.IncDiscoveryPublishes()
		}
	}
}

// shutdown publishes the retained offline availability, waits for the
// broker's ack, then disconnects both transports.
func (b *Bridge) shutdown() error {
	logger.LogInfo("shutting down: publishing offline availability")
	if err := b.client.Publish(b.willTopic, 0, true, []byte("offline")); err != nil {
		logger.LogWarn("shutdown: publish offline failed: %v", err)
	}
	if !b.shared {
		b.client.Disconnect()
	}
	b.sydpower.Disconnect()

	if b.healthSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.healthSrv.Shutdown(ctx); err != nil {
			logger.LogWarn("shutdown: health server: %v", err)
		}
	}

	return nil
}
