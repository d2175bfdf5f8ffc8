// Package builder assembles a runnable bridge.Bridge from a loaded
// config.Config: one device.Engine per configured device, the shared
// logger/metrics/health plumbing, and the bridge's MQTT routing table.
// Mirrors the teacher's fluent ApplicationBuilder, generalized to this
// domain's device/engine/bridge graph instead of gateway/executor/publisher.
package builder

import (
	"fmt"
	"time"

	"lesyd-bridge/pkg/bridge"
	"lesyd-bridge/pkg/config"
	"lesyd-bridge/pkg/device"
	"lesyd-bridge/pkg/devicestate"
	bridgeerrors "lesyd-bridge/pkg/errors"
	"lesyd-bridge/pkg/health"
	"lesyd-bridge/pkg/logger"
	"lesyd-bridge/pkg/metrics"
)

// BridgeBuilder provides a fluent interface for constructing a Bridge,
// following the same pattern the original ApplicationBuilder used:
// defaults are filled in at Build() time for anything the caller didn't
// explicitly set.
type BridgeBuilder struct {
	config  *config.Config
	log     logger.ILogger
	metrics metrics.Collector
	errs    *bridgeerrors.Handler
	version string
}

// NewBridgeBuilder creates a new builder from a loaded configuration.
func NewBridgeBuilder(cfg *config.Config) *BridgeBuilder {
	return &BridgeBuilder{config: cfg, version: "dev"}
}

// WithLogger sets a custom logger implementation.
func (b *BridgeBuilder) WithLogger(log logger.ILogger) *BridgeBuilder {
	b.log = log
	return b
}

// WithMetrics sets a custom metrics collector.
func (b *BridgeBuilder) WithMetrics(col metrics.Collector) *BridgeBuilder {
	b.metrics = col
	return b
}

// WithErrorHandler sets a custom error handler.
func (b *BridgeBuilder) WithErrorHandler(h *bridgeerrors.Handler) *BridgeBuilder {
	b.errs = h
	return b
}

// WithVersion stamps the bridge's release version into discovery documents
// and the health endpoint.
func (b *BridgeBuilder) WithVersion(v string) *BridgeBuilder {
	b.version = v
	return b
}

// Build constructs every device.Engine from the configuration, wires the
// shared logger/metrics/health dependencies, and returns a runnable Bridge.
func (b *BridgeBuilder) Build() (*bridge.Bridge, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if b.log == nil {
		b.log = logger.NewStandardLogger()
	}

	if b.metrics == nil {
		if b.config.MetricsPort > 0 {
			b.metrics = metrics.NewPrometheusCollector()
		} else {
			b.metrics = metrics.NewNullCollector()
		}
	}

	if b.errs == nil {
		b.errs = bridgeerrors.NewHandler(b.metrics)
	}

	bridge.BridgeVersion = b.version

	engines := make(map[string]*device.Engine, len(b.config.Devices))
	for mac, dev := range b.config.Devices {
		exclude := make(map[string]bool, len(dev.Exclude))
		for _, f := range dev.Exclude {
			exclude[f] = true
		}

		present := devicestate.PresentFields(exclude, dev.GuessACInputPower, len(dev.ACChargingLevels) > 0)

		cfg := device.EngineConfig{
			MAC:               mac,
			DeviceName:        dev.Name,
			BridgeName:        b.config.LesydName,
			InputRefresh:      time.Duration(dev.InputRefresh) * time.Second,
			HoldingRefresh:    time.Duration(dev.HoldingRefresh) * time.Second,
			StateRefresh:      time.Duration(dev.StateRefresh) * time.Second,
			Exclude:           exclude,
			GuessACInputPower: dev.GuessACInputPower,
			ACChargingLevels:  dev.ACChargingLevels,
		}

		engines[mac] = device.NewEngine(cfg, present, b.log)
	}

	devices := func() (online, total int) {
		total = len(engines)
		for _, eng := range engines {
			if eng.Online() {
				online++
			}
		}
		return online, total
	}
	mon := health.NewMonitor(b.version, devices)

	return bridge.New(b.config, engines, mon, b.metrics, b.errs), nil
}
