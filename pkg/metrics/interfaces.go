// Package metrics collects process-level counters and exposes them in
// Prometheus text format. It follows the dependency-inversion shape the
// teacher used for its own gateway metrics: a narrow Collector interface
// with a NullCollector no-op and a PrometheusCollector implementation, so
// the device engine and bridge never import the concrete type.
package metrics

import (
	"time"

	bridgeerrors "lesyd-bridge/pkg/errors"
)

// Collector is the narrow surface the device engine and bridge depend on.
// It also satisfies errors.Observer so the central error handler can feed
// diagnostic-code counts straight into Prometheus.
type Collector interface {
	IncFramesSent()
	IncFramesReceived()
	IncCRCErrors()
	IncRequestTimeouts()
	IncQueueOverflows()
	IncStatePublishes()
	IncDiscoveryPublishes()
	ObserveRequestRoundTrip(d time.Duration)
	SetDevicesOnline(online, total int)
	ObserveError(code int, severity bridgeerrors.ErrorSeverity)

	StartServer(addr string) error
}

var _ Collector = (*PrometheusCollector)(nil)
var _ Collector = (*NullCollector)(nil)
