package metrics

import (
	"time"

	bridgeerrors "lesyd-bridge/pkg/errors"
)

// NullCollector is a zero-overhead no-op Collector, used when metrics_port
// is 0 in the configuration.
type NullCollector struct{}

func NewNullCollector() *NullCollector { return &NullCollector{} }

func (NullCollector) IncFramesSent()                                             {}
func (NullCollector) IncFramesReceived()                                         {}
func (NullCollector) IncCRCErrors()                                              {}
func (NullCollector) IncRequestTimeouts()                                        {}
func (NullCollector) IncQueueOverflows()                                         {}
func (NullCollector) IncStatePublishes()                                         {}
func (NullCollector) IncDiscoveryPublishes()                                     {}
func (NullCollector) ObserveRequestRoundTrip(time.Duration)                      {}
func (NullCollector) SetDevicesOnline(int, int)                                  {}
func (NullCollector) ObserveError(int, bridgeerrors.ErrorSeverity)               {}
func (NullCollector) StartServer(string) error                                   { return nil }
