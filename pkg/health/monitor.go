// Package health tracks the two MQTT transport connections and exposes an
// HTTP /healthz endpoint summarizing them alongside device liveness counts.
// It does not participate in the per-device liveness rule (§4.4 of the
// design: a strict 20s timeout, no grace period) — that lives entirely in
// pkg/device. This package only answers "is the bridge itself healthy",
// an operational question the spec leaves unspecified.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lesyd-bridge/pkg/recovery"
)

type Transport string

const (
	TransportClient   Transport = "client"
	TransportSydpower Transport = "sydpower"
)

// DeviceCounter reports how many configured devices are currently online.
type DeviceCounter func() (online, total int)

type Monitor struct {
	mu        sync.RWMutex
	connected map[Transport]bool
	recovery  map[Transport]*recovery.ErrorRecoveryManager
	startTime time.Time
	version   string
	devices   DeviceCounter
}

func NewMonitor(version string, devices DeviceCounter) *Monitor {
	return &Monitor{
		connected: map[Transport]bool{TransportClient: false, TransportSydpower: false},
		recovery: map[Transport]*recovery.ErrorRecoveryManager{
			TransportClient:   recovery.NewErrorRecoveryManager(15 * time.Second),
			TransportSydpower: recovery.NewErrorRecoveryManager(15 * time.Second),
		},
		startTime: time.Now(),
		version:   version,
		devices:   devices,
	}
}

func (m *Monitor) RecordConnect(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[t] = true
	m.recovery[t].RecordSuccess()
}

func (m *Monitor) RecordDisconnect(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[t] = false
	m.recovery[t].RecordError()
}

type Status struct {
	Status        string          `json:"status"`
	Uptime        string          `json:"uptime"`
	Transports    map[string]bool `json:"transports"`
	DevicesOnline int             `json:"devices_online"`
	DevicesTotal  int             `json:"devices_total"`
	Version       string          `json:"version,omitempty"`
}

func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transports := make(map[string]bool, len(m.connected))
	allUp := true
	anyFlapping := false
	for t, up := range m.connected {
		transports[string(t)] = up
		if !up {
			allUp = false
		}
		if m.recovery[t].IsInGracePeriod() {
			anyFlapping = true
		}
	}

	online, total := 0, 0
	if m.devices != nil {
		online, total = m.devices()
	}

	status := "healthy"
	switch {
	case !allUp:
		status = "unhealthy"
	case anyFlapping, (total > 0 && online < total):
		status = "degraded"
	}

	return Status{
		Status:        status,
		Uptime:        time.Since(m.startTime).Round(time.Second).String(),
		Transports:    transports,
		DevicesOnline: online,
		DevicesTotal:  total,
		Version:       m.version,
	}
}

func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := m.Snapshot()
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("encode health status: %v", err), http.StatusInternalServerError)
	}
}

// NewServer builds an *http.Server exposing /healthz, with the same
// explicit timeout hardening the teacher applied to its own health server
// (unbounded read/write timeouts on a handler fed by untrusted clients are
// a standing gosec finding).
func NewServer(addr string, mon *Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", mon)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
