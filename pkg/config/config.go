// Package config loads and validates the bridge's YAML configuration:
// global options, the two MQTT endpoints, the device table keyed by MAC,
// and named presets devices can inherit metadata from.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	bridgeerrors "lesyd-bridge/pkg/errors"
	"lesyd-bridge/pkg/logger"
)

const (
	DefaultLesydName      = "lesyd"
	DefaultHAPrefix        = "homeassistant"
	DefaultLogLevel        = "info"
	DefaultInputRefresh    = 6
	DefaultHoldingRefresh  = 30
	DefaultStateRefresh    = 30
	minRefreshSeconds      = 3
	maxRefreshSeconds      = 60
	reservedDeviceName     = "bridge"
)

var deviceNamePattern = regexp.MustCompile(`^[0-9A-Za-z_]+$`)
var macPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

var validTransports = map[string]bool{"tcp": true, "unix": true, "websocket": true}
var validTLSVersions = map[string]bool{"default": true, "tlsv1.2": true, "tlsv1.1": true, "tlsv1": true}

// TLSConfig is the optional TLS block on an MQTT endpoint.
type TLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Version string `yaml:"version"` // default, tlsv1.2, tlsv1.1, tlsv1
	CAFile  string `yaml:"ca_file,omitempty"`
}

// Endpoint is one MQTT broker connection (sydpower or client).
type Endpoint struct {
	Hostname  string     `yaml:"hostname"`
	Port      int        `yaml:"port"`
	Username  string     `yaml:"username"`
	Password  string     `yaml:"password"`
	Transport string     `yaml:"transport"` // tcp, unix, websocket
	TLS       *TLSConfig `yaml:"tls,omitempty"`
}

// Preset is a named bundle of device metadata defaults.
type Preset struct {
	Manufacturer     string `yaml:"manufacturer"`
	ModelID          string `yaml:"model_id"`
	ACChargingLevels []int  `yaml:"ac_charging_levels,omitempty"`
}

// Device is one configured station, keyed by its MAC address in Config.Devices.
type Device struct {
	Name              string   `yaml:"name"`
	Preset            string   `yaml:"preset,omitempty"`
	Manufacturer      string   `yaml:"manufacturer,omitempty"`
	ModelID           string   `yaml:"model_id,omitempty"`
	Extension1        string   `yaml:"extension1,omitempty"`
	Extension2        string   `yaml:"extension2,omitempty"`
	Exclude           []string `yaml:"exclude,omitempty"`
	InputRefresh      int      `yaml:"input_refresh,omitempty"`
	HoldingRefresh    int      `yaml:"holding_refresh,omitempty"`
	StateRefresh      int      `yaml:"state_refresh,omitempty"`
	ACChargingLevels  []int    `yaml:"ac_charging_levels,omitempty"`
	GuessACInputPower bool     `yaml:"guess_ac_input_power,omitempty"`
}

// Config is the full bridge configuration document.
type Config struct {
	LesydName   string              `yaml:"lesyd_name,omitempty"`
	HADiscovery bool                `yaml:"ha_discovery"`
	HAPrefix    string              `yaml:"ha_prefix,omitempty"`
	MetricsPort int                 `yaml:"metrics_port,omitempty"`
	HealthPort  int                 `yaml:"health_port,omitempty"`

	Logging logger.LoggingConfig `yaml:"logging"`

	Sydpower Endpoint `yaml:"sydpower"`
	Client   Endpoint `yaml:"client"`

	Devices map[string]Device `yaml:"devices"`
	Presets map[string]Preset `yaml:"presets,omitempty"`
}

// Load reads the first existing YAML file from paths, applies defaults,
// merges presets into devices, and validates the result. An empty or
// all-missing paths list is itself a ConfigError.
func Load(paths []string) (*Config, error) {
	var data []byte
	var usedPath string
	var lastErr error

	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - paths come from the CLI flag and a fixed candidate list
		b, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		data, usedPath = b, path
		break
	}

	if usedPath == "" {
		return nil, bridgeerrors.NewConfigError("load", fmt.Errorf("no readable config file in %v: %w", paths, lastErr), "")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, bridgeerrors.NewConfigError("parse", err, usedPath)
	}

	cfg.applyDefaults()
	cfg.applyPresets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.LogInfo("✅ configuration loaded from %s (%d devices)", usedPath, len(cfg.Devices))
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LesydName == "" {
		c.LesydName = DefaultLesydName
	}
	if c.HAPrefix == "" {
		c.HAPrefix = DefaultHAPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	for mac, d := range c.Devices {
		if d.InputRefresh == 0 {
			d.InputRefresh = DefaultInputRefresh
		}
		if d.HoldingRefresh == 0 {
			d.HoldingRefresh = DefaultHoldingRefresh
		}
		if d.StateRefresh == 0 {
			d.StateRefresh = DefaultStateRefresh
		}
		c.Devices[mac] = d
	}
}

// applyPresets merges a named preset's metadata into a device whose own
// fields are left at the zero value; explicit device fields always win.
func (c *Config) applyPresets() {
	for mac, d := range c.Devices {
		if d.Preset == "" {
			continue
		}
		preset, ok := c.Presets[d.Preset]
		if !ok {
			continue
		}
		if d.Manufacturer == "" {
			d.Manufacturer = preset.Manufacturer
		}
		if d.ModelID == "" {
			d.ModelID = preset.ModelID
		}
		if len(d.ACChargingLevels) == 0 {
			d.ACChargingLevels = preset.ACChargingLevels
		}
		c.Devices[mac] = d
	}
}

// Validate enforces the configuration-surface invariants from the source
// spec's §6/§4.6: name shape and uniqueness, the reserved bridge name,
// refresh-interval clamping, and the transport/TLS enumerations.
func (c *Config) Validate() error {
	if err := validateEndpoint("sydpower", c.Sydpower); err != nil {
		return err
	}
	if err := validateEndpoint("client", c.Client); err != nil {
		return err
	}

	seenNames := make(map[string]string, len(c.Devices))
	for mac, d := range c.Devices {
		if !macPattern.MatchString(mac) {
			return bridgeerrors.NewConfigError("validate", fmt.Errorf("device key %q must be 12 lowercase hex characters", mac), "devices."+mac)
		}
		if d.Name == "" {
			return bridgeerrors.NewConfigError("validate", fmt.Errorf("device %s has no name", mac), "devices."+mac+".name")
		}
		if !deviceNamePattern.MatchString(d.Name) {
			return bridgeerrors.NewConfigError("validate", fmt.Errorf("device name %q must match %s", d.Name, deviceNamePattern.String()), "devices."+mac+".name")
		}
		if d.Name == reservedDeviceName {
			return bridgeerrors.NewConfigError("validate", fmt.Errorf("device name %q is reserved", d.Name), "devices."+mac+".name")
		}
		if otherMAC, dup := seenNames[d.Name]; dup {
			return bridgeerrors.NewConfigError("validate", fmt.Errorf("device name %q used by both %s and %s", d.Name, otherMAC, mac), "devices."+mac+".name")
		}
		seenNames[d.Name] = mac

		if len(d.ACChargingLevels) == 0 && d.ACChargingLevels != nil {
			return bridgeerrors.NewConfigError("validate", fmt.Errorf("device %s: ac_charging_levels must be non-empty if present", mac), "devices."+mac+".ac_charging_levels")
		}
		for _, level := range d.ACChargingLevels {
			if level <= 0 {
				return bridgeerrors.NewConfigError("validate", fmt.Errorf("device %s: ac_charging_levels must all be positive", mac), "devices."+mac+".ac_charging_levels")
			}
		}

		d.InputRefresh = clampRefresh(d.InputRefresh)
		d.HoldingRefresh = clampRefresh(d.HoldingRefresh)
		d.StateRefresh = clampRefresh(d.StateRefresh)
		c.Devices[mac] = d
	}

	return nil
}

func clampRefresh(seconds int) int {
	if seconds < minRefreshSeconds {
		return minRefreshSeconds
	}
	if seconds > maxRefreshSeconds {
		return maxRefreshSeconds
	}
	return seconds
}

func validateEndpoint(name string, e Endpoint) error {
	if e.Hostname == "" {
		return bridgeerrors.NewConfigError("validate", fmt.Errorf("%s.hostname is required", name), name+".hostname")
	}
	if e.Transport != "" && !validTransports[e.Transport] {
		return bridgeerrors.NewConfigError("validate", fmt.Errorf("%s.transport %q is not one of tcp/unix/websocket", name, e.Transport), name+".transport")
	}
	if e.TLS != nil && e.TLS.Version != "" && !validTLSVersions[e.TLS.Version] {
		return bridgeerrors.NewConfigError("validate", fmt.Errorf("%s.tls.version %q is not a recognized TLS version", name, e.TLS.Version), name+".tls.version")
	}
	return nil
}
