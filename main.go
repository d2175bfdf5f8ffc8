package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"lesyd-bridge/pkg/bridge"
	"lesyd-bridge/pkg/builder"
	"lesyd-bridge/pkg/config"
	"lesyd-bridge/pkg/logger"
)

// version is stamped at link time via -ldflags "-X main.version=...".
var version = "dev"

const sampleConfig = `# lesyd bridge sample configuration
lesyd_name: lesyd
ha_prefix: homeassistant
ha_discovery: true
metrics_port: 0
health_port: 8080

logging:
  level: info
  file: ""

sydpower:
  hostname: sydpower.example.com
  port: 1883
  transport: tcp

client:
  hostname: localhost
  port: 1883
  transport: tcp

presets:
  f2400:
    manufacturer: Fossibot
    model_id: F2400
    ac_charging_levels: [300, 500, 700, 900, 1100, 1300, 1500]

devices:
  "aabbccddeeff":
    name: station1
    preset: f2400
    input_refresh: 6
    holding_refresh: 30
    state_refresh: 30
`

func main() {
	var (
		configPath        string
		logLevel          string
		logFile           string
		printSampleConfig bool
		listPresets       bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&configPath, "c", "", "path to configuration file (shorthand)")
	flag.StringVar(&logLevel, "loglevel", "", "override the configured log level")
	flag.StringVar(&logFile, "logfile", "", "override the configured log file")
	flag.BoolVar(&printSampleConfig, "print-sample-config", false, "print a sample configuration and exit")
	flag.BoolVar(&listPresets, "list-presets", false, "print configured preset names and exit")
	flag.Parse()

	if printSampleConfig {
		fmt.Print(sampleConfig)
		return
	}

	candidates := []string{configPath, os.Getenv("LESYD_CONFIG"), "/etc/lesyd/config.yaml"}
	cfg, err := config.Load(candidates)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}
	logger.NewLogger(&cfg.Logging)
	logger.LogStartup("lesyd bridge %s starting", version)

	if listPresets {
		names := make([]string, 0, len(cfg.Presets))
		for name := range cfg.Presets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	br, err := builder.NewBridgeBuilder(cfg).WithVersion(version).Build()
	if err != nil {
		logger.LogError("🔴 bridge construction failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := br.Run(ctx); err != nil {
		if errors.Is(err, bridge.ErrInterrupted) {
			logger.LogInfo("received interrupt, shut down cleanly")
		} else {
			logger.LogError("🔴 bridge exited with error: %v", err)
		}
		os.Exit(1)
	}
}
