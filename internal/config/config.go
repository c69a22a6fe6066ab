// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the remote's YAML configuration, with .env and
// FLOWREMOTE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/flowremote/internal/battery"
	"github.com/Thermoquad/flowremote/internal/mode"
	"github.com/Thermoquad/flowremote/internal/remote"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

// DefaultPath is used when no --config flag is given
const DefaultPath = "flowremote.yaml"

// DefaultControllerMAC is the factory-paired Controller
const DefaultControllerMAC = "68:B6:B3:08:D7:6A"

// Config holds all remote configuration
type Config struct {
	mu sync.RWMutex

	Controller  ControllerConfig  `yaml:"controller"`
	Timing      TimingConfig      `yaml:"timing"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Storage     StorageConfig     `yaml:"storage"`
	Update      UpdateConfig      `yaml:"update"`
	Battery     BatteryConfig     `yaml:"battery"`
	Log         LogConfig         `yaml:"log"`

	path string
}

type ControllerConfig struct {
	MAC               string `yaml:"mac"`     // radio address of the Controller
	Channel           uint8  `yaml:"channel"` // radio channel, 0 = current
	ResponseTimeoutMs int    `yaml:"response_timeout_ms"`
	DeliveryTimeoutMs int    `yaml:"delivery_timeout_ms"`
}

type TimingConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
	DebounceMs     int `yaml:"debounce_ms"`
	DemandSettleMs int `yaml:"demand_settle_ms"`
	EnterDelayMs   int `yaml:"enter_delay_ms"`
	IdleSleepMs    int `yaml:"idle_sleep_ms"`
	ResultHoldMs   int `yaml:"result_hold_ms"`
	SampleSettleMs int `yaml:"sample_settle_ms"`
	WakeDelayMs    int `yaml:"wake_delay_ms"`
}

type CalibrationConfig struct {
	SensorMin   uint16 `yaml:"sensor_min"`
	SensorMax   uint16 `yaml:"sensor_max"`
	AbortPolicy string `yaml:"abort_policy"` // "restart" or "redraw"
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type UpdateConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Hostname   string `yaml:"hostname"`
}

type BatteryConfig struct {
	EmptyMv int `yaml:"empty_mv"`
	FullMv  int `yaml:"full_mv"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // used while the TUI owns the terminal
}

// Default returns the stock configuration
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			MAC:               DefaultControllerMAC,
			ResponseTimeoutMs: 30000,
			DeliveryTimeoutMs: 1000,
		},
		Timing: TimingConfig{
			TickIntervalMs: 1000,
			PollIntervalMs: 20,
			DebounceMs:     500,
			DemandSettleMs: 1000,
			EnterDelayMs:   1000,
			IdleSleepMs:    15000,
			ResultHoldMs:   5000,
			SampleSettleMs: 250,
			WakeDelayMs:    1000,
		},
		Calibration: CalibrationConfig{
			SensorMin:   500,
			SensorMax:   3500,
			AbortPolicy: "restart",
		},
		Storage: StorageConfig{
			Path: "flowremote.db",
		},
		Update: UpdateConfig{
			ListenAddr: ":8080",
			Hostname:   "flowremote",
		},
		Battery: BatteryConfig{
			EmptyMv: battery.DefaultEmptyMv,
			FullMv:  battery.DefaultFullMv,
		},
		Log: LogConfig{
			Level: "info",
			File:  "flowremote.log",
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// overrides. A missing file yields the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile reads a .env file into the environment. Variables already
// set to a non-empty value take precedence.
func loadEnvFile(path string) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return
	}
	for key, val := range vars {
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// applyEnvOverrides reads FLOWREMOTE_* variables
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FLOWREMOTE_CONTROLLER_MAC"); v != "" {
		c.Controller.MAC = v
	}
	if v := os.Getenv("FLOWREMOTE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("FLOWREMOTE_LISTEN_ADDR"); v != "" {
		c.Update.ListenAddr = v
	}
	if v := os.Getenv("FLOWREMOTE_ABORT_POLICY"); v != "" {
		c.Calibration.AbortPolicy = v
	}
	if v := os.Getenv("FLOWREMOTE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FLOWREMOTE_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	envInt("FLOWREMOTE_RESPONSE_TIMEOUT_MS", &c.Controller.ResponseTimeoutMs)
	envInt("FLOWREMOTE_IDLE_SLEEP_MS", &c.Timing.IdleSleepMs)
}

// Validate checks values that would otherwise fail deep inside the remote
func (c *Config) Validate() error {
	if _, err := nowlink.ParseMAC(c.Controller.MAC); err != nil {
		return fmt.Errorf("controller.mac: %w", err)
	}
	if _, err := mode.ParseAbortPolicy(c.Calibration.AbortPolicy); err != nil {
		return fmt.Errorf("calibration.abort_policy: %w", err)
	}
	if c.Calibration.SensorMin >= c.Calibration.SensorMax {
		return fmt.Errorf("calibration: sensor_min %d must be below sensor_max %d",
			c.Calibration.SensorMin, c.Calibration.SensorMax)
	}
	if c.Calibration.SensorMax > nowlink.MaxSensor {
		return fmt.Errorf("calibration.sensor_max %d exceeds %d", c.Calibration.SensorMax, nowlink.MaxSensor)
	}
	if c.Battery.EmptyMv >= c.Battery.FullMv {
		return fmt.Errorf("battery: empty_mv %d must be below full_mv %d", c.Battery.EmptyMv, c.Battery.FullMv)
	}
	if c.Timing.PollIntervalMs <= 0 {
		return fmt.Errorf("timing.poll_interval_ms must be positive")
	}
	return nil
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// Save writes the config to its YAML file
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = DefaultPath
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ControllerMAC returns the parsed Controller address
func (c *Config) ControllerMAC() nowlink.MAC {
	mac, _ := nowlink.ParseMAC(c.Controller.MAC)
	return mac
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Debounce returns the mode-button debounce window
func (c *Config) Debounce() time.Duration {
	return ms(c.Timing.DebounceMs)
}

// DeliveryTimeout returns the send-completion timeout
func (c *Config) DeliveryTimeout() time.Duration {
	return ms(c.Controller.DeliveryTimeoutMs)
}

// Remote converts the file settings to the scheduler's config
func (c *Config) Remote() remote.Config {
	policy, _ := mode.ParseAbortPolicy(c.Calibration.AbortPolicy)
	return remote.Config{
		TickInterval:    ms(c.Timing.TickIntervalMs),
		PollInterval:    ms(c.Timing.PollIntervalMs),
		DemandSettle:    ms(c.Timing.DemandSettleMs),
		EnterDelay:      ms(c.Timing.EnterDelayMs),
		IdleTimeout:     ms(c.Timing.IdleSleepMs),
		ResultHold:      ms(c.Timing.ResultHoldMs),
		SampleSettle:    ms(c.Timing.SampleSettleMs),
		WakeDelay:       ms(c.Timing.WakeDelayMs),
		ResponseTimeout: ms(c.Controller.ResponseTimeoutMs),
		SensorMin:       c.Calibration.SensorMin,
		SensorMax:       c.Calibration.SensorMax,
		AbortPolicy:     policy,
	}
}
