// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flowremote/internal/config"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	demoMode   bool
	logLevel   string

	// Simulated radio faults (--demo and simulate)
	simNackRate float64
	simDropRate float64
)

var rootCmd = &cobra.Command{
	Use:   "flowremote",
	Short: "Oxygen flow remote",
	Long: `Flowremote - the handheld flow remote for the Thermoquad oxygen flow Controller.

The remote reaches the Controller's radio through a bridge dongle. It runs the
operator loop (flow adjustment, calibration wizard, update mode) and ships the
protocol tools used to debug the bridge link.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Demo:      --demo (in-process simulated Controller)

For WebSocket authentication, the password is read from the FLOWREMOTE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().BoolVar(&demoMode, "demo", false, "Use a simulated Controller instead of a bridge")
	rootCmd.PersistentFlags().Float64Var(&simNackRate, "nack-rate", 0, "Simulated radio: fraction of sends reported as failed")
	rootCmd.PersistentFlags().Float64Var(&simDropRate, "drop-rate", 0, "Simulated radio: fraction of Controller reports lost")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
}

// loadConfig reads --config and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
