// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flowremote/internal/sim"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

var (
	simInitial uint16
	simStep    uint16
	simLatency int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Act as a bridge dongle with a simulated Controller behind it",
	Long: `Serve the bridge protocol on a connection, answering for a simulated Controller.

The simulated Controller holds a sensor position that moves by --step on
UP/DOWN, jumps on GOTO and is reported on every command. --nack-rate and --drop-rate inject failed sends
and lost reports. Point a second
flowremote (run, ping) at the other end of the serial link or WebSocket
relay to exercise it without hardware.

Each applied command is printed as it arrives.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Uint16Var(&simInitial, "initial", sim.DefaultInitial, "Initial sensor position")
	simulateCmd.Flags().Uint16Var(&simStep, "step", sim.DefaultStep, "Sensor change per UP/DOWN")
	simulateCmd.Flags().IntVar(&simLatency, "latency", 30, "Reply latency in milliseconds")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	peer := cfg.ControllerMAC()
	ctrl := sim.NewController(simInitial, simStep)
	dongle := sim.NewDongle(ctrl, peer, simOptions(time.Duration(simLatency)*time.Millisecond), logger)
	defer dongle.Close()
	dongle.OnFrame = func(in, out nowlink.Frame) {
		fmt.Printf("[%s] %s -> sensor %d\n", time.Now().Format("15:04:05.000"), in, out.Sensor)
	}

	fmt.Printf("Flowremote - Simulated Controller\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Controller: %s, sensor %d, step %d\n", peer, simInitial, simStep)
	if simNackRate > 0 || simDropRate > 0 {
		fmt.Printf("Faults: %.0f%% failed sends, %.0f%% lost reports\n", simNackRate*100, simDropRate*100)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	errs := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, dongle)
		errs <- err
	}()
	go func() {
		_, err := io.Copy(dongle, conn)
		errs <- err
	}()

	select {
	case err := <-errs:
		if err != nil && err != io.EOF {
			return fmt.Errorf("simulate: %w", err)
		}
		fmt.Println("Connection closed")
		return nil
	case <-cmd.Context().Done():
		return nil
	}
}
