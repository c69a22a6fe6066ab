// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

var (
	pingTimeout    int
	pingCount      int
	pingController bool
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the bridge link with PING_REQUEST",
	Long: `Send PING_REQUEST packets to the bridge dongle and wait for PING_RESPONSE.

The dongle answers pings itself (they are not forwarded over the radio) with
its uptime. With --controller, each ping is followed by a STATUS request to
the Controller, which checks the radio hop as well.

This is useful for verifying:
  - the serial or WebSocket connection is established
  - HTTP Basic authentication works
  - the dongle is decoding packets
  - the Controller is paired and answering

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().BoolVar(&pingController, "controller", false, "Also request STATUS from the Controller")
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	peer := cfg.ControllerMAC()
	logger := zap.NewNop().Sugar()

	conn, connInfo, _, err := openBridgeConn(peer, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Flowremote - Bridge Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Controller: %s\n", peer)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	bridge := link.NewBridge(conn, peer, logger)
	channel := link.NewChannel(bridge, link.Options{}, logger)
	bridge.Attach(channel)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go bridge.Run(ctx)

	if pingController {
		if err := bridge.AddPeer(cfg.Controller.Channel); err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
	}

	timeout := time.Duration(pingTimeout) * time.Second
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		uptime, rtt, err := bridge.Ping(ctx, timeout)
		switch {
		case errors.Is(err, link.ErrTimeout):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		case err != nil:
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
		default:
			fmt.Printf("PONG from bridge, uptime=%s, rtt=%v\n", formatUptime(uptime), rtt.Round(time.Millisecond))
			successCount++
		}

		if pingController && err == nil {
			start := time.Now()
			sensor, err := channel.Request(ctx, nowlink.CmdStatus, 0, timeout)
			if err != nil {
				fmt.Printf("  controller: %v\n", err)
				failCount++
			} else {
				fmt.Printf("  controller: sensor=%d, rtt=%v\n", sensor, time.Since(start).Round(time.Millisecond))
			}
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
