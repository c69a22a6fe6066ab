// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flowremote/internal/battery"
	"github.com/Thermoquad/flowremote/internal/link"
	"github.com/Thermoquad/flowremote/internal/mode"
	"github.com/Thermoquad/flowremote/internal/remote"
	"github.com/Thermoquad/flowremote/internal/store"
	"github.com/Thermoquad/flowremote/internal/update"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the flow remote with a terminal front panel",
	Long: `Boot the flow remote and drive it from the keyboard.

The terminal stands in for the remote's display and buttons:
  ↑ / k        up button
  ↓ / j        down button
  e / space    both buttons (calibration: next page)
  c            calibration button
  u            update button
  [ / ]        lower / raise the battery reading
  q            quit

Button presses count as held for about a second; holding a key keeps the
button down. Logs are written to log.file while the panel owns the terminal.

Use --demo to run against an in-process simulated Controller; --nack-rate
and --drop-rate make its radio fail sends and lose reports.`,
	RunE: runRemote,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRemote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fp := newPanel(defaultHold)
	logger, err := newLogger(cfg, true, fp.logHook)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		logger.Errorw("storage unavailable", "path", cfg.Storage.Path, "error", err)
		return fmt.Errorf("%w: %v", remote.ErrStorageUnavailable, err)
	}
	defer st.Close()

	peer := cfg.ControllerMAC()
	conn, connInfo, ctrl, err := openBridgeConn(peer, logger)
	if err != nil {
		return err
	}
	var reopen func() (Connection, string, error)
	if ctrl == nil {
		reopen = OpenConnection
	}
	cm := newConnectionManager(conn, connInfo, reopen, logger)
	defer cm.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bridge := link.NewBridge(cm, peer, logger)
	channel := link.NewChannel(bridge, link.Options{
		ResponseTimeout: cfg.Remote().ResponseTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout(),
		Metrics:         link.NewMetrics(reg),
	}, logger)
	bridge.Attach(channel)
	cm.onReconnect = func(string) {
		if err := bridge.AddPeer(cfg.Controller.Channel); err != nil {
			logger.Warnw("re-registering controller failed", "error", err)
		}
	}

	machine := mode.New(mode.Normal, cfg.Debounce(), nil)
	gauge := battery.NewGauge(cfg.Battery.EmptyMv, cfg.Battery.FullMv)
	listener := update.NewServer(update.Options{
		ListenAddr: cfg.Update.ListenAddr,
		Hostname:   cfg.Update.Hostname,
		Identity:   peer.String(),
		Gatherer:   reg,
	}, logger)

	r := remote.New(cfg.Remote(), remote.Deps{
		Link:    channel,
		Mode:    machine,
		Display: fp,
		Buttons: fp,
		Storage: st,
		Sleeper: fp,
		Battery: gauge,
		Update:  listener,
	}, logger)
	listener.Attach(r)

	m := runModel{
		panel:         fp,
		machine:       machine,
		remote:        r,
		ctrl:          ctrl,
		gauge:         gauge,
		connInfo:      connInfo,
		addr:          listener.Addr,
		maxLogEntries: 100,
		help:          help.New(),
		width:         80,
		height:        24,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	fp.program = p

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("bridge reader stopped", "error", err)
		}
	}()

	if err := bridge.AddPeer(cfg.Controller.Channel); err != nil {
		logger.Warnw("registering controller failed", "error", err)
	}
	logger.Infow("flowremote starting", "connection", connInfo, "controller", peer.String(), "storage", st.Path())

	runErr := make(chan error, 1)
	go func() {
		err := r.Run(ctx)
		if err != nil {
			p.Send(fatalMsg{err: err})
		}
		runErr <- err
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	cancel()
	cm.Close()
	if err := <-runErr; err != nil {
		return err
	}
	fmt.Print(bridge.Statistics())
	return nil
}
