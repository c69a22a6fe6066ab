// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/store"
	"github.com/Thermoquad/flowremote/pkg/nowlink"
)

var calCmd = &cobra.Command{
	Use:   "cal",
	Short: "Inspect and manage the stored calibration table",
	Long: `Read and modify the calibration table in the remote's storage file
(storage.path in the configuration).

Every saved calibration is kept in the history and can be restored.`,
}

var calShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active calibration table",
	Args:  cobra.NoArgs,
	RunE: withStore(func(st *store.Store, args []string) error {
		t, stored, err := loadTable(st)
		if err != nil {
			return err
		}
		if !stored {
			fmt.Println("No calibration stored; the default ramp is used.")
		}
		fmt.Print(t.String())
		if !t.Monotonic() {
			fmt.Println("warning: table is not monotonic")
		}
		return nil
	}),
}

var calResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the stored table with the default ramp",
	Args:  cobra.NoArgs,
	RunE: withStore(func(st *store.Store, args []string) error {
		if err := st.SaveTable(caltable.Default()); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		fmt.Println("Calibration reset to the default ramp.")
		return nil
	}),
}

var calLookupCmd = &cobra.Command{
	Use:   "lookup <sensor>",
	Short: "Convert a sensor reading to flow with the stored table",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(st *store.Store, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil || v > nowlink.MaxSensor {
			return fmt.Errorf("invalid sensor value %q (0-%d)", args[0], nowlink.MaxSensor)
		}
		t, _, err := loadTable(st)
		if err != nil {
			return err
		}
		flow := t.Lookup(uint16(v))
		fmt.Printf("sensor %d -> %.1f L/min (set point %d)\n", v, flow, t.SetPoint(flow))
		return nil
	}),
}

var calHistoryCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List saved calibrations, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: withStore(func(st *store.Store, args []string) error {
		if len(args) == 1 {
			e, err := st.HistoryEntryByID(args[0])
			if err != nil {
				return fmt.Errorf("history %s: %w", args[0], err)
			}
			fmt.Printf("%s  saved %s\n", e.ID, e.When().Format("2006-01-02 15:04:05"))
			fmt.Print(e.Table.String())
			return nil
		}

		entries, err := st.History()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No calibrations saved.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  2.0=%d 10.0=%d\n", e.ID, e.When().Format("2006-01-02 15:04:05"),
				e.Table[0], e.Table[caltable.Anchors-1])
		}
		return nil
	}),
}

var calRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Make a saved calibration active again",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(st *store.Store, args []string) error {
		e, err := st.HistoryEntryByID(args[0])
		if err != nil {
			return fmt.Errorf("history %s: %w", args[0], err)
		}
		if err := st.SaveTable(e.Table); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		fmt.Printf("Calibration %s restored.\n", e.ID)
		return nil
	}),
}

func init() {
	calCmd.AddCommand(calShowCmd, calResetCmd, calLookupCmd, calHistoryCmd, calRestoreCmd)
	rootCmd.AddCommand(calCmd)
}

// withStore opens the configured storage file around fn
func withStore(fn func(st *store.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(st, args)
	}
}

// loadTable returns the stored table, or the default ramp when none is stored
func loadTable(st *store.Store) (caltable.Table, bool, error) {
	t, err := st.LoadTable()
	if errors.Is(err, store.ErrNotFound) {
		return caltable.Default(), false, nil
	}
	if err != nil {
		return t, false, err
	}
	return t, true, nil
}
