// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package battery

import "testing"

func TestFraction(t *testing.T) {
	tests := []struct {
		mv   int
		want float64
	}{
		{0, 0},
		{474, 0},
		{577, 0.5},
		{680, 1},
		{900, 1},
	}

	for _, tt := range tests {
		if got := Fraction(tt.mv, DefaultEmptyMv, DefaultFullMv); got != tt.want {
			t.Errorf("Fraction(%d) = %v, want %v", tt.mv, got, tt.want)
		}
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge(DefaultEmptyMv, DefaultFullMv)
	if g.Charge() != 1 {
		t.Errorf("new gauge Charge() = %v, want 1", g.Charge())
	}

	g.Set(577)
	if got := Percent(g.Charge()); got != 50 {
		t.Errorf("Percent() = %d, want 50", got)
	}
	if g.Millivolts() != 577 {
		t.Errorf("Millivolts() = %d, want 577", g.Millivolts())
	}
}

func TestNewGauge_InvalidBounds(t *testing.T) {
	g := NewGauge(700, 600)
	g.Set(DefaultEmptyMv)
	if g.Charge() != 0 {
		t.Errorf("Charge() = %v, want defaults applied", g.Charge())
	}
}

func TestGauge_Adjust(t *testing.T) {
	g := NewGauge(500, 600)

	tests := []struct {
		delta int
		want  int
	}{
		{-40, 560},
		{-40, 520},
		{-40, 500},
		{25, 525},
		{200, 600},
	}

	for _, tt := range tests {
		if got := g.Adjust(tt.delta); got != tt.want {
			t.Errorf("Adjust(%d) = %d, want %d", tt.delta, got, tt.want)
		}
		if g.Millivolts() != tt.want {
			t.Errorf("Millivolts() = %d, want %d", g.Millivolts(), tt.want)
		}
	}
	if g.Charge() != 1 {
		t.Errorf("Charge() = %v, want 1", g.Charge())
	}
}
