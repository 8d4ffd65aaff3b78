package main

import (
	"math"
	"testing"
)

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		input      float64
		wantApprox float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{3 * math.Pi, math.Pi},
		{-3 * math.Pi, math.Pi},
		{2 * math.Pi, 0},
	}
	for _, tt := range tests {
		got := NormalizeAngle(tt.input)
		if math.Abs(got-tt.wantApprox) > 1e-9 && math.Abs(math.Abs(got)-math.Pi) > 1e-9 {
			t.Errorf("NormalizeAngle(%f) = %f, want ~%f", tt.input, got, tt.wantApprox)
		}
	}
}

func TestClampInt(t *testing.T) {
	if ClampInt(150, 0, 100) != 100 || ClampInt(-5, 0, 100) != 0 || ClampInt(42, 0, 100) != 42 {
		t.Fatal("ClampInt bounds wrong")
	}
}

func TestWeaponTable(t *testing.T) {
	tests := []struct {
		id     int
		name   string
		damage int
		rng    float64
	}{
		{1, "Plasma Rifle", 25, 10000},
		{2, "Quantum Sniper", 35, 70000},
		{3, "Fusion Cannon", 45, 120000},
	}
	for _, tt := range tests {
		w := GetWeaponDef(tt.id)
		if w.Name != tt.name || w.Damage != tt.damage || w.Range != tt.rng {
			t.Errorf("weapon %d = %+v", tt.id, w)
		}
	}
	// Unknown ids fall back to the rifle
	if GetWeaponDef(99).Name != "Plasma Rifle" {
		t.Errorf("fallback = %+v", GetWeaponDef(99))
	}
}
