package main

import (
	"math/rand"
	"testing"
)

func cellCount(g *PlayerGrid, id int) int {
	n := 0
	for _, cell := range g.cells {
		if _, ok := cell[id]; ok {
			n++
		}
	}
	return n
}

func TestGridEntityInExactlyOneCell(t *testing.T) {
	g := NewPlayerGrid(1000)
	rng := rand.New(rand.NewSource(7))

	for i := 1; i <= 50; i++ {
		g.AddOrUpdate(i, rng.Float64()*8000-4000, rng.Float64()*8000-4000)
	}
	// Move everything around a few times
	for pass := 0; pass < 5; pass++ {
		for i := 1; i <= 50; i++ {
			g.AddOrUpdate(i, rng.Float64()*8000-4000, rng.Float64()*8000-4000)
		}
	}

	for i := 1; i <= 50; i++ {
		if n := cellCount(g, i); n != 1 {
			t.Fatalf("entity %d present in %d cells, want exactly 1", i, n)
		}
	}
	if g.Len() != 50 {
		t.Fatalf("Len = %d, want 50", g.Len())
	}
}

func TestGridMoveAcrossBoundary(t *testing.T) {
	g := NewPlayerGrid(1000)
	g.AddOrUpdate(1, 500, 500)
	before, _ := g.CellOf(1)

	g.AddOrUpdate(1, 1500, 500)
	after, ok := g.CellOf(1)
	if !ok {
		t.Fatal("entity lost after move")
	}
	if before == after {
		t.Fatal("cell should change when crossing a boundary")
	}
	if n := cellCount(g, 1); n != 1 {
		t.Fatalf("entity in %d cells after move", n)
	}
}

func TestGridRemove(t *testing.T) {
	g := NewPlayerGrid(1000)
	g.AddOrUpdate(1, 100, 100)
	g.Remove(1)

	if _, ok := g.CellOf(1); ok {
		t.Fatal("removed entity still tracked")
	}
	if len(g.cells) != 0 {
		t.Fatal("empty cell not reclaimed")
	}
	// Removing twice is harmless
	g.Remove(1)
}

func TestGridQueryRadius(t *testing.T) {
	g := NewPlayerGrid(1000)
	g.AddOrUpdate(1, 100, 100)
	g.AddOrUpdate(2, 900, 900)
	g.AddOrUpdate(3, 5000, 5000)

	ids := g.QueryRadius(0, 0, 1200)
	found := make(map[int]bool)
	for _, id := range ids {
		found[id] = true
	}
	if !found[1] || !found[2] {
		t.Fatalf("broad phase missed nearby ids: %v", ids)
	}
	if found[3] {
		t.Fatalf("broad phase returned far-away id: %v", ids)
	}
}

func TestGridNegativeCoordinates(t *testing.T) {
	g := NewPlayerGrid(1000)
	g.AddOrUpdate(1, -500, -500)
	g.AddOrUpdate(2, 500, 500)
	a, _ := g.CellOf(1)
	b, _ := g.CellOf(2)
	if a == b {
		t.Fatal("points on either side of the origin must not share a cell")
	}
}
