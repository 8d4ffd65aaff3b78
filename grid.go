package main

import "math"

// cellKey identifies one bucket of the player grid
type cellKey struct {
	cx, cy int
}

// PlayerGrid is a coarse spatial bucket structure over live entity
// positions. It is not thread-safe: the entity store serializes all
// access under its positional lock (one lock per grid, not per cell).
type PlayerGrid struct {
	cellSize float64
	cells    map[cellKey]map[int]struct{}
	where    map[int]cellKey // entity id -> its current cell
}

// NewPlayerGrid creates a grid with the given cell size
func NewPlayerGrid(cellSize float64) *PlayerGrid {
	if cellSize <= 0 {
		cellSize = 1000
	}
	return &PlayerGrid{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[int]struct{}),
		where:    make(map[int]cellKey),
	}
}

func (g *PlayerGrid) keyFor(x, y float64) cellKey {
	return cellKey{
		cx: int(math.Floor(x / g.cellSize)),
		cy: int(math.Floor(y / g.cellSize)),
	}
}

// AddOrUpdate places id in the cell matching (x, y). If the entity is
// already tracked in a different cell, it is removed from the old cell
// and inserted into the new one as one operation, so an id never
// appears in two cells. Re-adding with the same cell is a no-op.
func (g *PlayerGrid) AddOrUpdate(id int, x, y float64) {
	key := g.keyFor(x, y)
	if old, ok := g.where[id]; ok {
		if old == key {
			return
		}
		g.removeFromCell(id, old)
	}
	cell, ok := g.cells[key]
	if !ok {
		cell = make(map[int]struct{})
		g.cells[key] = cell
	}
	cell[id] = struct{}{}
	g.where[id] = key
}

// Remove deletes id from the grid. Unknown ids are ignored.
func (g *PlayerGrid) Remove(id int) {
	key, ok := g.where[id]
	if !ok {
		return
	}
	g.removeFromCell(id, key)
	delete(g.where, id)
}

func (g *PlayerGrid) removeFromCell(id int, key cellKey) {
	if cell, ok := g.cells[key]; ok {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, key)
		}
	}
}

// QueryRadius returns the ids present in every cell overlapping the
// bounding box of the circle at (x, y) with radius r. Callers filter by
// exact distance where it matters; the grid is a broad phase only.
func (g *PlayerGrid) QueryRadius(x, y, r float64) []int {
	min := g.keyFor(x-r, y-r)
	max := g.keyFor(x+r, y+r)

	var result []int
	for cx := min.cx; cx <= max.cx; cx++ {
		for cy := min.cy; cy <= max.cy; cy++ {
			for id := range g.cells[cellKey{cx, cy}] {
				result = append(result, id)
			}
		}
	}
	return result
}

// CellOf reports the cell currently holding id
func (g *PlayerGrid) CellOf(id int) (cellKey, bool) {
	key, ok := g.where[id]
	return key, ok
}

// Len returns the number of tracked entities
func (g *PlayerGrid) Len() int {
	return len(g.where)
}
