package main

import "math/rand"

// Region is the rectangular subdivision of the world assigned to this
// server instance by the load balancer
type Region struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// RegionForIndex maps a server region index to its bounds given the
// boundary rectangle (w, h) reported by the load balancer. The four
// regions tile the world clockwise from the origin; unknown indexes
// fall back to the origin region.
func RegionForIndex(index int, w, h float64) Region {
	var ox, oy float64
	switch index {
	case 2:
		ox = w
	case 3:
		ox, oy = w, h
	case 4:
		oy = h
	}
	return Region{MinX: ox, MinY: oy, MaxX: ox + w, MaxY: oy + h}
}

// Contains reports whether (x, y) is inside the region
func (r Region) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// RandomPoint returns a uniform random point inside the region
func (r Region) RandomPoint(rng *rand.Rand) (float64, float64) {
	x := r.MinX + rng.Float64()*(r.MaxX-r.MinX)
	y := r.MinY + rng.Float64()*(r.MaxY-r.MinY)
	return x, y
}
