package main

import (
	"math"
	"sort"
)

const kdLeafSize = 16

// CollisionTile is one axis-aligned rectangle of static map geometry.
// Tiles are immutable once loaded; the index owns them exclusively.
type CollisionTile struct {
	X      float64 `json:"x"`
	Width  float64 `json:"width"`
	Y      float64 `json:"y"`
	Height float64 `json:"height"`
}

// Center returns the tile reference point used for nearest queries.
// The y-down offset follows the map tooling's coordinate convention.
func (t CollisionTile) Center() (float64, float64) {
	return t.X + t.Width/2, t.Y - t.Height/2
}

type tilePoint struct {
	x, y  float64
	order int // stable tie-break: first-seen tile wins
	tile  CollisionTile
}

type kdNode struct {
	axis   int // 0 = x, 1 = y
	split  float64
	left   *kdNode
	right  *kdNode
	points []tilePoint // leaf only
}

// SpatialIndex is a static k-d tree over collision tile centers. It is
// built once at startup and read-only afterward; concurrent Nearest
// queries need no lock.
type SpatialIndex struct {
	root *kdNode
	size int
}

// BuildSpatialIndex builds the index from the given tiles, deduplicating
// identical rectangles. Zero tiles yields a valid, queryable-empty index.
func BuildSpatialIndex(tiles []CollisionTile) *SpatialIndex {
	seen := make(map[CollisionTile]struct{}, len(tiles))
	points := make([]tilePoint, 0, len(tiles))
	for _, t := range tiles {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		cx, cy := t.Center()
		points = append(points, tilePoint{x: cx, y: cy, order: len(points), tile: t})
	}
	return &SpatialIndex{
		root: buildKdNode(points, 0),
		size: len(points),
	}
}

// Size returns the number of indexed tiles.
func (idx *SpatialIndex) Size() int {
	return idx.size
}

func buildKdNode(points []tilePoint, depth int) *kdNode {
	if len(points) == 0 {
		return nil
	}
	if len(points) <= kdLeafSize {
		return &kdNode{points: points}
	}

	axis := depth % 2
	sort.Slice(points, func(i, j int) bool {
		if axis == 0 {
			if points[i].x != points[j].x {
				return points[i].x < points[j].x
			}
		} else {
			if points[i].y != points[j].y {
				return points[i].y < points[j].y
			}
		}
		return points[i].order < points[j].order
	})

	mid := len(points) / 2
	split := points[mid].x
	if axis == 1 {
		split = points[mid].y
	}
	return &kdNode{
		axis:  axis,
		split: split,
		left:  buildKdNode(points[:mid], depth+1),
		right: buildKdNode(points[mid:], depth+1),
	}
}

// Nearest returns the tile whose center is closest to (x, y) and the
// Euclidean distance to it. ok is false for an empty index. Ties are
// broken by input order.
func (idx *SpatialIndex) Nearest(x, y float64) (tile CollisionTile, dist float64, ok bool) {
	if idx.root == nil {
		return CollisionTile{}, 0, false
	}
	best := tilePoint{order: -1}
	bestD2 := math.MaxFloat64
	nearestKd(idx.root, x, y, &best, &bestD2)
	return best.tile, math.Sqrt(bestD2), true
}

func nearestKd(n *kdNode, x, y float64, best *tilePoint, bestD2 *float64) {
	if n == nil {
		return
	}
	if n.points != nil {
		for _, p := range n.points {
			d2 := DistanceSq(x, y, p.x, p.y)
			if d2 < *bestD2 || (d2 == *bestD2 && best.order >= 0 && p.order < best.order) {
				*best = p
				*bestD2 = d2
			}
		}
		return
	}

	coord := x
	if n.axis == 1 {
		coord = y
	}
	near, far := n.left, n.right
	if coord >= n.split {
		near, far = n.right, n.left
	}
	nearestKd(near, x, y, best, bestD2)
	// Only descend the far side if the splitting plane is within reach.
	// The <= keeps equal-distance candidates visible for tie-breaking.
	planeD := coord - n.split
	if planeD*planeD <= *bestD2 {
		nearestKd(far, x, y, best, bestD2)
	}
}
