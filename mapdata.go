package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadCollisionTiles reads the pre-parsed map collision geometry: a JSON
// array of axis-aligned rectangles produced by the external map tooling.
// The caller treats any error as fatal: the server must not start
// serving without a valid spatial index.
func LoadCollisionTiles(path string) ([]CollisionTile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collision map: %w", err)
	}
	var tiles []CollisionTile
	if err := json.Unmarshal(data, &tiles); err != nil {
		return nil, fmt.Errorf("parse collision map: %w", err)
	}
	return tiles, nil
}
