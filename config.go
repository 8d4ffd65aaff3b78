package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all recognized server options. Values resolve in order:
// yaml file -> environment -> built-in default.
type Config struct {
	LoadBalancerPort   int     `yaml:"load_balancer_port"`
	BroadcastPort      int     `yaml:"broadcast_port"`
	GamePort           int     `yaml:"game_port"`
	MaxPlayers         int     `yaml:"max_players"`
	BotCount           int     `yaml:"bot_count"`
	BotSpawnRadius     float64 `yaml:"bot_spawn_radius"`
	MapCollisionRadius float64 `yaml:"map_collision_radius"`
	TickRate           int     `yaml:"tick_rate"`
	GridCellSize       float64 `yaml:"grid_cell_size"`
	MapPath            string  `yaml:"map_path"`
	DBPath             string  `yaml:"db_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LoadBalancerPort:   5002,
		BroadcastPort:      5003,
		GamePort:           5000,
		MaxPlayers:         100,
		BotCount:           25,
		BotSpawnRadius:     600,
		MapCollisionRadius: 80,
		TickRate:           20,
		GridCellSize:       1000,
		MapPath:            "assets/collision.json",
		DBPath:             "mystic.db",
	}
}

// LoadConfig reads a yaml config file if path is non-empty, then applies
// environment overrides on top of defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.LoadBalancerPort = intFromEnv("MYSTIC_LB_PORT", cfg.LoadBalancerPort)
	cfg.BroadcastPort = intFromEnv("MYSTIC_BROADCAST_PORT", cfg.BroadcastPort)
	cfg.GamePort = intFromEnv("MYSTIC_GAME_PORT", cfg.GamePort)
	cfg.MaxPlayers = intFromEnv("MYSTIC_MAX_PLAYERS", cfg.MaxPlayers)
	cfg.TickRate = intFromEnv("MYSTIC_TICK_RATE", cfg.TickRate)
	if v := os.Getenv("MYSTIC_MAP_PATH"); v != "" {
		cfg.MapPath = v
	}
	if v := os.Getenv("MYSTIC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("tick_rate must be positive, got %d", cfg.TickRate)
	}
	if cfg.GridCellSize <= 0 {
		return nil, fmt.Errorf("grid_cell_size must be positive, got %v", cfg.GridCellSize)
	}
	return cfg, nil
}

func intFromEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
