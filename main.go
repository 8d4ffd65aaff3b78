package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "", "Path to yaml config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// The map is load-bearing: without collision geometry the bots walk
	// through walls, so a bad map file is fatal.
	tiles, err := LoadCollisionTiles(cfg.MapPath)
	if err != nil {
		log.Fatalf("collision map: %v", err)
	}
	index := BuildSpatialIndex(tiles)
	log.Printf("collision map loaded: %d tiles", index.Size())

	grid := NewPlayerGrid(cfg.GridCellSize)
	store := NewEntityStore(grid)
	bots := NewBotController(store, index, cfg)
	tracker := NewEventTracker(db)
	defer tracker.Close()

	hub := NewHub(cfg, db, store, bots, tracker)
	game := NewGame(cfg, hub, store, bots)
	link := NewBalancerLink(cfg, game, hub, bots, store, db, tracker)

	go hub.Run()
	go game.Run()
	go link.Run()

	mux := SetupRoutes(hub)
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.GamePort), Handler: mux}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Game server starting on :%d (tick rate %d/s)", cfg.GamePort, cfg.TickRate)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	link.Stop()
	game.Stop()
	server.Close()
}
