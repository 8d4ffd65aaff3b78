package main

import (
	"sync"
	"testing"
)

func newTestStore() *EntityStore {
	return NewEntityStore(NewPlayerGrid(1000))
}

func TestIDAllocationNeverAliases(t *testing.T) {
	s := newTestStore()
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		pid := s.CreatePlayer(0, 0)
		bid := s.CreateBot(0, 0, false)
		if pid <= 0 {
			t.Fatalf("player id %d not positive", pid)
		}
		if bid >= 0 {
			t.Fatalf("bot id %d not negative", bid)
		}
		if seen[pid] || seen[bid] {
			t.Fatalf("id reuse: %d / %d", pid, bid)
		}
		seen[pid] = true
		seen[bid] = true
	}
}

func TestMutateQueuesOnlyChangedFields(t *testing.T) {
	s := newTestStore()
	id := s.CreatePlayer(10, 20)
	s.FlushDeltas() // drop the spawn delta

	s.Mutate(id, func(rec *EntityRecord) {
		rec.X = 50
		rec.Health = 80
	})

	deltas := s.FlushDeltas()
	d, ok := deltas[id]
	if !ok {
		t.Fatal("no delta queued")
	}
	if d["x"] != 50.0 {
		t.Fatalf("x delta = %v", d["x"])
	}
	if d["health"] != 80 {
		t.Fatalf("health delta = %v", d["health"])
	}
	if _, has := d["y"]; has {
		t.Fatal("unchanged field y leaked into delta")
	}
}

func TestMutateSamePositionQueuesNothing(t *testing.T) {
	s := newTestStore()
	id := s.CreatePlayer(10, 20)
	s.FlushDeltas()

	s.Mutate(id, func(rec *EntityRecord) {
		rec.X = 10
		rec.Y = 20
	})
	if deltas := s.FlushDeltas(); deltas != nil {
		t.Fatalf("no-op mutate queued %v", deltas)
	}
}

func TestMutateCannotChangeIDOrKind(t *testing.T) {
	s := newTestStore()
	id := s.CreatePlayer(0, 0)
	s.Mutate(id, func(rec *EntityRecord) {
		rec.ID = 9999
		rec.Kind = KindBot
	})
	rec, ok := s.Get(id)
	if !ok {
		t.Fatal("entity vanished")
	}
	if rec.ID != id || rec.Kind != KindPlayer {
		t.Fatalf("id/kind mutated: %+v", rec)
	}
}

func TestMutateResyncsGrid(t *testing.T) {
	s := newTestStore()
	id := s.CreatePlayer(100, 100)
	before, _ := s.grid.CellOf(id)

	s.Mutate(id, func(rec *EntityRecord) {
		rec.X = 2500
		rec.Y = 2500
	})
	after, ok := s.grid.CellOf(id)
	if !ok {
		t.Fatal("entity left the grid")
	}
	if before == after {
		t.Fatal("grid cell did not follow the position")
	}
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	s := newTestStore()
	id := s.CreatePlayer(100, 100)
	s.FlushDeltas()

	if !s.Delete(id) {
		t.Fatal("delete reported failure")
	}
	if _, ok := s.Get(id); ok {
		t.Fatal("entity still readable")
	}
	if _, ok := s.grid.CellOf(id); ok {
		t.Fatal("entity still on grid")
	}
	deltas := s.FlushDeltas()
	if deltas[id]["removed"] != true {
		t.Fatalf("removal notice missing: %v", deltas[id])
	}
	if s.Delete(id) {
		t.Fatal("double delete reported success")
	}
}

func TestFlushStartsFreshWindow(t *testing.T) {
	s := newTestStore()
	id := s.CreatePlayer(0, 0)

	first := s.FlushDeltas()
	if _, ok := first[id]; !ok {
		t.Fatal("spawn delta missing")
	}
	if second := s.FlushDeltas(); second != nil {
		t.Fatalf("second flush not empty: %v", second)
	}
}

func TestConcurrentMutateNeverTears(t *testing.T) {
	s := newTestStore()
	id := s.CreatePlayer(0, 0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Mutate(id, func(rec *EntityRecord) {
					// x and y must always move together
					rec.X++
					rec.Y++
				})
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			rec, ok := s.Get(id)
			if !ok {
				return
			}
			if rec.X != rec.Y {
				t.Errorf("torn read: x=%f y=%f", rec.X, rec.Y)
				return
			}
		}
	}()
	wg.Wait()
	<-done

	rec, _ := s.Get(id)
	if rec.X != 4000 || rec.Y != 4000 {
		t.Fatalf("lost updates: %+v", rec)
	}
}

func TestNearbyExactDistance(t *testing.T) {
	s := newTestStore()
	a := s.CreatePlayer(0, 0)
	b := s.CreatePlayer(90, 0)    // inside r=100
	c := s.CreatePlayer(150, 0)   // same cell, outside r
	_ = s.CreatePlayer(5000, 0)   // far away
	_, _, _ = a, b, c

	got := make(map[int]bool)
	for _, rec := range s.Nearby(0, 0, 100) {
		got[rec.ID] = true
	}
	if !got[a] || !got[b] {
		t.Fatalf("missing nearby entities: %v", got)
	}
	if got[c] {
		t.Fatal("entity outside radius returned")
	}
}

func TestNearestPlayerSkipsBotsAndDead(t *testing.T) {
	s := newTestStore()
	s.CreateBot(10, 0, true)
	dead := s.CreatePlayer(20, 0)
	s.Mutate(dead, func(rec *EntityRecord) { rec.Health = 0 })
	live := s.CreatePlayer(200, 0)

	got, ok := s.NearestPlayer(0, 0, 500)
	if !ok {
		t.Fatal("expected a player")
	}
	if got.ID != live {
		t.Fatalf("nearest = %d, want %d", got.ID, live)
	}
}

func TestChatHistoryBounded(t *testing.T) {
	s := newTestStore()
	for i := 0; i < maxChatHistory+25; i++ {
		s.AppendChat(ChatLine{From: "u", Text: "hello"})
	}
	if n := len(s.RecentChat(maxChatHistory + 50)); n != maxChatHistory {
		t.Fatalf("history length = %d, want %d", n, maxChatHistory)
	}
}

func TestChatSince(t *testing.T) {
	s := newTestStore()
	s.AppendChat(ChatLine{From: "a", Text: "one"})
	lines, seq := s.ChatSince(0)
	if len(lines) != 1 || lines[0].Text != "one" {
		t.Fatalf("first window: %v", lines)
	}

	s.AppendChat(ChatLine{From: "b", Text: "two"})
	s.AppendChat(ChatLine{From: "c", Text: "three"})
	lines, seq = s.ChatSince(seq)
	if len(lines) != 2 || lines[0].Text != "two" || lines[1].Text != "three" {
		t.Fatalf("second window: %v", lines)
	}

	if lines, _ = s.ChatSince(seq); lines != nil {
		t.Fatalf("empty window returned %v", lines)
	}
}
