package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbucher/tilehall/internal/game"
	"github.com/mbucher/tilehall/internal/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func snapshotDoc(id string) game.SessionDoc {
	started := true
	index := 1
	return game.SessionDoc{
		ID:                 id,
		Started:            &started,
		CurrentPlayerIndex: &index,
		Players: []game.PlayerDoc{
			{ID: "p1", Name: "Ana", Hand: []game.Tile{{ID: 1, Color: game.ColorRed, Number: 5}}},
			{ID: "p2", Name: "Bo"},
		},
		Board:     [][]game.Tile{},
		Deck:      []game.Tile{{ID: 2, Color: game.ColorBlue, Number: 9}},
		CreatedAt: time.Date(2026, time.March, 3, 9, 30, 0, 0, time.UTC),
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestSaveLoadSessionRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	doc := snapshotDoc("game-1")
	savedAt := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)

	if err := store.SaveSession(context.Background(), doc, savedAt); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := store.LoadSession(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if got.ID != "game-1" {
		t.Fatalf("id = %q, want game-1", got.ID)
	}
	if got.Started == nil || !*got.Started {
		t.Fatalf("started = %v, want true", got.Started)
	}
	if got.CurrentPlayerIndex == nil || *got.CurrentPlayerIndex != 1 {
		t.Fatalf("currentPlayerIndex = %v, want 1", got.CurrentPlayerIndex)
	}
	if len(got.Players) != 2 || got.Players[0].Name != "Ana" {
		t.Fatalf("players = %+v", got.Players)
	}
	if len(got.Players[0].Hand) != 1 || got.Players[0].Hand[0].ID != 1 {
		t.Fatalf("hand = %+v", got.Players[0].Hand)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", got.CreatedAt, doc.CreatedAt)
	}
}

func TestSaveSessionUpsertsLatestSnapshot(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	doc := snapshotDoc("game-1")
	if err := store.SaveSession(context.Background(), doc, time.Now()); err != nil {
		t.Fatalf("save session: %v", err)
	}

	index := 0
	doc.CurrentPlayerIndex = &index
	doc.Players[0].Disconnected = true
	if err := store.SaveSession(context.Background(), doc, time.Now()); err != nil {
		t.Fatalf("save session again: %v", err)
	}

	got, err := store.LoadSession(context.Background(), "game-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if *got.CurrentPlayerIndex != 0 {
		t.Fatalf("currentPlayerIndex = %d, want 0", *got.CurrentPlayerIndex)
	}
	if !got.Players[0].Disconnected {
		t.Fatal("disconnected flag lost on upsert")
	}
}

func TestSaveSessionRequiresGameID(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.SaveSession(context.Background(), game.SessionDoc{}, time.Now()); err == nil {
		t.Fatal("expected missing game id error")
	}
}

func TestLoadSessionNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.LoadSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.SaveSession(context.Background(), snapshotDoc("game-1"), time.Now()); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := store.DeleteSession(context.Background(), "game-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.LoadSession(context.Background(), "game-1"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound after delete", err)
	}
	if err := store.DeleteSession(context.Background(), "game-1"); err != nil {
		t.Fatalf("delete missing session: %v", err)
	}
}

func TestSaveSessionHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.SaveSession(ctx, snapshotDoc("game-1"), time.Now()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
