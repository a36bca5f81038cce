/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Song{},
		&models.Playlist{},
		&models.PlaylistEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"scaled", []float64{1, 1}, []float64{5, 5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestPlaylistMembers(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	db.Create(&models.Playlist{ID: "pl-1", Name: "Road Trip"})
	db.Create(&models.PlaylistEntry{PlaylistID: "pl-1", SongID: "s1", Position: 0})
	db.Create(&models.PlaylistEntry{PlaylistID: "pl-1", SongID: "s2", Position: 1})

	byID, err := store.PlaylistMembers(ctx, "pl-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 2 {
		t.Errorf("members by id = %v, want s1 and s2", byID)
	}

	byName, err := store.PlaylistMembers(ctx, "Road Trip")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := byName["s1"]; !ok || len(byName) != 2 {
		t.Errorf("members by name = %v", byName)
	}

	if _, err := store.PlaylistMembers(ctx, "ghost"); !errors.Is(err, evaluator.ErrPlaylistNotFound) {
		t.Errorf("dangling reference = %v, want ErrPlaylistNotFound", err)
	}
}

func TestPlaylistsBySong(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, zerolog.Nop())

	db.Create(&models.Playlist{ID: "pl-1", Name: "Focus"})
	db.Create(&models.Playlist{ID: "pl-2", Name: "Morning Run"})
	db.Create(&models.PlaylistEntry{PlaylistID: "pl-1", SongID: "s1"})
	db.Create(&models.PlaylistEntry{PlaylistID: "pl-2", SongID: "s1"})
	db.Create(&models.PlaylistEntry{PlaylistID: "pl-2", SongID: "s2"})

	bySong, err := store.PlaylistsBySong(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(bySong["s1"]) != 2 {
		t.Errorf("s1 playlists = %v, want 2", bySong["s1"])
	}
	if len(bySong["s2"]) != 1 || bySong["s2"][0] != "Morning Run" {
		t.Errorf("s2 playlists = %v", bySong["s2"])
	}
	if _, ok := bySong["s3"]; ok {
		t.Error("unlisted song has playlist entries")
	}
}

func TestSimilarSongsOrdering(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	db.Create(&models.Song{ID: "seed", Title: "Seed", FeatureVector: []float64{1, 0, 0}})
	db.Create(&models.Song{ID: "near", Title: "Near", FeatureVector: []float64{0.9, 0.1, 0}})
	db.Create(&models.Song{ID: "mid", Title: "Mid", FeatureVector: []float64{0.5, 0.5, 0}})
	db.Create(&models.Song{ID: "far", Title: "Far", FeatureVector: []float64{0, 0, 1}})

	ids, err := store.SimilarSongs(ctx, "seed", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("candidates = %v, want 2", ids)
	}
	if ids[0] != "near" || ids[1] != "mid" {
		t.Errorf("order = %v, want [near mid]", ids)
	}

	if _, err := store.SimilarSongs(ctx, "ghost", 2); err == nil {
		t.Error("expected error for unknown seed")
	}
}

func TestSimilarSongsFallbackVector(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db, zerolog.Nop())

	// No stored embeddings; similarity degrades to coarse audio features.
	db.Create(&models.Song{ID: "seed", Energy: 90, Danceability: 80, BPM: 128})
	db.Create(&models.Song{ID: "close", Energy: 85, Danceability: 75, BPM: 125})
	db.Create(&models.Song{ID: "quiet", Energy: 5, Danceability: 10, BPM: 60})

	ids, err := store.SimilarSongs(context.Background(), "seed", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "close" {
		t.Errorf("fallback similarity = %v, want [close]", ids)
	}
}
