/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package smartplaylist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nathanielasun/songbase/internal/catalog"
	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/events"
	"github.com/nathanielasun/songbase/internal/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *events.Bus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Song{},
		&models.Playlist{},
		&models.PlaylistEntry{},
		&models.SmartPlaylist{},
		&models.SmartPlaylistEntry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zerolog.Nop()
	store := catalog.NewStore(db, logger)
	eval := evaluator.New(store, logger)
	bus := events.NewBus()
	return New(db, eval, nil, bus, logger), db, bus
}

func seedSong(t *testing.T, db *gorm.DB, id, title, genre string, year int) {
	t.Helper()
	song := models.Song{ID: id, Title: title, Artist: "artist", Genre: genre, Year: year}
	if err := db.Create(&song).Error; err != nil {
		t.Fatalf("seed song %s: %v", id, err)
	}
}

func docMap(match string, conds ...map[string]any) map[string]any {
	list := make([]any, len(conds))
	for i, c := range conds {
		list[i] = c
	}
	return map[string]any{"version": 1, "match": match, "conditions": list}
}

func leaf(field, operator string, value any) map[string]any {
	return map[string]any{"field": field, "operator": operator, "value": value}
}

func TestCreateRejectsInvalidSpecs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	valid := docMap("all", leaf("genre", "equals", "jazz"))

	tests := []struct {
		name string
		spec Spec
	}{
		{"missing name", Spec{Document: valid}},
		{"incompatible operator", Spec{
			Name:     "bad op",
			Document: docMap("all", leaf("genre", "greater", "jazz")),
		}},
		{"unknown version", Spec{
			Name: "bad version",
			Document: map[string]any{
				"version": 99, "match": "all",
				"conditions": []any{leaf("genre", "equals", "jazz")},
			},
		}},
		{"unknown sort field", Spec{Name: "bad sort", Document: valid, SortBy: "tempo"}},
		{"bad sort order", Spec{Name: "bad order", Document: valid, SortOrder: "sideways"}},
		{"zero limit", Spec{Name: "bad limit", Document: valid, Limit: intp(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.spec); err == nil {
				t.Error("Create accepted an invalid spec")
			}
		})
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	sp, err := svc.Create(ctx, Spec{
		Name:     "jazz favourites",
		Document: docMap("all", leaf("genre", "equals", "jazz")),
		SortBy:   "title",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sp.ID == "" {
		t.Fatal("Create returned empty id")
	}
	if sp.SortOrder != models.SortAsc {
		t.Errorf("default sort order = %q, want asc", sp.SortOrder)
	}

	got, err := svc.Get(ctx, sp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "jazz favourites" {
		t.Errorf("Get name = %q", got.Name)
	}

	updated, err := svc.Update(ctx, sp.ID, Spec{
		Name:     "rock favourites",
		Document: docMap("all", leaf("genre", "equals", "rock")),
		SortBy:   "year",
		Limit:    intp(5),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.SortBy != "year" || updated.Limit == nil || *updated.Limit != 5 {
		t.Errorf("Update did not apply metadata: %+v", updated)
	}

	if err := svc.Delete(ctx, sp.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, sp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}

	var count int64
	db.Model(&models.SmartPlaylistEntry{}).Where("smart_playlist_id = ?", sp.ID).Count(&count)
	if count != 0 {
		t.Errorf("entries left after delete: %d", count)
	}
}

func TestUpdateMissingPlaylist(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Update(context.Background(), "no-such-id", Spec{
		Name:     "x",
		Document: docMap("all", leaf("genre", "equals", "jazz")),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update = %v, want ErrNotFound", err)
	}
}

func TestMaterializeWritesOrderedEntries(t *testing.T) {
	svc, db, bus := newTestService(t)
	ctx := context.Background()

	seedSong(t, db, "s1", "Blue", "jazz", 1959)
	seedSong(t, db, "s2", "Azure", "jazz", 1961)
	seedSong(t, db, "s3", "Thrash", "metal", 1986)

	sub := bus.Subscribe(events.EventSmartPlaylistMaterialized)

	sp, err := svc.Create(ctx, Spec{
		Name:     "jazz by title",
		Document: docMap("all", leaf("genre", "equals", "jazz")),
		SortBy:   "title",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := svc.Materialize(ctx, sp.ID)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if res.TotalMatches != 2 {
		t.Errorf("TotalMatches = %d, want 2", res.TotalMatches)
	}
	want := []string{"s2", "s1"} // Azure before Blue
	if len(res.SongIDs) != 2 || res.SongIDs[0] != want[0] || res.SongIDs[1] != want[1] {
		t.Errorf("SongIDs = %v, want %v", res.SongIDs, want)
	}

	ids, err := svc.Entries(ctx, sp.ID)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("Entries = %v, want %v", ids, want)
	}

	stored, err := svc.Get(ctx, sp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.LastEvaluatedAt == nil {
		t.Error("LastEvaluatedAt not set after materialization")
	}

	select {
	case payload := <-sub:
		if payload["smart_playlist_id"] != sp.ID {
			t.Errorf("event payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Error("materialized event never published")
	}
}

func TestMaterializeReplacesPreviousEntries(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	seedSong(t, db, "s1", "One", "jazz", 2000)
	seedSong(t, db, "s2", "Two", "jazz", 2001)

	sp, err := svc.Create(ctx, Spec{
		Name:     "recent jazz",
		Document: docMap("all", leaf("genre", "equals", "jazz")),
		SortBy:   "title",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Materialize(ctx, sp.ID); err != nil {
		t.Fatalf("first Materialize: %v", err)
	}

	// Narrow the rule; stale rows must not survive the rewrite.
	if _, err := svc.Update(ctx, sp.ID, Spec{
		Name:     "recent jazz",
		Document: docMap("all", leaf("genre", "equals", "jazz"), leaf("year", "greater", float64(2000))),
		SortBy:   "title",
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := svc.Materialize(ctx, sp.ID); err != nil {
		t.Fatalf("second Materialize: %v", err)
	}

	ids, err := svc.Entries(ctx, sp.ID)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s2" {
		t.Errorf("Entries = %v, want [s2]", ids)
	}
}

func TestRefreshAllContinuesPastFailures(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	seedSong(t, db, "s1", "One", "jazz", 2000)

	good, err := svc.Create(ctx, Spec{
		Name:     "good",
		Document: docMap("all", leaf("genre", "equals", "jazz")),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A corrupt stored document can only appear via external writes; simulate
	// one directly.
	broken := models.SmartPlaylist{
		ID:   "broken-id",
		Name: "broken",
		Document: map[string]any{
			"version": 1, "match": "all",
			"conditions": []any{leaf("no_such_field", "equals", "x")},
		},
	}
	if err := db.Create(&broken).Error; err != nil {
		t.Fatalf("seed broken playlist: %v", err)
	}

	if err := svc.RefreshAll(ctx); err == nil {
		t.Error("RefreshAll = nil, want partial failure error")
	}

	ids, err := svc.Entries(ctx, good.ID)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("good playlist not refreshed, entries = %v", ids)
	}
}

func intp(v int) *int { return &v }
