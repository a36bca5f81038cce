/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package evaluator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nathanielasun/songbase/internal/models"
	"github.com/nathanielasun/songbase/internal/rules"
	"github.com/nathanielasun/songbase/internal/schema"
)

type fakeCatalog struct {
	songs         []models.Song
	playlists     map[string]map[string]struct{}
	playlistNames map[string][]string
	similar       map[string][]string
	similarCalls  int
	songCalls     int
}

func (f *fakeCatalog) Songs(ctx context.Context) ([]models.Song, error) {
	f.songCalls++
	return f.songs, nil
}

func (f *fakeCatalog) PlaylistMembers(ctx context.Context, ref string) (map[string]struct{}, error) {
	members, ok := f.playlists[ref]
	if !ok {
		return nil, ErrPlaylistNotFound
	}
	return members, nil
}

func (f *fakeCatalog) PlaylistsBySong(ctx context.Context) (map[string][]string, error) {
	return f.playlistNames, nil
}

func (f *fakeCatalog) SimilarSongs(ctx context.Context, seedID string, count int) ([]string, error) {
	f.similarCalls++
	ids := f.similar[seedID]
	if len(ids) > count {
		ids = ids[:count]
	}
	return ids, nil
}

func testEvaluator(cat Catalog) *Evaluator {
	return New(cat, zerolog.Nop())
}

func cond(t *testing.T, fieldKey, op string, value any) *rules.Condition {
	t.Helper()
	field, err := schema.Lookup(fieldKey)
	if err != nil {
		t.Fatal(err)
	}
	c := rules.NewCondition(field)
	if err := c.SetOperator(op); err != nil {
		t.Fatalf("%s %s: %v", fieldKey, op, err)
	}
	if value != nil {
		if err := c.SetValue(value); err != nil {
			t.Fatalf("%s %s value %v: %v", fieldKey, op, value, err)
		}
	}
	return c
}

func group(match rules.Match, children ...rules.Node) *rules.Group {
	g := rules.NewGroup()
	g.Children = children
	_ = g.SetMatch(match)
	return g
}

func ts(daysAgo int) *time.Time {
	t := time.Now().AddDate(0, 0, -daysAgo)
	return &t
}

func TestAllAnyCombinators(t *testing.T) {
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "s1", Title: "Fast Loud", BPM: 120, Energy: 80},
		{ID: "s2", Title: "Fast Quiet", BPM: 110, Energy: 30},
		{ID: "s3", Title: "Slow Quiet", BPM: 90, Energy: 30},
	}}
	e := testEvaluator(cat)

	fast := func() *rules.Condition { return cond(t, "bpm", schema.OpGreater, 100.0) }
	loud := func() *rules.Condition { return cond(t, "energy", schema.OpGreater, 50.0) }

	all, err := e.Evaluate(context.Background(), Request{Root: group(rules.MatchAll, fast(), loud())})
	if err != nil {
		t.Fatal(err)
	}
	if len(all.SongIDs) != 1 || all.SongIDs[0] != "s1" {
		t.Errorf("ALL matched %v, want [s1]", all.SongIDs)
	}

	any, err := e.Evaluate(context.Background(), Request{Root: group(rules.MatchAny, fast(), loud())})
	if err != nil {
		t.Fatal(err)
	}
	if len(any.SongIDs) != 2 {
		t.Errorf("ANY matched %v, want s1 and s2", any.SongIDs)
	}
}

func TestBetweenIsInclusive(t *testing.T) {
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "low", DurationSec: 179},
		{ID: "min", DurationSec: 180},
		{ID: "mid", DurationSec: 200},
		{ID: "max", DurationSec: 240},
		{ID: "high", DurationSec: 241},
	}}
	e := testEvaluator(cat)

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "duration_sec", schema.OpBetween, []any{180.0, 240.0})),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMatches != 3 {
		t.Errorf("matched %v, want min, mid, max", res.SongIDs)
	}
	for _, id := range res.SongIDs {
		if id == "low" || id == "high" {
			t.Errorf("out-of-range song %s matched", id)
		}
	}
}

func TestYearsAgoCalendarBoundary(t *testing.T) {
	thisYear := time.Now().Year()
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "current", Year: thisYear},
		{ID: "edge", Year: thisYear - 2},
		{ID: "older", Year: thisYear - 3},
	}}
	e := testEvaluator(cat)

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "year", schema.OpYearsAgo, 2.0)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMatches != 2 {
		t.Errorf("matched %v, want current and edge", res.SongIDs)
	}
	for _, id := range res.SongIDs {
		if id == "older" {
			t.Error("song released 3 calendar years back matched years_ago 2")
		}
	}
}

func TestDateBetweenIncludesEndOfDay(t *testing.T) {
	endOfRange := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	startOfNext := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	beforeRange := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "late", LastPlayedAt: &endOfRange},
		{ID: "after", LastPlayedAt: &startOfNext},
		{ID: "before", LastPlayedAt: &beforeRange},
	}}
	e := testEvaluator(cat)

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "last_played_at", schema.OpBetween, []any{"2024-03-01", "2024-03-10"})),
	})
	if err != nil {
		t.Fatal(err)
	}
	// The upper bound covers the whole of its day.
	if len(res.SongIDs) != 1 || res.SongIDs[0] != "late" {
		t.Errorf("matched %v, want [late]", res.SongIDs)
	}
}

func TestWithinDaysBoundary(t *testing.T) {
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "recent", LastPlayedAt: ts(6)},
		{ID: "stale", LastPlayedAt: ts(8)},
		{ID: "never", LastPlayedAt: nil},
	}}
	e := testEvaluator(cat)

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "last_played_at", schema.OpWithinDays, 7.0)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SongIDs) != 1 || res.SongIDs[0] != "recent" {
		t.Errorf("matched %v, want [recent]", res.SongIDs)
	}
}

func TestNeverAndNullOperators(t *testing.T) {
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "played", LastPlayedAt: ts(1), Rating: 4},
		{ID: "unplayed", Rating: 0},
	}}
	e := testEvaluator(cat)

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "last_played_at", schema.OpNever, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SongIDs) != 1 || res.SongIDs[0] != "unplayed" {
		t.Errorf("never matched %v, want [unplayed]", res.SongIDs)
	}

	res, err = e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "rating", schema.OpIsNull, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SongIDs) != 1 || res.SongIDs[0] != "unplayed" {
		t.Errorf("is_null on rating matched %v, want [unplayed]", res.SongIDs)
	}
}

func TestLimitVersusTotalMatches(t *testing.T) {
	songs := make([]models.Song, 50)
	for i := range songs {
		songs[i] = models.Song{ID: string(rune('a' + i%26)) + string(rune('0'+i/26)), Loved: true}
	}
	e := testEvaluator(&fakeCatalog{songs: songs})

	limit := 10
	res, err := e.Evaluate(context.Background(), Request{
		Root:  group(rules.MatchAll, cond(t, "loved", schema.OpIsTrue, nil)),
		Limit: &limit,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SongIDs) != 10 {
		t.Errorf("returned %d songs, want 10", len(res.SongIDs))
	}
	if res.TotalMatches != 50 {
		t.Errorf("total matches = %d, want 50 (pre-limit)", res.TotalMatches)
	}
}

func TestEmptyGroupMatchesNothing(t *testing.T) {
	e := testEvaluator(&fakeCatalog{songs: []models.Song{{ID: "s1"}}})
	root := rules.NewGroup()
	root.Children = nil

	res, err := e.Evaluate(context.Background(), Request{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMatches != 0 {
		t.Errorf("empty group matched %d songs, want 0", res.TotalMatches)
	}
}

func TestUnresolvedPlaylistIsSoftWarning(t *testing.T) {
	e := testEvaluator(&fakeCatalog{
		songs:     []models.Song{{ID: "s1"}},
		playlists: map[string]map[string]struct{}{},
	})

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "playlist", schema.OpSameAs, "playlist:ghost")),
	})
	if err != nil {
		t.Fatalf("dangling reference must not fail the evaluation: %v", err)
	}
	if res.TotalMatches != 0 {
		t.Errorf("dangling reference matched %d songs, want 0", res.TotalMatches)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "ghost") {
		t.Errorf("warnings = %v, want one naming the missing playlist", res.Warnings)
	}
}

func TestSameAsMembership(t *testing.T) {
	e := testEvaluator(&fakeCatalog{
		songs: []models.Song{{ID: "in"}, {ID: "out"}},
		playlists: map[string]map[string]struct{}{
			"road-trip": {"in": {}},
		},
	})

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "playlist", schema.OpSameAs, "playlist:road-trip")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SongIDs) != 1 || res.SongIDs[0] != "in" {
		t.Errorf("matched %v, want [in]", res.SongIDs)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestTopNResolvedOncePerEvaluation(t *testing.T) {
	songs := []models.Song{{ID: "seed"}, {ID: "n1"}, {ID: "n2"}, {ID: "n3"}, {ID: "far"}}
	cat := &fakeCatalog{
		songs:   songs,
		similar: map[string][]string{"seed": {"n2", "n1", "n3"}},
	}
	e := testEvaluator(cat)

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "similar_to", schema.OpTopN, map[string]any{"seed": "seed", "count": 3.0})),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMatches != 3 {
		t.Errorf("matched %v, want the 3 neighbours", res.SongIDs)
	}
	// One lookup for membership plus one for rank propagation; never per song.
	if cat.similarCalls > 2 {
		t.Errorf("similarity resolved %d times, want at most 2", cat.similarCalls)
	}
	// Lone top_n with no explicit sort returns songs in similarity order.
	want := []string{"n2", "n1", "n3"}
	for i, id := range res.SongIDs {
		if id != want[i] {
			t.Fatalf("order = %v, want %v", res.SongIDs, want)
		}
	}
}

func TestSortByFieldAndDirection(t *testing.T) {
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "b", Title: "Beta", Year: 2001},
		{ID: "c", Title: "gamma", Year: 1999},
		{ID: "a", Title: "alpha", Year: 2010},
	}}
	e := testEvaluator(cat)
	root := func() *rules.Group {
		return group(rules.MatchAll, cond(t, "year", schema.OpGreater, 0.0))
	}

	asc, err := e.Evaluate(context.Background(), Request{Root: root(), SortBy: "title", SortOrder: models.SortAsc})
	if err != nil {
		t.Fatal(err)
	}
	if asc.SongIDs[0] != "a" || asc.SongIDs[2] != "c" {
		t.Errorf("title asc = %v", asc.SongIDs)
	}

	desc, err := e.Evaluate(context.Background(), Request{Root: root(), SortBy: "year", SortOrder: models.SortDesc})
	if err != nil {
		t.Fatal(err)
	}
	if desc.SongIDs[0] != "a" || desc.SongIDs[2] != "c" {
		t.Errorf("year desc = %v", desc.SongIDs)
	}
}

func TestRandomSortIsPermutation(t *testing.T) {
	songs := make([]models.Song, 8)
	for i := range songs {
		songs[i] = models.Song{ID: string(rune('a' + i)), Loved: true}
	}
	e := testEvaluator(&fakeCatalog{songs: songs})
	req := Request{
		Root:   group(rules.MatchAll, cond(t, "loved", schema.OpIsTrue, nil)),
		SortBy: SortRandom,
	}

	first, err := e.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.TotalMatches != len(songs) || len(first.SongIDs) != len(songs) {
		t.Fatalf("random sort changed the matched set: %v", first.SongIDs)
	}
	seen := make(map[string]bool, len(songs))
	for _, id := range first.SongIDs {
		seen[id] = true
	}
	for i := range songs {
		if !seen[songs[i].ID] {
			t.Errorf("song %s dropped by random sort", songs[i].ID)
		}
	}

	// Each invocation reshuffles; 20 identical orderings of 8 songs would be
	// a broken shuffle, not bad luck.
	reordered := false
	for i := 0; i < 20 && !reordered; i++ {
		again, err := e.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		for j := range again.SongIDs {
			if again.SongIDs[j] != first.SongIDs[j] {
				reordered = true
				break
			}
		}
	}
	if !reordered {
		t.Error("random sort returned the same order on every invocation")
	}
}

func TestSortRejectsSimilarityField(t *testing.T) {
	cat := &fakeCatalog{songs: []models.Song{{ID: "s1", Loved: true}}}
	e := testEvaluator(cat)

	_, err := e.Evaluate(context.Background(), Request{
		Root:   group(rules.MatchAll, cond(t, "loved", schema.OpIsTrue, nil)),
		SortBy: "similar_to",
	})
	if err == nil {
		t.Fatal("sort by a similarity field was accepted")
	}
	if cat.songCalls != 0 {
		t.Errorf("catalog loaded %d times before the sort field was rejected, want 0", cat.songCalls)
	}
}

func TestSortRejectsUnknownField(t *testing.T) {
	e := testEvaluator(&fakeCatalog{songs: []models.Song{{ID: "s1"}}})
	_, err := e.Evaluate(context.Background(), Request{
		Root:   group(rules.MatchAll, cond(t, "loved", schema.OpIsTrue, nil)),
		SortBy: "bogus",
	})
	var unknown *schema.UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("sort by unknown field = %v, want UnknownFieldError", err)
	}
}

func TestInvalidTreeFailsWholeEvaluation(t *testing.T) {
	e := testEvaluator(&fakeCatalog{songs: []models.Song{{ID: "s1", Loved: true}}})
	root := group(rules.MatchAny,
		cond(t, "loved", schema.OpIsTrue, nil),
		&rules.Condition{ID: "bad", Field: "bogus", Operator: "equals"},
	)

	if _, err := e.Evaluate(context.Background(), Request{Root: root}); err == nil {
		t.Fatal("expected the whole evaluation to fail, got partial success")
	}
}

func TestPlaylistFieldStringPredicates(t *testing.T) {
	e := testEvaluator(&fakeCatalog{
		songs: []models.Song{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}},
		playlistNames: map[string][]string{
			"s1": {"Morning Run", "Focus"},
			"s2": {"Evening Chill"},
		},
	})

	res, err := e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "playlist", schema.OpContains, "run")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SongIDs) != 1 || res.SongIDs[0] != "s1" {
		t.Errorf("playlist contains = %v, want [s1]", res.SongIDs)
	}

	res, err = e.Evaluate(context.Background(), Request{
		Root: group(rules.MatchAll, cond(t, "playlist", schema.OpIsNull, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.SongIDs) != 1 || res.SongIDs[0] != "s3" {
		t.Errorf("playlist is_null = %v, want [s3]", res.SongIDs)
	}
}

func TestNestedGroupEvaluation(t *testing.T) {
	cat := &fakeCatalog{songs: []models.Song{
		{ID: "rock-loved", Genre: "Rock", Loved: true},
		{ID: "rock-recent", Genre: "Rock", LastPlayedAt: ts(2)},
		{ID: "rock-plain", Genre: "Rock"},
		{ID: "jazz-loved", Genre: "Jazz", Loved: true},
	}}
	e := testEvaluator(cat)

	// genre = Rock AND (loved OR played within 7 days)
	nested := group(rules.MatchAny,
		cond(t, "loved", schema.OpIsTrue, nil),
		cond(t, "last_played_at", schema.OpWithinDays, 7.0),
	)
	root := group(rules.MatchAll, cond(t, "genre", schema.OpEquals, "Rock"), nested)

	res, err := e.Evaluate(context.Background(), Request{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalMatches != 2 {
		t.Errorf("matched %v, want rock-loved and rock-recent", res.SongIDs)
	}
}
