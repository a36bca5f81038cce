/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package evaluator resolves a rule tree against the song catalog, producing
// the ordered, limited set of matching songs. Evaluation is a pure function of
// the tree, the catalog state, and the sort/limit parameters; the evaluator
// itself holds no per-rule state.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nathanielasun/songbase/internal/models"
	"github.com/nathanielasun/songbase/internal/rules"
	"github.com/nathanielasun/songbase/internal/schema"
)

// ErrPlaylistNotFound is returned by Catalog implementations when a playlist
// reference does not resolve. The evaluator degrades the referencing leaf to
// "matches nothing" and reports a warning instead of failing the evaluation.
var ErrPlaylistNotFound = errors.New("playlist not found")

// SortRandom requests a fresh shuffle per evaluation instead of a field sort.
const SortRandom = "random"

// Catalog is the read capability the evaluator needs. Implementations load
// from the database; tests supply in-memory fixtures.
type Catalog interface {
	// Songs returns the evaluable catalog.
	Songs(ctx context.Context) ([]models.Song, error)
	// PlaylistMembers resolves a playlist reference to its current member
	// song ids. Returns ErrPlaylistNotFound for dangling references.
	PlaylistMembers(ctx context.Context, ref string) (map[string]struct{}, error)
	// PlaylistsBySong maps each song id to the names of the static playlists
	// containing it. Only consulted when the rule queries the playlist field.
	PlaylistsBySong(ctx context.Context) (map[string][]string, error)
	// SimilarSongs returns up to count song ids nearest the seed under the
	// catalog's similarity metric, ordered best-first, seed excluded.
	SimilarSongs(ctx context.Context, seedID string, count int) ([]string, error)
}

// Request carries one evaluation's inputs.
type Request struct {
	Root      *rules.Group
	SortBy    string // field key, SortRandom, or "" for catalog order
	SortOrder models.SortOrder
	Limit     *int
}

// Result is the outcome of a successful evaluation. TotalMatches counts the
// matched set before the limit is applied.
type Result struct {
	Songs        []models.Song
	SongIDs      []string
	TotalMatches int
	Warnings     []string
}

// Evaluator evaluates rule trees against a catalog.
type Evaluator struct {
	catalog Catalog
	logger  zerolog.Logger
}

// New creates an evaluator over the given catalog.
func New(catalog Catalog, logger zerolog.Logger) *Evaluator {
	return &Evaluator{catalog: catalog, logger: logger.With().Str("component", "evaluator").Logger()}
}

// environment is the per-evaluation context: a single "now" captured at start
// so boundary comparisons agree across leaves, plus the pre-resolved
// membership sets for reference and similarity conditions.
type environment struct {
	now            time.Time
	membership     map[string]map[string]struct{} // condition id -> matching song ids
	similarityRank map[string]int                 // song id -> rank for the lone top_n case
	songPlaylists  map[string][]string
	warnings       []string
}

// Evaluate runs one evaluation pass. The tree is re-validated defensively:
// documents may originate from persisted state written under an older schema.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	if req.Root == nil {
		return Result{}, errors.New("evaluate: nil rule tree")
	}
	if err := rules.Validate(req.Root); err != nil {
		return Result{}, err
	}
	if err := validateSort(req.SortBy); err != nil {
		return Result{}, err
	}

	env, err := e.prepare(ctx, req.Root)
	if err != nil {
		return Result{}, err
	}

	songs, err := e.catalog.Songs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load catalog: %w", err)
	}

	matched := make([]models.Song, 0, len(songs))
	for i := range songs {
		ok, err := matchGroup(req.Root, &songs[i], env)
		if err != nil {
			return Result{}, err
		}
		if ok {
			matched = append(matched, songs[i])
		}
	}
	total := len(matched)

	if err := sortSongs(matched, req, env); err != nil {
		return Result{}, err
	}

	if req.Limit != nil && *req.Limit > 0 && len(matched) > *req.Limit {
		matched = matched[:*req.Limit]
	}

	ids := make([]string, len(matched))
	for i := range matched {
		ids[i] = matched[i].ID
	}

	e.logger.Debug().
		Int("total_matches", total).
		Int("returned", len(ids)).
		Int("warnings", len(env.warnings)).
		Msg("evaluation complete")

	return Result{Songs: matched, SongIDs: ids, TotalMatches: total, Warnings: env.warnings}, nil
}

// prepare captures the evaluation timestamp and resolves every same_as and
// top_n leaf to a membership set up front, so per-song matching is a pure
// in-memory test.
func (e *Evaluator) prepare(ctx context.Context, root *rules.Group) (*environment, error) {
	env := &environment{
		now:        time.Now(),
		membership: make(map[string]map[string]struct{}),
	}

	var (
		refConds  []*rules.Condition
		topConds  []*rules.Condition
		usesField bool
		walk      func(g *rules.Group)
	)
	walk = func(g *rules.Group) {
		for _, child := range g.Children {
			switch n := child.(type) {
			case *rules.Condition:
				switch n.Operator {
				case schema.OpSameAs:
					refConds = append(refConds, n)
				case schema.OpTopN:
					topConds = append(topConds, n)
				}
				if n.Field == "playlist" {
					usesField = true
				}
			case *rules.Group:
				walk(n)
			}
		}
	}
	walk(root)

	for _, c := range refConds {
		members, err := e.catalog.PlaylistMembers(ctx, c.Value.Playlist)
		if err != nil {
			if !errors.Is(err, ErrPlaylistNotFound) {
				return nil, fmt.Errorf("resolve playlist %q: %w", c.Value.Playlist, err)
			}
			env.warnings = append(env.warnings,
				fmt.Sprintf("playlist %q could not be resolved; the referencing condition matches nothing", c.Value.Playlist))
			env.membership[c.ID] = map[string]struct{}{}
			continue
		}
		env.membership[c.ID] = members
	}

	ranked := make(map[string][]string, len(topConds))
	for _, c := range topConds {
		ids, err := e.catalog.SimilarSongs(ctx, c.Value.Similarity.Seed, c.Value.Similarity.Count)
		if err != nil {
			return nil, fmt.Errorf("similarity lookup for seed %q: %w", c.Value.Similarity.Seed, err)
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		env.membership[c.ID] = set
		ranked[c.ID] = ids
	}

	// The lone root-level top_n condition propagates its candidate ranking as
	// the default order when no explicit sort is requested.
	if len(topConds) == 1 && len(root.Children) == 1 {
		if c, ok := root.Children[0].(*rules.Condition); ok && c.Operator == schema.OpTopN {
			ids := ranked[c.ID]
			env.similarityRank = make(map[string]int, len(ids))
			for i, id := range ids {
				env.similarityRank[id] = i
			}
		}
	}

	if usesField {
		bySong, err := e.catalog.PlaylistsBySong(ctx)
		if err != nil {
			return nil, fmt.Errorf("load playlist membership: %w", err)
		}
		env.songPlaylists = bySong
	}

	return env, nil
}

// matchGroup applies the group's combinator over its children. A group with
// no children matches nothing.
func matchGroup(g *rules.Group, song *models.Song, env *environment) (bool, error) {
	if len(g.Children) == 0 {
		return false, nil
	}
	for _, child := range g.Children {
		var (
			ok  bool
			err error
		)
		switch n := child.(type) {
		case *rules.Condition:
			ok, err = matchCondition(n, song, env)
		case *rules.Group:
			ok, err = matchGroup(n, song, env)
		}
		if err != nil {
			return false, err
		}
		if g.Match == rules.MatchAll && !ok {
			return false, nil
		}
		if g.Match == rules.MatchAny && ok {
			return true, nil
		}
	}
	return g.Match == rules.MatchAll, nil
}

func matchCondition(c *rules.Condition, song *models.Song, env *environment) (bool, error) {
	// Membership operators were resolved during preparation.
	switch c.Operator {
	case schema.OpSameAs, schema.OpTopN:
		set := env.membership[c.ID]
		_, ok := set[song.ID]
		return ok, nil
	}

	field, err := schema.Lookup(c.Field)
	if err != nil {
		return false, err
	}

	switch field.Type {
	case schema.TypeBoolean:
		val := boolField(song, c.Field)
		if c.Operator == schema.OpIsTrue {
			return val, nil
		}
		return !val, nil

	case schema.TypeString:
		if c.Field == "playlist" {
			return matchPlaylistField(c, song, env)
		}
		val, null := stringField(song, c.Field)
		return matchString(c, val, null)

	case schema.TypeNumber:
		val, null := numberField(song, c.Field)
		return matchNumber(c, val, null, env.now)

	case schema.TypeDate:
		ts, null := dateField(song, c.Field)
		return matchDate(c, ts, null, env.now)
	}

	return false, &rules.IncompatibleOperatorError{Field: c.Field, Type: field.Type, Operator: c.Operator}
}

// matchPlaylistField tests string predicates against the names of the static
// playlists containing the song; any matching name satisfies the predicate.
func matchPlaylistField(c *rules.Condition, song *models.Song, env *environment) (bool, error) {
	names := env.songPlaylists[song.ID]
	switch c.Operator {
	case schema.OpIsNull:
		return len(names) == 0, nil
	case schema.OpIsNotNull:
		return len(names) > 0, nil
	case schema.OpNotEquals, schema.OpNotContains, schema.OpNotInList:
		// Negative predicates must hold against every containing playlist.
		for _, name := range names {
			ok, err := matchString(c, name, false)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		for _, name := range names {
			ok, err := matchString(c, name, false)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func matchString(c *rules.Condition, val string, null bool) (bool, error) {
	switch c.Operator {
	case schema.OpIsNull:
		return null, nil
	case schema.OpIsNotNull:
		return !null, nil
	}
	if null {
		// A null value matches only the null predicates and their negations.
		switch c.Operator {
		case schema.OpNotEquals, schema.OpNotContains, schema.OpNotInList:
			return true, nil
		}
		return false, nil
	}

	lower := strings.ToLower(val)
	switch c.Operator {
	case schema.OpEquals:
		return strings.EqualFold(val, c.Value.Text), nil
	case schema.OpNotEquals:
		return !strings.EqualFold(val, c.Value.Text), nil
	case schema.OpContains:
		return strings.Contains(lower, strings.ToLower(c.Value.Text)), nil
	case schema.OpNotContains:
		return !strings.Contains(lower, strings.ToLower(c.Value.Text)), nil
	case schema.OpStartsWith:
		return strings.HasPrefix(lower, strings.ToLower(c.Value.Text)), nil
	case schema.OpEndsWith:
		return strings.HasSuffix(lower, strings.ToLower(c.Value.Text)), nil
	case schema.OpInList:
		for _, item := range c.Value.List {
			if strings.EqualFold(val, item) {
				return true, nil
			}
		}
		return false, nil
	case schema.OpNotInList:
		for _, item := range c.Value.List {
			if strings.EqualFold(val, item) {
				return false, nil
			}
		}
		return true, nil
	}
	return false, &rules.IncompatibleOperatorError{Field: c.Field, Type: schema.TypeString, Operator: c.Operator}
}

func matchNumber(c *rules.Condition, val float64, null bool, now time.Time) (bool, error) {
	switch c.Operator {
	case schema.OpIsNull:
		return null, nil
	case schema.OpIsNotNull:
		return !null, nil
	}
	if null {
		if c.Operator == schema.OpNotEquals {
			return true, nil
		}
		return false, nil
	}

	switch c.Operator {
	case schema.OpEquals:
		return val == c.Value.Number, nil
	case schema.OpNotEquals:
		return val != c.Value.Number, nil
	case schema.OpGreater:
		return val > c.Value.Number, nil
	case schema.OpGreaterOrEqual:
		return val >= c.Value.Number, nil
	case schema.OpLess:
		return val < c.Value.Number, nil
	case schema.OpLessOrEqual:
		return val <= c.Value.Number, nil
	case schema.OpBetween:
		// Both bounds are inclusive.
		return val >= c.Value.NumberPair[0] && val <= c.Value.NumberPair[1], nil
	case schema.OpYearsAgo:
		// "released within the last N years" measured against the
		// evaluation-time year.
		return float64(now.Year())-val <= float64(c.Value.Count), nil
	}
	return false, &rules.IncompatibleOperatorError{Field: c.Field, Type: schema.TypeNumber, Operator: c.Operator}
}

func matchDate(c *rules.Condition, ts time.Time, null bool, now time.Time) (bool, error) {
	switch c.Operator {
	case schema.OpIsNull, schema.OpNever:
		return null, nil
	case schema.OpIsNotNull:
		return !null, nil
	}
	if null {
		return false, nil
	}

	switch c.Operator {
	case schema.OpWithinDays:
		cutoff := now.AddDate(0, 0, -c.Value.Count)
		return !ts.Before(cutoff), nil
	case schema.OpBefore:
		return ts.Before(c.Value.Date), nil
	case schema.OpAfter:
		return ts.After(c.Value.Date), nil
	case schema.OpBetween:
		return !ts.Before(c.Value.DatePair[0]) && !ts.After(c.Value.DatePair[1].AddDate(0, 0, 1).Add(-time.Nanosecond)), nil
	}
	return false, &rules.IncompatibleOperatorError{Field: c.Field, Type: schema.TypeDate, Operator: c.Operator}
}

// validateSort accepts a registry field key, SortRandom, or empty. Similarity
// fields have no per-song value to order by, so they are rejected here before
// any catalog work happens.
func validateSort(sortBy string) error {
	if sortBy == "" || sortBy == SortRandom {
		return nil
	}
	field, err := schema.Lookup(sortBy)
	if err != nil {
		return err
	}
	if field.Type == schema.TypeSimilarity {
		return fmt.Errorf("field %q cannot be used for sorting", sortBy)
	}
	return nil
}

// sortSongs orders the matched set in place. Random sort reshuffles on every
// invocation. An empty sortBy keeps catalog order, except that a lone top_n
// rule propagates the similarity ranking.
func sortSongs(songs []models.Song, req Request, env *environment) error {
	switch req.SortBy {
	case SortRandom:
		rand.Shuffle(len(songs), func(i, j int) {
			songs[i], songs[j] = songs[j], songs[i]
		})
		return nil
	case "":
		if env.similarityRank != nil {
			sort.SliceStable(songs, func(i, j int) bool {
				return env.similarityRank[songs[i].ID] < env.similarityRank[songs[j].ID]
			})
		}
		return nil
	}

	field, err := schema.Lookup(req.SortBy)
	if err != nil {
		return err
	}
	desc := req.SortOrder == models.SortDesc

	less := func(i, j int) bool { return false }
	switch field.Type {
	case schema.TypeString:
		less = func(i, j int) bool {
			a, _ := stringField(&songs[i], req.SortBy)
			b, _ := stringField(&songs[j], req.SortBy)
			return strings.ToLower(a) < strings.ToLower(b)
		}
	case schema.TypeNumber:
		less = func(i, j int) bool {
			a, _ := numberField(&songs[i], req.SortBy)
			b, _ := numberField(&songs[j], req.SortBy)
			return a < b
		}
	case schema.TypeDate:
		less = func(i, j int) bool {
			a, aNull := dateField(&songs[i], req.SortBy)
			b, bNull := dateField(&songs[j], req.SortBy)
			if aNull != bNull {
				// Null dates sort to the end regardless of direction.
				return bNull != desc
			}
			return a.Before(b)
		}
	case schema.TypeBoolean:
		less = func(i, j int) bool {
			return !boolField(&songs[i], req.SortBy) && boolField(&songs[j], req.SortBy)
		}
	default:
		return fmt.Errorf("field %q cannot be used for sorting", req.SortBy)
	}

	sort.SliceStable(songs, func(i, j int) bool {
		if desc {
			return less(j, i)
		}
		return less(i, j)
	})
	return nil
}
