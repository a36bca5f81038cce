/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog provides database-backed song catalog access for rule
// evaluation: the evaluable song set, playlist membership resolution, and
// similarity lookups over stored feature vectors.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/models"
)

// Store implements evaluator.Catalog over gorm.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a catalog store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "catalog").Logger()}
}

// Songs loads the full evaluable catalog.
func (s *Store) Songs(ctx context.Context) ([]models.Song, error) {
	var songs []models.Song
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&songs).Error; err != nil {
		return nil, fmt.Errorf("load songs: %w", err)
	}
	return songs, nil
}

// PlaylistMembers resolves a playlist reference (id, falling back to name) to
// its current member song ids.
func (s *Store) PlaylistMembers(ctx context.Context, ref string) (map[string]struct{}, error) {
	var playlist models.Playlist
	err := s.db.WithContext(ctx).
		Where("id = ? OR name = ?", ref, ref).
		First(&playlist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, evaluator.ErrPlaylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve playlist %q: %w", ref, err)
	}

	var entries []models.PlaylistEntry
	if err := s.db.WithContext(ctx).
		Where("playlist_id = ?", playlist.ID).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load playlist members: %w", err)
	}

	members := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		members[e.SongID] = struct{}{}
	}
	return members, nil
}

// PlaylistsBySong maps each song id to the names of the static playlists
// containing it.
func (s *Store) PlaylistsBySong(ctx context.Context) (map[string][]string, error) {
	var rows []struct {
		SongID string
		Name   string
	}
	err := s.db.WithContext(ctx).
		Table("playlist_entries").
		Select("playlist_entries.song_id AS song_id, playlists.name AS name").
		Joins("JOIN playlists ON playlists.id = playlist_entries.playlist_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load playlist membership: %w", err)
	}

	out := make(map[string][]string)
	for _, row := range rows {
		out[row.SongID] = append(out[row.SongID], row.Name)
	}
	return out, nil
}

// SimilarSongs returns up to count song ids nearest the seed by cosine
// similarity over stored feature vectors, best match first, seed excluded.
// Songs without an analysis vector fall back to a vector derived from their
// coarse audio features so a partially analyzed catalog still resolves.
func (s *Store) SimilarSongs(ctx context.Context, seedID string, count int) ([]string, error) {
	var seed models.Song
	err := s.db.WithContext(ctx).Where("id = ?", seedID).First(&seed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("seed song %q not found", seedID)
	}
	if err != nil {
		return nil, fmt.Errorf("load seed song: %w", err)
	}

	songs, err := s.Songs(ctx)
	if err != nil {
		return nil, err
	}

	seedVec := effectiveVector(&seed)
	type scored struct {
		id    string
		score float64
	}
	candidates := make([]scored, 0, len(songs))
	for i := range songs {
		if songs[i].ID == seedID {
			continue
		}
		score := Cosine(seedVec, effectiveVector(&songs[i]))
		candidates = append(candidates, scored{id: songs[i].ID, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	s.logger.Debug().Str("seed", seedID).Int("candidates", len(ids)).Msg("similarity lookup")
	return ids, nil
}
