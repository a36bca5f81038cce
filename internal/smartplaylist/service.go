/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package smartplaylist manages persisted smart playlists: rule documents
// with sort/limit metadata, and their materialization into concrete entry
// rows by evaluating the rules against the live catalog.
package smartplaylist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nathanielasun/songbase/internal/cache"
	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/events"
	"github.com/nathanielasun/songbase/internal/models"
	"github.com/nathanielasun/songbase/internal/rules"
	"github.com/nathanielasun/songbase/internal/schema"
	"github.com/nathanielasun/songbase/internal/telemetry"
)

var (
	// ErrNotFound is returned when a smart playlist does not exist.
	ErrNotFound = errors.New("smart playlist not found")
	// ErrInvalidSpec wraps spec validation failures so transports can
	// distinguish client errors from storage failures.
	ErrInvalidSpec = errors.New("invalid smart playlist spec")
)

// Publisher is the event emission capability the service needs. Both the
// in-process bus and the NATS bridge satisfy it.
type Publisher interface {
	Publish(eventType events.EventType, payload events.Payload)
}

// Service owns smart playlist persistence and materialization.
type Service struct {
	db     *gorm.DB
	eval   *evaluator.Evaluator
	cache  *cache.Cache
	bus    Publisher
	logger zerolog.Logger
}

// New creates a smart playlist service. cache may be nil.
func New(db *gorm.DB, eval *evaluator.Evaluator, c *cache.Cache, bus Publisher, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		eval:   eval,
		cache:  c,
		bus:    bus,
		logger: logger.With().Str("component", "smartplaylist").Logger(),
	}
}

// Spec carries the user-editable attributes of a smart playlist. The document
// is the portable rule serialization; it replaces the stored one atomically.
type Spec struct {
	Name        string
	Description string
	Document    map[string]any
	SortBy      string
	SortOrder   models.SortOrder
	Limit       *int
}

// validate checks the spec and returns the parsed rule tree.
func (s *Service) validate(spec Spec) (*rules.Group, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	doc, err := rules.DocumentFromMap(spec.Document)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	tree, err := rules.FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if spec.SortBy != "" && spec.SortBy != evaluator.SortRandom {
		if _, err := schema.Lookup(spec.SortBy); err != nil {
			return nil, fmt.Errorf("%w: invalid sort field: %v", ErrInvalidSpec, err)
		}
	}
	switch spec.SortOrder {
	case "", models.SortAsc, models.SortDesc:
	default:
		return nil, fmt.Errorf("%w: invalid sort order %q", ErrInvalidSpec, spec.SortOrder)
	}
	if spec.Limit != nil && *spec.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidSpec)
	}
	return tree, nil
}

// Create validates and persists a new smart playlist.
func (s *Service) Create(ctx context.Context, spec Spec) (*models.SmartPlaylist, error) {
	if _, err := s.validate(spec); err != nil {
		return nil, err
	}

	sp := &models.SmartPlaylist{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Description: spec.Description,
		Document:    spec.Document,
		SortBy:      spec.SortBy,
		SortOrder:   spec.SortOrder,
		Limit:       spec.Limit,
	}
	if sp.SortOrder == "" {
		sp.SortOrder = models.SortAsc
	}
	if err := s.db.WithContext(ctx).Create(sp).Error; err != nil {
		return nil, fmt.Errorf("create smart playlist: %w", err)
	}

	s.invalidate(ctx, sp.ID)
	s.publish(events.EventSmartPlaylistCreated, sp.ID)
	s.logger.Info().Str("smart_playlist_id", sp.ID).Str("name", sp.Name).Msg("smart playlist created")
	return sp, nil
}

// Update validates and atomically replaces a smart playlist's document and
// metadata. The stored document is never mutated in place.
func (s *Service) Update(ctx context.Context, id string, spec Spec) (*models.SmartPlaylist, error) {
	if _, err := s.validate(spec); err != nil {
		return nil, err
	}

	sp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	sp.Name = spec.Name
	sp.Description = spec.Description
	sp.Document = spec.Document
	sp.SortBy = spec.SortBy
	sp.SortOrder = spec.SortOrder
	if sp.SortOrder == "" {
		sp.SortOrder = models.SortAsc
	}
	sp.Limit = spec.Limit

	if err := s.db.WithContext(ctx).Save(sp).Error; err != nil {
		return nil, fmt.Errorf("update smart playlist: %w", err)
	}

	s.invalidate(ctx, sp.ID)
	s.publish(events.EventSmartPlaylistUpdated, sp.ID)
	return sp, nil
}

// Get returns a smart playlist by id.
func (s *Service) Get(ctx context.Context, id string) (*models.SmartPlaylist, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetSmartPlaylist(ctx, id); ok {
			return fromCached(cached), nil
		}
	}

	sp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetSmartPlaylist(ctx, toCached(sp))
	}
	return sp, nil
}

// List returns all smart playlists ordered by name.
func (s *Service) List(ctx context.Context) ([]models.SmartPlaylist, error) {
	var list []models.SmartPlaylist
	if err := s.db.WithContext(ctx).Order("name").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list smart playlists: %w", err)
	}
	return list, nil
}

// Delete removes a smart playlist and its materialized entries.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.SmartPlaylist{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&models.SmartPlaylistEntry{}, "smart_playlist_id = ?", id).Error
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.publish(events.EventSmartPlaylistDeleted, id)
	s.logger.Info().Str("smart_playlist_id", id).Msg("smart playlist deleted")
	return nil
}

// MaterializeResult reports one materialization pass.
type MaterializeResult struct {
	SongIDs      []string
	TotalMatches int
	Warnings     []string
	EvaluatedAt  time.Time
}

// Materialize evaluates a smart playlist's rule against the current catalog
// and rewrites its entry rows in one transaction.
func (s *Service) Materialize(ctx context.Context, id string) (MaterializeResult, error) {
	sp, err := s.load(ctx, id)
	if err != nil {
		return MaterializeResult{}, err
	}

	doc, err := rules.DocumentFromMap(sp.Document)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("stored document: %w", err)
	}
	tree, err := rules.FromDocument(doc)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("stored document: %w", err)
	}

	start := time.Now()
	res, err := s.eval.Evaluate(ctx, evaluator.Request{
		Root:      tree,
		SortBy:    sp.SortBy,
		SortOrder: sp.SortOrder,
		Limit:     sp.Limit,
	})
	telemetry.EvaluationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.EvaluationsTotal.WithLabelValues("error").Inc()
		telemetry.MaterializationsTotal.WithLabelValues("error").Inc()
		return MaterializeResult{}, fmt.Errorf("evaluate rule: %w", err)
	}
	telemetry.EvaluationsTotal.WithLabelValues("success").Inc()
	if n := len(res.Warnings); n > 0 {
		telemetry.EvaluationWarningsTotal.Add(float64(n))
	}

	evaluatedAt := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.SmartPlaylistEntry{}, "smart_playlist_id = ?", id).Error; err != nil {
			return err
		}
		for i, songID := range res.SongIDs {
			entry := models.SmartPlaylistEntry{
				SmartPlaylistID: id,
				SongID:          songID,
				Position:        i,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.SmartPlaylist{}).
			Where("id = ?", id).
			Update("last_evaluated_at", evaluatedAt).Error
	})
	if err != nil {
		telemetry.MaterializationsTotal.WithLabelValues("error").Inc()
		return MaterializeResult{}, fmt.Errorf("rewrite entries: %w", err)
	}
	telemetry.MaterializationsTotal.WithLabelValues("success").Inc()

	if s.cache != nil {
		_ = s.cache.SetMaterialization(ctx, &cache.CachedMaterialization{
			SmartPlaylistID: id,
			SongIDs:         res.SongIDs,
			TotalMatches:    res.TotalMatches,
			Warnings:        res.Warnings,
			EvaluatedAt:     evaluatedAt,
		})
		_ = s.cache.InvalidateSmartPlaylist(ctx, id)
	}
	s.publish(events.EventSmartPlaylistMaterialized, id)

	s.logger.Info().
		Str("smart_playlist_id", id).
		Int("total_matches", res.TotalMatches).
		Int("entries", len(res.SongIDs)).
		Msg("smart playlist materialized")

	return MaterializeResult{
		SongIDs:      res.SongIDs,
		TotalMatches: res.TotalMatches,
		Warnings:     res.Warnings,
		EvaluatedAt:  evaluatedAt,
	}, nil
}

// Entries returns the materialized song ids in position order.
func (s *Service) Entries(ctx context.Context, id string) ([]string, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	var entries []models.SmartPlaylistEntry
	if err := s.db.WithContext(ctx).
		Where("smart_playlist_id = ?", id).
		Order("position").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.SongID
	}
	return ids, nil
}

// RefreshAll materializes every smart playlist, continuing past individual
// failures.
func (s *Service) RefreshAll(ctx context.Context) error {
	list, err := s.List(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, sp := range list {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.Materialize(ctx, sp.ID); err != nil {
			failed++
			s.logger.Error().Err(err).
				Str("smart_playlist_id", sp.ID).
				Str("name", sp.Name).
				Msg("refresh failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("refresh: %d of %d smart playlists failed", failed, len(list))
	}
	return nil
}

// StartRefreshLoop periodically re-materializes all smart playlists until ctx
// is cancelled.
func (s *Service) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.logger.Info().Dur("interval", interval).Msg("refresh loop started")
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("refresh loop stopped")
				return
			case <-ticker.C:
				if err := s.RefreshAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error().Err(err).Msg("scheduled refresh incomplete")
				}
			}
		}
	}()
}

func (s *Service) load(ctx context.Context, id string) (*models.SmartPlaylist, error) {
	var sp models.SmartPlaylist
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load smart playlist: %w", err)
	}
	return &sp, nil
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache != nil {
		_ = s.cache.InvalidateSmartPlaylist(ctx, id)
	}
	s.publish(events.EventCacheSmartPlaylistInvalidated, id)
}

func (s *Service) publish(eventType events.EventType, id string) {
	if s.bus != nil {
		s.bus.Publish(eventType, events.Payload{"smart_playlist_id": id})
	}
}

func toCached(sp *models.SmartPlaylist) *cache.CachedSmartPlaylist {
	return &cache.CachedSmartPlaylist{
		ID:              sp.ID,
		Name:            sp.Name,
		Description:     sp.Description,
		Document:        sp.Document,
		SortBy:          sp.SortBy,
		SortOrder:       string(sp.SortOrder),
		Limit:           sp.Limit,
		LastEvaluatedAt: sp.LastEvaluatedAt,
	}
}

func fromCached(c *cache.CachedSmartPlaylist) *models.SmartPlaylist {
	return &models.SmartPlaylist{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		Document:        c.Document,
		SortBy:          c.SortBy,
		SortOrder:       models.SortOrder(c.SortOrder),
		Limit:           c.Limit,
		LastEvaluatedAt: c.LastEvaluatedAt,
	}
}
