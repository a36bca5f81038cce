/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: the field registry for form
// rendering, smart playlist CRUD and materialization, rule preview, and the
// shipped presets.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/models"
	"github.com/nathanielasun/songbase/internal/preview"
	"github.com/nathanielasun/songbase/internal/rules"
	"github.com/nathanielasun/songbase/internal/schema"
	"github.com/nathanielasun/songbase/internal/smartplaylist"
)

// API exposes HTTP handlers.
type API struct {
	smartPlaylists  *smartplaylist.Service
	eval            *evaluator.Evaluator
	presets         []rules.Preset
	previewDebounce time.Duration
	logger          zerolog.Logger
}

// New creates the API router wrapper. previewDebounce is advertised to
// clients so editor frontends throttle preview requests consistently.
func New(sp *smartplaylist.Service, eval *evaluator.Evaluator, presets []rules.Preset, previewDebounce time.Duration, logger zerolog.Logger) *API {
	if previewDebounce <= 0 {
		previewDebounce = preview.DefaultDebounce
	}
	return &API{
		smartPlaylists:  sp,
		eval:            eval,
		presets:         presets,
		previewDebounce: previewDebounce,
		logger:          logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/config", a.handleClientConfig)
		r.Get("/schema/fields", a.handleSchemaFields)
		r.Get("/presets", a.handlePresets)
		r.Post("/preview", a.handlePreview)

		r.Route("/smart-playlists", func(r chi.Router) {
			r.Get("/", a.handleSmartPlaylistsList)
			r.Post("/", a.handleSmartPlaylistsCreate)
			r.Route("/{playlistID}", func(r chi.Router) {
				r.Get("/", a.handleSmartPlaylistsGet)
				r.Put("/", a.handleSmartPlaylistsUpdate)
				r.Delete("/", a.handleSmartPlaylistsDelete)
				r.Get("/entries", a.handleSmartPlaylistEntries)
				r.Post("/materialize", a.handleSmartPlaylistMaterialize)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClientConfig returns settings editor frontends need before rendering.
func (a *API) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"preview_debounce_ms": a.previewDebounce.Milliseconds(),
		"max_group_depth":     rules.MaxDepth,
	})
}

// fieldInfo is one registry entry with its operator table, enough for a client
// to render the condition form without hardcoding compatibility rules.
type fieldInfo struct {
	Key             string         `json:"key"`
	Label           string         `json:"label"`
	Type            string         `json:"type"`
	Category        string         `json:"category"`
	Operators       []operatorInfo `json:"operators"`
	DefaultOperator string         `json:"default_operator"`
	Percent         bool           `json:"percent,omitempty"`
}

type operatorInfo struct {
	Name  string `json:"name"`
	Shape string `json:"value_shape"`
}

func (a *API) handleSchemaFields(w http.ResponseWriter, r *http.Request) {
	fields := schema.Fields()
	out := make([]fieldInfo, 0, len(fields))
	for _, f := range fields {
		ops := schema.OperatorsFor(f.Type)
		info := fieldInfo{
			Key:             f.Key,
			Label:           f.Label,
			Type:            string(f.Type),
			Category:        string(f.Category),
			Operators:       make([]operatorInfo, 0, len(ops)),
			DefaultOperator: schema.DefaultOperator(f.Type),
			Percent:         schema.IsPercentField(f.Key),
		}
		for _, op := range ops {
			shape, _ := schema.ShapeOf(op)
			info.Operators = append(info.Operators, operatorInfo{Name: op, Shape: string(shape)})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": out})
}

func (a *API) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": a.presets})
}

// previewRequest evaluates an unsaved document without persisting anything.
type previewRequest struct {
	Document  json.RawMessage  `json:"document"`
	SortBy    string           `json:"sort_by"`
	SortOrder models.SortOrder `json:"sort_order"`
	Limit     *int             `json:"limit"`
}

type previewResponse struct {
	Songs        []songSummary `json:"songs"`
	SongIDs      []string      `json:"song_ids"`
	TotalMatches int           `json:"total_matches"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// songSummary is the trimmed song projection returned by preview.
type songSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Year        int    `json:"year,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Document) == 0 {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}

	tree, err := rules.ParseDocument(req.Document)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.eval.Evaluate(r.Context(), evaluator.Request{
		Root:      tree,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
		Limit:     req.Limit,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	resp := previewResponse{
		Songs:        make([]songSummary, 0, len(res.Songs)),
		SongIDs:      res.SongIDs,
		TotalMatches: res.TotalMatches,
		Warnings:     res.Warnings,
	}
	for _, s := range res.Songs {
		resp.Songs = append(resp.Songs, songSummary{
			ID:          s.ID,
			Title:       s.Title,
			Artist:      s.Artist,
			Album:       s.Album,
			Genre:       s.Genre,
			Year:        s.Year,
			DurationSec: s.DurationSec,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// smartPlaylistRequest is the create/update payload.
type smartPlaylistRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Document    map[string]any   `json:"document"`
	SortBy      string           `json:"sort_by"`
	SortOrder   models.SortOrder `json:"sort_order"`
	Limit       *int             `json:"limit"`
}

func (r smartPlaylistRequest) spec() smartplaylist.Spec {
	return smartplaylist.Spec{
		Name:        r.Name,
		Description: r.Description,
		Document:    r.Document,
		SortBy:      r.SortBy,
		SortOrder:   r.SortOrder,
		Limit:       r.Limit,
	}
}

func (a *API) handleSmartPlaylistsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.smartPlaylists.List(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"smart_playlists": list})
}

func (a *API) handleSmartPlaylistsCreate(w http.ResponseWriter, r *http.Request) {
	var req smartPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sp, err := a.smartPlaylists.Create(r.Context(), req.spec())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (a *API) handleSmartPlaylistsGet(w http.ResponseWriter, r *http.Request) {
	sp, err := a.smartPlaylists.Get(r.Context(), chi.URLParam(r, "playlistID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (a *API) handleSmartPlaylistsUpdate(w http.ResponseWriter, r *http.Request) {
	var req smartPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sp, err := a.smartPlaylists.Update(r.Context(), chi.URLParam(r, "playlistID"), req.spec())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

func (a *API) handleSmartPlaylistsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.smartPlaylists.Delete(r.Context(), chi.URLParam(r, "playlistID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSmartPlaylistEntries(w http.ResponseWriter, r *http.Request) {
	ids, err := a.smartPlaylists.Entries(r.Context(), chi.URLParam(r, "playlistID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"song_ids": ids})
}

func (a *API) handleSmartPlaylistMaterialize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "playlistID")
	res, err := a.smartPlaylists.Materialize(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"smart_playlist_id": id,
		"song_ids":          res.SongIDs,
		"total_matches":     res.TotalMatches,
		"warnings":          res.Warnings,
		"evaluated_at":      res.EvaluatedAt,
	})
}

// writeServiceError maps domain errors onto HTTP statuses. Rule validation
// failures are client errors even when they surface from deeper layers.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, smartplaylist.ErrNotFound):
		writeError(w, http.StatusNotFound, "smart playlist not found")
	case errors.Is(err, smartplaylist.ErrInvalidSpec), isRuleError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isRuleError(err error) bool {
	var (
		unknownField *schema.UnknownFieldError
		incompatible *rules.IncompatibleOperatorError
		invalidValue *rules.InvalidValueError
		badVersion   *rules.UnsupportedVersionError
	)
	return errors.As(err, &unknownField) ||
		errors.As(err, &incompatible) ||
		errors.As(err, &invalidValue) ||
		errors.As(err, &badVersion) ||
		errors.Is(err, rules.ErrMaxDepth)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
