/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nathanielasun/songbase/internal/db"
	"github.com/nathanielasun/songbase/internal/models"
)

// importManifest is the catalog exchange format: a flat song list plus
// optional static playlists referencing songs by position in that list or by
// explicit id.
type importManifest struct {
	Version   int              `json:"version"`
	Songs     []importSong     `json:"songs"`
	Playlists []importPlaylist `json:"playlists,omitempty"`
}

type importSong struct {
	ID             string     `json:"id,omitempty"`
	Title          string     `json:"title"`
	Artist         string     `json:"artist"`
	Album          string     `json:"album,omitempty"`
	Genre          string     `json:"genre,omitempty"`
	Year           int        `json:"year,omitempty"`
	DurationSec    int        `json:"duration_sec,omitempty"`
	BPM            float64    `json:"bpm,omitempty"`
	Explicit       bool       `json:"explicit,omitempty"`
	Language       string     `json:"language,omitempty"`
	Rating         int        `json:"rating,omitempty"`
	Loved          bool       `json:"loved,omitempty"`
	PlayCount      int        `json:"play_count,omitempty"`
	SkipCount      int        `json:"skip_count,omitempty"`
	CompletionRate int        `json:"completion_rate,omitempty"`
	LastPlayedAt   *time.Time `json:"last_played_at,omitempty"`
	FeatureVector  []float64  `json:"feature_vector,omitempty"`
}

type importPlaylist struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	SongIDs     []string `json:"song_ids"`
}

var (
	importManifestPath string
	importDryRun       bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import songs and playlists from a JSON manifest",
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&importManifestPath, "manifest", "", "path to the JSON manifest (required)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and validate without writing")
	_ = importCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(importManifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var manifest importManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Version != 1 {
		return fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	for i, s := range manifest.Songs {
		if s.Title == "" || s.Artist == "" {
			return fmt.Errorf("song %d: title and artist are required", i)
		}
	}

	if importDryRun {
		logger.Info().
			Int("songs", len(manifest.Songs)).
			Int("playlists", len(manifest.Playlists)).
			Msg("manifest valid (dry run, nothing written)")
		return nil
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return err
	}

	return database.Transaction(func(tx *gorm.DB) error {
		for _, s := range manifest.Songs {
			song := models.Song{
				ID:             s.ID,
				Title:          s.Title,
				Artist:         s.Artist,
				Album:          s.Album,
				Genre:          s.Genre,
				Year:           s.Year,
				DurationSec:    s.DurationSec,
				BPM:            s.BPM,
				Explicit:       s.Explicit,
				Language:       s.Language,
				Rating:         s.Rating,
				Loved:          s.Loved,
				PlayCount:      s.PlayCount,
				SkipCount:      s.SkipCount,
				CompletionRate: s.CompletionRate,
				LastPlayedAt:   s.LastPlayedAt,
				FeatureVector:  s.FeatureVector,
			}
			if song.ID == "" {
				song.ID = uuid.NewString()
			}
			if err := tx.Save(&song).Error; err != nil {
				return fmt.Errorf("import song %q: %w", s.Title, err)
			}
		}

		for _, p := range manifest.Playlists {
			playlist := models.Playlist{
				ID:          uuid.NewString(),
				Name:        p.Name,
				Description: p.Description,
			}
			if err := tx.Create(&playlist).Error; err != nil {
				return fmt.Errorf("import playlist %q: %w", p.Name, err)
			}
			for pos, songID := range p.SongIDs {
				entry := models.PlaylistEntry{
					PlaylistID: playlist.ID,
					SongID:     songID,
					Position:   pos,
				}
				if err := tx.Create(&entry).Error; err != nil {
					return fmt.Errorf("playlist %q entry %d: %w", p.Name, pos, err)
				}
			}
		}

		logger.Info().
			Int("songs", len(manifest.Songs)).
			Int("playlists", len(manifest.Playlists)).
			Msg("import complete")
		return nil
	})
}
