/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/nathanielasun/songbase/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Catalog
		&models.Song{},
		&models.PlayHistory{},

		// Static playlists
		&models.Playlist{},
		&models.PlaylistEntry{},

		// Smart playlists
		&models.SmartPlaylist{},
		&models.SmartPlaylistEntry{},
	); err != nil {
		return err
	}

	if err := normalizeCompletionRates(database); err != nil {
		return err
	}

	return nil
}

// normalizeCompletionRates clamps completion rates written by older builds
// that stored fractions (0-1) instead of percentages (0-100).
func normalizeCompletionRates(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE songs SET completion_rate = 100 WHERE completion_rate > 100",
	).Error; err != nil {
		return fmt.Errorf("normalize completion rates: %w", err)
	}
	return nil
}
