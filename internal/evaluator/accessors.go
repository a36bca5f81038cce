/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package evaluator

import (
	"time"

	"github.com/nathanielasun/songbase/internal/models"
)

// stringField reads a string attribute. The second return reports null: an
// empty string counts as "no value" for metadata text fields.
func stringField(s *models.Song, key string) (string, bool) {
	var val string
	switch key {
	case "title":
		val = s.Title
	case "artist":
		val = s.Artist
	case "album":
		val = s.Album
	case "genre":
		val = s.Genre
	case "language":
		val = s.Language
	}
	return val, val == ""
}

// numberField reads a numeric attribute. Null is reported only for fields
// where zero means "not set": an unrated song, an unanalyzed BPM, a missing
// release year. Counters are never null.
func numberField(s *models.Song, key string) (float64, bool) {
	switch key {
	case "year":
		return float64(s.Year), s.Year == 0
	case "duration_sec":
		return float64(s.DurationSec), false
	case "bpm":
		return s.BPM, s.BPM == 0
	case "play_count":
		return float64(s.PlayCount), false
	case "skip_count":
		return float64(s.SkipCount), false
	case "completion_rate":
		return float64(s.CompletionRate), false
	case "rating":
		return float64(s.Rating), s.Rating == 0
	case "energy":
		return float64(s.Energy), false
	case "danceability":
		return float64(s.Danceability), false
	case "acousticness":
		return float64(s.Acousticness), false
	case "instrumentalness":
		return float64(s.Instrumentalness), false
	}
	return 0, true
}

// dateField reads a date attribute; ok=false reports null.
func dateField(s *models.Song, key string) (time.Time, bool) {
	switch key {
	case "date_added":
		return s.CreatedAt, s.CreatedAt.IsZero()
	case "last_played_at":
		if s.LastPlayedAt == nil {
			return time.Time{}, true
		}
		return *s.LastPlayedAt, false
	}
	return time.Time{}, true
}

func boolField(s *models.Song, key string) bool {
	switch key {
	case "explicit":
		return s.Explicit
	case "loved":
		return s.Loved
	}
	return false
}
