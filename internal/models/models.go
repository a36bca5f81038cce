package models

import (
	"time"
)

// Song is a catalog entry with metadata, playback counters, and analysis data.
type Song struct {
	ID     string `gorm:"type:uuid;primaryKey"`
	Title  string `gorm:"index"`
	Artist string `gorm:"index"`
	Album  string `gorm:"index"`
	Genre  string
	Year   int
	// DurationSec is the track length in whole seconds. Presentation layers
	// may render minute:second but storage and comparisons use seconds.
	DurationSec int
	BPM         float64
	Explicit    bool
	Language    string

	PlayCount int
	SkipCount int
	// CompletionRate is the average listened-through percentage, 0-100.
	CompletionRate int
	LastPlayedAt   *time.Time

	Rating int // 0 = unrated, 1-5 stars
	Loved  bool

	// Audio features on a 0-100 integer scale.
	Energy           int
	Danceability     int
	Acousticness     int
	Instrumentalness int

	// FeatureVector holds the analysis embedding used for similarity lookups.
	FeatureVector []float64 `gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Playlist is a static, user-ordered song list.
type Playlist struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"uniqueIndex"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlaylistEntry links a song into a playlist at a position.
type PlaylistEntry struct {
	PlaylistID string `gorm:"type:uuid;primaryKey"`
	SongID     string `gorm:"type:uuid;primaryKey"`
	Position   int    `gorm:"index"`
	CreatedAt  time.Time
}

// SortOrder direction for materialized smart playlists.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SmartPlaylist stores a rule document plus sort/limit metadata. The document
// is the portable serialized form; edits replace it atomically rather than
// mutating in place.
type SmartPlaylist struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	Name        string         `gorm:"uniqueIndex"`
	Description string         `gorm:"type:text"`
	Document    map[string]any `gorm:"type:jsonb;serializer:json"`
	SortBy      string         `gorm:"type:varchar(64)"` // field key or "random"
	SortOrder   SortOrder      `gorm:"type:varchar(8)"`
	Limit       *int
	// LastEvaluatedAt records the most recent materialization.
	LastEvaluatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SmartPlaylistEntry is a materialized row produced by evaluating the rule.
type SmartPlaylistEntry struct {
	SmartPlaylistID string `gorm:"type:uuid;primaryKey"`
	SongID          string `gorm:"type:uuid;primaryKey"`
	Position        int    `gorm:"index"`
}

// PlayHistory records a playback event for playback-derived fields.
type PlayHistory struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	SongID       string `gorm:"type:uuid;index"`
	StartedAt    time.Time
	EndedAt      time.Time
	CompletedPct int // 0-100
	Skipped      bool
}
