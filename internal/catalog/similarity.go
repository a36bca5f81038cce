/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"math"

	"github.com/nathanielasun/songbase/internal/models"
)

// Cosine computes cosine similarity between two vectors. Mismatched lengths
// compare over the shorter prefix; a zero vector yields 0.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// effectiveVector returns the song's analysis embedding, or a coarse vector
// built from its audio features when no embedding is stored.
func effectiveVector(s *models.Song) []float64 {
	if len(s.FeatureVector) > 0 {
		return s.FeatureVector
	}
	return []float64{
		float64(s.Energy) / 100,
		float64(s.Danceability) / 100,
		float64(s.Acousticness) / 100,
		float64(s.Instrumentalness) / 100,
		s.BPM / 250,
	}
}
