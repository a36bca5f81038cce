/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nathanielasun/songbase/internal/schema"
)

// ValueKind tags the shape a condition value actually carries. The evaluator
// switches exhaustively on the kind instead of runtime-checking loose shapes.
type ValueKind string

const (
	KindNone        ValueKind = "none"
	KindText        ValueKind = "text"
	KindNumber      ValueKind = "number"
	KindDate        ValueKind = "date"
	KindNumberPair  ValueKind = "number_pair"
	KindDatePair    ValueKind = "date_pair"
	KindList        ValueKind = "list"
	KindCount       ValueKind = "count"
	KindPlaylistRef ValueKind = "playlist_ref"
	KindSimilarity  ValueKind = "similarity"
)

// SimilaritySpec parameterizes a top_n lookup.
type SimilaritySpec struct {
	Seed  string `json:"seed"`
	Count int    `json:"count"`
}

// Value is the per-operator tagged value of a condition. Exactly the fields
// implied by Kind are meaningful.
type Value struct {
	Kind       ValueKind
	Text       string
	Number     float64
	Date       time.Time
	NumberPair [2]float64
	DatePair   [2]time.Time
	List       []string
	// Raw preserves the user's original text when list parsing fell back to
	// treating the input as a single opaque string. IsRaw marks the fallback
	// so an empty input survives serialization too.
	Raw        string
	IsRaw      bool
	Count      int
	Playlist   string
	Similarity SimilaritySpec
}

// dateLayout is the wire format for date scalars and pairs.
const dateLayout = "2006-01-02"

// playlistRefPrefix marks same_as values on the wire.
const playlistRefPrefix = "playlist:"

// maxSimilarityCount bounds top_n candidate sets.
const maxSimilarityCount = 100

// DefaultValue produces the type-appropriate empty value for a field/operator
// pair, used when a condition is created or its operator is reset.
func DefaultValue(field schema.FieldDefinition, op string) Value {
	shape, _ := schema.ShapeOf(op)
	switch shape {
	case schema.ShapeNone:
		return Value{Kind: KindNone}
	case schema.ShapeScalar:
		switch field.Type {
		case schema.TypeNumber:
			return Value{Kind: KindNumber}
		case schema.TypeDate:
			return Value{Kind: KindDate}
		default:
			return Value{Kind: KindText}
		}
	case schema.ShapePair:
		if field.Type == schema.TypeDate {
			return Value{Kind: KindDatePair}
		}
		return Value{Kind: KindNumberPair}
	case schema.ShapeList:
		return Value{Kind: KindList, List: []string{}}
	case schema.ShapeCount:
		if op == schema.OpWithinDays {
			return Value{Kind: KindCount, Count: 7}
		}
		return Value{Kind: KindCount, Count: 1}
	case schema.ShapePlaylistRef:
		return Value{Kind: KindPlaylistRef}
	case schema.ShapeSimilarity:
		return Value{Kind: KindSimilarity, Similarity: SimilaritySpec{Count: 10}}
	default:
		return Value{Kind: KindNone}
	}
}

// NormalizeValue coerces a raw wire value (as decoded from JSON or YAML) into
// the tagged form required by the field/operator pair. Shape mismatches are
// rejected with InvalidValueError.
func NormalizeValue(field schema.FieldDefinition, op string, raw any) (Value, error) {
	shape, ok := schema.ShapeOf(op)
	if !ok {
		return Value{}, &IncompatibleOperatorError{Field: field.Key, Type: field.Type, Operator: op}
	}

	fail := func(reason string) (Value, error) {
		return Value{}, &InvalidValueError{Field: field.Key, Operator: op, Reason: reason}
	}

	switch shape {
	case schema.ShapeNone:
		if raw != nil {
			return fail("operator takes no value")
		}
		return Value{Kind: KindNone}, nil

	case schema.ShapeScalar:
		switch field.Type {
		case schema.TypeNumber:
			num, ok := asNumber(raw)
			if !ok {
				return fail("expected a number")
			}
			if err := checkNumericDomain(field.Key, num); err != nil {
				return fail(err.Error())
			}
			return Value{Kind: KindNumber, Number: num}, nil
		case schema.TypeDate:
			ts, ok := asDate(raw)
			if !ok {
				return fail("expected an ISO date (YYYY-MM-DD)")
			}
			return Value{Kind: KindDate, Date: ts}, nil
		default:
			s, ok := raw.(string)
			if !ok {
				return fail("expected a string")
			}
			return Value{Kind: KindText, Text: s}, nil
		}

	case schema.ShapePair:
		items, ok := asSlice(raw)
		if !ok || len(items) != 2 {
			return fail("expected a [min, max] pair")
		}
		if field.Type == schema.TypeDate {
			lo, okLo := asDate(items[0])
			hi, okHi := asDate(items[1])
			if !okLo || !okHi {
				return fail("expected a pair of ISO dates")
			}
			return Value{Kind: KindDatePair, DatePair: [2]time.Time{lo, hi}}, nil
		}
		lo, okLo := asNumber(items[0])
		hi, okHi := asNumber(items[1])
		if !okLo || !okHi {
			return fail("expected a pair of numbers")
		}
		if err := checkNumericDomain(field.Key, lo); err != nil {
			return fail(err.Error())
		}
		if err := checkNumericDomain(field.Key, hi); err != nil {
			return fail(err.Error())
		}
		return Value{Kind: KindNumberPair, NumberPair: [2]float64{lo, hi}}, nil

	case schema.ShapeList:
		switch v := raw.(type) {
		case []string:
			return Value{Kind: KindList, List: append([]string(nil), v...)}, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return fail("expected a list of strings")
				}
				out = append(out, s)
			}
			return Value{Kind: KindList, List: out}, nil
		case string:
			list, parsed := splitList(v)
			if !parsed {
				// Preserve what the user typed.
				return Value{Kind: KindList, List: []string{v}, Raw: v, IsRaw: true}, nil
			}
			return Value{Kind: KindList, List: list}, nil
		default:
			return fail("expected a list of strings")
		}

	case schema.ShapeCount:
		num, ok := asNumber(raw)
		if !ok || num != math.Trunc(num) || num <= 0 {
			return fail("expected a positive integer")
		}
		return Value{Kind: KindCount, Count: int(num)}, nil

	case schema.ShapePlaylistRef:
		s, ok := raw.(string)
		if !ok || !strings.HasPrefix(s, playlistRefPrefix) {
			return fail(`expected a reference of the form "playlist:<id>"`)
		}
		id := strings.TrimPrefix(s, playlistRefPrefix)
		if id == "" {
			return fail("playlist reference is missing an id")
		}
		return Value{Kind: KindPlaylistRef, Playlist: id}, nil

	case schema.ShapeSimilarity:
		m, ok := raw.(map[string]any)
		if !ok {
			return fail("expected {seed, count}")
		}
		seed, _ := m["seed"].(string)
		if seed == "" {
			return fail("similarity seed song is required")
		}
		count, ok := asNumber(m["count"])
		if !ok || count != math.Trunc(count) || count <= 0 || count > maxSimilarityCount {
			return fail(fmt.Sprintf("count must be a positive integer <= %d", maxSimilarityCount))
		}
		return Value{Kind: KindSimilarity, Similarity: SimilaritySpec{Seed: seed, Count: int(count)}}, nil
	}

	return fail("unrecognized value shape")
}

// Wire converts a tagged value back to its portable document representation.
func (v Value) Wire() any {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return v.Number
	case KindDate:
		return v.Date.Format(dateLayout)
	case KindNumberPair:
		return []any{v.NumberPair[0], v.NumberPair[1]}
	case KindDatePair:
		return []any{v.DatePair[0].Format(dateLayout), v.DatePair[1].Format(dateLayout)}
	case KindList:
		if v.IsRaw {
			return v.Raw
		}
		out := make([]any, len(v.List))
		for i, s := range v.List {
			out[i] = s
		}
		return out
	case KindCount:
		return float64(v.Count)
	case KindPlaylistRef:
		return playlistRefPrefix + v.Playlist
	case KindSimilarity:
		return map[string]any{"seed": v.Similarity.Seed, "count": float64(v.Similarity.Count)}
	default:
		return nil
	}
}

// checkNumericDomain enforces the per-field edge-case policy: percent fields
// are 0-100 integers, durations are whole seconds.
func checkNumericDomain(fieldKey string, num float64) error {
	if schema.IsPercentField(fieldKey) {
		if num != math.Trunc(num) || num < 0 || num > 100 {
			return fmt.Errorf("%s must be an integer between 0 and 100", fieldKey)
		}
	}
	if fieldKey == "duration_sec" {
		if num != math.Trunc(num) || num < 0 {
			return fmt.Errorf("duration must be whole seconds")
		}
	}
	return nil
}

func asNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asDate(raw any) (time.Time, bool) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(dateLayout, s); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

func asSlice(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// splitList parses comma-separated user input into a list. Reports false when
// the input yields no usable entries.
func splitList(s string) ([]string, bool) {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
