/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schema defines the static registry of queryable song fields and the
// operator compatibility table. The registry is the sole source of truth for
// which operators are legal on which field.
package schema

import "fmt"

// SemanticType is the comparison domain of a field.
type SemanticType string

const (
	TypeString     SemanticType = "string"
	TypeNumber     SemanticType = "number"
	TypeDate       SemanticType = "date"
	TypeBoolean    SemanticType = "boolean"
	TypeSimilarity SemanticType = "similarity"
)

// Category groups fields for form rendering.
type Category string

const (
	CategoryMetadata   Category = "metadata"
	CategoryPlayback   Category = "playback"
	CategoryPreference Category = "preference"
	CategoryAudio      Category = "audio"
	CategoryAdvanced   Category = "advanced"
)

// FieldDefinition describes one queryable song attribute.
type FieldDefinition struct {
	Key      string       `json:"key"`
	Label    string       `json:"label"`
	Type     SemanticType `json:"type"`
	Category Category     `json:"category"`
}

// UnknownFieldError reports a field key absent from the registry.
type UnknownFieldError struct {
	Key string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Key)
}

// Operator names. Each semantic type owns a fixed subset.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpSameAs         = "same_as"
	OpInList         = "in_list"
	OpNotInList      = "not_in_list"
	OpIsNull         = "is_null"
	OpIsNotNull      = "is_not_null"
	OpGreater        = "greater"
	OpGreaterOrEqual = "greater_or_equal"
	OpLess           = "less"
	OpLessOrEqual    = "less_or_equal"
	OpBetween        = "between"
	OpYearsAgo       = "years_ago"
	OpWithinDays     = "within_days"
	OpBefore         = "before"
	OpAfter          = "after"
	OpNever          = "never"
	OpIsTrue         = "is_true"
	OpIsFalse        = "is_false"
	OpTopN           = "top_n"
)

// operatorsByType maps each semantic type to its legal operator list. Order
// matters: the first operator is the default applied when a condition's field
// changes type.
var operatorsByType = map[SemanticType][]string{
	TypeString: {
		OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith,
		OpEndsWith, OpSameAs, OpInList, OpNotInList, OpIsNull, OpIsNotNull,
	},
	TypeNumber: {
		OpEquals, OpNotEquals, OpGreater, OpGreaterOrEqual, OpLess,
		OpLessOrEqual, OpBetween, OpYearsAgo, OpIsNull, OpIsNotNull,
	},
	TypeDate: {
		OpWithinDays, OpBefore, OpAfter, OpBetween, OpNever, OpIsNull, OpIsNotNull,
	},
	TypeBoolean:    {OpIsTrue, OpIsFalse},
	TypeSimilarity: {OpTopN},
}

// ValueShape is the arity/shape an operator requires of its value.
type ValueShape string

const (
	ShapeNone        ValueShape = "none"         // is_true, is_false, is_null, is_not_null, never
	ShapeScalar      ValueShape = "scalar"       // single string/number/date matching the field type
	ShapePair        ValueShape = "pair"         // [min, max] matching the field type
	ShapeList        ValueShape = "list"         // ordered list of strings
	ShapeCount       ValueShape = "count"        // positive integer (within_days, years_ago)
	ShapePlaylistRef ValueShape = "playlist_ref" // "playlist:<id>"
	ShapeSimilarity  ValueShape = "similarity"   // {seed, count}
)

var shapeByOperator = map[string]ValueShape{
	OpEquals:         ShapeScalar,
	OpNotEquals:      ShapeScalar,
	OpContains:       ShapeScalar,
	OpNotContains:    ShapeScalar,
	OpStartsWith:     ShapeScalar,
	OpEndsWith:       ShapeScalar,
	OpSameAs:         ShapePlaylistRef,
	OpInList:         ShapeList,
	OpNotInList:      ShapeList,
	OpIsNull:         ShapeNone,
	OpIsNotNull:      ShapeNone,
	OpGreater:        ShapeScalar,
	OpGreaterOrEqual: ShapeScalar,
	OpLess:           ShapeScalar,
	OpLessOrEqual:    ShapeScalar,
	OpBetween:        ShapePair,
	OpYearsAgo:       ShapeCount,
	OpWithinDays:     ShapeCount,
	OpBefore:         ShapeScalar,
	OpAfter:          ShapeScalar,
	OpNever:          ShapeNone,
	OpIsTrue:         ShapeNone,
	OpIsFalse:        ShapeNone,
	OpTopN:           ShapeSimilarity,
}

// registry lists every queryable field in display order.
var registry = []FieldDefinition{
	// Metadata
	{Key: "title", Label: "Title", Type: TypeString, Category: CategoryMetadata},
	{Key: "artist", Label: "Artist", Type: TypeString, Category: CategoryMetadata},
	{Key: "album", Label: "Album", Type: TypeString, Category: CategoryMetadata},
	{Key: "genre", Label: "Genre", Type: TypeString, Category: CategoryMetadata},
	{Key: "language", Label: "Language", Type: TypeString, Category: CategoryMetadata},
	{Key: "year", Label: "Year", Type: TypeNumber, Category: CategoryMetadata},
	{Key: "duration_sec", Label: "Duration", Type: TypeNumber, Category: CategoryMetadata},
	{Key: "bpm", Label: "BPM", Type: TypeNumber, Category: CategoryMetadata},
	{Key: "explicit", Label: "Explicit", Type: TypeBoolean, Category: CategoryMetadata},
	{Key: "date_added", Label: "Date Added", Type: TypeDate, Category: CategoryMetadata},

	// Playback
	{Key: "play_count", Label: "Play Count", Type: TypeNumber, Category: CategoryPlayback},
	{Key: "skip_count", Label: "Skip Count", Type: TypeNumber, Category: CategoryPlayback},
	{Key: "completion_rate", Label: "Completion Rate", Type: TypeNumber, Category: CategoryPlayback},
	{Key: "last_played_at", Label: "Last Played", Type: TypeDate, Category: CategoryPlayback},

	// Preference
	{Key: "rating", Label: "Rating", Type: TypeNumber, Category: CategoryPreference},
	{Key: "loved", Label: "Loved", Type: TypeBoolean, Category: CategoryPreference},

	// Audio features
	{Key: "energy", Label: "Energy", Type: TypeNumber, Category: CategoryAudio},
	{Key: "danceability", Label: "Danceability", Type: TypeNumber, Category: CategoryAudio},
	{Key: "acousticness", Label: "Acousticness", Type: TypeNumber, Category: CategoryAudio},
	{Key: "instrumentalness", Label: "Instrumentalness", Type: TypeNumber, Category: CategoryAudio},

	// Advanced
	{Key: "playlist", Label: "Playlist", Type: TypeString, Category: CategoryAdvanced},
	{Key: "similar_to", Label: "Similar To", Type: TypeSimilarity, Category: CategoryAdvanced},
}

// percentFields are stored and compared on a 0-100 integer scale.
var percentFields = map[string]struct{}{
	"energy":           {},
	"danceability":     {},
	"acousticness":     {},
	"instrumentalness": {},
	"completion_rate":  {},
}

var fieldsByKey = func() map[string]FieldDefinition {
	m := make(map[string]FieldDefinition, len(registry))
	for _, f := range registry {
		m[f.Key] = f
	}
	return m
}()

// Fields returns the full registry in display order.
func Fields() []FieldDefinition {
	out := make([]FieldDefinition, len(registry))
	copy(out, registry)
	return out
}

// DefaultField is the field a freshly created condition starts on.
func DefaultField() FieldDefinition {
	return registry[0]
}

// Lookup resolves a field key against the registry.
func Lookup(key string) (FieldDefinition, error) {
	f, ok := fieldsByKey[key]
	if !ok {
		return FieldDefinition{}, &UnknownFieldError{Key: key}
	}
	return f, nil
}

// OperatorsFor returns the legal operator list for a semantic type.
func OperatorsFor(t SemanticType) []string {
	ops := operatorsByType[t]
	out := make([]string, len(ops))
	copy(out, ops)
	return out
}

// CompatibleOperators resolves a field key and returns its legal operators.
func CompatibleOperators(fieldKey string) ([]string, error) {
	f, err := Lookup(fieldKey)
	if err != nil {
		return nil, err
	}
	return OperatorsFor(f.Type), nil
}

// DefaultOperator is the first operator in a type's list.
func DefaultOperator(t SemanticType) string {
	return operatorsByType[t][0]
}

// OperatorCompatible reports whether op is legal for the semantic type.
func OperatorCompatible(t SemanticType, op string) bool {
	for _, candidate := range operatorsByType[t] {
		if candidate == op {
			return true
		}
	}
	return false
}

// ShapeOf returns the value shape an operator requires. Unknown operators
// report ShapeNone alongside ok=false.
func ShapeOf(op string) (ValueShape, bool) {
	shape, ok := shapeByOperator[op]
	return shape, ok
}

// IsPercentField reports whether the field uses the 0-100 integer scale.
func IsPercentField(key string) bool {
	_, ok := percentFields[key]
	return ok
}
