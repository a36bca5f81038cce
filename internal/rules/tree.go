/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rules models smart-playlist rule trees: leaf conditions over song
// fields, ALL/ANY groups, edit-session mutation operations, and the portable
// document serialization exchanged with persistence and evaluation.
package rules

import (
	"github.com/google/uuid"

	"github.com/nathanielasun/songbase/internal/schema"
)

// Match is the boolean combinator of a group.
type Match string

const (
	MatchAll Match = "all"
	MatchAny Match = "any"
)

// MaxDepth bounds group nesting from the root.
const MaxDepth = 3

// Node is either a *Condition leaf or a nested *Group. The interface is
// sealed so the evaluator's recursion can switch exhaustively.
type Node interface {
	nodeID() string
}

// Condition is a leaf predicate: field + operator + tagged value. The ID is
// an edit-session identifier and is never persisted.
type Condition struct {
	ID       string
	Field    string
	Operator string
	Value    Value
}

func (c *Condition) nodeID() string { return c.ID }

// Group combines child conditions and nested groups under a match policy.
// Child order is insertion order; it does not affect evaluation but is
// preserved for stable editing and display.
type Group struct {
	ID       string
	Match    Match
	Children []Node
}

func (g *Group) nodeID() string { return g.ID }

func newID() string { return uuid.NewString() }

// expectedKind computes the value kind a field/operator pair requires.
func expectedKind(field schema.FieldDefinition, op string) (ValueKind, bool) {
	shape, ok := schema.ShapeOf(op)
	if !ok {
		return KindNone, false
	}
	switch shape {
	case schema.ShapeNone:
		return KindNone, true
	case schema.ShapeScalar:
		switch field.Type {
		case schema.TypeNumber:
			return KindNumber, true
		case schema.TypeDate:
			return KindDate, true
		default:
			return KindText, true
		}
	case schema.ShapePair:
		if field.Type == schema.TypeDate {
			return KindDatePair, true
		}
		return KindNumberPair, true
	case schema.ShapeList:
		return KindList, true
	case schema.ShapeCount:
		return KindCount, true
	case schema.ShapePlaylistRef:
		return KindPlaylistRef, true
	case schema.ShapeSimilarity:
		return KindSimilarity, true
	}
	return KindNone, false
}

// Validate defensively re-checks a whole tree: known fields, compatible
// operators, matching value kinds, and the depth bound. Trees built through
// this package's mutation operations always pass; documents arriving from
// persisted state or external sources may not.
func Validate(root *Group) error {
	return validateGroup(root, 1)
}

func validateGroup(g *Group, depth int) error {
	if depth > MaxDepth {
		return ErrMaxDepth
	}
	for _, child := range g.Children {
		switch n := child.(type) {
		case *Condition:
			if err := validateCondition(n); err != nil {
				return err
			}
		case *Group:
			if err := validateGroup(n, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCondition(c *Condition) error {
	field, err := schema.Lookup(c.Field)
	if err != nil {
		return err
	}
	if !schema.OperatorCompatible(field.Type, c.Operator) {
		return &IncompatibleOperatorError{Field: c.Field, Type: field.Type, Operator: c.Operator}
	}
	want, _ := expectedKind(field, c.Operator)
	if c.Value.Kind != want {
		return &InvalidValueError{
			Field:    c.Field,
			Operator: c.Operator,
			Reason:   "value shape " + string(c.Value.Kind) + " does not match operator",
		}
	}
	return nil
}

// depthOf returns the nesting depth of target within root (root is depth 1),
// or 0 when target is not in the tree.
func depthOf(root, target *Group, depth int) int {
	if root == target {
		return depth
	}
	for _, child := range root.Children {
		if nested, ok := child.(*Group); ok {
			if d := depthOf(nested, target, depth+1); d > 0 {
				return d
			}
		}
	}
	return 0
}
