/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	"fmt"

	"github.com/nathanielasun/songbase/internal/schema"
)

// NewCondition creates a leaf on the given field with the field type's
// default operator and a type-appropriate empty value.
func NewCondition(field schema.FieldDefinition) *Condition {
	op := schema.DefaultOperator(field.Type)
	return &Condition{
		ID:       newID(),
		Field:    field.Key,
		Operator: op,
		Value:    DefaultValue(field, op),
	}
}

// NewGroup creates an ALL group seeded with one default condition. Groups are
// never created empty.
func NewGroup() *Group {
	return &Group{
		ID:       newID(),
		Match:    MatchAll,
		Children: []Node{NewCondition(schema.DefaultField())},
	}
}

// SetField changes the condition's field. When the new field has a different
// semantic type the operator resets to the type's default and the value to
// that operator's default shape, so an invalid (field, operator, value)
// triple never survives past a single edit step.
func (c *Condition) SetField(key string) error {
	next, err := schema.Lookup(key)
	if err != nil {
		return err
	}
	prev, _ := schema.Lookup(c.Field)

	c.Field = next.Key
	if prev.Type != next.Type {
		c.Operator = schema.DefaultOperator(next.Type)
		c.Value = DefaultValue(next, c.Operator)
		return nil
	}

	// Same type: the operator stays, but the value may violate the new
	// field's numeric domain (percent scale, whole seconds).
	if normalized, err := NormalizeValue(next, c.Operator, c.Value.Wire()); err == nil {
		c.Value = normalized
	} else {
		c.Value = DefaultValue(next, c.Operator)
	}
	return nil
}

// SetOperator changes the condition's operator, validating compatibility with
// the field's type. When the new operator requires a different value shape
// the value resets to the operator's default.
func (c *Condition) SetOperator(op string) error {
	field, err := schema.Lookup(c.Field)
	if err != nil {
		return err
	}
	if !schema.OperatorCompatible(field.Type, op) {
		return &IncompatibleOperatorError{Field: c.Field, Type: field.Type, Operator: op}
	}

	prevKind := c.Value.Kind
	c.Operator = op
	if want, _ := expectedKind(field, op); want != prevKind {
		c.Value = DefaultValue(field, op)
	}
	return nil
}

// SetValue replaces the condition's value after normalizing it against the
// field/operator pair.
func (c *Condition) SetValue(raw any) error {
	field, err := schema.Lookup(c.Field)
	if err != nil {
		return err
	}
	normalized, err := NormalizeValue(field, c.Operator, raw)
	if err != nil {
		return err
	}
	c.Value = normalized
	return nil
}

// SetMatch changes the group's combinator.
func (g *Group) SetMatch(m Match) error {
	if m != MatchAll && m != MatchAny {
		return fmt.Errorf("unknown match policy %q", m)
	}
	g.Match = m
	return nil
}

// AddCondition appends a fresh default condition to the group.
func (g *Group) AddCondition() *Condition {
	c := NewCondition(schema.DefaultField())
	g.Children = append(g.Children, c)
	return c
}

// RemoveChild removes the child at index. Removing the last remaining child
// is refused: groups must always end an edit with at least one child.
func (g *Group) RemoveChild(index int) error {
	if index < 0 || index >= len(g.Children) {
		return fmt.Errorf("child index %d out of range", index)
	}
	if len(g.Children) == 1 {
		return ErrLastChild
	}
	g.Children = append(g.Children[:index], g.Children[index+1:]...)
	return nil
}

// AddNestedGroup appends a new group under parent, rejecting nesting beyond
// MaxDepth. root anchors the depth computation.
func AddNestedGroup(root, parent *Group) (*Group, error) {
	depth := depthOf(root, parent, 1)
	if depth == 0 {
		return nil, fmt.Errorf("parent group is not part of the tree")
	}
	if depth+1 > MaxDepth {
		return nil, ErrMaxDepth
	}
	nested := NewGroup()
	parent.Children = append(parent.Children, nested)
	return nested, nil
}
