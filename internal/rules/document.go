/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nathanielasun/songbase/internal/schema"
)

// Version is the only rule document schema version this engine understands.
// Unknown versions fail closed.
const Version = 1

// Document is the portable, identifier-free serialization of a rule tree.
// This is the wire format exchanged with persistence and evaluation services.
type Document struct {
	Version    int       `json:"version"`
	Match      Match     `json:"match"`
	Conditions []DocNode `json:"conditions"`
}

// LeafDoc is a serialized condition.
type LeafDoc struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// GroupDoc is a serialized nested group. Nested groups carry no version; the
// version tag lives on the root document only.
type GroupDoc struct {
	Match      Match     `json:"match"`
	Conditions []DocNode `json:"conditions"`
}

// DocNode is a tagged union of LeafDoc and GroupDoc.
type DocNode struct {
	Leaf  *LeafDoc
	Group *GroupDoc
}

// MarshalJSON emits whichever variant is populated.
func (n DocNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.Leaf != nil:
		return json.Marshal(n.Leaf)
	case n.Group != nil:
		return json.Marshal(n.Group)
	default:
		return nil, fmt.Errorf("empty document node")
	}
}

// UnmarshalJSON distinguishes the variants by the presence of a "match" key.
func (n *DocNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Match *Match `json:"match"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Match != nil {
		var g GroupDoc
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		n.Group = &g
		return nil
	}
	var leaf LeafDoc
	if err := json.Unmarshal(data, &leaf); err != nil {
		return err
	}
	n.Leaf = &leaf
	return nil
}

// ToDocument serializes a tree, dropping edit-session identifiers and
// preserving match policy and child order.
func ToDocument(root *Group) Document {
	return Document{
		Version:    Version,
		Match:      root.Match,
		Conditions: docChildren(root),
	}
}

func docChildren(g *Group) []DocNode {
	out := make([]DocNode, 0, len(g.Children))
	for _, child := range g.Children {
		switch n := child.(type) {
		case *Condition:
			out = append(out, DocNode{Leaf: &LeafDoc{
				Field:    n.Field,
				Operator: n.Operator,
				Value:    n.Value.Wire(),
			}})
		case *Group:
			out = append(out, DocNode{Group: &GroupDoc{
				Match:      n.Match,
				Conditions: docChildren(n),
			}})
		}
	}
	return out
}

// FromDocument parses a document into an editable tree, generating a fresh
// identifier per node and validating every leaf against the field schema.
func FromDocument(doc Document) (*Group, error) {
	if doc.Version != Version {
		return nil, &UnsupportedVersionError{Version: doc.Version}
	}
	if doc.Match != MatchAll && doc.Match != MatchAny {
		return nil, fmt.Errorf("unknown match policy %q", doc.Match)
	}
	return groupFromDoc(GroupDoc{Match: doc.Match, Conditions: doc.Conditions}, 1)
}

func groupFromDoc(doc GroupDoc, depth int) (*Group, error) {
	if depth > MaxDepth {
		return nil, ErrMaxDepth
	}
	g := &Group{ID: newID(), Match: doc.Match}
	for _, node := range doc.Conditions {
		switch {
		case node.Leaf != nil:
			leaf, err := conditionFromDoc(*node.Leaf)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, leaf)
		case node.Group != nil:
			if node.Group.Match != MatchAll && node.Group.Match != MatchAny {
				return nil, fmt.Errorf("unknown match policy %q", node.Group.Match)
			}
			nested, err := groupFromDoc(*node.Group, depth+1)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, nested)
		}
	}
	return g, nil
}

func conditionFromDoc(doc LeafDoc) (*Condition, error) {
	field, err := schema.Lookup(doc.Field)
	if err != nil {
		return nil, err
	}
	if !schema.OperatorCompatible(field.Type, doc.Operator) {
		return nil, &IncompatibleOperatorError{Field: doc.Field, Type: field.Type, Operator: doc.Operator}
	}
	value, err := NormalizeValue(field, doc.Operator, doc.Value)
	if err != nil {
		return nil, err
	}
	return &Condition{
		ID:       newID(),
		Field:    doc.Field,
		Operator: doc.Operator,
		Value:    value,
	}, nil
}

// ParseDocument validates raw JSON against the document schema, decodes it,
// and builds the tree in one step.
func ParseDocument(data []byte) (*Group, error) {
	if err := ValidateDocumentJSON(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode rule document: %w", err)
	}
	return FromDocument(doc)
}

// ToMap converts the document to a generic map for jsonb storage.
func (d Document) ToMap() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// DocumentFromMap rebuilds a document from its jsonb storage form.
func DocumentFromMap(m map[string]any) (Document, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode stored rule document: %w", err)
	}
	return doc, nil
}

// documentSchema is the JSON Schema incoming documents are checked against
// before structural parsing.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "match", "conditions"],
  "properties": {
    "version": {"type": "integer"},
    "match": {"enum": ["all", "any"]},
    "conditions": {"type": "array", "items": {"$ref": "#/definitions/node"}}
  },
  "definitions": {
    "node": {
      "oneOf": [
        {"$ref": "#/definitions/leaf"},
        {"$ref": "#/definitions/group"}
      ]
    },
    "leaf": {
      "type": "object",
      "required": ["field", "operator"],
      "properties": {
        "field": {"type": "string"},
        "operator": {"type": "string"},
        "value": {}
      },
      "additionalProperties": false
    },
    "group": {
      "type": "object",
      "required": ["match", "conditions"],
      "properties": {
        "match": {"enum": ["all", "any"]},
        "conditions": {"type": "array", "items": {"$ref": "#/definitions/node"}}
      },
      "additionalProperties": false
    }
  }
}`

var documentSchemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ValidateDocumentJSON checks raw JSON against the document schema.
func ValidateDocumentJSON(data []byte) error {
	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate rule document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("rule document failed schema validation: %s", strings.Join(msgs, "; "))
}
