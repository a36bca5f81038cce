/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nathanielasun/songbase/internal/schema"
)

func docJSON(t *testing.T, doc Document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return string(data)
}

func buildSampleTree(t *testing.T) *Group {
	t.Helper()
	root := NewGroup()

	cond := root.Children[0].(*Condition)
	if err := cond.SetField("genre"); err != nil {
		t.Fatal(err)
	}
	if err := cond.SetOperator(schema.OpInList); err != nil {
		t.Fatal(err)
	}
	if err := cond.SetValue("Rock, Pop"); err != nil {
		t.Fatal(err)
	}

	bpm := root.AddCondition()
	if err := bpm.SetField("bpm"); err != nil {
		t.Fatal(err)
	}
	if err := bpm.SetOperator(schema.OpBetween); err != nil {
		t.Fatal(err)
	}
	if err := bpm.SetValue([]any{100.0, 140.0}); err != nil {
		t.Fatal(err)
	}

	nested, err := AddNestedGroup(root, root)
	if err != nil {
		t.Fatal(err)
	}
	if err := nested.SetMatch(MatchAny); err != nil {
		t.Fatal(err)
	}
	loved := nested.Children[0].(*Condition)
	if err := loved.SetField("loved"); err != nil {
		t.Fatal(err)
	}
	recent := nested.AddCondition()
	if err := recent.SetField("last_played_at"); err != nil {
		t.Fatal(err)
	}
	if err := recent.SetValue(7.0); err != nil {
		t.Fatal(err)
	}

	return root
}

func TestRoundTripTreeToDocument(t *testing.T) {
	tree := buildSampleTree(t)

	doc := ToDocument(tree)
	rebuilt, err := FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}

	// serialize(deserialize(doc)) must be structurally equal to doc.
	again := ToDocument(rebuilt)
	if docJSON(t, doc) != docJSON(t, again) {
		t.Errorf("round trip changed document:\n  first:  %s\n  second: %s", docJSON(t, doc), docJSON(t, again))
	}

	// Identifiers are regenerated, never carried through the document.
	if rebuilt.ID == tree.ID {
		t.Error("group identifier survived serialization")
	}
	if rebuilt.Children[0].(*Condition).ID == tree.Children[0].(*Condition).ID {
		t.Error("condition identifier survived serialization")
	}
}

func TestDocumentWireShape(t *testing.T) {
	tree := buildSampleTree(t)
	data, err := json.Marshal(ToDocument(tree))
	if err != nil {
		t.Fatal(err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	if wire["version"] != float64(1) {
		t.Errorf("version = %v, want 1", wire["version"])
	}
	if wire["match"] != "all" {
		t.Errorf("match = %v, want all", wire["match"])
	}
	conditions := wire["conditions"].([]any)
	if len(conditions) != 3 {
		t.Fatalf("conditions = %d, want 3", len(conditions))
	}
	leaf := conditions[0].(map[string]any)
	if _, hasID := leaf["id"]; hasID {
		t.Error("wire document carries node identifiers")
	}
	nested := conditions[2].(map[string]any)
	if nested["match"] != "any" {
		t.Errorf("nested match = %v, want any", nested["match"])
	}
}

func TestFromDocumentUnsupportedVersion(t *testing.T) {
	doc := Document{Version: 2, Match: MatchAll}
	_, err := FromDocument(doc)
	var unsupported *UnsupportedVersionError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedVersionError, got %v", err)
	}
	if unsupported.Version != 2 {
		t.Errorf("reported version = %d, want 2", unsupported.Version)
	}
}

func TestFromDocumentUnknownField(t *testing.T) {
	doc := Document{
		Version: 1,
		Match:   MatchAll,
		Conditions: []DocNode{
			{Leaf: &LeafDoc{Field: "bogus", Operator: "equals", Value: "x"}},
		},
	}
	var unknown *schema.UnknownFieldError
	if _, err := FromDocument(doc); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownFieldError, got %v", err)
	}
}

func TestFromDocumentIncompatibleOperator(t *testing.T) {
	doc := Document{
		Version: 1,
		Match:   MatchAll,
		Conditions: []DocNode{
			{Leaf: &LeafDoc{Field: "title", Operator: "greater", Value: 5.0}},
		},
	}
	var incompat *IncompatibleOperatorError
	if _, err := FromDocument(doc); !errors.As(err, &incompat) {
		t.Fatalf("expected IncompatibleOperatorError, got %v", err)
	}
}

func TestFromDocumentInvalidValue(t *testing.T) {
	doc := Document{
		Version: 1,
		Match:   MatchAll,
		Conditions: []DocNode{
			{Leaf: &LeafDoc{Field: "energy", Operator: "greater", Value: 150.0}},
		},
	}
	var invalid *InvalidValueError
	if _, err := FromDocument(doc); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidValueError, got %v", err)
	}
}

func TestFromDocumentDepthBound(t *testing.T) {
	leaf := DocNode{Leaf: &LeafDoc{Field: "title", Operator: "equals", Value: "x"}}
	level3 := DocNode{Group: &GroupDoc{Match: MatchAll, Conditions: []DocNode{leaf}}}
	level2 := DocNode{Group: &GroupDoc{Match: MatchAll, Conditions: []DocNode{level3}}}
	doc := Document{Version: 1, Match: MatchAll, Conditions: []DocNode{level2}}

	if _, err := FromDocument(doc); err != nil {
		t.Fatalf("3-level document should parse: %v", err)
	}

	level4 := DocNode{Group: &GroupDoc{Match: MatchAll, Conditions: []DocNode{leaf}}}
	level3.Group.Conditions = []DocNode{level4}
	if _, err := FromDocument(doc); !errors.Is(err, ErrMaxDepth) {
		t.Fatalf("4-level document = %v, want ErrMaxDepth", err)
	}
}

func TestParseDocumentSchemaValidation(t *testing.T) {
	valid := []byte(`{"version":1,"match":"all","conditions":[{"field":"title","operator":"contains","value":"love"}]}`)
	if _, err := ParseDocument(valid); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}

	invalid := [][]byte{
		[]byte(`{"match":"all","conditions":[]}`),                 // missing version
		[]byte(`{"version":1,"match":"some","conditions":[]}`),    // bad match
		[]byte(`{"version":1,"match":"all","conditions":[{"oper":"x"}]}`), // malformed leaf
	}
	for _, data := range invalid {
		if _, err := ParseDocument(data); err == nil {
			t.Errorf("expected rejection of %s", data)
		}
	}
}

func TestListValuePreservesRawText(t *testing.T) {
	field, _ := schema.Lookup("genre")
	for _, input := range []string{" , ,", ""} {
		v, err := NormalizeValue(field, schema.OpInList, input)
		if err != nil {
			t.Fatalf("NormalizeValue(%q): %v", input, err)
		}
		if !v.IsRaw || v.Raw != input {
			t.Errorf("raw text not preserved for %q: raw=%q isRaw=%v", input, v.Raw, v.IsRaw)
		}
		if v.Wire() != input {
			t.Errorf("wire form of %q = %v, want the raw string", input, v.Wire())
		}
	}
}

func TestDocumentMapRoundTrip(t *testing.T) {
	doc := ToDocument(buildSampleTree(t))
	m, err := doc.ToMap()
	if err != nil {
		t.Fatal(err)
	}
	back, err := DocumentFromMap(m)
	if err != nil {
		t.Fatal(err)
	}
	if docJSON(t, doc) != docJSON(t, back) {
		t.Error("map round trip changed document")
	}
}

func TestDefaultPresetsParse(t *testing.T) {
	presets, err := DefaultPresets()
	if err != nil {
		t.Fatalf("DefaultPresets: %v", err)
	}
	if len(presets) == 0 {
		t.Fatal("no default presets")
	}
	for _, p := range presets {
		if _, err := p.Tree(); err != nil {
			t.Errorf("preset %q does not parse: %v", p.Name, err)
		}
	}
}

func TestPresetAppend(t *testing.T) {
	presets, err := DefaultPresets()
	if err != nil {
		t.Fatal(err)
	}
	root := NewGroup()
	if err := presets[0].Append(root); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(root.Children) != 2 {
		t.Errorf("children = %d, want 2", len(root.Children))
	}
	if err := Validate(root); err != nil {
		t.Errorf("tree invalid after preset append: %v", err)
	}
}
