/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var defaultPresetsYAML []byte

// Preset is a pre-authored rule document fragment a user can append to an
// in-progress rule. Presets are opaque documents parsed through the same
// serializer as user rules, not a separate format.
type Preset struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Document    any    `yaml:"document" json:"document"`
}

// DefaultPresets parses the presets shipped with the binary.
func DefaultPresets() ([]Preset, error) {
	return parsePresets(defaultPresetsYAML)
}

// LoadPresets reads presets from a YAML file, falling back to the embedded
// defaults when path is empty.
func LoadPresets(path string) ([]Preset, error) {
	if path == "" {
		return DefaultPresets()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return parsePresets(data)
}

func parsePresets(data []byte) ([]Preset, error) {
	var file struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	// Every shipped preset must parse through the serializer.
	for _, p := range file.Presets {
		if _, err := p.Tree(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	return file.Presets, nil
}

// Tree parses the preset's document into a rule tree.
func (p Preset) Tree() (*Group, error) {
	data, err := json.Marshal(p.Document)
	if err != nil {
		return nil, fmt.Errorf("encode preset document: %w", err)
	}
	return ParseDocument(data)
}

// Append attaches the preset as an additional nested child of root. The
// combined tree is validated; on failure root is left unchanged.
func (p Preset) Append(root *Group) error {
	parsed, err := p.Tree()
	if err != nil {
		return err
	}
	root.Children = append(root.Children, parsed)
	if err := Validate(root); err != nil {
		root.Children = root.Children[:len(root.Children)-1]
		return err
	}
	return nil
}
