/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import (
	"errors"
	"fmt"

	"github.com/nathanielasun/songbase/internal/schema"
)

// Structural guards surfaced by tree mutation operations.
var (
	// ErrMaxDepth rejects nesting a group beyond the depth bound.
	ErrMaxDepth = errors.New("group nesting exceeds maximum depth")
	// ErrLastChild rejects removing the only remaining child of a group.
	ErrLastChild = errors.New("cannot remove the last child of a group")
)

// IncompatibleOperatorError reports an operator that is not legal for the
// field's semantic type. Edit-time auto-correction prevents it in trees built
// through this package; it is still checked defensively for documents arriving
// from external sources.
type IncompatibleOperatorError struct {
	Field    string
	Type     schema.SemanticType
	Operator string
}

func (e *IncompatibleOperatorError) Error() string {
	return fmt.Sprintf("operator %q is not compatible with %s field %q", e.Operator, e.Type, e.Field)
}

// InvalidValueError reports a value whose shape does not match the chosen
// operator. Values failing to coerce are rejected, never silently truncated.
type InvalidValueError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s %s: %s", e.Field, e.Operator, e.Reason)
}

// UnsupportedVersionError reports a rule document version this engine does
// not understand. Parsing fails closed rather than attempting best effort.
type UnsupportedVersionError struct {
	Version int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported rule document version %d", e.Version)
}
