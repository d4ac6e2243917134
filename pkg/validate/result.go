// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package validate

import (
	"fmt"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
)

// Kind classifies a single violation.
type Kind uint8

const (
	// MissingRequired marks an absent required field.
	MissingRequired Kind = iota

	// TypeMismatch marks a value whose kind contradicts the schema.
	TypeMismatch

	// TooManyValues marks a non-repeatable tag that appeared repeatedly.
	TooManyValues

	// UnexpectedField marks a tag a strict schema does not declare.
	UnexpectedField

	// UnsupportedVersion marks an unknown (document code, version) pair.
	UnsupportedVersion

	// RuleViolated marks a failed cross-field rule.
	RuleViolated
)

func (k Kind) String() string {
	switch k {
	case MissingRequired:
		return "missing-required"
	case TypeMismatch:
		return "type-mismatch"
	case TooManyValues:
		return "too-many-values"
	case UnexpectedField:
		return "unexpected-field"
	case UnsupportedVersion:
		return "unsupported-version"
	case RuleViolated:
		return "rule-violated"
	default:
		return "INVALID"
	}
}

// Violation is one schema violation, addressed by a field path like
// "receipt.items[2].name". Rule is set for RuleViolated entries.
type Violation struct {
	Path string
	Kind Kind
	Tag  fiscal.Tag
	Rule string
}

func (v Violation) String() string {
	if v.Rule != "" {
		return fmt.Sprintf("%s: %v (%s)", v.Path, v.Kind, v.Rule)
	}
	return fmt.Sprintf("%s: %v", v.Path, v.Kind)
}

// Result is the outcome of validating one document. Violations are ordered
// by schema declaration, making responses reproducible across runs.
type Result struct {
	Violations []Violation

	// Unknown lists tags a lenient schema ignored but recorded.
	Unknown []fiscal.Tag
}

// Accepted reports if the document passed.
func (r Result) Accepted() bool {
	return len(r.Violations) == 0
}

// First returns the first violation for the negative acknowledgement.
func (r Result) First() Violation {
	if len(r.Violations) == 0 {
		return Violation{}
	}
	return r.Violations[0]
}
