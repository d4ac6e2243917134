// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package validate gates which documents reach storage. A Validator applies
// the schema matching a document's declared (code, version) pair, first
// structurally, then through the schema's named cross-field rules.
package validate

import (
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
	"github.com/ofdgate/ofdgate/pkg/schema"
)

// Validator validates documents against an immutable schema table.
type Validator struct {
	table *schema.Table

	// Lenient falls back to the latest schema for unknown version
	// declarations instead of rejecting with UnsupportedVersion.
	Lenient bool

	// MinDate rejects documents older than this timestamp; zero disables
	// the check. Devices with a dead clock routinely report 1970.
	MinDate time.Time

	// FutureWindow tolerates device clocks running ahead by at most this
	// much. Zero disables the check.
	FutureWindow time.Duration
}

// NewValidator creates a Validator over the given table.
func NewValidator(table *schema.Table) *Validator {
	return &Validator{table: table}
}

// Validate checks the document against its schema. The result's violation
// order follows the schema declaration, not discovery.
func (v *Validator) Validate(doc *fiscal.Document) Result {
	s, ok := v.table.Lookup(doc.Code, doc.Version)
	if !ok && v.Lenient {
		if s, ok = v.table.LookupLatest(doc.Code); ok {
			log.WithFields(log.Fields{
				"document": doc,
				"version":  doc.Version,
				"fallback": s.Version,
			}).Debug("Unknown schema version, falling back to latest")
		}
	}
	if !ok {
		return Result{Violations: []Violation{{
			Path: doc.Code.String(),
			Kind: UnsupportedVersion,
		}}}
	}

	var result Result
	v.checkFields(doc.Code.String(), s, s.Fields, doc.Fields, &result)

	// The first structural failure short-circuits rule evaluation.
	if len(result.Violations) > 0 {
		return result
	}

	for _, name := range s.Rules {
		rule, known := rules[name]
		if !known {
			log.WithFields(log.Fields{
				"schema": fmt.Sprintf("%v/%s", s.Code, s.Version),
				"rule":   name,
			}).Warn("Schema names an unknown rule, skipping")
			continue
		}
		result.Violations = append(result.Violations, rule(v, doc, s)...)
	}

	return result
}

// checkFields runs the structural pass for one field list, recursing into
// STLV groups depth-first so that violations keep declaration order.
func (v *Validator) checkFields(path string, s *schema.Schema, specs []schema.FieldSpec, fields []fiscal.Field, result *Result) {
	for _, spec := range specs {
		count := fiscal.CountFields(fields, spec.Tag)

		if count == 0 {
			if spec.Required {
				result.Violations = append(result.Violations, Violation{
					Path: path + "." + spec.Name,
					Kind: MissingRequired,
					Tag:  spec.Tag,
				})
			}
			continue
		}

		if count > 1 && !spec.Repeatable {
			result.Violations = append(result.Violations, Violation{
				Path: path + "." + spec.Name,
				Kind: TooManyValues,
				Tag:  spec.Tag,
			})
		}

		index := 0
		for _, field := range fields {
			if field.Tag != spec.Tag {
				continue
			}

			fieldPath := path + "." + spec.Name
			if spec.Repeatable {
				fieldPath = fmt.Sprintf("%s.%s[%d]", path, spec.Name, index)
			}
			index++

			if field.Value.Kind() != spec.Kind {
				result.Violations = append(result.Violations, Violation{
					Path: fieldPath,
					Kind: TypeMismatch,
					Tag:  spec.Tag,
				})
				continue
			}

			if group, ok := field.Value.(fiscal.STLVValue); ok && len(spec.Nested) > 0 {
				v.checkFields(fieldPath, s, spec.Nested, group, result)
			}
		}
	}

	v.checkUndeclared(path, s, specs, fields, result)
}

// checkUndeclared handles tags the schema does not declare. Strict schemas
// reject them; lenient schemas record them, as older firmware sends vendor
// extras that must not be protocol-breaking. Entries are sorted by tag for
// deterministic output.
func (v *Validator) checkUndeclared(path string, s *schema.Schema, specs []schema.FieldSpec, fields []fiscal.Field, result *Result) {
	var undeclared []fiscal.Field

	for _, field := range fields {
		declared := false
		for _, spec := range specs {
			if spec.Tag == field.Tag {
				declared = true
				break
			}
		}
		if !declared {
			undeclared = append(undeclared, field)
		}
	}

	sort.Slice(undeclared, func(i, j int) bool { return undeclared[i].Tag < undeclared[j].Tag })

	for _, field := range undeclared {
		if s.Strict {
			result.Violations = append(result.Violations, Violation{
				Path: fmt.Sprintf("%s.%d", path, uint16(field.Tag)),
				Kind: UnexpectedField,
				Tag:  field.Tag,
			})
		} else {
			result.Unknown = append(result.Unknown, field.Tag)
		}
	}
}
