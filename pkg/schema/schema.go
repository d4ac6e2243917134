// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package schema holds the versioned structural contracts fiscal documents
// are validated against. A Table is built once at startup and shared
// read-only between all sessions.
package schema

import (
	"fmt"
	"sort"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
)

// FieldSpec is one field contract within a Schema.
type FieldSpec struct {
	Tag      fiscal.Tag
	Name     string
	Kind     fiscal.TagKind
	Required bool

	// Repeatable allows the tag to appear more than once.
	Repeatable bool

	// Nested describes the group members of an STLV field.
	Nested []FieldSpec
}

// Schema is the structural contract for one (document code, version) pair.
// Fields are kept in declaration order; validation reports violations in
// this order.
type Schema struct {
	Code    fiscal.DocCode
	Version string

	// Strict rejects tags outside the Fields set; lenient schemas record
	// and ignore them, for firmware that sends vendor extras.
	Strict bool

	Fields []FieldSpec

	// Rules names the cross-field checks to run after the structural pass.
	Rules []string
}

// Field returns the spec for a tag, if the schema declares it.
func (s *Schema) Field(tag fiscal.Tag) (FieldSpec, bool) {
	for _, field := range s.Fields {
		if field.Tag == tag {
			return field, true
		}
	}
	return FieldSpec{}, false
}

type tableKey struct {
	code    fiscal.DocCode
	version string
}

// Table is an immutable schema lookup keyed by (document code, version).
type Table struct {
	schemas map[tableKey]*Schema
}

// NewTable builds a Table from the given schemas. Duplicate (code, version)
// pairs error.
func NewTable(schemas ...*Schema) (*Table, error) {
	table := &Table{schemas: make(map[tableKey]*Schema)}

	for _, s := range schemas {
		key := tableKey{s.Code, s.Version}
		if _, exists := table.schemas[key]; exists {
			return nil, fmt.Errorf("duplicate schema for %v version %s", s.Code, s.Version)
		}
		table.schemas[key] = s
	}

	return table, nil
}

// Lookup returns the schema for the exact (code, version) pair.
func (t *Table) Lookup(code fiscal.DocCode, version string) (*Schema, bool) {
	s, ok := t.schemas[tableKey{code, version}]
	return s, ok
}

// LookupLatest returns the schema with the greatest version for a document
// code. Used as the lenient-mode fallback for unknown version declarations.
func (t *Table) LookupLatest(code fiscal.DocCode) (*Schema, bool) {
	var versions []string
	for key := range t.schemas {
		if key.code == code {
			versions = append(versions, key.version)
		}
	}
	if len(versions) == 0 {
		return nil, false
	}

	sort.Strings(versions)
	return t.schemas[tableKey{code, versions[len(versions)-1]}], true
}

// Versions lists all versions the table knows, sorted.
func (t *Table) Versions() []string {
	seen := make(map[string]struct{})
	for key := range t.schemas {
		seen[key.version] = struct{}{}
	}

	versions := make([]string, 0, len(seen))
	for version := range seen {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions
}

// Len is the number of schemas in the table.
func (t *Table) Len() int {
	return len(t.schemas)
}
