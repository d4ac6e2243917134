// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/ofdgate/ofdgate/pkg/fiscal"
)

// tomlSchema describes one schema definition file.
type tomlSchema struct {
	Code    uint8
	Version string
	Strict  bool
	Rules   []string
	Field   []tomlField
}

// tomlField describes one field contract within a schema file.
type tomlField struct {
	Tag        uint16
	Required   bool
	Repeatable bool
	Field      []tomlField
}

func parseFields(fields []tomlField) (specs []FieldSpec, err error) {
	for _, f := range fields {
		tagSpec, ok := fiscal.LookupTag(fiscal.Tag(f.Tag))
		if !ok {
			return nil, fmt.Errorf("tag %d is not part of the tag dictionary", f.Tag)
		}

		spec := FieldSpec{
			Tag:        tagSpec.Tag,
			Name:       tagSpec.Name,
			Kind:       tagSpec.Kind,
			Required:   f.Required,
			Repeatable: f.Repeatable,
		}

		if len(f.Field) > 0 {
			if tagSpec.Kind != fiscal.KindSTLV {
				return nil, fmt.Errorf("tag %d declares nested fields but is no STLV", f.Tag)
			}
			if spec.Nested, err = parseFields(f.Field); err != nil {
				return nil, err
			}
		}

		specs = append(specs, spec)
	}
	return
}

// LoadFile parses a single TOML schema definition.
func LoadFile(filename string) (*Schema, error) {
	var def tomlSchema
	if _, err := toml.DecodeFile(filename, &def); err != nil {
		return nil, err
	}

	code := fiscal.DocCode(def.Code)
	if !code.Known() {
		return nil, fmt.Errorf("%s: unknown document code %d", filename, def.Code)
	}
	if def.Version == "" {
		return nil, fmt.Errorf("%s: missing version", filename)
	}

	fields, err := parseFields(def.Field)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	return &Schema{
		Code:    code,
		Version: def.Version,
		Strict:  def.Strict,
		Fields:  fields,
		Rules:   def.Rules,
	}, nil
}

// LoadDir reads every .toml schema definition under dir and layers it over
// the base table; a file's (code, version) pair replaces the built-in one.
// The table is rebuilt, keeping the immutability of the inputs.
func LoadDir(base *Table, dir string) (*Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	overlay := make(map[tableKey]*Schema)
	var loadErr *multierror.Error

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		s, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			loadErr = multierror.Append(loadErr, err)
			continue
		}
		overlay[tableKey{s.Code, s.Version}] = s
	}

	if err := loadErr.ErrorOrNil(); err != nil {
		return nil, err
	}

	merged := make(map[tableKey]*Schema, base.Len())
	for key, s := range base.schemas {
		merged[key] = s
	}
	for key, s := range overlay {
		merged[key] = s
	}

	return &Table{schemas: merged}, nil
}
