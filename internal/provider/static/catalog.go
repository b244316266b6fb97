// Package static implements an in-memory provider backed by a fixture
// catalog. Workspace manifests can embed a catalog inline for demos and
// tests, or point the "static" driver at a standalone catalog file.
package static

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/electwix/db-navigator/internal/meta"
)

// Catalog is the declarative fixture a static provider serves.
type Catalog struct {
	// Connected simulates the datasource's live-connection state. The
	// default (nil) means connected.
	Connected *bool `yaml:"connected,omitempty"`

	Server      string   `yaml:"server,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Schemas     []Schema `yaml:"schemas"`
}

// Schema is one schema with its tables and views.
type Schema struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Tables      []Table `yaml:"tables,omitempty"`
	Views       []Table `yaml:"views,omitempty"`
}

// Table describes a table or view. Views carry columns but never keys.
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Columns     []Column `yaml:"columns,omitempty"`
	Keys        []Key    `yaml:"keys,omitempty"`
}

// Column describes one column of a table or view.
type Column struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type,omitempty"`
	Nullable    bool   `yaml:"nullable,omitempty"`
	Default     string `yaml:"default,omitempty"`
	Identity    string `yaml:"identity,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Key describes a primary or unique key constraint.
type Key struct {
	Name    string   `yaml:"name"`
	Unique  bool     `yaml:"unique,omitempty"`
	Columns []string `yaml:"columns"`
}

// Load reads a catalog file. Unknown fields are rejected so typos in
// fixtures fail loudly.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := strictUnmarshal(data, &cat); err != nil {
		return nil, err
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func strictUnmarshal(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that every named object is usable as a node identity.
func (c *Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Schemas))
	for _, s := range c.Schemas {
		if s.Name == "" {
			return fmt.Errorf("catalog schema with empty name")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate schema %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if err := validateRelations(s.Name, s.Tables, true); err != nil {
			return err
		}
		if err := validateRelations(s.Name, s.Views, false); err != nil {
			return err
		}
	}
	return nil
}

func validateRelations(schema string, rels []Table, keysAllowed bool) error {
	for _, r := range rels {
		if r.Name == "" {
			return fmt.Errorf("schema %q: relation with empty name", schema)
		}
		if !keysAllowed && len(r.Keys) > 0 {
			return fmt.Errorf("schema %q: view %q must not declare keys", schema, r.Name)
		}
		for _, c := range r.Columns {
			if c.Name == "" {
				return fmt.Errorf("relation %q: column with empty name", r.Name)
			}
		}
		for _, k := range r.Keys {
			if k.Name == "" {
				return fmt.Errorf("relation %q: key with empty name", r.Name)
			}
			if len(k.Columns) == 0 {
				return fmt.Errorf("key %q: empty column list", k.Name)
			}
		}
	}
	return nil
}

// IsConnected resolves the simulated connection state.
func (c *Catalog) IsConnected() bool {
	return c.Connected == nil || *c.Connected
}

func columnRecord(pos int, c Column) meta.Record {
	attrs := meta.AttributeSet{
		{Name: meta.AttrType, Value: c.Type},
		{Name: meta.AttrDataKind, Value: meta.ClassifyType(c.Type).String()},
		{Name: meta.AttrNullable, Value: strconv.FormatBool(c.Nullable)},
		{Name: meta.AttrPosition, Value: strconv.Itoa(pos)},
	}
	if c.Default != "" {
		attrs = attrs.With(meta.AttrDefault, c.Default)
	}
	if c.Identity != "" {
		attrs = attrs.With(meta.AttrIdentity, c.Identity)
	}
	if c.Description != "" {
		attrs = attrs.With(meta.AttrDescription, c.Description)
	}
	return meta.Record{ID: c.Name, Kind: meta.KindColumn, Attrs: attrs}
}

func keyRecord(k Key) meta.Record {
	return meta.Record{
		ID:   k.Name,
		Kind: meta.KindKey,
		Attrs: meta.AttributeSet{
			{Name: meta.AttrColumns, Value: meta.JoinColumns(k.Columns)},
			{Name: meta.AttrUnique, Value: strconv.FormatBool(k.Unique)},
		},
	}
}
