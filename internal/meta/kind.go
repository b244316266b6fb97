// Package meta defines the object model shared by the navigator core:
// node kinds with their capabilities, hierarchical object paths, raw
// records returned by fetch providers, and attribute sets.
package meta

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a node in the metadata tree.
type Kind string

const (
	// KindRoot is the single synthetic root above all projects.
	KindRoot Kind = "root"
	// KindProject groups the datasources and folders of one workspace project.
	KindProject Kind = "project"
	// KindFolder is a user-defined grouping folder inside a project.
	KindFolder Kind = "folder"
	// KindDataSource is a registered database connection.
	KindDataSource Kind = "datasource"
	// KindSchema is a database schema (or catalog for engines without schemas).
	KindSchema Kind = "schema"
	// KindTable is a base table.
	KindTable Kind = "table"
	// KindView is a view; views never participate in key constraints.
	KindView Kind = "view"
	// KindGroup is a fixed grouping container under a table, such as
	// its column list or its key constraints.
	KindGroup Kind = "group"
	// KindColumn is a single table or view column.
	KindColumn Kind = "column"
	// KindKey is a primary or unique key constraint.
	KindKey Kind = "key"
)

// Group node identifiers used beneath tables and views.
const (
	GroupColumns = "columns"
	GroupKeys    = "keys"
)

// Caps describes what operations a node kind supports.
type Caps struct {
	// Container reports whether children may be fetched for the kind.
	Container bool
	// AutoExpand reports whether bounded expansion walks descend into
	// the kind without an explicit target. Datasources are containers
	// but are never auto-expanded: populating one may open a network
	// connection.
	AutoExpand bool
}

var kindCaps = map[Kind]Caps{
	KindRoot:       {Container: true, AutoExpand: true},
	KindProject:    {Container: true, AutoExpand: true},
	KindFolder:     {Container: true, AutoExpand: true},
	KindDataSource: {Container: true},
	KindSchema:     {Container: true},
	KindTable:      {Container: true},
	KindView:       {Container: true},
	KindGroup:      {Container: true},
	KindColumn:     {},
	KindKey:        {},
}

// CapsOf returns the capability flags for a kind. Unknown kinds have
// no capabilities.
func CapsOf(k Kind) Caps {
	return kindCaps[k]
}

// Known reports whether k is one of the declared node kinds.
func Known(k Kind) bool {
	_, ok := kindCaps[k]
	return ok
}

// ParseKind validates a kind name from configuration or a manifest.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !Known(k) {
		return "", fmt.Errorf("unknown node kind %q", s)
	}
	return k, nil
}

// KindSet is a set of node kinds.
type KindSet map[Kind]struct{}

// NewKindSet builds a set from the given kinds.
func NewKindSet(kinds ...Kind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// ParseKindSet builds a set from kind names, rejecting unknown names.
func ParseKindSet(names []string) (KindSet, error) {
	s := make(KindSet, len(names))
	for _, name := range names {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		s[k] = struct{}{}
	}
	return s, nil
}

// Has reports whether k is in the set. A nil set contains nothing.
func (s KindSet) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}

// Names returns the sorted kind names, for diagnostics and tests.
func (s KindSet) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
