// Package filter decides which cached nodes a view shows. Everything
// here is a pure read over already-populated data: evaluating a filter
// never fetches, never invalidates, and never mutates the tree.
package filter

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// maskLexer tokenizes filter mask lists such as
//
//	emp*, -*_audit 'odd name'
var maskLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		//nolint:govet // Participle DSL uses unkeyed fields
		{"Whitespace", `[ \t]+`, nil},
		//nolint:govet // Participle DSL uses unkeyed fields
		{"String", `'[^']*'`, nil},
		//nolint:govet // Participle DSL uses unkeyed fields
		{"Comma", `,`, nil},
		//nolint:govet // Participle DSL uses unkeyed fields
		{"Not", `-`, nil},
		//nolint:govet // Participle DSL uses unkeyed fields
		{"Mask", `[^\s,'-][^\s,]*`, nil},
	},
})

// maskList is a comma or whitespace separated list of masks.
//
//nolint:govet // Participle struct tags are DSL, not reflect tags
type maskList struct {
	Masks []*maskTerm `(@@ (","? @@)*)?`
}

// maskTerm is one mask, optionally negated, optionally quoted.
//
//nolint:govet // Participle struct tags are DSL, not reflect tags
type maskTerm struct {
	Exclude bool   `@"-"?`
	Quoted  string `( @String`
	Plain   string `| @Mask )`
}

var maskParser = participle.MustBuild[maskList](
	participle.Lexer(maskLexer),
	participle.Elide("Whitespace"),
)

// Matcher evaluates a compiled mask list against object labels.
//
// Each mask may use "*" and "?" wildcards; a mask without wildcards
// matches as a case-insensitive substring, which is what incremental
// search expects. Masks prefixed with "-" exclude; exclusions always
// win. A list with only exclusions includes everything else.
type Matcher struct {
	raw      string
	includes []string
	excludes []string
}

// Compile parses a mask list. An empty or blank source compiles to a
// nil matcher, which matches everything.
func Compile(src string) (*Matcher, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}

	ast, err := maskParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("invalid filter pattern %q: %w", src, err)
	}

	m := &Matcher{raw: src}
	for _, term := range ast.Masks {
		text := term.Plain
		if term.Quoted != "" {
			text = strings.Trim(term.Quoted, "'")
		}
		text = strings.ToLower(text)
		if text == "" {
			continue
		}
		if term.Exclude {
			m.excludes = append(m.excludes, text)
		} else {
			m.includes = append(m.includes, text)
		}
	}
	return m, nil
}

// Match reports whether a label passes the mask list. A nil matcher
// passes everything.
func (m *Matcher) Match(label string) bool {
	if m == nil {
		return true
	}
	name := strings.ToLower(label)
	for _, mask := range m.excludes {
		if maskMatch(mask, name) {
			return false
		}
	}
	if len(m.includes) == 0 {
		return true
	}
	for _, mask := range m.includes {
		if maskMatch(mask, name) {
			return true
		}
	}
	return false
}

// String returns the source the matcher was compiled from.
func (m *Matcher) String() string {
	if m == nil {
		return ""
	}
	return m.raw
}

func maskMatch(mask, name string) bool {
	if !strings.ContainsAny(mask, "*?") {
		return strings.Contains(name, mask)
	}
	return globMatch(mask, name)
}

// globMatch is a backtracking wildcard match over lowercased text.
func globMatch(pattern, s string) bool {
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
