// Package glob matches slash-separated paths against patterns where `*`
// stays within one segment and a `**` segment spans any number of
// segments, including none.
package glob

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Pattern is a compiled path pattern. The zero value matches nothing.
type Pattern struct {
	raw  string
	segs []string
}

// Compile normalizes and validates a pattern.
func Compile(pattern string) (Pattern, error) {
	normalized := Normalize(pattern)
	if normalized == "." {
		return Pattern{}, fmt.Errorf("empty pattern: %q", pattern)
	}

	segs := strings.Split(normalized, "/")
	for _, seg := range segs {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return Pattern{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	return Pattern{raw: normalized, segs: segs}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(pattern string) Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// CompileAll compiles a list of patterns, reporting every invalid one.
func CompileAll(patterns []string) ([]Pattern, error) {
	compiled := make([]Pattern, 0, len(patterns))
	var bad []string
	for _, raw := range patterns {
		p, err := Compile(raw)
		if err != nil {
			bad = append(bad, err.Error())
			continue
		}
		compiled = append(compiled, p)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(bad, "; "))
	}
	return compiled, nil
}

// String returns the normalized pattern.
func (p Pattern) String() string {
	return p.raw
}

// HasSlash reports whether the pattern names more than one segment.
func (p Pattern) HasSlash() bool {
	return len(p.segs) > 1
}

// Match reports whether a relative path matches. The path is normalized
// first, so "a/b/", "./a/b" and "a/x/../b" are equivalent.
func (p Pattern) Match(name string) bool {
	if len(p.segs) == 0 {
		return false
	}
	return matchSegments(p.segs, strings.Split(Normalize(name), "/"))
}

// Normalize converts a path to clean forward-slash form without a leading
// "./" or trailing slash. The empty path normalizes to ".".
func Normalize(name string) string {
	name = filepath.ToSlash(strings.TrimSpace(name))
	if name == "" {
		return "."
	}
	return path.Clean(name)
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for len(rest) > 0 && rest[0] == "**" {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}

		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}
