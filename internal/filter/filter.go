// Package filter implements gitignore-style include/exclude pattern
// matching on top of a compiled glob set: a leading "/" anchors a
// pattern to the root, a leading "!" negates an earlier match, and a
// trailing "/" restricts a pattern to directories.
package filter

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/snapback/snapback/internal/errors"
)

type pattern struct {
	g        glob.Glob
	negate   bool
	anchored bool
	dirOnly  bool
}

// Set is a compiled, ordered collection of gitignore-style patterns.
type Set struct {
	patterns []pattern
}

// Compile compiles a list of gitignore-form patterns into a Set.
func Compile(patterns []string) (*Set, error) {
	s := &Set{}
	for _, raw := range patterns {
		p := raw
		if p == "" {
			continue
		}

		pt := pattern{}
		if strings.HasPrefix(p, "!") {
			pt.negate = true
			p = p[1:]
		}
		if strings.HasPrefix(p, "/") {
			pt.anchored = true
			p = p[1:]
		}
		if strings.HasSuffix(p, "/") {
			pt.dirOnly = true
			p = strings.TrimSuffix(p, "/")
		}
		if p == "" {
			continue
		}

		// An unanchored pattern with no further slash matches at any
		// depth, gitignore-style; compile it so it can match either
		// the full relative path or just its basename.
		globPattern := p
		if !pt.anchored && !strings.Contains(p, "/") {
			globPattern = "**/" + p
		}

		g, err := glob.Compile(globPattern, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "compile pattern %q", raw)
		}
		pt.g = g
		s.patterns = append(s.patterns, pt)
	}
	return s, nil
}

// Match reports whether relPath (POSIX-form, relative to the scan
// root) is matched by the pattern set. Later patterns override earlier
// ones, matching gitignore's last-match-wins semantics; a negated
// pattern re-includes a path an earlier pattern excluded.
func (s *Set) Match(relPath string, isDir bool) bool {
	if s == nil {
		return false
	}

	matched := false
	for _, p := range s.patterns {
		if p.dirOnly && !isDir {
			continue
		}

		candidate := relPath
		if !p.anchored {
			candidate = "/" + relPath
		}

		if p.g.Match(candidate) || p.g.Match(relPath) {
			matched = !p.negate
		}
	}
	return matched
}

// MatchAny compiles patterns and reports whether relPath, taken as a
// non-directory, is matched; used for the skip-missing pattern set.
func MatchAny(patterns []string, relPath string) (bool, error) {
	s, err := Compile(patterns)
	if err != nil {
		return false, err
	}
	return s.Match(relPath, false), nil
}
