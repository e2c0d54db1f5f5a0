package export

import (
	"fmt"

	"github.com/gobwas/glob"
)

// CategoryFilter selects rows by category using glob patterns
type CategoryFilter struct {
	globs []glob.Glob
}

// NewCategoryFilter compiles the patterns. Empty patterns match everything.
func NewCategoryFilter(patterns []string) (*CategoryFilter, error) {
	f := &CategoryFilter{globs: make([]glob.Glob, 0, len(patterns))}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid category pattern %q: %w", pattern, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// Match returns true if the category should be exported
func (f *CategoryFilter) Match(category string) bool {
	if f == nil || len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(category) {
			return true
		}
	}
	return false
}

// Apply returns the rows that match, reusing rows' backing array
func (f *CategoryFilter) Apply(rows []Row) []Row {
	if f == nil || len(f.globs) == 0 {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if f.Match(r.Category) {
			out = append(out, r)
		}
	}
	return out
}
