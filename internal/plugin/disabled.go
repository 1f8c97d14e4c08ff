package plugin

import (
	"log/slog"

	"github.com/gobwas/glob"
)

// compiledPattern holds a disable-list entry and its compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// DisabledSet answers whether a plugin name is disabled by configuration.
//
// Entries are exact names or glob patterns ('*' does not cross '-'
// segments, '**' matches anything). The set is read-mostly state built
// once at pipeline start; a malformed entry is logged and skipped rather
// than failing the run.
type DisabledSet struct {
	patterns []compiledPattern
}

// NewDisabledSet compiles a disable list. Invalid patterns degrade to
// being absent from the set.
func NewDisabledSet(entries []string, logger *slog.Logger) *DisabledSet {
	if logger == nil {
		logger = slog.Default()
	}

	s := &DisabledSet{}
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		g, err := glob.Compile(entry, '-')
		if err != nil {
			logger.Warn("malformed disabled-plugin pattern, skipping",
				"pattern", entry,
				"error", err,
			)
			continue
		}
		s.patterns = append(s.patterns, compiledPattern{pattern: entry, glob: g})
	}
	return s
}

// Contains reports whether name matches any disable-list entry.
func (s *DisabledSet) Contains(name string) bool {
	for _, p := range s.patterns {
		if p.glob.Match(name) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled entries.
func (s *DisabledSet) Len() int { return len(s.patterns) }
