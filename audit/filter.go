package audit

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters audit events using a glob pattern matched against
// "OPERATION:client" (e.g. "DELETE:proxy", "*:admin")
type GlobFilter struct {
	pattern glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// An empty pattern matches everything.
func NewGlobFilter(pattern string) (*GlobFilter, error) {
	if pattern == "" {
		return &GlobFilter{}, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid sink filter %q: %w", pattern, err)
	}

	return &GlobFilter{pattern: g}, nil
}

// Match returns true if the operation and client match the configured pattern
func (f *GlobFilter) Match(operation, client string) bool {
	if f.pattern == nil {
		return true
	}
	return f.pattern.Match(operation + ":" + client)
}
