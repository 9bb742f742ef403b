package topology

import (
	"fmt"
	"strings"
)

// ParseError reports a topology document that could not be decoded at all.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse topology %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports declarations that decoded fine but cannot be
// satisfied: dangling depends_on edges, undeclared volume references,
// malformed port or duration values. All problems are collected before
// the loader gives up, so one run surfaces everything.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid topology %s: %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("invalid topology %s:\n  - %s", e.Source, strings.Join(e.Problems, "\n  - "))
}
