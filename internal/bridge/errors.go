package bridge

import "errors"

var (
	// ErrUnbalancedQuotes indicates a launch command with an unterminated
	// double-quoted section.
	ErrUnbalancedQuotes = errors.New("unbalanced quotes in command line")

	// ErrProjectOutsideRoot indicates a project query parameter that
	// resolves outside the configured projects root.
	ErrProjectOutsideRoot = errors.New("project path escapes projects root")

	// ErrNoProjectsRoot indicates a project was requested but no projects
	// root is configured.
	ErrNoProjectsRoot = errors.New("projects root not configured")
)
