package core

import "github.com/google/uuid"

// NewRunID returns a fresh identifier for one application run. It names
// frame dump directories and tags log lines.
func NewRunID() string {
	return uuid.NewString()
}
