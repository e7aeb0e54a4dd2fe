// Package ops implements the boundary operations shared by the CLI, the MCP
// server and the web dashboard. Each operation takes an Input struct and
// returns an Output struct or a *errors.GovernorError.
package ops

import stderrors "errors"

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies the list default and upper bound.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

var errNoDatabase = stderrors.New("database is not initialized")
