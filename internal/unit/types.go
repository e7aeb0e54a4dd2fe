package unit

import "strings"

type alias int

const (
	aliasNone alias = iota
	aliasSystem
	aliasError
)

var typeAliases = map[string]struct {
	t Type
	a alias
}{
	"file":          {TypeFile, aliasNone},
	"code":          {TypeFile, aliasNone},
	"message":       {TypeMessage, aliasNone},
	"history":       {TypeMessage, aliasNone},
	"tool_result":   {TypeToolResult, aliasNone},
	"tool_output":   {TypeToolResult, aliasNone},
	"error":         {TypeToolResult, aliasError},
	"traceback":     {TypeToolResult, aliasError},
	"stack_trace":   {TypeToolResult, aliasError},
	"exception":     {TypeToolResult, aliasError},
	"diff":          {TypeDiff, aliasNone},
	"changes":       {TypeDiff, aliasNone},
	"documentation": {TypeDocumentation, aliasNone},
	"docs":          {TypeDocumentation, aliasNone},
	"reference":     {TypeDocumentation, aliasNone},
	"other":         {TypeOther, aliasNone},
	"system":        {TypeOther, aliasSystem},
	"instruction":   {TypeOther, aliasSystem},
}

// resolveType maps a caller type string, including aliases, to a canonical
// Type. known is false when the string was not recognized.
func resolveType(s string) (t Type, a alias, known bool) {
	e, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return TypeOther, aliasNone, false
	}
	return e.t, e.a, true
}

// ParseType resolves s to a canonical Type, ignoring alias side effects.
func ParseType(s string) (Type, bool) {
	t, _, ok := resolveType(s)
	return t, ok
}
