// Package experiment assigns sessions to A/B variants and aggregates recorded
// sessions into claim-gated savings reports.
package experiment

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	gerrors "github.com/hpungsan/governor/internal/errors"
)

// Variant is an experiment arm.
type Variant string

const (
	Control   Variant = "control"
	Optimized Variant = "optimized"
)

// Auto requests deterministic assignment.
const Auto = "auto"

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case Control, Optimized:
		return v, nil
	}
	return "", gerrors.NewInvalidConfig("variant", "unknown variant "+s)
}

// Assign maps (experimentID, key) to a variant. The first four bytes of
// sha256("experimentID:key"), big-endian, decide: even is control.
func Assign(experimentID, key string) Variant {
	sum := sha256.Sum256([]byte(experimentID + ":" + key))
	if binary.BigEndian.Uint32(sum[:4])%2 == 0 {
		return Control
	}
	return Optimized
}

// ResolveVariant decides the variant for a plan run. Without an experiment
// every session is optimized. An explicit variant is honored. auto (or empty)
// assigns deterministically and needs a key.
func ResolveVariant(experimentID, requested, key string) (Variant, error) {
	if strings.TrimSpace(experimentID) == "" {
		return Optimized, nil
	}
	req := strings.ToLower(strings.TrimSpace(requested))
	if req == "" || req == Auto {
		if strings.TrimSpace(key) == "" {
			return "", gerrors.NewInvalidConfig("assignment_key", "required for automatic variant assignment")
		}
		return Assign(experimentID, key), nil
	}
	return ParseVariant(req)
}
