package auth

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPolicy = errors.New("auth: invalid signature policy")

// Policy governs how a failed ServerHello signature check is treated.
type Policy string

const (
	PolicyOff     Policy = "OFF"
	PolicyLogOnly Policy = "LOG_ONLY"
	PolicyEnforce Policy = "ENFORCE"
)

// ParsePolicy accepts any case and surrounding whitespace. LOG-ONLY is an
// alias of LOG_ONLY.
func ParsePolicy(raw string) (Policy, error) {
	p := strings.ToUpper(strings.TrimSpace(raw))
	p = strings.ReplaceAll(p, "-", "_")
	switch Policy(p) {
	case PolicyOff, PolicyLogOnly, PolicyEnforce:
		return Policy(p), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// NormalizePolicy returns the canonical form of p, falling back to LOG_ONLY
// for blank or unknown values.
func NormalizePolicy(p Policy) Policy {
	parsed, err := ParsePolicy(string(p))
	if err != nil {
		return PolicyLogOnly
	}
	return parsed
}

func (p Policy) String() string {
	return string(p)
}
