package config

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultValidators are the named header predicates every binary ships with:
//
//	present  any non-blank value
//	bearer   "Bearer <token>" with a non-empty token
//	uuid     a UUID in any of the textual forms google/uuid accepts
func DefaultValidators() Validators {
	return Validators{
		"present": func(v string) bool { return strings.TrimSpace(v) != "" },
		"bearer":  isBearer,
		"uuid": func(v string) bool {
			_, err := uuid.Parse(strings.TrimSpace(v))
			return err == nil
		},
	}
}

// Merge returns a registry holding v plus extra; extra wins on name clashes.
func (v Validators) Merge(extra Validators) Validators {
	out := make(Validators, len(v)+len(extra))
	for name, fn := range v {
		out[name] = fn
	}
	for name, fn := range extra {
		out[name] = fn
	}
	return out
}

func isBearer(v string) bool {
	scheme, token, ok := strings.Cut(strings.TrimSpace(v), " ")
	return ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != ""
}
