package authplugin

import (
	"context"

	"github.com/udisondev/shardrealm/internal/shardrealmerr"
)

// StaticValidator is the "static" auth.module: a fixed token->identity
// table, useful for local development and tests where no real account
// service is reachable.
type StaticValidator struct {
	tokens map[string]Identity
}

// NewStaticValidator builds a StaticValidator from a fixed token table.
func NewStaticValidator(tokens map[string]Identity) *StaticValidator {
	return &StaticValidator{tokens: tokens}
}

func (v *StaticValidator) Validate(ctx context.Context, token string) (Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return Identity{}, &shardrealmerr.AuthError{Reason: "unknown token"}
	}
	return id, nil
}
