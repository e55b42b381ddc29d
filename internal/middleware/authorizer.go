package middleware

import (
	"context"
	"strings"

	"clinical-access-control/internal/ports/auth"
)

// ClaimsAuthorizer considera autorizada una identidad solo si coincide
// con el UserID de las claims verificadas del request.
type ClaimsAuthorizer struct{}

var _ auth.Authorizer = ClaimsAuthorizer{}

func (ClaimsAuthorizer) IsAuthorized(ctx context.Context, identity string) bool {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}
	return CallerID(ctx) == identity
}
