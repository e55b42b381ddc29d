package auth

import "context"

// Authorizer responde si la llamada actual está autorizada por identity.
// El motor de acceso solo consume el booleano; cómo se prueba la identidad
// (token, firma, header de debug) queda del lado del adapter.
type Authorizer interface {
	IsAuthorized(ctx context.Context, identity string) bool
}

// AuthorizerFunc adapta una función a Authorizer.
type AuthorizerFunc func(ctx context.Context, identity string) bool

func (f AuthorizerFunc) IsAuthorized(ctx context.Context, identity string) bool {
	return f(ctx, identity)
}
