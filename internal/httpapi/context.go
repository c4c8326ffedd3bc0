// Package httpapi exposes the Zann HTTP API of spec.md §6 over chi.
package httpapi

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/zann-project/zann/internal/access"
)

type ctxKey string

const principalKey ctxKey = "zann.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the authenticated caller from context.
func PrincipalFromCtx(ctx context.Context) (access.Principal, bool) {
	v := ctx.Value(principalKey)
	if v == nil {
		return access.Principal{}, false
	}
	p, ok := v.(access.Principal)
	return p, ok
}

// userIDOrNil is a small convenience for handlers that only need the human
// user id and can treat "no principal" as uuid.Nil.
func userIDOrNil(ctx context.Context) uuid.UUID {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return uuid.Nil
	}
	return p.UserID
}
