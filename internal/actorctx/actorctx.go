// Package actorctx carries the authenticated caller through a
// context.Context so services below the HTTP layer can see who is acting.
package actorctx

import (
	"context"

	"github.com/dairyops/dairyhub/internal/domain/user"
)

type ctxKey struct{}

type Identity struct {
	UserID string
	Email  string
	Role   user.Role
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}

func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.UserID, ok
}
