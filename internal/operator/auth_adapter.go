package operator

import (
	"context"

	"github.com/peagelabs/peage/internal/auth"
)

// AuthAdapter adapts operator.Store to the auth.SessionLookup interface.
type AuthAdapter struct {
	store *Store
}

// NewAuthAdapter creates a new AuthAdapter wrapping the given store.
func NewAuthAdapter(store *Store) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// LookupSession resolves a session token to an auth.Operator.
func (a *AuthAdapter) LookupSession(ctx context.Context, token string) (*auth.Operator, error) {
	op, err := a.store.LookupSession(ctx, token)
	if err != nil || op == nil {
		return nil, err
	}
	return &auth.Operator{
		ID:    op.ID,
		Email: op.Email,
		Name:  op.Name,
	}, nil
}
