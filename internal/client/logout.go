package client

import (
	"context"
	"fmt"
)

// Logout ends the session at the user's request. The validator is stopped
// before the token is cleared, so no warning or redirect follows. v may be nil
// when nothing is watching the session.
func Logout(ctx context.Context, v *Validator, storage Storage, identity IdentityClient) error {
	if v != nil {
		v.Stop()
	}

	st, err := storage.Load()
	if err != nil {
		return fmt.Errorf("failed to load local session: %w", err)
	}
	if err := storage.ClearSession(); err != nil {
		return fmt.Errorf("failed to clear local session: %w", err)
	}
	if st.AccessToken == "" || identity == nil {
		return nil
	}
	if err := identity.SignOut(ctx, st.AccessToken); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}
