package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cipherchat/dm-app/internal/auth"
)

// AccountStore resolves display handles to identities. Signup, login, and
// profile management live with the HTTP collaborator; the relay only needs
// the handle-to-identity lookup.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates an account store backed by the given database handle.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// ResolveByHandle looks up the identity for a username. Unknown handles
// yield ErrNotFound.
func (s *AccountStore) ResolveByHandle(ctx context.Context, handle string) (auth.Identity, error) {
	const query = `SELECT id, username FROM users WHERE username = $1`

	var identity auth.Identity
	err := s.db.QueryRowContext(ctx, query, handle).Scan(&identity.ID, &identity.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("store: resolve handle: %w", err)
	}
	return identity, nil
}
