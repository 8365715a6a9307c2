// Package identity answers the two permission questions the rating paths
// ask: may this user submit production ratings, and does this user hold a
// given administrative role. Authentication proper happens upstream; this
// package only resolves an already-verified subject against its user record.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/frothlab/froth/internal/adapters/docstore"
	"github.com/frothlab/froth/internal/domain/model"
)

// Claims is the permission-relevant slice of a user record.
type Claims struct {
	UID               string
	Role              model.Role
	CompletedTutorial bool
	Banned            bool
}

// IsQualifiedRater reports whether the subject may submit production
// ratings: tutorial completed and not banned.
func (c Claims) IsQualifiedRater() bool {
	return c.CompletedTutorial && !c.Banned
}

// roleRank orders roles by privilege; a role implies every lower one.
func roleRank(r model.Role) int {
	switch r {
	case model.RoleOwner:
		return 3
	case model.RoleAdmin:
		return 2
	case model.RoleAssistant:
		return 1
	default:
		return 0
	}
}

// HasRole reports whether the subject's role is at least the required one.
// Banned users hold no roles.
func (c Claims) HasRole(required model.Role) bool {
	if c.Banned {
		return false
	}
	need := roleRank(required)
	return need > 0 && roleRank(c.Role) >= need
}

// Verifier resolves a subject identifier to its claims.
type Verifier interface {
	Verify(ctx context.Context, uid string) (Claims, error)
}

// storeVerifier resolves claims from the users collection.
type storeVerifier struct {
	store docstore.Store
}

// NewVerifier creates a store-backed verifier.
func NewVerifier(store docstore.Store) Verifier {
	return &storeVerifier{store: store}
}

func (v *storeVerifier) Verify(ctx context.Context, uid string) (Claims, error) {
	if uid == "" {
		return Claims{}, ErrUnknownSubject
	}
	raw, _, err := v.store.Get(ctx, model.CollectionUsers, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Claims{}, fmt.Errorf("%w: %s", ErrUnknownSubject, uid)
		}
		return Claims{}, fmt.Errorf("read user: %w", err)
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return Claims{}, fmt.Errorf("decode user: %w", err)
	}
	return Claims{
		UID:               u.UID,
		Role:              u.Role,
		CompletedTutorial: u.CompletedTutorial,
		Banned:            u.Banned,
	}, nil
}
