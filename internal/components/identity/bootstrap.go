package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// Bootstrap creates the owner account idempotently.
type Bootstrap struct {
	repo UserRepo
	auth *UserAuth
	log  *slog.Logger
}

func NewBootstrap(repo UserRepo, auth *UserAuth, log *slog.Logger) *Bootstrap {
	log = logutil.NoopIfNil(log)
	return &Bootstrap{repo: repo, auth: auth, log: log}
}

// EnsureOwner creates user OwnerID with ADMIN if it does not exist.
// An empty password is replaced by a generated one that is logged once.
// When the owner exists and rotate is set, its password is replaced.
func (b *Bootstrap) EnsureOwner(ctx context.Context, email, password string, rotate bool) (*User, error) {
	existing, err := b.repo.Get(ctx, OwnerID)
	if err == nil {
		if rotate && password != "" {
			hash, err := b.auth.HashPassword(password)
			if err != nil {
				return nil, err
			}
			existing.PasswordHash = hash
			if err := b.repo.Update(ctx, existing); err != nil {
				return nil, err
			}
			b.log.Info("owner password rotated", "email", existing.Email)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if email == "" {
		email = "admin@localhost"
	}
	generated := password == ""
	if generated {
		password = generatePassword()
	}
	hash, err := b.auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	owner := &User{
		ID:           OwnerID,
		Email:        email,
		DisplayName:  "Owner",
		PasswordHash: hash,
		Permissions:  permissions.Admin,
	}
	if err := b.repo.Create(ctx, owner); err != nil {
		return nil, err
	}

	if generated {
		b.log.Info("owner created with generated password", "email", owner.Email, "password", password)
	} else {
		b.log.Info("owner created", "email", owner.Email)
	}
	return owner, nil
}

func generatePassword() string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
