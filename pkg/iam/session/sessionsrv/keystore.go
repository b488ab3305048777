package sessionsrv

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/google/uuid"
)

// KeyStore resolves the signing key of a token from its kid. There is no
// service-wide secret: deleting the session row revokes the token.
type KeyStore struct {
	repo session.Repository
}

func NewKeyStore(repo session.Repository) *KeyStore {
	return &KeyStore{repo: repo}
}

// Lookup returns the session token whose ID equals kid. kid is the raw
// header value.
func (k *KeyStore) Lookup(ctx context.Context, kid interface{}) (*session.SessionToken, error) {
	id, ok := kid.(string)
	if !ok || id == "" {
		return nil, iam.ErrUnauthorized()
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, iam.ErrBadCredentials("malformed key id")
	}

	st, err := k.repo.FindByID(ctx, id)
	if err != nil {
		if errx.IsCode(err, session.CodeSessionNotFound) {
			return nil, iam.ErrUnauthorized()
		}
		return nil, err
	}
	return st, nil
}
