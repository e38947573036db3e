package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by UserCredentialStore implementations
// when no encryption key was configured, so credentials cannot be stored or
// read.
var ErrEncryptionKeyNotSet = errors.New("encryption key not set")

// UserCredentialStore defines the driven port for user-owned provider keys,
// encrypted at rest.
type UserCredentialStore interface {
	// Get returns the credential on file for (userID, provider), or nil if
	// none exists. Inactive credentials are returned and filtered by the
	// caller, so resolution logging can distinguish "none" from "revoked".
	Get(ctx context.Context, userID, provider string) (*model.UserCredential, error)
	Put(ctx context.Context, cred model.UserCredential) error
	Deactivate(ctx context.Context, userID, provider string) error
}
