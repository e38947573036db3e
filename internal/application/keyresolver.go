// Package application contains the gateway's use-case services: the
// multi-source market-data orchestrator, user key resolution, and the symbol
// directory sync loop.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
	"github.com/ericfisherdev/marketgate/internal/keypool"
)

// KeyResolver obtains a credential preferred over the shared pool for one
// user. Resolution degrades through five steps, each attempted only when the
// previous one yields nothing:
//
//  1. an active, unexpired credential on file for the user
//  2. a fresh key from the provider's signup flow (best effort)
//  3. the statically configured shared fallback key
//  4. the backup pool's least-used unblocked key
//  5. outside production, a generated placeholder key
type KeyResolver struct {
	store       driven.UserCredentialStore
	registrar   driven.KeyRegistrar
	fallbackKey string
	backup      *keypool.Pool
	provider    string
	production  bool
	now         func() time.Time
	logger      *slog.Logger
}

// KeyResolverOptions configures a KeyResolver. Every dependency is optional:
// a nil store skips step 1, a nil registrar step 2, and so on.
type KeyResolverOptions struct {
	Store       driven.UserCredentialStore
	Registrar   driven.KeyRegistrar
	FallbackKey string
	Backup      *keypool.Pool
	Production  bool
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewKeyResolver creates a KeyResolver for the given provider tag.
func NewKeyResolver(provider string, opts KeyResolverOptions) *KeyResolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &KeyResolver{
		store:       opts.Store,
		registrar:   opts.Registrar,
		fallbackKey: opts.FallbackKey,
		backup:      opts.Backup,
		provider:    provider,
		production:  opts.Production,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

// Resolve returns the key to use for userID, or "" when every step failed.
// A registration failure is never surfaced: the chain simply moves on.
func (r *KeyResolver) Resolve(ctx context.Context, userID string) string {
	if key := r.storedKey(ctx, userID); key != "" {
		return key
	}
	if key := r.registerKey(ctx, userID); key != "" {
		return key
	}
	if r.fallbackKey != "" {
		r.logger.Debug("using shared fallback key", "user", userID)
		return r.fallbackKey
	}
	if r.backup != nil {
		if key, ok := r.backup.LeastUsed(); ok {
			r.logger.Debug("using backup pool key", "user", userID, "key", key.ID)
			return key.Secret
		}
	}
	if !r.production {
		key := "dev-" + uuid.NewString()
		r.logger.Warn("issuing placeholder dev key, provider calls will fail upstream", "user", userID)
		return key
	}

	r.logger.Warn("no user-scoped key available", "user", userID, "provider", r.provider)
	return ""
}

func (r *KeyResolver) storedKey(ctx context.Context, userID string) string {
	if r.store == nil {
		return ""
	}
	cred, err := r.store.Get(ctx, userID, r.provider)
	if err != nil {
		r.logger.Warn("user credential lookup failed", "user", userID, "error", err)
		return ""
	}
	if cred == nil || !cred.Valid(r.now()) {
		return ""
	}
	return cred.Secret
}

// registerKey runs the signup flow and persists the new key for next time.
// The flow scrapes a public page and is expected to break; any error is soft.
func (r *KeyResolver) registerKey(ctx context.Context, userID string) string {
	if r.registrar == nil {
		return ""
	}
	key, err := r.registrar.RegisterKey(ctx)
	if err != nil {
		r.logger.Warn("key registration failed, falling through", "user", userID, "error", err)
		return ""
	}

	if r.store != nil {
		err := r.store.Put(ctx, model.UserCredential{
			UserID:   userID,
			Provider: r.provider,
			Secret:   key,
			Active:   true,
		})
		if err != nil {
			r.logger.Warn("persisting registered key failed", "user", userID, "error", err)
		}
	}
	return key
}
