package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/marketgate/internal/domain/model"
	"github.com/ericfisherdev/marketgate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserCredentialStore = (*UserCredentialRepo)(nil)

// UserCredentialRepo stores user-owned provider keys. Secrets are encrypted
// with AES-256-GCM before write and decrypted after read.
type UserCredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil disables the store.
}

// NewUserCredentialRepo creates a UserCredentialRepo. key must be 32 bytes,
// or nil to disable credential storage (operations return
// driven.ErrEncryptionKeyNotSet).
func NewUserCredentialRepo(db *DB, key []byte) *UserCredentialRepo {
	return &UserCredentialRepo{db: db, key: key}
}

// Get returns the credential on file for (userID, provider), or nil.
func (r *UserCredentialRepo) Get(ctx context.Context, userID, provider string) (*model.UserCredential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = `
		SELECT id, user_id, provider, secret, active, created_at, expires_at
		FROM user_credentials WHERE user_id = ? AND provider = ?`

	var cred model.UserCredential
	var encrypted, createdAt string
	var expiresAt sql.NullString
	err := r.db.Reader.QueryRowContext(ctx, query, userID, provider).Scan(
		&cred.ID, &cred.UserID, &cred.Provider, &encrypted, &cred.Active, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user credential %s/%s: %w", userID, provider, err)
	}

	cred.Secret, err = r.decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt user credential %s/%s: %w", userID, provider, err)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s/%s: %w", userID, provider, err)
	}
	if expiresAt.Valid && expiresAt.String != "" {
		if cred.ExpiresAt, err = parseTime(expiresAt.String); err != nil {
			return nil, fmt.Errorf("parse expires_at for %s/%s: %w", userID, provider, err)
		}
	}
	return &cred, nil
}

// Put stores or replaces the credential for (UserID, Provider). A missing ID
// is assigned.
func (r *UserCredentialRepo) Put(ctx context.Context, cred model.UserCredential) error {
	encrypted, err := r.encrypt(cred.Secret)
	if err != nil {
		return err
	}
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}

	var expiresAt any
	if !cred.ExpiresAt.IsZero() {
		expiresAt = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}

	const query = `
		INSERT INTO user_credentials (id, user_id, provider, secret, active, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			secret = excluded.secret,
			active = excluded.active,
			expires_at = excluded.expires_at`

	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.ID, cred.UserID, cred.Provider, encrypted, cred.Active, expiresAt)
	if err != nil {
		return fmt.Errorf("put user credential %s/%s: %w", cred.UserID, cred.Provider, err)
	}
	return nil
}

// Deactivate marks the credential inactive without discarding it.
func (r *UserCredentialRepo) Deactivate(ctx context.Context, userID, provider string) error {
	const query = `UPDATE user_credentials SET active = 0 WHERE user_id = ? AND provider = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, userID, provider); err != nil {
		return fmt.Errorf("deactivate user credential %s/%s: %w", userID, provider, err)
	}
	return nil
}

// encrypt seals plaintext with AES-256-GCM, returning base64(nonce || ciphertext || tag).
func (r *UserCredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt reverses encrypt.
func (r *UserCredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}
	return string(plaintext), nil
}
