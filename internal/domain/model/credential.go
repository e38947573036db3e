package model

import "time"

// CredentialScope distinguishes shared pool members from user-owned keys.
type CredentialScope string

const (
	ScopeShared CredentialScope = "shared"
	ScopeUser   CredentialScope = "user"
)

// Credential is one provider access key together with its in-process usage
// and block state. Shared credentials are created at startup from config and
// live until process exit; usage counters are deliberately not durable.
type Credential struct {
	ID             string
	Provider       string
	Secret         string
	Scope          CredentialScope
	RequestsUsed   int64
	DailyRequests  int64
	LastRequest    time.Time
	LastDailyReset time.Time
	Blocked        bool
	BlockedUntil   time.Time
}

// ClearExpiredBlock lifts the block once its window has passed. Returns true
// if the credential is still blocked at now.
func (c *Credential) ClearExpiredBlock(now time.Time) bool {
	if c.Blocked && !now.Before(c.BlockedUntil) {
		c.Blocked = false
		c.BlockedUntil = time.Time{}
	}
	return c.Blocked
}

// ResetDailyIfDue zeroes the daily counter once per rolling 24h window
// measured from the last reset. Never resets twice within one window.
func (c *Credential) ResetDailyIfDue(now time.Time) {
	if now.Sub(c.LastDailyReset) >= 24*time.Hour {
		c.DailyRequests = 0
		c.LastDailyReset = now
	}
}

// Block marks the credential unselectable until now+window.
func (c *Credential) Block(now time.Time, window time.Duration) {
	c.Blocked = true
	c.BlockedUntil = now.Add(window)
}

// MarkUsed records one dispatched call.
func (c *Credential) MarkUsed(now time.Time) {
	c.RequestsUsed++
	c.DailyRequests++
	c.LastRequest = now
}

// UserCredential is a user-owned provider key persisted by the sqlite
// adapter. The secret is stored encrypted at rest; the model always carries
// plaintext.
type UserCredential struct {
	ID        string
	UserID    string
	Provider  string
	Secret    string
	Active    bool
	CreatedAt time.Time
	ExpiresAt time.Time // Zero means no expiry.
}

// Valid reports whether the credential is active and unexpired at now.
func (c UserCredential) Valid(now time.Time) bool {
	if !c.Active || c.Secret == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}
