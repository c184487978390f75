// Package storage owns the persistent records enforced by the admission
// core: accounts, torrents, and both ban kinds. PostgreSQL backs production;
// the sqlite driver backs tests and small deployments.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// Account stores a registered user of the sharing service. The Banned column
// is denormalized from the account_bans table and is reconciled inside every
// ban-mutating operation so the hot admission path can trust it without a
// join.
type Account struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Handle       string    `gorm:"uniqueIndex;size:64"`
	PasswordHash string    `gorm:"size:128"`
	Passkey      string    `gorm:"uniqueIndex;size:64"`
	Role         string    `gorm:"size:32;index"`
	Banned       bool      `gorm:"not null;default:false;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Torrent is the minimal resource record consulted by the admission
// pipeline's existence check. Metadata and search live elsewhere.
type Torrent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	InfoHash  string    `gorm:"uniqueIndex;size:64"`
	CreatedAt time.Time
}

// AddressBan blocks an inclusive range of network addresses. Bounds are the
// 16-byte big-endian integer forms produced by ipmath so IPv4 and IPv6
// ranges share one representation. Address bans never expire on their own.
type AddressBan struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	FromAddress []byte    `gorm:"not null"`
	ToAddress   []byte    `gorm:"not null"`
	Reason      string    `gorm:"size:500"`
	CreatedAt   time.Time
}

// AccountBan is one entry in an account's ban history. Rows are never
// deleted; lifting a ban flips Active to false. An account is currently
// banned when at least one row is active and unexpired. LiftedBy and
// LiftedAt record the explicit unban; both stay NULL when the expiry
// sweeper deactivated the ban.
type AccountBan struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;index;not null"`
	Reason    string    `gorm:"size:500;not null"`
	IssuedBy  uuid.UUID `gorm:"type:uuid"`
	IssuedAt  time.Time `gorm:"not null"`
	ExpiresAt *time.Time
	Active    bool `gorm:"not null;default:true;index"`
	LiftedBy  *uuid.UUID `gorm:"type:uuid"`
	LiftedAt  *time.Time
	UpdatedAt time.Time
}
