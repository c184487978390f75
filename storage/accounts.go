package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by the persistent stores.
var (
	ErrAccountNotFound = errors.New("storage: account not found")
	ErrBanNotFound     = errors.New("storage: ban not found")
	ErrBanInactive     = errors.New("storage: ban already inactive")
)

// Accounts provides identity lookups against the accounts table.
type Accounts struct {
	db *gorm.DB
}

// NewAccounts wraps the database handle.
func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// FindByID loads an account by its identifier.
func (a *Accounts) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var account Account
	err := a.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account %s: %w", id, err)
	}
	return &account, nil
}

// FindByHandle loads an account by its login handle.
func (a *Accounts) FindByHandle(ctx context.Context, handle string) (*Account, error) {
	trimmed := strings.TrimSpace(handle)
	if trimmed == "" {
		return nil, ErrAccountNotFound
	}
	var account Account
	err := a.db.WithContext(ctx).First(&account, "handle = ?", trimmed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account by handle: %w", err)
	}
	return &account, nil
}

// FindByPasskey loads an account by its announce passkey.
func (a *Accounts) FindByPasskey(ctx context.Context, passkey string) (*Account, error) {
	trimmed := strings.TrimSpace(passkey)
	if trimmed == "" {
		return nil, ErrAccountNotFound
	}
	var account Account
	err := a.db.WithContext(ctx).First(&account, "passkey = ?", trimmed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account by passkey: %w", err)
	}
	return &account, nil
}

// Create inserts a new account. Used by fixtures and the operator tooling;
// registration itself is outside the admission core.
func (a *Accounts) Create(ctx context.Context, account *Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Role == "" {
		account.Role = RoleMember
	}
	if err := a.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Torrents answers the admission pipeline's resource-existence check.
type Torrents struct {
	db *gorm.DB
}

// NewTorrents wraps the database handle.
func NewTorrents(db *gorm.DB) *Torrents {
	return &Torrents{db: db}
}

// Exists reports whether a torrent with the given info-hash is known.
func (t *Torrents) Exists(ctx context.Context, infoHash string) (bool, error) {
	trimmed := strings.TrimSpace(infoHash)
	if trimmed == "" {
		return false, nil
	}
	var count int64
	err := t.db.WithContext(ctx).Model(&Torrent{}).Where("info_hash = ?", trimmed).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("torrent existence: %w", err)
	}
	return count > 0, nil
}

// Create inserts a torrent record. Fixture and tooling helper.
func (t *Torrents) Create(ctx context.Context, torrent *Torrent) error {
	if torrent.ID == uuid.Nil {
		torrent.ID = uuid.New()
	}
	if err := t.db.WithContext(ctx).Create(torrent).Error; err != nil {
		return fmt.Errorf("create torrent: %w", err)
	}
	return nil
}
