package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bans provides CRUD and predicate queries for both ban kinds, plus the
// single-statement reconciliation that keeps the denormalized Account.Banned
// column truthful under concurrent mutation.
type Bans struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewBans wraps the database handle.
func NewBans(db *gorm.DB) *Bans {
	return &Bans{db: db, nowFn: time.Now}
}

// SetClock overrides the store clock for tests.
func (b *Bans) SetClock(nowFn func() time.Time) {
	if nowFn != nil {
		b.nowFn = nowFn
	}
}

// CreateAddressBan inserts an inclusive address-range ban. Bounds are the
// big-endian integer encodings produced by ipmath.
func (b *Bans) CreateAddressBan(ctx context.Context, from, to []byte, reason string) (*AddressBan, error) {
	ban := &AddressBan{
		ID:          uuid.New(),
		FromAddress: from,
		ToAddress:   to,
		Reason:      reason,
	}
	if err := b.db.WithContext(ctx).Create(ban).Error; err != nil {
		return nil, fmt.Errorf("create address ban: %w", err)
	}
	return ban, nil
}

// DeleteAddressBan removes an address-range ban outright.
func (b *Bans) DeleteAddressBan(ctx context.Context, id uuid.UUID) error {
	result := b.db.WithContext(ctx).Delete(&AddressBan{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete address ban: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBanNotFound
	}
	return nil
}

// ListAddressBans returns every address-range ban ordered by creation time.
func (b *Bans) ListAddressBans(ctx context.Context) ([]AddressBan, error) {
	var bans []AddressBan
	if err := b.db.WithContext(ctx).Order("created_at").Find(&bans).Error; err != nil {
		return nil, fmt.Errorf("list address bans: %w", err)
	}
	return bans, nil
}

// CreateAccountBan records a new ban for an account and flips the
// denormalized flag inside the same transaction.
func (b *Bans) CreateAccountBan(ctx context.Context, accountID uuid.UUID, reason string, issuedBy uuid.UUID, expiresAt *time.Time) (*AccountBan, error) {
	ban := &AccountBan{
		ID:        uuid.New(),
		AccountID: accountID,
		Reason:    reason,
		IssuedBy:  issuedBy,
		IssuedAt:  b.nowFn().UTC(),
		ExpiresAt: expiresAt,
		Active:    true,
	}
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if count == 0 {
			return ErrAccountNotFound
		}
		if err := tx.Create(ban).Error; err != nil {
			return fmt.Errorf("create account ban: %w", err)
		}
		return reconcileBannedFlag(tx, accountID, b.nowFn())
	})
	if err != nil {
		return nil, err
	}
	return ban, nil
}

// DeactivateAccountBan lifts a single ban, recording which admin lifted it
// and when, then re-evaluates whether any other qualifying ban keeps the
// account banned. The conditional update and the reconciliation both
// execute as single statements, so a concurrent sweep or ban creation
// cannot be lost.
func (b *Bans) DeactivateAccountBan(ctx context.Context, banID, actor uuid.UUID) (*AccountBan, error) {
	liftedAt := b.nowFn().UTC()
	var ban AccountBan
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&AccountBan{}).Where("id = ? AND active = ?", banID, true).Updates(map[string]any{
			"active":    false,
			"lifted_by": actor,
			"lifted_at": liftedAt,
		})
		if result.Error != nil {
			return fmt.Errorf("deactivate ban: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			loadErr := tx.First(&ban, "id = ?", banID).Error
			if errors.Is(loadErr, gorm.ErrRecordNotFound) {
				return ErrBanNotFound
			}
			if loadErr != nil {
				return fmt.Errorf("load ban: %w", loadErr)
			}
			return ErrBanInactive
		}
		if err := tx.First(&ban, "id = ?", banID).Error; err != nil {
			return fmt.Errorf("load ban: %w", err)
		}
		return reconcileBannedFlag(tx, ban.AccountID, b.nowFn())
	})
	if err != nil {
		return nil, err
	}
	return &ban, nil
}

// HasQualifyingBan reports whether the account has at least one active,
// unexpired ban.
func (b *Bans) HasQualifyingBan(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&AccountBan{}).
		Where("account_id = ? AND active = ?", accountID, true).
		Where("expires_at IS NULL OR expires_at > ?", b.nowFn().UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("qualifying ban query: %w", err)
	}
	return count > 0, nil
}

// ListAccountBans returns the full ban history for an account, newest first.
func (b *Bans) ListAccountBans(ctx context.Context, accountID uuid.UUID) ([]AccountBan, error) {
	var bans []AccountBan
	err := b.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("issued_at DESC").
		Find(&bans).Error
	if err != nil {
		return nil, fmt.Errorf("list account bans: %w", err)
	}
	return bans, nil
}

// DeactivateExpired batch-deactivates every active ban whose expiry has
// passed and reconciles each affected account. Idempotent: a second
// consecutive run finds nothing to deactivate and returns zero.
func (b *Bans) DeactivateExpired(ctx context.Context) (int64, error) {
	now := b.nowFn().UTC()
	var cleaned int64
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var accountIDs []uuid.UUID
		err := tx.Model(&AccountBan{}).
			Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
			Distinct().
			Pluck("account_id", &accountIDs).Error
		if err != nil {
			return fmt.Errorf("expired ban scan: %w", err)
		}
		if len(accountIDs) == 0 {
			return nil
		}
		result := tx.Model(&AccountBan{}).
			Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
			Update("active", false)
		if result.Error != nil {
			return fmt.Errorf("deactivate expired bans: %w", result.Error)
		}
		cleaned = result.RowsAffected
		for _, accountID := range accountIDs {
			if err := reconcileBannedFlag(tx, accountID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cleaned, nil
}

// ReconcileBannedFlag forces the denormalized flag to match the qualifying
// ban set for one account. Exposed for operator repair tooling; the ban
// mutations above already reconcile internally.
func (b *Bans) ReconcileBannedFlag(ctx context.Context, accountID uuid.UUID) error {
	return reconcileBannedFlag(b.db.WithContext(ctx), accountID, b.nowFn())
}

// reconcileBannedFlag is a single conditional UPDATE: the flag is computed
// from the ban table inside the statement, so interleaved deactivations and
// sweeps converge on the truth instead of racing read-decide-write pairs.
func reconcileBannedFlag(tx *gorm.DB, accountID uuid.UUID, now time.Time) error {
	err := tx.Exec(
		`UPDATE accounts SET banned = EXISTS (
			SELECT 1 FROM account_bans
			WHERE account_bans.account_id = accounts.id
			  AND account_bans.active = ?
			  AND (account_bans.expires_at IS NULL OR account_bans.expires_at > ?)
		) WHERE id = ?`,
		true, now.UTC(), accountID,
	).Error
	if err != nil {
		return fmt.Errorf("reconcile banned flag: %w", err)
	}
	return nil
}
