package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestBans(t *testing.T) (*Bans, *Accounts) {
	t.Helper()
	db, err := OpenTest()
	require.NoError(t, err)
	return NewBans(db), NewAccounts(db)
}

func seedAccount(t *testing.T, accounts *Accounts) *Account {
	t.Helper()
	account := &Account{Handle: "alice-" + uuid.NewString()[:8], Passkey: uuid.NewString()}
	require.NoError(t, accounts.Create(context.Background(), account))
	return account
}

func TestCreateAccountBanSetsFlag(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	_, err := bans.CreateAccountBan(ctx, account.ID, "ratio abuse", uuid.New(), nil)
	require.NoError(t, err)

	reloaded, err := accounts.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Banned)
}

func TestCreateAccountBanUnknownAccount(t *testing.T) {
	bans, _ := newTestBans(t)
	_, err := bans.CreateAccountBan(context.Background(), uuid.New(), "reason here", uuid.New(), nil)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDeactivateLastBanClearsFlag(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	ban, err := bans.CreateAccountBan(ctx, account.ID, "ratio abuse", uuid.New(), nil)
	require.NoError(t, err)

	_, err = bans.DeactivateAccountBan(ctx, ban.ID, uuid.New())
	require.NoError(t, err)

	reloaded, err := accounts.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, reloaded.Banned)
}

func TestDeactivateWithRemainingBanKeepsFlag(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	first, err := bans.CreateAccountBan(ctx, account.ID, "first offense", uuid.New(), nil)
	require.NoError(t, err)
	second, err := bans.CreateAccountBan(ctx, account.ID, "second offense", uuid.New(), nil)
	require.NoError(t, err)

	_, err = bans.DeactivateAccountBan(ctx, first.ID, uuid.New())
	require.NoError(t, err)
	reloaded, err := accounts.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Banned, "one qualifying ban remains")

	_, err = bans.DeactivateAccountBan(ctx, second.ID, uuid.New())
	require.NoError(t, err)
	reloaded, err = accounts.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, reloaded.Banned)
}

func TestDeactivateErrors(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	_, err := bans.DeactivateAccountBan(ctx, uuid.New(), uuid.New())
	require.ErrorIs(t, err, ErrBanNotFound)

	ban, err := bans.CreateAccountBan(ctx, account.ID, "ratio abuse", uuid.New(), nil)
	require.NoError(t, err)
	_, err = bans.DeactivateAccountBan(ctx, ban.ID, uuid.New())
	require.NoError(t, err)
	_, err = bans.DeactivateAccountBan(ctx, ban.ID, uuid.New())
	require.ErrorIs(t, err, ErrBanInactive)
}

func TestDeactivateRecordsLiftingAdmin(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	ban, err := bans.CreateAccountBan(ctx, account.ID, "ratio abuse", uuid.New(), nil)
	require.NoError(t, err)

	actor := uuid.New()
	lifted, err := bans.DeactivateAccountBan(ctx, ban.ID, actor)
	require.NoError(t, err)
	require.NotNil(t, lifted.LiftedBy)
	require.Equal(t, actor, *lifted.LiftedBy)
	require.NotNil(t, lifted.LiftedAt)

	history, err := bans.ListAccountBans(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].LiftedBy)
	require.Equal(t, actor, *history[0].LiftedBy)
}

func TestSweepLeavesLiftedByEmpty(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bans.SetClock(func() time.Time { return now })

	expiry := now.Add(time.Hour)
	_, err := bans.CreateAccountBan(ctx, account.ID, "temporary ban", uuid.New(), &expiry)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	cleaned, err := bans.DeactivateExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, cleaned)

	history, err := bans.ListAccountBans(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, history[0].Active)
	require.Nil(t, history[0].LiftedBy)
	require.Nil(t, history[0].LiftedAt)
}

func TestDeactivateExpiredIsIdempotent(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bans.SetClock(func() time.Time { return now })

	expiry := now.Add(time.Hour)
	_, err := bans.CreateAccountBan(ctx, account.ID, "temporary ban", uuid.New(), &expiry)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	cleaned, err := bans.DeactivateExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, cleaned)

	reloaded, err := accounts.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, reloaded.Banned)

	cleaned, err = bans.DeactivateExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, cleaned)
}

func TestExpiredBanDoesNotQualify(t *testing.T) {
	bans, accounts := newTestBans(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bans.SetClock(func() time.Time { return now })

	expiry := now.Add(time.Minute)
	_, err := bans.CreateAccountBan(ctx, account.ID, "short ban", uuid.New(), &expiry)
	require.NoError(t, err)

	banned, err := bans.HasQualifyingBan(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, banned)

	now = now.Add(2 * time.Minute)
	banned, err = bans.HasQualifyingBan(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, banned)
}

func TestAddressBanCRUD(t *testing.T) {
	bans, _ := newTestBans(t)
	ctx := context.Background()

	ban, err := bans.CreateAddressBan(ctx, []byte{192, 168, 1, 1}, []byte{192, 168, 1, 255}, "abuse range")
	require.NoError(t, err)

	listed, err := bans.ListAddressBans(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, ban.ID, listed[0].ID)

	require.NoError(t, bans.DeleteAddressBan(ctx, ban.ID))
	require.ErrorIs(t, bans.DeleteAddressBan(ctx, ban.ID), ErrBanNotFound)
}
