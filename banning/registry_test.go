package banning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"swarmgate/kvstore"
	"swarmgate/storage"
)

type flakyStore struct {
	Store
	failList bool
}

func (f *flakyStore) ListAddressBans(ctx context.Context) ([]storage.AddressBan, error) {
	if f.failList {
		return nil, errors.New("store unreachable")
	}
	return f.Store.ListAddressBans(ctx)
}

func newTestRegistry(t *testing.T) (*Registry, *flakyStore, *storage.Accounts) {
	t.Helper()
	db, err := storage.OpenTest()
	require.NoError(t, err)
	store := &flakyStore{Store: storage.NewBans(db)}
	registry := NewRegistry(store, kvstore.NewMemoryStore(), Config{
		AddressRefreshInterval: time.Minute,
		AccountCacheTTL:        30 * time.Second,
	}, nil)
	return registry, store, storage.NewAccounts(db)
}

func seedAccount(t *testing.T, accounts *storage.Accounts) *storage.Account {
	t.Helper()
	account := &storage.Account{Handle: "bob-" + uuid.NewString()[:8], Passkey: uuid.NewString()}
	require.NoError(t, accounts.Create(context.Background(), account))
	return account
}

func TestAddressRangeScenario(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	// 192.168.1.1-192.168.1.255 is [3232235777, 3232236031].
	_, err := registry.BanAddressRange(ctx, "192.168.1.1", "192.168.1.255", "abusive subnet")
	require.NoError(t, err)

	banned, err := registry.IsAddressBanned(ctx, "192.168.1.100")
	require.NoError(t, err)
	require.True(t, banned)

	banned, err = registry.IsAddressBanned(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestAddressRangeInclusiveBounds(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.BanAddressRange(ctx, "192.168.1.1", "192.168.1.255", "abusive subnet")
	require.NoError(t, err)

	for address, want := range map[string]bool{
		"192.168.1.0":   false, // one below the lower bound
		"192.168.1.1":   true,
		"192.168.1.255": true,
		"192.168.2.0":   false, // one above the upper bound
	} {
		banned, err := registry.IsAddressBanned(ctx, address)
		require.NoError(t, err)
		require.Equal(t, want, banned, "address %s", address)
	}
}

func TestMappedV6FormMatchesV4Range(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.BanAddressRange(ctx, "192.168.1.1", "192.168.1.255", "abusive subnet")
	require.NoError(t, err)

	banned, err := registry.IsAddressBanned(ctx, "::ffff:192.168.1.100")
	require.NoError(t, err)
	require.True(t, banned)
}

func TestMalformedAddressFailsOpen(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.BanAddressRange(ctx, "0.0.0.0", "255.255.255.255", "everything banned")
	require.NoError(t, err)

	banned, err := registry.IsAddressBanned(ctx, "not-an-address")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestSnapshotSurvivesStoreOutage(t *testing.T) {
	registry, store, _ := newTestRegistry(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registry.SetClock(func() time.Time { return now })

	_, err := registry.BanAddressRange(ctx, "192.168.1.1", "192.168.1.255", "abusive subnet")
	require.NoError(t, err)
	banned, err := registry.IsAddressBanned(ctx, "192.168.1.9")
	require.NoError(t, err)
	require.True(t, banned)

	// Stale snapshot plus unreachable store: serve the last known ranges.
	store.failList = true
	now = now.Add(2 * time.Minute)
	banned, err = registry.IsAddressBanned(ctx, "192.168.1.9")
	require.NoError(t, err)
	require.True(t, banned)
}

func TestColdRegistryStoreOutageFailsClosed(t *testing.T) {
	registry, store, _ := newTestRegistry(t)
	store.failList = true

	_, err := registry.IsAddressBanned(context.Background(), "192.168.1.9")
	require.Error(t, err)
}

func TestUnbanAddressRangeTakesEffectImmediately(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	ban, err := registry.BanAddressRange(ctx, "10.0.0.0", "10.0.0.255", "test range")
	require.NoError(t, err)
	banned, err := registry.IsAddressBanned(ctx, "10.0.0.7")
	require.NoError(t, err)
	require.True(t, banned)

	require.NoError(t, registry.UnbanAddressRange(ctx, ban.ID))
	banned, err = registry.IsAddressBanned(ctx, "10.0.0.7")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBanAddressRangeValidation(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.BanAddressRange(ctx, "10.0.0.9", "10.0.0.1", "inverted")
	require.ErrorIs(t, err, ErrRangeInverted)

	_, err = registry.BanAddressRange(ctx, "bogus", "10.0.0.1", "unparseable")
	require.Error(t, err)
}

func TestAccountBanCascade(t *testing.T) {
	registry, _, accounts := newTestRegistry(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	first, err := registry.BanAccount(ctx, account.ID, "first offense", uuid.New(), nil)
	require.NoError(t, err)
	second, err := registry.BanAccount(ctx, account.ID, "second offense", uuid.New(), nil)
	require.NoError(t, err)

	banned, err := registry.IsAccountBanned(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, banned)

	_, err = registry.DeactivateBan(ctx, first.ID, uuid.Nil)
	require.NoError(t, err)
	banned, err = registry.IsAccountBanned(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, banned, "second ban still qualifies")

	_, err = registry.DeactivateBan(ctx, second.ID, uuid.Nil)
	require.NoError(t, err)
	banned, err = registry.IsAccountBanned(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBanAccountValidation(t *testing.T) {
	registry, _, accounts := newTestRegistry(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	_, err := registry.BanAccount(ctx, account.ID, "why", uuid.New(), nil)
	require.ErrorIs(t, err, ErrReasonLength)

	_, err = registry.BanAccount(ctx, uuid.New(), "valid reason", uuid.New(), nil)
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestReasonBoundsCountCharactersNotBytes(t *testing.T) {
	registry, _, accounts := newTestRegistry(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	// Three characters, nine bytes: still below the minimum.
	_, err := registry.BanAccount(ctx, account.ID, "驱逐出", uuid.New(), nil)
	require.ErrorIs(t, err, ErrReasonLength)

	// Five characters, fifteen bytes: meets the minimum.
	_, err = registry.BanAccount(ctx, account.ID, "滥用上传额", uuid.New(), nil)
	require.NoError(t, err)

	_, err = registry.BanAddressRange(ctx, "10.0.0.1", "10.0.0.9", "длнн")
	require.ErrorIs(t, err, ErrReasonLength)

	_, err = registry.BanAddressRange(ctx, "10.0.0.1", "10.0.0.9", "прокси")
	require.NoError(t, err)
}

func TestSweepExpiredThroughRegistry(t *testing.T) {
	registry, store, accounts := newTestRegistry(t)
	ctx := context.Background()
	account := seedAccount(t, accounts)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bans := store.Store.(*storage.Bans)
	bans.SetClock(func() time.Time { return now })

	expiry := now.Add(time.Hour)
	_, err := registry.BanAccount(ctx, account.ID, "temporary ban", uuid.New(), &expiry)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	cleaned, err := registry.SweepExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, cleaned)

	cleaned, err = registry.SweepExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, cleaned)
}
