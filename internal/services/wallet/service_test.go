package wallet

import (
	"context"
	"testing"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/repositories/repotest"
	"sitegen/internal/services/ledger"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(repo *repotest.FakeWalletRepository, cfg Config) Service {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	ledgerSvc := ledger.NewService(repo, logger, &ledger.NoopMetricsCollector{})
	return NewService(repo, ledgerSvc, cfg, logger)
}

func TestCreateWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("creates wallet with initial grant through the ledger", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo, Config{})

		w, err := svc.CreateWallet(ctx, 1, models.WalletTypeBonus, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(10), w.BalanceTokens)
		assert.True(t, w.IsActive)

		entries := repo.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, models.EntryTypeInitialGrant, entries[0].Type)
		assert.Equal(t, int64(10), entries[0].Amount)
		assert.Equal(t, w.ID, *entries[0].WalletID)
	})

	t.Run("zero initial tokens writes no entry", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo, Config{})

		w, err := svc.CreateWallet(ctx, 1, models.WalletTypeStandard, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), w.BalanceTokens)
		assert.Empty(t, repo.Entries())
	})

	t.Run("rejects a second active wallet of the same type", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo, Config{})

		_, err := svc.CreateWallet(ctx, 1, models.WalletTypeBonus, 5, nil)
		require.NoError(t, err)

		_, err = svc.CreateWallet(ctx, 1, models.WalletTypeBonus, 5, nil)
		assert.ErrorIs(t, err, ErrWalletAlreadyActive)
	})

	t.Run("allows different types for the same user", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo, Config{})

		_, err := svc.CreateWallet(ctx, 1, models.WalletTypeStandard, 0, nil)
		require.NoError(t, err)
		_, err = svc.CreateWallet(ctx, 1, models.WalletTypePromotional, 5, nil)
		require.NoError(t, err)
	})

	t.Run("rejects invalid type and negative grant", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo, Config{})

		_, err := svc.CreateWallet(ctx, 1, models.WalletType("GOLD"), 0, nil)
		assert.ErrorIs(t, err, ErrInvalidWalletType)

		_, err = svc.CreateWallet(ctx, 1, models.WalletTypeStandard, -1, nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestGetUserTokenSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("sums active wallets across types", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeStandard, BalanceTokens: 3, IsActive: true})
		repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeBonus, BalanceTokens: 2, IsActive: true})
		svc := newTestService(repo, Config{DailyAllotment: 5, RequiredProjectTokens: 5})

		summary, err := svc.GetUserTokenSummary(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(5), summary.TotalBalance)
		assert.Equal(t, int64(5), summary.RequiredTokens)
		assert.True(t, summary.CanCreateProject)
		assert.Len(t, summary.Wallets, 2)
	})

	t.Run("user without wallets gets a zero summary", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo, Config{})

		summary, err := svc.GetUserTokenSummary(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.TotalBalance)
		assert.False(t, summary.CanCreateProject)
		assert.Empty(t, summary.Wallets)
	})

	t.Run("expired wallets are excluded", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		past := time.Now().Add(-time.Hour)
		repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeStandard, BalanceTokens: 4, IsActive: true})
		repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeBonus, BalanceTokens: 50, IsActive: true, ExpiresAt: &past})
		svc := newTestService(repo, Config{RequiredProjectTokens: 5})

		summary, err := svc.GetUserTokenSummary(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(4), summary.TotalBalance)
		assert.False(t, summary.CanCreateProject)
		assert.Len(t, summary.Wallets, 1)
	})
}

func TestResetDailyTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("restores existing wallet to the allotment", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeStandard, BalanceTokens: 1, IsActive: true})
		svc := newTestService(repo, Config{DailyAllotment: 5})

		err := svc.ResetDailyTokens(ctx, 1, map[string]interface{}{"trigger": "test"})
		require.NoError(t, err)

		reloaded, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(5), reloaded.BalanceTokens)
		require.NotNil(t, reloaded.LastTokenReset)

		entries := repo.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(4), entries[0].Amount)
		assert.Equal(t, "test", entries[0].Metadata["trigger"])
	})

	t.Run("creates a wallet for a user who never had one", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo, Config{DailyAllotment: 5})

		err := svc.ResetDailyTokens(ctx, 2, nil)
		require.NoError(t, err)

		w, err := repo.GetActiveByUserAndType(2, models.WalletTypeStandard)
		require.NoError(t, err)
		assert.Equal(t, int64(5), w.BalanceTokens)
	})
}

func TestDeactivateExpired(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewFakeWalletRepository()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	expired1 := repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeBonus, BalanceTokens: 3, IsActive: true, ExpiresAt: &past})
	expired2 := repo.Seed(models.Wallet{UserID: 2, WalletType: models.WalletTypePromotional, BalanceTokens: 8, IsActive: true, ExpiresAt: &past})
	alive := repo.Seed(models.Wallet{UserID: 3, WalletType: models.WalletTypeBonus, BalanceTokens: 1, IsActive: true, ExpiresAt: &future})
	svc := newTestService(repo, Config{})

	count, err := svc.DeactivateExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []uint{expired1.ID, expired2.ID} {
		w, _ := repo.GetByID(id)
		assert.False(t, w.IsActive)
		assert.Equal(t, int64(0), w.BalanceTokens)
	}
	w, _ := repo.GetByID(alive.ID)
	assert.True(t, w.IsActive)
	assert.Equal(t, int64(1), w.BalanceTokens)

	entries := repo.Entries()
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.EntryTypeWalletExpiry, e.Type)
	}
}
