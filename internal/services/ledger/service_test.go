package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/repositories/repotest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(repo *repotest.FakeWalletRepository) Service {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewService(repo, logger, &NoopMetricsCollector{})
}

func seedStandardWallet(repo *repotest.FakeWalletRepository, userID uint, balance int64) *models.Wallet {
	return repo.Seed(models.Wallet{
		UserID:        userID,
		WalletType:    models.WalletTypeStandard,
		BalanceTokens: balance,
		IsActive:      true,
	})
}

func TestGrantTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("credits existing wallet and appends entry", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := seedStandardWallet(repo, 1, 5)
		svc := newTestService(repo)

		ok, err := svc.GrantTokens(ctx, 1, 10, models.EntryTypeAdminAdjustment, "manual top-up", nil)
		require.NoError(t, err)
		assert.True(t, ok)

		reloaded, err := repo.GetByID(w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(15), reloaded.BalanceTokens)

		entries := repo.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(10), entries[0].Amount)
		assert.Equal(t, models.EntryTypeAdminAdjustment, entries[0].Type)
		assert.Equal(t, w.ID, *entries[0].WalletID)
		assert.NotEmpty(t, entries[0].Reference)
	})

	t.Run("creates standard wallet lazily", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo)

		ok, err := svc.GrantTokens(ctx, 7, 3, models.EntryTypeTokenPurchase, "purchase", nil)
		require.NoError(t, err)
		assert.True(t, ok)

		w, err := repo.GetActiveByUserAndType(7, models.WalletTypeStandard)
		require.NoError(t, err)
		assert.Equal(t, int64(3), w.BalanceTokens)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo)

		ok, err := svc.GrantTokens(ctx, 1, 0, models.EntryTypeAdminAdjustment, "", nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.False(t, ok)

		ok, err = svc.GrantTokens(ctx, 1, -5, models.EntryTypeAdminAdjustment, "", nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.False(t, ok)
	})

	t.Run("stores metadata on the entry", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		seedStandardWallet(repo, 1, 0)
		svc := newTestService(repo)

		ok, err := svc.GrantTokens(ctx, 1, 2, models.EntryTypeTokenPurchase, "purchase",
			map[string]interface{}{"payment_intent": "pi_123"})
		require.NoError(t, err)
		assert.True(t, ok)

		entries := repo.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "pi_123", entries[0].Metadata["payment_intent"])
	})
}

func TestDeductTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("debits when balance suffices", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := seedStandardWallet(repo, 1, 5)
		svc := newTestService(repo)

		ok, err := svc.DeductTokens(ctx, 1, 5, models.EntryTypeProjectCreation, "project", nil)
		require.NoError(t, err)
		assert.True(t, ok)

		reloaded, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(0), reloaded.BalanceTokens)

		entries := repo.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(-5), entries[0].Amount)
	})

	t.Run("declines on insufficient balance without side effects", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := seedStandardWallet(repo, 1, 4)
		svc := newTestService(repo)

		ok, err := svc.DeductTokens(ctx, 1, 5, models.EntryTypeProjectCreation, "project", nil)
		require.NoError(t, err)
		assert.False(t, ok)

		reloaded, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(4), reloaded.BalanceTokens)
		assert.Empty(t, repo.Entries())
	})

	t.Run("declines when user has no wallet", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo)

		ok, err := svc.DeductTokens(ctx, 42, 1, models.EntryTypeProjectCreation, "project", nil)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, repo.Entries())
	})

	t.Run("rolls back balance change when entry insert fails", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := seedStandardWallet(repo, 1, 5)
		repo.EntryHook = func(*models.LedgerEntry) error { return errors.New("disk full") }
		svc := newTestService(repo)

		ok, err := svc.DeductTokens(ctx, 1, 2, models.EntryTypeProjectCreation, "project", nil)
		assert.Error(t, err)
		assert.False(t, ok)

		reloaded, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(5), reloaded.BalanceTokens)
		assert.Empty(t, repo.Entries())
	})
}

func TestConcurrentDeducts(t *testing.T) {
	// 25 workers race to deduct 1 token from a balance of 10. Exactly
	// 10 may succeed and the balance must land on zero, never below.
	repo := repotest.NewFakeWalletRepository()
	w := seedStandardWallet(repo, 1, 10)
	svc := newTestService(repo)

	const workers = 25
	results := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := svc.DeductTokens(context.Background(), 1, 1, models.EntryTypeProjectCreation, "race", nil)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(t, 10, succeeded)

	reloaded, _ := repo.GetByID(w.ID)
	assert.Equal(t, int64(0), reloaded.BalanceTokens)
	assert.Len(t, repo.Entries(), 10)
}

func TestResetWalletToAllotment(t *testing.T) {
	ctx := context.Background()

	t.Run("records the delta, not the allotment", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := seedStandardWallet(repo, 1, 2)
		svc := newTestService(repo)

		entry, err := svc.ResetWalletToAllotment(ctx, 1, 5, map[string]interface{}{"trigger": "test"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), entry.Amount)
		assert.Equal(t, models.EntryTypeDailyReset, entry.Type)

		reloaded, _ := repo.GetByID(w.ID)
		assert.Equal(t, int64(5), reloaded.BalanceTokens)
		require.NotNil(t, reloaded.LastTokenReset)
	})

	t.Run("negative delta when balance exceeds allotment", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		seedStandardWallet(repo, 1, 9)
		svc := newTestService(repo)

		entry, err := svc.ResetWalletToAllotment(ctx, 1, 5, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(-4), entry.Amount)
	})

	t.Run("zero delta still records an entry and advances the marker", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := seedStandardWallet(repo, 1, 5)
		svc := newTestService(repo)

		entry, err := svc.ResetWalletToAllotment(ctx, 1, 5, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), entry.Amount)

		reloaded, _ := repo.GetByID(w.ID)
		require.NotNil(t, reloaded.LastTokenReset)
	})

	t.Run("creates the wallet for a new user", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo)

		entry, err := svc.ResetWalletToAllotment(ctx, 3, 5, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), entry.Amount)

		w, err := repo.GetActiveByUserAndType(3, models.WalletTypeStandard)
		require.NoError(t, err)
		assert.Equal(t, int64(5), w.BalanceTokens)
	})

	t.Run("rejects negative allotment", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo)

		_, err := svc.ResetWalletToAllotment(ctx, 1, -1, nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestExpireWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("zeroes balance and deactivates", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		past := time.Now().Add(-time.Hour)
		w := repo.Seed(models.Wallet{
			UserID:        1,
			WalletType:    models.WalletTypeBonus,
			BalanceTokens: 7,
			IsActive:      true,
			ExpiresAt:     &past,
		})
		svc := newTestService(repo)

		entry, err := svc.ExpireWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(-7), entry.Amount)
		assert.Equal(t, models.EntryTypeWalletExpiry, entry.Type)

		reloaded, _ := repo.GetByID(w.ID)
		assert.False(t, reloaded.IsActive)
		assert.Equal(t, int64(0), reloaded.BalanceTokens)
	})

	t.Run("fails on already inactive wallet", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		w := repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeBonus})
		svc := newTestService(repo)

		_, err := svc.ExpireWallet(ctx, w.ID)
		assert.ErrorIs(t, err, ErrWalletInactive)
	})

	t.Run("fails on unknown wallet", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		svc := newTestService(repo)

		_, err := svc.ExpireWallet(ctx, 99)
		assert.ErrorIs(t, err, ErrWalletNotFound)
	})
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewFakeWalletRepository()
	w := seedStandardWallet(repo, 1, 0)
	svc := newTestService(repo)

	// Drive the balance exclusively through the ledger; the replayed
	// sum must equal the live balance after any sequence of operations.
	_, err := svc.ResetWalletToAllotment(ctx, 1, 5, nil)
	require.NoError(t, err)
	ok, err := svc.DeductTokens(ctx, 1, 5, models.EntryTypeProjectCreation, "project", nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.GrantTokens(ctx, 1, 100, models.EntryTypeTokenPurchase, "purchase", nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.DeductTokens(ctx, 1, 200, models.EntryTypeProjectCreation, "too big", nil)
	require.NoError(t, err)
	require.False(t, ok)

	report, err := svc.Reconcile(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(100), report.BalanceTokens)
	assert.Equal(t, report.BalanceTokens, report.LedgerSum)
}

func TestGetTransactionHistory(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewFakeWalletRepository()
	seedStandardWallet(repo, 1, 0)
	svc := newTestService(repo)

	for i := 0; i < 5; i++ {
		ok, err := svc.GrantTokens(ctx, 1, int64(i+1), models.EntryTypeAdminAdjustment, "batch", nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	t.Run("newest first", func(t *testing.T) {
		entries, err := svc.GetTransactionHistory(ctx, 1, 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		assert.Equal(t, int64(5), entries[0].Amount)
		assert.Equal(t, int64(1), entries[4].Amount)
	})

	t.Run("limit and offset", func(t *testing.T) {
		entries, err := svc.GetTransactionHistory(ctx, 1, 2, 1)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(4), entries[0].Amount)
		assert.Equal(t, int64(3), entries[1].Amount)
	})

	t.Run("other users excluded", func(t *testing.T) {
		entries, err := svc.GetTransactionHistory(ctx, 2, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestFindTransactionByMetadata(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewFakeWalletRepository()
	seedStandardWallet(repo, 1, 0)
	svc := newTestService(repo)

	ok, err := svc.GrantTokens(ctx, 1, 25, models.EntryTypeTokenPurchase, "purchase",
		map[string]interface{}{"payment_intent": "pi_abc"})
	require.NoError(t, err)
	require.True(t, ok)

	entry, err := svc.FindTransactionByMetadata(ctx, models.EntryTypeTokenPurchase, "payment_intent", "pi_abc")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(25), entry.Amount)

	entry, err = svc.FindTransactionByMetadata(ctx, models.EntryTypeTokenPurchase, "payment_intent", "pi_missing")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Type must match, not just the metadata.
	entry, err = svc.FindTransactionByMetadata(ctx, models.EntryTypeAdminAdjustment, "payment_intent", "pi_abc")
	require.NoError(t, err)
	assert.Nil(t, entry)
}
