package reset

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/repositories/repotest"
	"sitegen/internal/services/ledger"
	"sitegen/internal/services/wallet"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, repo *repotest.FakeWalletRepository, locker Locker, now time.Time) *service {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	ledgerSvc := ledger.NewService(repo, logger, &ledger.NoopMetricsCollector{})
	walletSvc := wallet.NewService(repo, ledgerSvc, wallet.Config{DailyAllotment: 5}, logger)
	svc := NewService(repo, walletSvc, loc, locker, logger).(*service)
	svc.now = func() time.Time { return now }
	return svc
}

// 10:00 local on 2026-03-15 in Asia/Bangkok (UTC+7).
var testNow = time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)

func seedStandard(repo *repotest.FakeWalletRepository, userID uint, balance int64, lastReset *time.Time) *models.Wallet {
	return repo.Seed(models.Wallet{
		UserID:         userID,
		WalletType:     models.WalletTypeStandard,
		BalanceTokens:  balance,
		IsActive:       true,
		LastTokenReset: lastReset,
	})
}

func TestShouldResetTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("due when a wallet was last reset yesterday", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		yesterday := testNow.Add(-24 * time.Hour)
		seedStandard(repo, 1, 0, &yesterday)
		svc := newTestService(t, repo, nil, testNow)

		due, err := svc.ShouldResetTokens(ctx)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("due when a wallet was never reset", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		seedStandard(repo, 1, 0, nil)
		svc := newTestService(t, repo, nil, testNow)

		due, err := svc.ShouldResetTokens(ctx)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("not due when reset after the local midnight boundary", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		// 01:00 local, after midnight Bangkok but before midnight UTC.
		thisMorning := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
		seedStandard(repo, 1, 5, &thisMorning)
		svc := newTestService(t, repo, nil, testNow)

		due, err := svc.ShouldResetTokens(ctx)
		require.NoError(t, err)
		assert.False(t, due)
	})

	t.Run("bonus wallets never make a reset due", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		repo.Seed(models.Wallet{UserID: 1, WalletType: models.WalletTypeBonus, BalanceTokens: 2, IsActive: true})
		svc := newTestService(t, repo, nil, testNow)

		due, err := svc.ShouldResetTokens(ctx)
		require.NoError(t, err)
		assert.False(t, due)
	})
}

func TestResetAllUsersTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("resets every stale wallet and is idempotent", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		yesterday := testNow.Add(-24 * time.Hour)
		w1 := seedStandard(repo, 1, 0, &yesterday)
		w2 := seedStandard(repo, 2, 3, nil)
		svc := newTestService(t, repo, nil, testNow)

		result, err := svc.ResetAllUsersTokens(ctx)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.ResetCount)
		assert.Equal(t, 0, result.FailCount)

		for _, id := range []uint{w1.ID, w2.ID} {
			w, _ := repo.GetByID(id)
			assert.Equal(t, int64(5), w.BalanceTokens)
			require.NotNil(t, w.LastTokenReset)
		}

		// Second run in the same period finds nothing to do.
		result, err = svc.ResetAllUsersTokens(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.ResetCount)
		assert.Len(t, repo.Entries(), 2)
	})

	t.Run("a failing user does not abort the batch", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		seedStandard(repo, 1, 0, nil)
		seedStandard(repo, 2, 0, nil)
		seedStandard(repo, 3, 0, nil)
		repo.EntryHook = func(e *models.LedgerEntry) error {
			if e.UserID == 2 {
				return errors.New("storage hiccup")
			}
			return nil
		}
		svc := newTestService(t, repo, nil, testNow)

		result, err := svc.ResetAllUsersTokens(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, result.ResetCount)
		assert.Equal(t, 1, result.FailCount)

		// The failed user stays stale and is retried next run.
		repo.EntryHook = nil
		result, err = svc.ResetAllUsersTokens(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ResetCount)
		assert.Equal(t, 0, result.FailCount)
	})
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) AcquireLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	l.acquired++
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, _ string) error {
	l.released++
	l.held = false
	return nil
}

func TestResetAdvisoryLock(t *testing.T) {
	ctx := context.Background()

	t.Run("skips the run when another holder has the lock", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		seedStandard(repo, 1, 0, nil)
		locker := &fakeLocker{held: true}
		svc := newTestService(t, repo, locker, testNow)

		result, err := svc.ResetAllUsersTokens(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.ResetCount)
		assert.Empty(t, repo.Entries())
	})

	t.Run("acquires and releases around a run", func(t *testing.T) {
		repo := repotest.NewFakeWalletRepository()
		seedStandard(repo, 1, 0, nil)
		locker := &fakeLocker{}
		svc := newTestService(t, repo, locker, testNow)

		result, err := svc.ResetAllUsersTokens(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ResetCount)
		assert.Equal(t, 1, locker.acquired)
		assert.Equal(t, 1, locker.released)
		assert.False(t, locker.held)
	})
}
