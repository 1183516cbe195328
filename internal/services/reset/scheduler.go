// Package reset decides when the daily token reset is due and drives
// the bulk reset across all users. The scheduler holds no state of its
// own: "due" is derived by comparing each STANDARD wallet's
// LastTokenReset against the most recent reset boundary (local
// midnight in the configured timezone). Running the bulk reset twice
// in the same period is a no-op the second time, which makes it safe
// to trigger redundantly from a cron job and an admin call at once.
package reset

import (
	"context"
	"fmt"
	"time"

	"sitegen/internal/repositories"
	"sitegen/internal/services/wallet"

	"github.com/sirupsen/logrus"
)

const lockKey = "billing:daily-reset:lock"

// Locker is a best-effort advisory lock; the Redis cache implements
// it. Correctness never depends on the lock, only on per-wallet
// LastTokenReset advancing past the boundary.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Result reports the outcome of a bulk reset run.
type Result struct {
	Success    bool   `json:"success"`
	ResetCount int    `json:"reset_count"`
	FailCount  int    `json:"fail_count"`
	Message    string `json:"message"`
}

type Service interface {
	ShouldResetTokens(ctx context.Context) (bool, error)
	ResetAllUsersTokens(ctx context.Context) (*Result, error)
}

type service struct {
	repo    repositories.WalletRepository
	wallets wallet.Service
	loc     *time.Location
	locker  Locker
	logger  *logrus.Logger
	now     func() time.Time
}

// NewService creates a reset scheduler. loc is the IANA timezone the
// reset boundary is computed in; locker may be nil.
func NewService(repo repositories.WalletRepository, wallets wallet.Service, loc *time.Location, locker Locker, logger *logrus.Logger) Service {
	if repo == nil {
		panic("repo is required")
	}
	if wallets == nil {
		panic("wallet service is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &service{
		repo:    repo,
		wallets: wallets,
		loc:     loc,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
	}
}

// boundary returns the most recent local midnight in the configured
// timezone. A wallet whose LastTokenReset is before this instant is
// stale and due for a reset.
func (s *service) boundary() time.Time {
	local := s.now().In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

func (s *service) ShouldResetTokens(ctx context.Context) (bool, error) {
	count, err := s.repo.CountStaleStandardWallets(s.boundary())
	if err != nil {
		return false, fmt.Errorf("failed to check reset status: %w", err)
	}
	return count > 0, nil
}

// ResetAllUsersTokens resets every stale STANDARD wallet. Users are
// processed independently; individual failures are counted, never
// raised, so a bad row cannot abort the batch.
func (s *service) ResetAllUsersTokens(ctx context.Context) (*Result, error) {
	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, lockKey, 5*time.Minute)
		if err != nil {
			s.logger.WithError(err).Warn("reset lock unavailable, proceeding without it")
		} else if !acquired {
			return &Result{Success: true, Message: "reset already in progress"}, nil
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(ctx, lockKey); err != nil {
					s.logger.WithError(err).Warn("failed to release reset lock")
				}
			}()
		}
	}

	stale, err := s.repo.ListStaleStandardWallets(s.boundary())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale wallets: %w", err)
	}

	result := &Result{Success: true}
	for _, w := range stale {
		meta := map[string]interface{}{"trigger": "bulk_daily_reset"}
		if err := s.wallets.ResetDailyTokens(ctx, w.UserID, meta); err != nil {
			s.logger.WithFields(logrus.Fields{
				"user_id":   w.UserID,
				"wallet_id": w.ID,
			}).WithError(err).Error("daily reset failed for user")
			result.FailCount++
			continue
		}
		result.ResetCount++
	}

	if result.FailCount > 0 {
		result.Message = fmt.Sprintf("reset %d wallets, %d failed", result.ResetCount, result.FailCount)
	} else {
		result.Message = fmt.Sprintf("reset %d wallets", result.ResetCount)
	}
	s.logger.WithFields(logrus.Fields{
		"reset_count": result.ResetCount,
		"fail_count":  result.FailCount,
	}).Info("bulk daily reset finished")

	return result, nil
}
