// Package wallet orchestrates wallet lifecycle: creation, summary
// aggregation across wallet types, daily-reset mutation and expiry.
// Balance mutations are delegated to the ledger service so the audit
// trail stays reconciled; this package never writes a balance itself.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/repositories"
	"sitegen/internal/services/ledger"

	"github.com/sirupsen/logrus"
)

type Service interface {
	CreateWallet(ctx context.Context, userID uint, walletType models.WalletType, initialTokens int64, expiresAt *time.Time) (*models.Wallet, error)
	GetUserTokenSummary(ctx context.Context, userID uint) (*TokenSummary, error)
	ResetDailyTokens(ctx context.Context, userID uint, metadata map[string]interface{}) error
	DeactivateExpired(ctx context.Context) (int, error)
}

type service struct {
	repo   repositories.WalletRepository
	ledger ledger.Service
	config Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewService creates a new wallet service
func NewService(repo repositories.WalletRepository, ledgerService ledger.Service, config Config, logger *logrus.Logger) Service {
	if repo == nil {
		panic("repo is required")
	}
	if ledgerService == nil {
		panic("ledger service is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.DailyAllotment == 0 {
		config.DailyAllotment = DefaultDailyAllotment
	}
	if config.RequiredProjectTokens == 0 {
		config.RequiredProjectTokens = DefaultRequiredProjectTokens
	}
	return &service{
		repo:   repo,
		ledger: ledgerService,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (s *service) CreateWallet(ctx context.Context, userID uint, walletType models.WalletType, initialTokens int64, expiresAt *time.Time) (*models.Wallet, error) {
	if !models.ValidWalletType(walletType) {
		return nil, ErrInvalidWalletType
	}
	if initialTokens < 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := s.repo.GetActiveByUserAndType(userID, walletType); err == nil {
		return nil, ErrWalletAlreadyActive
	} else if !errors.Is(err, repositories.ErrWalletNotFound) {
		return nil, fmt.Errorf("failed to check existing wallet: %w", err)
	}

	wallet := &models.Wallet{
		UserID:     userID,
		WalletType: walletType,
		IsActive:   true,
		ExpiresAt:  expiresAt,
	}
	if err := s.repo.Create(wallet); err != nil {
		if errors.Is(err, repositories.ErrDuplicateWallet) {
			return nil, ErrWalletAlreadyActive
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if initialTokens > 0 {
		if _, err := s.ledger.RecordTransaction(ctx, ledger.RecordParams{
			UserID:      userID,
			WalletID:    &wallet.ID,
			Amount:      initialTokens,
			Type:        models.EntryTypeInitialGrant,
			Description: fmt.Sprintf("Initial %s wallet grant", walletType),
		}); err != nil {
			return nil, fmt.Errorf("failed to record initial grant: %w", err)
		}
		wallet, err := s.repo.GetByID(wallet.ID)
		if err != nil {
			return nil, err
		}
		return wallet, nil
	}
	return wallet, nil
}

func (s *service) GetUserTokenSummary(ctx context.Context, userID uint) (*TokenSummary, error) {
	wallets, err := s.repo.ListActiveByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallets: %w", err)
	}

	now := s.now()
	summary := &TokenSummary{
		RequiredTokens: s.config.RequiredProjectTokens,
		Wallets:        []models.Wallet{},
	}
	for _, w := range wallets {
		if w.Expired(now) {
			continue
		}
		summary.TotalBalance += w.BalanceTokens
		summary.Wallets = append(summary.Wallets, w)
	}
	summary.CanCreateProject = summary.TotalBalance >= summary.RequiredTokens

	return summary, nil
}

func (s *service) ResetDailyTokens(ctx context.Context, userID uint, metadata map[string]interface{}) error {
	entry, err := s.ledger.ResetWalletToAllotment(ctx, userID, s.config.DailyAllotment, metadata)
	if err != nil {
		return fmt.Errorf("failed to reset daily tokens: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"delta":   entry.Amount,
	}).Debug("daily tokens reset")
	return nil
}

// DeactivateExpired zeroes and deactivates every active wallet whose
// expiry has passed. Wallets are processed independently; one failure
// does not stop the sweep.
func (s *service) DeactivateExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ListExpiredActive(s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired wallets: %w", err)
	}

	count := 0
	var lastErr error
	for _, w := range expired {
		if _, err := s.ledger.ExpireWallet(ctx, w.ID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"wallet_id": w.ID,
				"user_id":   w.UserID,
			}).WithError(err).Error("failed to expire wallet")
			lastErr = err
			continue
		}
		count++
	}
	return count, lastErr
}
