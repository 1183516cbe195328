package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/repositories"

	"github.com/sirupsen/logrus"
)

// Service is the authoritative audit trail. Every wallet balance
// mutation in the system goes through it: the mutation and its ledger
// entry are written as one database transaction, under a row-level
// lock on the wallet, so concurrent debits serialize and the balance
// can never go negative.
//
// GrantTokens and DeductTokens follow a boolean-result contract:
// expected billing outcomes (insufficient balance, missing wallet)
// return (false, nil) so call sites check a value instead of
// classifying errors; infrastructure failures return (false, err).
type Service interface {
	RecordTransaction(ctx context.Context, p RecordParams) (*models.LedgerEntry, error)
	GrantTokens(ctx context.Context, userID uint, amount int64, entryType models.LedgerEntryType, description string, metadata map[string]interface{}) (bool, error)
	DeductTokens(ctx context.Context, userID uint, amount int64, entryType models.LedgerEntryType, description string, metadata map[string]interface{}) (bool, error)
	GetTransactionHistory(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error)

	// FindTransactionByMetadata returns the entry of the given type
	// whose metadata carries key=value, or (nil, nil) when none exists.
	// External references recorded in metadata (a payment intent ID,
	// for example) make an operation traceable and replay-safe.
	FindTransactionByMetadata(ctx context.Context, entryType models.LedgerEntryType, key, value string) (*models.LedgerEntry, error)

	// ResetWalletToAllotment writes the daily reset as a delta entry
	// (allotment minus current balance) and advances LastTokenReset,
	// creating the STANDARD wallet if the user has none.
	ResetWalletToAllotment(ctx context.Context, userID uint, allotment int64, metadata map[string]interface{}) (*models.LedgerEntry, error)

	// ExpireWallet zeroes and deactivates a wallet, recording the
	// removed balance so the replay invariant holds.
	ExpireWallet(ctx context.Context, walletID uint) (*models.LedgerEntry, error)

	Reconcile(ctx context.Context, walletID uint) (*ReconcileReport, error)
}

type service struct {
	repo    repositories.WalletRepository
	logger  *logrus.Logger
	metrics MetricsCollector
	now     func() time.Time
}

// NewService creates a new ledger service.
func NewService(repo repositories.WalletRepository, logger *logrus.Logger, metrics MetricsCollector) Service {
	if repo == nil {
		panic("repo is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	return &service{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *service) RecordTransaction(ctx context.Context, p RecordParams) (*models.LedgerEntry, error) {
	if p.UserID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidAmount)
	}
	if p.Amount == 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	err := s.withConflictRetry(func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			e, err := s.apply(tx, p)
			if err != nil {
				return err
			}
			entry = e
			return nil
		})
	})
	if err != nil {
		s.metrics.RecordError("record", errKind(err))
		return nil, err
	}

	s.metrics.RecordTransaction(string(p.Type), p.Amount)
	return entry, nil
}

// apply locks the wallet, adjusts its balance and appends the entry.
// Must run inside a repository transaction.
func (s *service) apply(tx repositories.WalletRepository, p RecordParams) (*models.LedgerEntry, error) {
	var walletID *uint
	if p.WalletID != nil {
		wallet, err := tx.GetByIDForUpdate(*p.WalletID)
		if err != nil {
			if errors.Is(err, repositories.ErrWalletNotFound) {
				return nil, ErrWalletNotFound
			}
			return nil, err
		}
		if p.Amount < 0 && wallet.BalanceTokens+p.Amount < 0 {
			return nil, ErrInsufficientBalance
		}
		if err := tx.AdjustBalance(wallet.ID, p.Amount); err != nil {
			if errors.Is(err, repositories.ErrInsufficientFunds) {
				return nil, ErrInsufficientBalance
			}
			return nil, err
		}
		walletID = &wallet.ID
	}

	entry := &models.LedgerEntry{
		UserID:      p.UserID,
		WalletID:    walletID,
		Amount:      p.Amount,
		Type:        p.Type,
		Description: p.Description,
		Metadata:    models.NewJSON(p.Metadata),
	}
	if err := tx.CreateEntry(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) GrantTokens(ctx context.Context, userID uint, amount int64, entryType models.LedgerEntryType, description string, metadata map[string]interface{}) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	err := s.withConflictRetry(func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			wallet, err := s.resolveOrCreateStandard(tx, userID)
			if err != nil {
				return err
			}
			e, err := s.apply(tx, RecordParams{
				UserID:      userID,
				WalletID:    &wallet.ID,
				Amount:      amount,
				Type:        entryType,
				Description: description,
				Metadata:    metadata,
			})
			if err != nil {
				return err
			}
			entry = e
			return nil
		})
	})
	if err != nil {
		return s.domainFailure("grant", userID, err)
	}

	s.metrics.RecordTransaction(string(entry.Type), entry.Amount)
	return true, nil
}

func (s *service) DeductTokens(ctx context.Context, userID uint, amount int64, entryType models.LedgerEntryType, description string, metadata map[string]interface{}) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	err := s.withConflictRetry(func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			wallet, err := tx.GetActiveByUserAndTypeForUpdate(userID, models.WalletTypeStandard)
			if err != nil {
				if errors.Is(err, repositories.ErrWalletNotFound) {
					return ErrWalletNotFound
				}
				return err
			}
			e, err := s.apply(tx, RecordParams{
				UserID:      userID,
				WalletID:    &wallet.ID,
				Amount:      -amount,
				Type:        entryType,
				Description: description,
				Metadata:    metadata,
			})
			if err != nil {
				return err
			}
			entry = e
			return nil
		})
	})
	if err != nil {
		return s.domainFailure("deduct", userID, err)
	}

	s.metrics.RecordTransaction(string(entry.Type), entry.Amount)
	return true, nil
}

// domainFailure converts expected billing outcomes into the boolean
// contract. Anything else propagates as a hard failure.
func (s *service) domainFailure(op string, userID uint, err error) (bool, error) {
	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrWalletNotFound) {
		s.logger.WithFields(logrus.Fields{
			"operation": op,
			"user_id":   userID,
			"reason":    err.Error(),
		}).Info("billing operation declined")
		s.metrics.RecordError(op, errKind(err))
		return false, nil
	}
	s.metrics.RecordError(op, errKind(err))
	return false, err
}

func (s *service) GetTransactionHistory(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.repo.ListEntriesByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	return entries, nil
}

func (s *service) FindTransactionByMetadata(ctx context.Context, entryType models.LedgerEntryType, key, value string) (*models.LedgerEntry, error) {
	entry, err := s.repo.FindEntryByTypeAndMetadata(ctx, entryType, key, value)
	if err != nil {
		if errors.Is(err, repositories.ErrEntryNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return entry, nil
}

func (s *service) ResetWalletToAllotment(ctx context.Context, userID uint, allotment int64, metadata map[string]interface{}) (*models.LedgerEntry, error) {
	if allotment < 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	err := s.withConflictRetry(func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			wallet, err := s.resolveOrCreateStandard(tx, userID)
			if err != nil {
				return err
			}

			now := s.now()
			delta := allotment - wallet.BalanceTokens
			wallet.BalanceTokens = allotment
			wallet.LastTokenReset = &now
			if err := tx.Update(wallet); err != nil {
				return err
			}

			entry = &models.LedgerEntry{
				UserID:      userID,
				WalletID:    &wallet.ID,
				Amount:      delta,
				Type:        models.EntryTypeDailyReset,
				Description: "Daily token reset",
				Metadata:    models.NewJSON(metadata),
			}
			return tx.CreateEntry(entry)
		})
	})
	if err != nil {
		s.metrics.RecordError("daily_reset", errKind(err))
		return nil, err
	}

	s.metrics.RecordTransaction(string(models.EntryTypeDailyReset), entry.Amount)
	return entry, nil
}

func (s *service) ExpireWallet(ctx context.Context, walletID uint) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.withConflictRetry(func() error {
		return s.repo.ExecuteInTransaction(func(tx repositories.WalletRepository) error {
			wallet, err := tx.GetByIDForUpdate(walletID)
			if err != nil {
				if errors.Is(err, repositories.ErrWalletNotFound) {
					return ErrWalletNotFound
				}
				return err
			}
			if !wallet.IsActive {
				return ErrWalletInactive
			}

			delta := -wallet.BalanceTokens
			wallet.BalanceTokens = 0
			wallet.IsActive = false
			if err := tx.Update(wallet); err != nil {
				return err
			}

			entry = &models.LedgerEntry{
				UserID:      wallet.UserID,
				WalletID:    &wallet.ID,
				Amount:      delta,
				Type:        models.EntryTypeWalletExpiry,
				Description: "Wallet expired",
			}
			return tx.CreateEntry(entry)
		})
	})
	if err != nil {
		s.metrics.RecordError("expire", errKind(err))
		return nil, err
	}

	s.metrics.RecordTransaction(string(models.EntryTypeWalletExpiry), entry.Amount)
	return entry, nil
}

func (s *service) Reconcile(ctx context.Context, walletID uint) (*ReconcileReport, error) {
	wallet, err := s.repo.GetByID(walletID)
	if err != nil {
		if errors.Is(err, repositories.ErrWalletNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	sum, err := s.repo.SumEntriesByWallet(walletID)
	if err != nil {
		return nil, err
	}
	return &ReconcileReport{
		WalletID:      wallet.ID,
		BalanceTokens: wallet.BalanceTokens,
		LedgerSum:     sum,
		Consistent:    wallet.BalanceTokens == sum,
	}, nil
}

// resolveOrCreateStandard returns the user's active STANDARD wallet,
// creating it lazily with a zero balance. Must run inside a
// transaction; the caller adjusts balances afterwards.
func (s *service) resolveOrCreateStandard(tx repositories.WalletRepository, userID uint) (*models.Wallet, error) {
	wallet, err := tx.GetActiveByUserAndTypeForUpdate(userID, models.WalletTypeStandard)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repositories.ErrWalletNotFound) {
		return nil, err
	}

	wallet = &models.Wallet{
		UserID:     userID,
		WalletType: models.WalletTypeStandard,
		IsActive:   true,
	}
	if err := tx.Create(wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// withConflictRetry reruns the whole operation once after a transient
// serialization or deadlock failure. A concurrent lazy wallet creation
// surfaces as a unique violation and gets the same treatment.
func (s *service) withConflictRetry(op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if repositories.IsConflict(err) || errors.Is(err, repositories.ErrDuplicateWallet) {
		s.logger.WithField("cause", err.Error()).Warn("retrying ledger operation after storage conflict")
		if err = op(); err == nil {
			return nil
		}
		if repositories.IsConflict(err) || errors.Is(err, repositories.ErrDuplicateWallet) {
			return fmt.Errorf("%w: %v", ErrStorageConflict, err)
		}
	}
	return err
}

func errKind(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrStorageConflict):
		return "storage_conflict"
	default:
		return "internal"
	}
}
