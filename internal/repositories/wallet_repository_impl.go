package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitegen/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Create(wallet *models.Wallet) error {
	if err := r.db.Create(wallet).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicateWallet
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (r *walletRepository) GetByID(id uint) (*models.Wallet, error) {
	return r.getOne(r.db, "id = ?", id)
}

func (r *walletRepository) GetByIDForUpdate(id uint) (*models.Wallet, error) {
	return r.getOne(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *walletRepository) GetActiveByUserAndType(userID uint, walletType models.WalletType) (*models.Wallet, error) {
	return r.getOne(r.db, "user_id = ? AND wallet_type = ? AND is_active", userID, walletType)
}

func (r *walletRepository) GetActiveByUserAndTypeForUpdate(userID uint, walletType models.WalletType) (*models.Wallet, error) {
	return r.getOne(r.db.Clauses(clause.Locking{Strength: "UPDATE"}),
		"user_id = ? AND wallet_type = ? AND is_active", userID, walletType)
}

func (r *walletRepository) getOne(db *gorm.DB, query string, args ...interface{}) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := db.Where(query, args...).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) ListActiveByUser(userID uint) ([]models.Wallet, error) {
	var wallets []models.Wallet
	if err := r.db.Where("user_id = ? AND is_active", userID).
		Order("wallet_type ASC").Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

func (r *walletRepository) Update(wallet *models.Wallet) error {
	if err := r.db.Save(wallet).Error; err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	return nil
}

// AdjustBalance applies a signed delta with an atomic in-database
// expression. The WHERE guard rejects a mutation that would take the
// balance below zero; it never clamps.
func (r *walletRepository) AdjustBalance(walletID uint, delta int64) error {
	result := r.db.Model(&models.Wallet{}).
		Where("id = ? AND balance_tokens + ? >= 0", walletID, delta).
		Update("balance_tokens", gorm.Expr("balance_tokens + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("failed to adjust balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (r *walletRepository) CreateEntry(entry *models.LedgerEntry) error {
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return nil
}

// FindEntryByTypeAndMetadata looks up an entry of the given type whose
// jsonb metadata carries key=value. Returns ErrEntryNotFound when no
// such entry exists.
func (r *walletRepository) FindEntryByTypeAndMetadata(ctx context.Context, entryType models.LedgerEntryType, key, value string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("type = ? AND metadata ->> ? = ?", entryType, key, value).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to find ledger entry: %w", err)
	}
	return &entry, nil
}

func (r *walletRepository) ListEntriesByUser(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func (r *walletRepository) ListEntriesByWallet(ctx context.Context, walletID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func (r *walletRepository) SumEntriesByWallet(walletID uint) (int64, error) {
	var total int64
	err := r.db.Model(&models.LedgerEntry{}).
		Where("wallet_id = ?", walletID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return total, nil
}

func (r *walletRepository) ListStaleStandardWallets(boundary time.Time) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.
		Where("wallet_type = ? AND is_active AND (last_token_reset IS NULL OR last_token_reset < ?)",
			models.WalletTypeStandard, boundary).
		Order("user_id ASC").
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale wallets: %w", err)
	}
	return wallets, nil
}

func (r *walletRepository) CountStaleStandardWallets(boundary time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Wallet{}).
		Where("wallet_type = ? AND is_active AND (last_token_reset IS NULL OR last_token_reset < ?)",
			models.WalletTypeStandard, boundary).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count stale wallets: %w", err)
	}
	return count, nil
}

func (r *walletRepository) ListExpiredActive(now time.Time) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.
		Where("is_active AND expires_at IS NOT NULL AND expires_at < ?", now).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired wallets: %w", err)
	}
	return wallets, nil
}

func (r *walletRepository) ExecuteInTransaction(fn func(WalletRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&walletRepository{db: tx})
	})
}
