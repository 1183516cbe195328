package repositories

import (
	"context"
	"time"

	"sitegen/internal/models"
)

// WalletRepository defines the wallet and ledger persistence operations.
// The ForUpdate variants take a row-level lock and are only meaningful
// inside ExecuteInTransaction; balance mutation always pairs a locked
// read with CreateEntry in the same transaction.
type WalletRepository interface {
	// Wallet operations
	Create(wallet *models.Wallet) error
	GetByID(id uint) (*models.Wallet, error)
	GetByIDForUpdate(id uint) (*models.Wallet, error)
	GetActiveByUserAndType(userID uint, walletType models.WalletType) (*models.Wallet, error)
	GetActiveByUserAndTypeForUpdate(userID uint, walletType models.WalletType) (*models.Wallet, error)
	ListActiveByUser(userID uint) ([]models.Wallet, error)
	Update(wallet *models.Wallet) error
	AdjustBalance(walletID uint, delta int64) error

	// Ledger operations
	CreateEntry(entry *models.LedgerEntry) error
	FindEntryByTypeAndMetadata(ctx context.Context, entryType models.LedgerEntryType, key, value string) (*models.LedgerEntry, error)
	ListEntriesByUser(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error)
	ListEntriesByWallet(ctx context.Context, walletID uint) ([]models.LedgerEntry, error)
	SumEntriesByWallet(walletID uint) (int64, error)

	// Daily reset and expiry scans
	ListStaleStandardWallets(boundary time.Time) ([]models.Wallet, error)
	CountStaleStandardWallets(boundary time.Time) (int64, error)
	ListExpiredActive(now time.Time) ([]models.Wallet, error)

	// ExecuteInTransaction runs fn against a transactional view of the
	// repository; fn returning an error rolls the transaction back.
	ExecuteInTransaction(fn func(WalletRepository) error) error
}
