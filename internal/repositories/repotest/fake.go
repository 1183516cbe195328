// Package repotest provides in-memory repository fakes for service
// tests. The fake serializes transactions with a mutex and rolls back
// on error, mirroring the row-lock + transaction semantics the real
// Postgres-backed repository relies on.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitegen/internal/models"
	"sitegen/internal/repositories"

	"github.com/google/uuid"
)

// FakeWalletRepository implements repositories.WalletRepository against
// process memory.
type FakeWalletRepository struct {
	mu           sync.Mutex
	nextWalletID uint
	nextEntryID  uint
	wallets      map[uint]models.Wallet
	entries      []models.LedgerEntry

	// EntryHook, when set, runs before every ledger entry insert and
	// can force a failure for a specific entry.
	EntryHook func(*models.LedgerEntry) error
}

func NewFakeWalletRepository() *FakeWalletRepository {
	return &FakeWalletRepository{
		nextWalletID: 1,
		nextEntryID:  1,
		wallets:      make(map[uint]models.Wallet),
	}
}

// Seed inserts a wallet directly, bypassing the ledger. Test setup only.
func (f *FakeWalletRepository) Seed(w models.Wallet) *models.Wallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w.ID == 0 {
		w.ID = f.nextWalletID
		f.nextWalletID++
	} else if w.ID >= f.nextWalletID {
		f.nextWalletID = w.ID + 1
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	f.wallets[w.ID] = w
	copied := w
	return &copied
}

// Entries returns a copy of all ledger entries, oldest first.
func (f *FakeWalletRepository) Entries() []models.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.LedgerEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func (f *FakeWalletRepository) ExecuteInTransaction(fn func(repositories.WalletRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapWallets := make(map[uint]models.Wallet, len(f.wallets))
	for id, w := range f.wallets {
		snapWallets[id] = w
	}
	snapEntries := make([]models.LedgerEntry, len(f.entries))
	copy(snapEntries, f.entries)
	snapWalletID, snapEntryID := f.nextWalletID, f.nextEntryID

	if err := fn(&fakeTx{f}); err != nil {
		f.wallets = snapWallets
		f.entries = snapEntries
		f.nextWalletID, f.nextEntryID = snapWalletID, snapEntryID
		return err
	}
	return nil
}

// Locked entry points used outside a transaction.

func (f *FakeWalletRepository) Create(w *models.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.create(w)
}

func (f *FakeWalletRepository) GetByID(id uint) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getByID(id)
}

func (f *FakeWalletRepository) GetByIDForUpdate(id uint) (*models.Wallet, error) {
	return f.GetByID(id)
}

func (f *FakeWalletRepository) GetActiveByUserAndType(userID uint, t models.WalletType) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getActiveByUserAndType(userID, t)
}

func (f *FakeWalletRepository) GetActiveByUserAndTypeForUpdate(userID uint, t models.WalletType) (*models.Wallet, error) {
	return f.GetActiveByUserAndType(userID, t)
}

func (f *FakeWalletRepository) ListActiveByUser(userID uint) ([]models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listActiveByUser(userID)
}

func (f *FakeWalletRepository) Update(w *models.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update(w)
}

func (f *FakeWalletRepository) AdjustBalance(walletID uint, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adjustBalance(walletID, delta)
}

func (f *FakeWalletRepository) CreateEntry(e *models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createEntry(e)
}

func (f *FakeWalletRepository) FindEntryByTypeAndMetadata(ctx context.Context, entryType models.LedgerEntryType, key, value string) (*models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findEntryByTypeAndMetadata(entryType, key, value)
}

func (f *FakeWalletRepository) ListEntriesByUser(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listEntriesByUser(userID, limit, offset)
}

func (f *FakeWalletRepository) ListEntriesByWallet(ctx context.Context, walletID uint) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listEntriesByWallet(walletID)
}

func (f *FakeWalletRepository) SumEntriesByWallet(walletID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sumEntriesByWallet(walletID)
}

func (f *FakeWalletRepository) ListStaleStandardWallets(boundary time.Time) ([]models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listStaleStandardWallets(boundary)
}

func (f *FakeWalletRepository) CountStaleStandardWallets(boundary time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, err := f.listStaleStandardWallets(boundary)
	if err != nil {
		return 0, err
	}
	return int64(len(ws)), nil
}

func (f *FakeWalletRepository) ListExpiredActive(now time.Time) ([]models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Wallet
	for _, w := range f.wallets {
		if w.IsActive && w.Expired(now) {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}

// fakeTx is the transactional view handed to ExecuteInTransaction
// callbacks. The outer mutex is already held.
type fakeTx struct {
	f *FakeWalletRepository
}

func (t *fakeTx) Create(w *models.Wallet) error  { return t.f.create(w) }
func (t *fakeTx) GetByID(id uint) (*models.Wallet, error) { return t.f.getByID(id) }
func (t *fakeTx) GetByIDForUpdate(id uint) (*models.Wallet, error) { return t.f.getByID(id) }
func (t *fakeTx) GetActiveByUserAndType(userID uint, wt models.WalletType) (*models.Wallet, error) {
	return t.f.getActiveByUserAndType(userID, wt)
}
func (t *fakeTx) GetActiveByUserAndTypeForUpdate(userID uint, wt models.WalletType) (*models.Wallet, error) {
	return t.f.getActiveByUserAndType(userID, wt)
}
func (t *fakeTx) ListActiveByUser(userID uint) ([]models.Wallet, error) {
	return t.f.listActiveByUser(userID)
}
func (t *fakeTx) Update(w *models.Wallet) error            { return t.f.update(w) }
func (t *fakeTx) AdjustBalance(id uint, delta int64) error { return t.f.adjustBalance(id, delta) }
func (t *fakeTx) CreateEntry(e *models.LedgerEntry) error  { return t.f.createEntry(e) }
func (t *fakeTx) FindEntryByTypeAndMetadata(ctx context.Context, entryType models.LedgerEntryType, key, value string) (*models.LedgerEntry, error) {
	return t.f.findEntryByTypeAndMetadata(entryType, key, value)
}
func (t *fakeTx) ListEntriesByUser(ctx context.Context, userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	return t.f.listEntriesByUser(userID, limit, offset)
}
func (t *fakeTx) ListEntriesByWallet(ctx context.Context, walletID uint) ([]models.LedgerEntry, error) {
	return t.f.listEntriesByWallet(walletID)
}
func (t *fakeTx) SumEntriesByWallet(walletID uint) (int64, error) {
	return t.f.sumEntriesByWallet(walletID)
}
func (t *fakeTx) ListStaleStandardWallets(boundary time.Time) ([]models.Wallet, error) {
	return t.f.listStaleStandardWallets(boundary)
}
func (t *fakeTx) CountStaleStandardWallets(boundary time.Time) (int64, error) {
	ws, err := t.f.listStaleStandardWallets(boundary)
	if err != nil {
		return 0, err
	}
	return int64(len(ws)), nil
}
func (t *fakeTx) ListExpiredActive(now time.Time) ([]models.Wallet, error) {
	var out []models.Wallet
	for _, w := range t.f.wallets {
		if w.IsActive && w.Expired(now) {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}
func (t *fakeTx) ExecuteInTransaction(fn func(repositories.WalletRepository) error) error {
	// Already inside a transaction; run against the same view.
	return fn(t)
}

// Unlocked core operations.

func (f *FakeWalletRepository) create(w *models.Wallet) error {
	for _, existing := range f.wallets {
		if existing.UserID == w.UserID && existing.WalletType == w.WalletType && existing.IsActive && w.IsActive {
			return repositories.ErrDuplicateWallet
		}
	}
	w.ID = f.nextWalletID
	f.nextWalletID++
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	f.wallets[w.ID] = *w
	return nil
}

func (f *FakeWalletRepository) getByID(id uint) (*models.Wallet, error) {
	w, ok := f.wallets[id]
	if !ok {
		return nil, repositories.ErrWalletNotFound
	}
	copied := w
	return &copied, nil
}

func (f *FakeWalletRepository) getActiveByUserAndType(userID uint, t models.WalletType) (*models.Wallet, error) {
	for _, w := range f.wallets {
		if w.UserID == userID && w.WalletType == t && w.IsActive {
			copied := w
			return &copied, nil
		}
	}
	return nil, repositories.ErrWalletNotFound
}

func (f *FakeWalletRepository) listActiveByUser(userID uint) ([]models.Wallet, error) {
	var out []models.Wallet
	for _, w := range f.wallets {
		if w.UserID == userID && w.IsActive {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}

func (f *FakeWalletRepository) update(w *models.Wallet) error {
	if _, ok := f.wallets[w.ID]; !ok {
		return repositories.ErrWalletNotFound
	}
	w.UpdatedAt = time.Now()
	f.wallets[w.ID] = *w
	return nil
}

func (f *FakeWalletRepository) adjustBalance(walletID uint, delta int64) error {
	w, ok := f.wallets[walletID]
	if !ok || w.BalanceTokens+delta < 0 {
		return repositories.ErrInsufficientFunds
	}
	w.BalanceTokens += delta
	w.UpdatedAt = time.Now()
	f.wallets[walletID] = w
	return nil
}

func (f *FakeWalletRepository) createEntry(e *models.LedgerEntry) error {
	if f.EntryHook != nil {
		if err := f.EntryHook(e); err != nil {
			return err
		}
	}
	e.ID = f.nextEntryID
	f.nextEntryID++
	if e.Reference == "" {
		e.Reference = uuid.NewString()
	}
	e.CreatedAt = time.Now()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *FakeWalletRepository) findEntryByTypeAndMetadata(entryType models.LedgerEntryType, key, value string) (*models.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.Type != entryType {
			continue
		}
		if v, ok := e.Metadata[key].(string); ok && v == value {
			copied := e
			return &copied, nil
		}
	}
	return nil, repositories.ErrEntryNotFound
}

func (f *FakeWalletRepository) listEntriesByUser(userID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var matched []models.LedgerEntry
	for _, e := range f.entries {
		if e.UserID == userID {
			matched = append(matched, e)
		}
	}
	// Newest first; entry IDs are monotonic.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *FakeWalletRepository) listEntriesByWallet(walletID uint) ([]models.LedgerEntry, error) {
	var matched []models.LedgerEntry
	for _, e := range f.entries {
		if e.WalletID != nil && *e.WalletID == walletID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (f *FakeWalletRepository) sumEntriesByWallet(walletID uint) (int64, error) {
	var total int64
	for _, e := range f.entries {
		if e.WalletID != nil && *e.WalletID == walletID {
			total += e.Amount
		}
	}
	return total, nil
}

func (f *FakeWalletRepository) listStaleStandardWallets(boundary time.Time) ([]models.Wallet, error) {
	var out []models.Wallet
	for _, w := range f.wallets {
		if w.WalletType != models.WalletTypeStandard || !w.IsActive {
			continue
		}
		if w.LastTokenReset == nil || w.LastTokenReset.Before(boundary) {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}

func sortWallets(ws []models.Wallet) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].UserID != ws[j].UserID {
			return ws[i].UserID < ws[j].UserID
		}
		return ws[i].ID < ws[j].ID
	})
}

// FakeUserRepository implements repositories.UserRepository in memory.
type FakeUserRepository struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]models.User
}

func NewFakeUserRepository() *FakeUserRepository {
	return &FakeUserRepository{nextID: 1, users: make(map[uint]models.User)}
}

func (f *FakeUserRepository) Create(u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	f.users[u.ID] = *u
	return nil
}

func (f *FakeUserRepository) GetByID(id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	copied := u
	return &copied, nil
}

func (f *FakeUserRepository) GetByEmail(email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copied := u
			return &copied, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}
