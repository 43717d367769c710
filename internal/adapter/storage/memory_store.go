package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const defaultLockWait = 2 * time.Second

// MemoryStore is a complete in-process port.Store. Each record has its own
// lock with a bounded wait, writes are staged per transaction and applied on
// commit, so a failed or cancelled transaction leaves no trace. It backs the
// engine when no database is configured, and the concurrency tests.
type MemoryStore struct {
	locks    *lockTable
	lockWait time.Duration

	mu       sync.RWMutex
	stock    map[domain.StockKey]domain.StockRecord
	stockLog []domain.StockLogEntry
	logSeq   int64
	wallets  map[uuid.UUID]domain.Wallet
	ledger   map[uuid.UUID][]domain.LedgerEntry
	txns     map[uuid.UUID]domain.Transaction
	markers  map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:    newLockTable(),
		lockWait: defaultLockWait,
		stock:    make(map[domain.StockKey]domain.StockRecord),
		wallets:  make(map[uuid.UUID]domain.Wallet),
		ledger:   make(map[uuid.UUID][]domain.LedgerEntry),
		txns:     make(map[uuid.UUID]domain.Transaction),
		markers:  make(map[string]bool),
	}
}

// SetLockWait overrides the bounded lock wait, mainly for contention tests.
func (s *MemoryStore) SetLockWait(d time.Duration) {
	s.lockWait = d
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	t := &memoryTx{ctx: ctx, store: s}
	defer t.releaseLocks()

	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *MemoryStore) Stock(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.stock[key]
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) StockLog(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StockLogEntry
	for i := len(s.stockLog) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.stockLog[i].Key == key {
			out = append(out, s.stockLog[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.ID]; exists {
		return fmt.Errorf("wallet %s already exists", w.ID)
	}
	s.wallets[w.ID] = *w
	return nil
}

func (s *MemoryStore) Wallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &w, nil
}

func (s *MemoryStore) Ledger(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.ledger[walletID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]domain.LedgerEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txns[t.ID]; exists {
		return fmt.Errorf("transaction %s already exists", t.ID)
	}
	s.txns[t.ID] = *t
	return nil
}

func (s *MemoryStore) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &t, nil
}

func (s *MemoryStore) PendingTransactionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.txns {
		if t.Status == domain.StatusPending && t.CreatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memoryTx stages every write and applies the lot on commit while the row
// locks are still held.
type memoryTx struct {
	ctx   context.Context
	store *MemoryStore

	held []string // lock names, released in reverse order

	stock       map[domain.StockKey]*domain.StockRecord
	dirtyStock  map[domain.StockKey]bool
	stockLog    []domain.StockLogEntry
	wallets     map[uuid.UUID]*domain.Wallet
	dirtyWallet map[uuid.UUID]bool
	ledger      []domain.LedgerEntry
	txns        map[uuid.UUID]*domain.Transaction
	dirtyTxn    map[uuid.UUID]bool
	markers     []string
}

func (t *memoryTx) LockStock(keys []domain.StockKey) (map[domain.StockKey]*domain.StockRecord, error) {
	if t.stock == nil {
		t.stock = make(map[domain.StockKey]*domain.StockRecord)
		t.dirtyStock = make(map[domain.StockKey]bool)
	}

	sorted := make([]domain.StockKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	out := make(map[domain.StockKey]*domain.StockRecord, len(sorted))
	for _, key := range sorted {
		if rec, already := t.stock[key]; already {
			out[key] = rec
			continue
		}
		if err := t.acquire("stock:" + key.String()); err != nil {
			return nil, err
		}

		t.store.mu.RLock()
		rec, ok := t.store.stock[key]
		t.store.mu.RUnlock()
		if !ok {
			// Lazy creation on first reference.
			rec = domain.StockRecord{Key: key, UpdatedAt: time.Now().UTC()}
		}
		staged := rec
		t.stock[key] = &staged
		out[key] = &staged
	}
	return out, nil
}

func (t *memoryTx) SaveStock(rec *domain.StockRecord) error {
	if t.stock == nil || t.stock[rec.Key] != rec {
		return fmt.Errorf("stock %s not locked by this transaction", rec.Key)
	}
	t.dirtyStock[rec.Key] = true
	return nil
}

func (t *memoryTx) AppendStockLog(entry *domain.StockLogEntry) error {
	t.stockLog = append(t.stockLog, *entry)
	return nil
}

func (t *memoryTx) LockWallets(ids []uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	if t.wallets == nil {
		t.wallets = make(map[uuid.UUID]*domain.Wallet)
		t.dirtyWallet = make(map[uuid.UUID]bool)
	}

	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].String(), sorted[j].String()) < 0
	})

	out := make(map[uuid.UUID]*domain.Wallet, len(sorted))
	for _, id := range sorted {
		if w, already := t.wallets[id]; already {
			out[id] = w
			continue
		}
		if err := t.acquire("wallet:" + id.String()); err != nil {
			return nil, err
		}

		t.store.mu.RLock()
		w, ok := t.store.wallets[id]
		t.store.mu.RUnlock()
		if !ok {
			return nil, domain.ErrWalletNotFound
		}
		staged := w
		t.wallets[id] = &staged
		out[id] = &staged
	}
	return out, nil
}

func (t *memoryTx) SaveWallet(w *domain.Wallet) error {
	if t.wallets == nil || t.wallets[w.ID] != w {
		return fmt.Errorf("wallet %s not locked by this transaction", w.ID)
	}
	t.dirtyWallet[w.ID] = true
	return nil
}

func (t *memoryTx) AppendLedger(entry *domain.LedgerEntry) error {
	t.ledger = append(t.ledger, *entry)
	return nil
}

func (t *memoryTx) LockTransaction(id uuid.UUID) (*domain.Transaction, error) {
	if t.txns == nil {
		t.txns = make(map[uuid.UUID]*domain.Transaction)
		t.dirtyTxn = make(map[uuid.UUID]bool)
	}
	if txn, already := t.txns[id]; already {
		return txn, nil
	}
	if err := t.acquire("txn:" + id.String()); err != nil {
		return nil, err
	}

	t.store.mu.RLock()
	txn, ok := t.store.txns[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	staged := txn
	t.txns[id] = &staged
	return &staged, nil
}

func (t *memoryTx) SaveTransaction(txn *domain.Transaction) error {
	if t.txns == nil || t.txns[txn.ID] != txn {
		return fmt.Errorf("transaction %s not locked by this transaction", txn.ID)
	}
	t.dirtyTxn[txn.ID] = true
	return nil
}

func (t *memoryTx) ClaimMarker(key string) (bool, error) {
	if err := t.acquire("marker:" + key); err != nil {
		return false, err
	}
	t.store.mu.RLock()
	taken := t.store.markers[key]
	t.store.mu.RUnlock()
	if taken {
		return false, nil
	}
	t.markers = append(t.markers, key)
	return true, nil
}

func (t *memoryTx) acquire(name string) error {
	if err := t.store.locks.acquire(t.ctx, name, t.store.lockWait); err != nil {
		return err
	}
	t.held = append(t.held, name)
	return nil
}

func (t *memoryTx) releaseLocks() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.store.locks.release(t.held[i])
	}
	t.held = nil
}

func (t *memoryTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range t.dirtyStock {
		s.stock[key] = *t.stock[key]
	}
	for _, entry := range t.stockLog {
		s.logSeq++
		entry.ID = s.logSeq
		s.stockLog = append(s.stockLog, entry)
	}
	for id := range t.dirtyWallet {
		s.wallets[id] = *t.wallets[id]
	}
	for _, entry := range t.ledger {
		s.ledger[entry.WalletID] = append(s.ledger[entry.WalletID], entry)
	}
	for id := range t.dirtyTxn {
		s.txns[id] = *t.txns[id]
	}
	for _, key := range t.markers {
		s.markers[key] = true
	}
}

// lockTable hands out one single-slot channel per record. Acquisition blocks
// until the holder releases, the context is cancelled, or the bounded wait
// runs out, which surfaces as ResourceBusy.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (lt *lockTable) slot(name string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.slots[name] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, name string, wait time.Duration) error {
	ch := lt.slot(name)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: lock %s not acquired within %s", domain.ErrResourceBusy, name, wait)
	}
}

func (lt *lockTable) release(name string) {
	<-lt.slot(name)
}
