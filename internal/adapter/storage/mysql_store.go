package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// MySQLStore is the authoritative port.Store. Exclusive row locks come from
// SELECT ... FOR UPDATE inside a database transaction; InnoDB's bounded lock
// wait maps onto ResourceBusy so callers can retry.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback()

	if err := fn(&mysqlTx{ctx: ctx, tx: dbTx}); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return asBusy(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *MySQLStore) Stock(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	rec := domain.StockRecord{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT quantity, reserved, updated_at
		FROM stock_records WHERE product_id = ? AND location_id = ?`,
		key.ProductID, key.LocationID,
	).Scan(&rec.Quantity, &rec.Reserved, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	return &rec, nil
}

func (s *MySQLStore) StockLog(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, amount, previous_quantity, new_quantity, actor, created_at
		FROM stock_log
		WHERE product_id = ? AND location_id = ?
		ORDER BY id DESC LIMIT ?`,
		key.ProductID, key.LocationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query stock log: %w", err)
	}
	defer rows.Close()

	var out []domain.StockLogEntry
	for rows.Next() {
		entry := domain.StockLogEntry{Key: key}
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Amount,
			&entry.PreviousQuantity, &entry.NewQuantity, &entry.Actor, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock log: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_type, owner_id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID.String(), string(w.OwnerType), w.OwnerID.String(),
		w.Balance.String(), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (s *MySQLStore) Wallet(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return scanWallet(s.db.QueryRowContext(ctx, `
		SELECT id, owner_type, owner_id, balance, created_at, updated_at
		FROM wallets WHERE id = ?`, id.String()))
}

func (s *MySQLStore) Ledger(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet_id, transaction_id, amount, balance_before, balance_after,
		       is_credit, description, created_at
		FROM ledger_entries
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		walletID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			entry            domain.LedgerEntry
			id, wid          string
			txnID            sql.NullString
			amt, before, aft string
		)
		if err := rows.Scan(&id, &wid, &txnID, &amt, &before, &aft,
			&entry.IsCredit, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse ledger id: %w", err)
		}
		if entry.WalletID, err = uuid.Parse(wid); err != nil {
			return nil, fmt.Errorf("parse ledger wallet id: %w", err)
		}
		if txnID.Valid {
			parsed, err := uuid.Parse(txnID.String)
			if err != nil {
				return nil, fmt.Errorf("parse ledger transaction id: %w", err)
			}
			entry.TransactionID = &parsed
		}
		if entry.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("parse ledger amount: %w", err)
		}
		if entry.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, fmt.Errorf("parse ledger balance: %w", err)
		}
		if entry.BalanceAfter, err = decimal.NewFromString(aft); err != nil {
			return nil, fmt.Errorf("parse ledger balance: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	var orderID any
	if t.OrderID != nil {
		orderID = t.OrderID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, type, amount, status, wallet_id, order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), string(t.Type), t.Amount.String(), string(t.Status),
		t.WalletID.String(), orderID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *MySQLStore) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, type, amount, status, wallet_id, order_id, created_at, updated_at
		FROM transactions WHERE id = ?`, id.String()))
}

func (s *MySQLStore) PendingTransactionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, amount, status, wallet_id, order_id, created_at, updated_at
		FROM transactions
		WHERE status = ? AND created_at < ?
		ORDER BY created_at LIMIT ?`,
		string(domain.StatusPending), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type mysqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *mysqlTx) LockStock(keys []domain.StockKey) (map[domain.StockKey]*domain.StockRecord, error) {
	sorted := make([]domain.StockKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	out := make(map[domain.StockKey]*domain.StockRecord, len(sorted))
	for _, key := range sorted {
		rec, err := t.lockOneStock(key)
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, nil
}

func (t *mysqlTx) lockOneStock(key domain.StockKey) (*domain.StockRecord, error) {
	const query = `
		SELECT quantity, reserved, updated_at
		FROM stock_records WHERE product_id = ? AND location_id = ?
		FOR UPDATE`

	rec := domain.StockRecord{Key: key}
	err := t.tx.QueryRowContext(t.ctx, query, key.ProductID, key.LocationID).
		Scan(&rec.Quantity, &rec.Reserved, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Lazy creation on first reference; INSERT IGNORE tolerates a racing
		// creator, the re-select takes the row lock either way.
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT IGNORE INTO stock_records (product_id, location_id, quantity, reserved, updated_at)
			VALUES (?, ?, 0, 0, ?)`,
			key.ProductID, key.LocationID, time.Now().UTC()); err != nil {
			return nil, asBusy(fmt.Errorf("create stock record: %w", err))
		}
		err = t.tx.QueryRowContext(t.ctx, query, key.ProductID, key.LocationID).
			Scan(&rec.Quantity, &rec.Reserved, &rec.UpdatedAt)
	}
	if err != nil {
		return nil, asBusy(fmt.Errorf("lock stock %s: %w", key, err))
	}
	return &rec, nil
}

func (t *mysqlTx) SaveStock(rec *domain.StockRecord) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE stock_records SET quantity = ?, reserved = ?, updated_at = ?
		WHERE product_id = ? AND location_id = ?`,
		rec.Quantity, rec.Reserved, rec.UpdatedAt,
		rec.Key.ProductID, rec.Key.LocationID,
	)
	if err != nil {
		return asBusy(fmt.Errorf("save stock %s: %w", rec.Key, err))
	}
	return nil
}

func (t *mysqlTx) AppendStockLog(entry *domain.StockLogEntry) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO stock_log
			(product_id, location_id, action, amount, previous_quantity, new_quantity, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Key.ProductID, entry.Key.LocationID, string(entry.Action), entry.Amount,
		entry.PreviousQuantity, entry.NewQuantity, entry.Actor, entry.CreatedAt,
	)
	if err != nil {
		return asBusy(fmt.Errorf("append stock log: %w", err))
	}
	return nil
}

func (t *mysqlTx) LockWallets(ids []uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].String(), sorted[j].String()) < 0
	})

	out := make(map[uuid.UUID]*domain.Wallet, len(sorted))
	for _, id := range sorted {
		w, err := scanWallet(t.tx.QueryRowContext(t.ctx, `
			SELECT id, owner_type, owner_id, balance, created_at, updated_at
			FROM wallets WHERE id = ? FOR UPDATE`, id.String()))
		if err != nil {
			return nil, asBusy(err)
		}
		out[id] = w
	}
	return out, nil
}

func (t *mysqlTx) SaveWallet(w *domain.Wallet) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?`,
		w.Balance.String(), w.UpdatedAt, w.ID.String(),
	)
	if err != nil {
		return asBusy(fmt.Errorf("save wallet %s: %w", w.ID, err))
	}
	return nil
}

func (t *mysqlTx) AppendLedger(entry *domain.LedgerEntry) error {
	var txnID any
	if entry.TransactionID != nil {
		txnID = entry.TransactionID.String()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger_entries
			(id, wallet_id, transaction_id, amount, balance_before, balance_after, is_credit, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.WalletID.String(), txnID,
		entry.Amount.String(), entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.IsCredit, entry.Description, entry.CreatedAt,
	)
	if err != nil {
		return asBusy(fmt.Errorf("append ledger entry: %w", err))
	}
	return nil
}

func (t *mysqlTx) LockTransaction(id uuid.UUID) (*domain.Transaction, error) {
	txn, err := scanTransaction(t.tx.QueryRowContext(t.ctx, `
		SELECT id, type, amount, status, wallet_id, order_id, created_at, updated_at
		FROM transactions WHERE id = ? FOR UPDATE`, id.String()))
	if err != nil {
		return nil, asBusy(err)
	}
	return txn, nil
}

func (t *mysqlTx) SaveTransaction(txn *domain.Transaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE transactions SET status = ?, updated_at = ? WHERE id = ?`,
		string(txn.Status), txn.UpdatedAt, txn.ID.String(),
	)
	if err != nil {
		return asBusy(fmt.Errorf("save transaction %s: %w", txn.ID, err))
	}
	return nil
}

func (t *mysqlTx) ClaimMarker(key string) (bool, error) {
	result, err := t.tx.ExecContext(t.ctx, `
		INSERT IGNORE INTO idempotency_markers (marker, created_at) VALUES (?, ?)`,
		key, time.Now().UTC(),
	)
	if err != nil {
		return false, asBusy(fmt.Errorf("claim marker: %w", err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim marker: %w", err)
	}
	return rows == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var (
		w                 domain.Wallet
		id, owner, balStr string
		ownerType         string
	)
	err := row.Scan(&id, &ownerType, &owner, &balStr, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	if w.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse wallet id: %w", err)
	}
	if w.OwnerID, err = uuid.Parse(owner); err != nil {
		return nil, fmt.Errorf("parse wallet owner: %w", err)
	}
	w.OwnerType = domain.OwnerType(ownerType)
	if w.Balance, err = decimal.NewFromString(balStr); err != nil {
		return nil, fmt.Errorf("parse wallet balance: %w", err)
	}
	return &w, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t               domain.Transaction
		id, wid, amtStr string
		txType, status  string
		orderID         sql.NullString
	)
	err := row.Scan(&id, &txType, &amtStr, &status, &wid, &orderID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse transaction id: %w", err)
	}
	if t.WalletID, err = uuid.Parse(wid); err != nil {
		return nil, fmt.Errorf("parse transaction wallet: %w", err)
	}
	if orderID.Valid {
		parsed, err := uuid.Parse(orderID.String)
		if err != nil {
			return nil, fmt.Errorf("parse transaction order: %w", err)
		}
		t.OrderID = &parsed
	}
	t.Type = domain.TransactionType(txType)
	t.Status = domain.TransactionStatus(status)
	if t.Amount, err = decimal.NewFromString(amtStr); err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	return &t, nil
}

// asBusy surfaces InnoDB lock-wait timeouts (1205) and deadlock victims
// (1213) as ResourceBusy so the service layer retries them.
func asBusy(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && (mysqlErr.Number == 1205 || mysqlErr.Number == 1213) {
		return fmt.Errorf("%w: %v", domain.ErrResourceBusy, err)
	}
	return err
}
