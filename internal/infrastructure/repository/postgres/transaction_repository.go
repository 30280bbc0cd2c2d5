package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/receipt-pipeline/internal/core/domain"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *TransactionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent watcher startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	merchant TEXT NOT NULL,
	location TEXT,
	subtotal DOUBLE PRECISION NOT NULL DEFAULT 0,
	tax DOUBLE PRECISION NOT NULL DEFAULT 0,
	tip DOUBLE PRECISION NOT NULL DEFAULT 0,
	total DOUBLE PRECISION NOT NULL DEFAULT 0,
	purchased_at TIMESTAMPTZ NOT NULL,
	source TEXT NOT NULL,
	raw_key TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_items (
	id BIGSERIAL PRIMARY KEY,
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	quantity DOUBLE PRECISION NOT NULL DEFAULT 1,
	unit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	line_total DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_purchased
	ON transactions(user_id, purchased_at);
CREATE INDEX IF NOT EXISTS idx_transaction_items_transaction
	ON transaction_items(transaction_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// InsertTransaction stores the transaction and its line items in one
// database transaction so a crash cannot leave items without a parent row.
func (r *TransactionRepository) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	_, err = dbTx.ExecContext(ctx, `
INSERT INTO transactions (
	id, user_id, merchant, location, subtotal, tax, tip, total, purchased_at, source, raw_key, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		txn.ID, txn.UserID, txn.Merchant, nullableString(txn.Location), txn.Subtotal, txn.Tax, txn.Tip,
		txn.Total, txn.PurchasedAt, txn.Source, nullableString(txn.RawKey), txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for _, item := range txn.Items {
		_, err = dbTx.ExecContext(ctx, `
INSERT INTO transaction_items (transaction_id, name, quantity, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5)
`, txn.ID, item.Name, item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return fmt.Errorf("insert transaction item: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit insert tx: %w", err)
	}
	return nil
}

// FindReceiptTransactions returns the user's receipt-sourced transactions
// whose purchase time falls inside [from, to], line items included.
func (r *TransactionRepository) FindReceiptTransactions(ctx context.Context, userID string, from, to time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, merchant, location, subtotal, tax, tip, total, purchased_at, source, raw_key, created_at
FROM transactions
WHERE user_id = $1 AND source = $2 AND purchased_at BETWEEN $3 AND $4
ORDER BY purchased_at
`, userID, domain.SourceReceipt, from, to)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		var location, rawKey sql.NullString
		if err := rows.Scan(
			&txn.ID, &txn.UserID, &txn.Merchant, &location, &txn.Subtotal, &txn.Tax, &txn.Tip,
			&txn.Total, &txn.PurchasedAt, &txn.Source, &rawKey, &txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txn.Location = location.String
		txn.RawKey = rawKey.String
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	for i := range txns {
		items, err := r.itemsFor(ctx, txns[i].ID)
		if err != nil {
			return nil, err
		}
		txns[i].Items = items
	}
	return txns, nil
}

func (r *TransactionRepository) itemsFor(ctx context.Context, transactionID string) ([]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, quantity, unit_price, line_total
FROM transaction_items
WHERE transaction_id = $1
ORDER BY id
`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query transaction items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.Name, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("scan transaction item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction items: %w", err)
	}
	return items, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
