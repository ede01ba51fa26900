package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

const transactionColumns = `id, sender_id, recipient_id, amount, currency, description, status, failure_reason, payment_session_id, created_at, completed_at`

// CreateTransaction inserts a transaction row.
func (s *Store) CreateTransaction(ctx context.Context, tx models.Transaction) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.SenderID, tx.RecipientID, tx.Amount, tx.Currency, tx.Description,
		tx.Status, tx.FailureReason, tx.PaymentSessionID, tx.CreatedAt, tx.CompletedAt,
	)
	return classify("create transaction", err)
}

// GetTransaction fetches a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	return tx, classify("get transaction", err)
}

// LockTransaction fetches a transaction and locks its row.
func (s *Store) LockTransaction(ctx context.Context, id string) (models.Transaction, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	tx, err := scanTransaction(row)
	return tx, classify("lock transaction", err)
}

// FinishTransaction only touches rows that are still PENDING.
func (s *Store) FinishTransaction(ctx context.Context, tx models.Transaction) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE transactions
		SET status = $2, failure_reason = $3, completed_at = $4
		WHERE id = $1 AND status = $5`,
		tx.ID, tx.Status, tx.FailureReason, tx.CompletedAt, models.StatusPending,
	)
	if err != nil {
		return classify("finish transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListTransactions returns one page of a user's history, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, offset, limit int) ([]models.Transaction, int, error) {
	var total int
	err := s.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE sender_id = $1 OR recipient_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, classify("count transactions", err)
	}

	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, classify("list transactions", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, 0, classify("list transactions", err)
	}
	return txs, total, nil
}

// TransactionTotals sums completed transfers in each direction.
func (s *Store) TransactionTotals(ctx context.Context, userID string) (storage.Totals, error) {
	var t storage.Totals
	err := s.db(ctx).QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE sender_id = $1), 0)::BIGINT,
			COALESCE(SUM(amount) FILTER (WHERE recipient_id = $1), 0)::BIGINT,
			COUNT(*)
		FROM transactions
		WHERE status = $2 AND (sender_id = $1 OR recipient_id = $1)`,
		userID, models.StatusCompleted,
	).Scan(&t.Sent, &t.Received, &t.Completed)
	return t, classify("transaction totals", err)
}

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(&tx.ID, &tx.SenderID, &tx.RecipientID, &tx.Amount, &tx.Currency, &tx.Description,
		&tx.Status, &tx.FailureReason, &tx.PaymentSessionID, &tx.CreatedAt, &tx.CompletedAt)
	return tx, err
}
