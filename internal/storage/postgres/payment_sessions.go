package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

const paymentSessionColumns = `id, recipient_id, amount, currency, description, payer_id, transaction_id, nonce, expires_at, active, created_at`

// CreatePaymentSession inserts an offer row.
func (s *Store) CreatePaymentSession(ctx context.Context, ps models.PaymentSession) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO payment_sessions (`+paymentSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ps.ID, ps.RecipientID, ps.Amount, ps.Currency, ps.Description, ps.PayerID,
		ps.TransactionID, ps.Nonce, ps.ExpiresAt, ps.Active, ps.CreatedAt,
	)
	return classify("create payment session", err)
}

// GetPaymentSession fetches an offer by id.
func (s *Store) GetPaymentSession(ctx context.Context, id string) (models.PaymentSession, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+paymentSessionColumns+` FROM payment_sessions WHERE id = $1`, id)
	ps, err := scanPaymentSession(row)
	return ps, classify("get payment session", err)
}

// LockPaymentSession fetches an offer and locks its row.
func (s *Store) LockPaymentSession(ctx context.Context, id string) (models.PaymentSession, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+paymentSessionColumns+` FROM payment_sessions WHERE id = $1 FOR UPDATE`, id)
	ps, err := scanPaymentSession(row)
	return ps, classify("lock payment session", err)
}

// DeactivatePaymentSession is a compare-and-set on the active flag.
func (s *Store) DeactivatePaymentSession(ctx context.Context, id, transactionID string) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE payment_sessions
		SET active = FALSE,
		    transaction_id = CASE WHEN $2 = '' THEN transaction_id ELSE $2 END
		WHERE id = $1 AND active`, id, transactionID)
	if err != nil {
		return classify("deactivate payment session", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ExpiredPaymentSessions lists active offers past their deadline.
func (s *Store) ExpiredPaymentSessions(ctx context.Context, now time.Time, limit int) ([]models.PaymentSession, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+paymentSessionColumns+`
		FROM payment_sessions
		WHERE active AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, classify("list expired payment sessions", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PaymentSession, error) {
		return scanPaymentSession(row)
	})
	return out, classify("list expired payment sessions", err)
}

func scanPaymentSession(row pgx.Row) (models.PaymentSession, error) {
	var ps models.PaymentSession
	err := row.Scan(&ps.ID, &ps.RecipientID, &ps.Amount, &ps.Currency, &ps.Description, &ps.PayerID,
		&ps.TransactionID, &ps.Nonce, &ps.ExpiresAt, &ps.Active, &ps.CreatedAt)
	return ps, err
}
