package ledger

import (
	"context"
	"errors"
	"math"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is one slice of a user's history, newest first.
type Page struct {
	Transactions []models.Transaction
	Page         int
	Limit        int
	Total        int
	Pages        int
}

// Summary aggregates a user's account.
type Summary struct {
	Balance        int64
	Currency       string
	TotalSent      int64
	TotalReceived  int64
	CompletedCount int
}

// GetTransaction returns a transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	var tx models.Transaction
	err := storage.RetryOnce(ctx, func(ctx context.Context) error {
		var err error
		tx, err = e.store.GetTransaction(ctx, id)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Transaction{}, apperr.Wrap(apperr.ErrNotFound, "transaction %s", id)
	}
	if err != nil {
		return models.Transaction{}, e.fail(ctx, "get transaction", err)
	}
	return tx, nil
}

// GetUser returns an account by id.
func (e *Engine) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := storage.RetryOnce(ctx, func(ctx context.Context) error {
		var err error
		u, err = e.store.GetUser(ctx, id)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, apperr.Wrap(apperr.ErrNotFound, "user %s", id)
	}
	if err != nil {
		return models.User{}, e.fail(ctx, "get user", err)
	}
	return u, nil
}

// ListForUser pages through transactions the user sent or received. page
// starts at 1; limit defaults to DefaultPageSize and is capped at
// MaxPageSize. A page whose offset does not fit in an int is rejected with
// ErrValidation.
func (e *Engine) ListForUser(ctx context.Context, userID string, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page-1 > math.MaxInt/limit {
		return Page{}, apperr.Wrap(apperr.ErrValidation, "page %d is out of range", page)
	}

	var (
		txs   []models.Transaction
		total int
	)
	err := storage.RetryOnce(ctx, func(ctx context.Context) error {
		var err error
		txs, total, err = e.store.ListTransactions(ctx, userID, (page-1)*limit, limit)
		return err
	})
	if err != nil {
		return Page{}, e.fail(ctx, "list transactions", err)
	}
	return Page{
		Transactions: txs,
		Page:         page,
		Limit:        limit,
		Total:        total,
		Pages:        (total + limit - 1) / limit,
	}, nil
}

// Summary returns the balance and completed-transfer totals for a user.
func (e *Engine) Summary(ctx context.Context, userID string) (Summary, error) {
	u, err := e.GetUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	var totals storage.Totals
	err = storage.RetryOnce(ctx, func(ctx context.Context) error {
		var err error
		totals, err = e.store.TransactionTotals(ctx, userID)
		return err
	})
	if err != nil {
		return Summary{}, e.fail(ctx, "transaction totals", err)
	}
	return Summary{
		Balance:        u.Balance,
		Currency:       e.cfg.Currency,
		TotalSent:      totals.Sent,
		TotalReceived:  totals.Received,
		CompletedCount: totals.Completed,
	}, nil
}
