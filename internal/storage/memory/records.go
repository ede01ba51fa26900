package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

func (s *Store) CreateTransaction(ctx context.Context, tx models.Transaction) error {
	return s.write(ctx, func(onUndo func(func())) error {
		if _, ok := s.txs[tx.ID]; ok {
			return storage.ErrAlreadyExists
		}
		s.txs[tx.ID] = tx
		onUndo(func() { delete(s.txs, tx.ID) })
		return nil
	})
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	var (
		tx models.Transaction
		ok bool
	)
	s.read(ctx, func() { tx, ok = s.txs[id] })
	if !ok {
		return models.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) LockTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return s.GetTransaction(ctx, id)
}

func (s *Store) FinishTransaction(ctx context.Context, tx models.Transaction) error {
	return s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.txs[tx.ID]
		if !ok || prev.Status != models.StatusPending {
			return storage.ErrNotFound
		}
		next := prev
		next.Status = tx.Status
		next.FailureReason = tx.FailureReason
		next.CompletedAt = tx.CompletedAt
		s.txs[tx.ID] = next
		onUndo(func() { s.txs[tx.ID] = prev })
		return nil
	})
}

func (s *Store) ListTransactions(ctx context.Context, userID string, offset, limit int) ([]models.Transaction, int, error) {
	var all []models.Transaction
	s.read(ctx, func() {
		for _, tx := range s.txs {
			if tx.SenderID == userID || tx.RecipientID == userID {
				all = append(all, tx)
			}
		}
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset < 0 || limit < 0 {
		return nil, 0, fmt.Errorf("list transactions: bad window offset=%d limit=%d", offset, limit)
	}
	total := len(all)
	if offset >= total {
		return []models.Transaction{}, total, nil
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *Store) TransactionTotals(ctx context.Context, userID string) (storage.Totals, error) {
	var t storage.Totals
	s.read(ctx, func() {
		for _, tx := range s.txs {
			if tx.Status != models.StatusCompleted {
				continue
			}
			switch userID {
			case tx.SenderID:
				t.Sent += tx.Amount
			case tx.RecipientID:
				t.Received += tx.Amount
			default:
				continue
			}
			t.Completed++
		}
	})
	return t, nil
}

func (s *Store) CreatePaymentSession(ctx context.Context, ps models.PaymentSession) error {
	return s.write(ctx, func(onUndo func(func())) error {
		if _, ok := s.offers[ps.ID]; ok {
			return storage.ErrAlreadyExists
		}
		s.offers[ps.ID] = ps
		onUndo(func() { delete(s.offers, ps.ID) })
		return nil
	})
}

func (s *Store) GetPaymentSession(ctx context.Context, id string) (models.PaymentSession, error) {
	var (
		ps models.PaymentSession
		ok bool
	)
	s.read(ctx, func() { ps, ok = s.offers[id] })
	if !ok {
		return models.PaymentSession{}, storage.ErrNotFound
	}
	return ps, nil
}

func (s *Store) LockPaymentSession(ctx context.Context, id string) (models.PaymentSession, error) {
	return s.GetPaymentSession(ctx, id)
}

func (s *Store) DeactivatePaymentSession(ctx context.Context, id, transactionID string) error {
	return s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.offers[id]
		if !ok || !prev.Active {
			return storage.ErrNotFound
		}
		next := prev
		next.Active = false
		if transactionID != "" {
			next.TransactionID = transactionID
		}
		s.offers[id] = next
		onUndo(func() { s.offers[id] = prev })
		return nil
	})
}

func (s *Store) ExpiredPaymentSessions(ctx context.Context, now time.Time, limit int) ([]models.PaymentSession, error) {
	var out []models.PaymentSession
	s.read(ctx, func() {
		for _, ps := range s.offers {
			if ps.Active && ps.ExpiresAt.Before(now) {
				out = append(out, ps)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateOtp(ctx context.Context, code models.OtpCode) error {
	return s.write(ctx, func(onUndo func(func())) error {
		if _, ok := s.otps[code.ID]; ok {
			return storage.ErrAlreadyExists
		}
		s.otps[code.ID] = code
		onUndo(func() { delete(s.otps, code.ID) })
		return nil
	})
}

func (s *Store) InvalidateOtps(ctx context.Context, userID string, purpose models.OtpPurpose) (int64, error) {
	var n int64
	err := s.write(ctx, func(onUndo func(func())) error {
		for id, c := range s.otps {
			if c.UserID != userID || c.Purpose != purpose || c.Used {
				continue
			}
			prev := c
			c.Used = true
			s.otps[id] = c
			onUndo(func() { s.otps[prev.ID] = prev })
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) OutstandingOtp(ctx context.Context, userID string, purpose models.OtpPurpose) (models.OtpCode, error) {
	var (
		best  models.OtpCode
		found bool
	)
	s.read(ctx, func() {
		for _, c := range s.otps {
			if c.UserID != userID || c.Purpose != purpose || c.Used {
				continue
			}
			if !found || c.CreatedAt.After(best.CreatedAt) {
				best, found = c, true
			}
		}
	})
	if !found {
		return models.OtpCode{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *Store) MarkOtpUsed(ctx context.Context, id string) error {
	return s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.otps[id]
		if !ok || prev.Used {
			return storage.ErrNotFound
		}
		next := prev
		next.Used = true
		s.otps[id] = next
		onUndo(func() { s.otps[id] = prev })
		return nil
	})
}

func (s *Store) RecordOtpFailure(ctx context.Context, id string, limit int) (bool, error) {
	var burned bool
	err := s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.otps[id]
		if !ok || prev.Used {
			return storage.ErrNotFound
		}
		next := prev
		next.Attempts++
		if limit > 0 && next.Attempts >= limit {
			next.Used = true
		}
		burned = next.Used
		s.otps[id] = next
		onUndo(func() { s.otps[id] = prev })
		return nil
	})
	return burned, err
}

func (s *Store) DeleteExpiredOtps(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func(onUndo func(func())) error {
		for id, c := range s.otps {
			if !c.ExpiresAt.Before(before) {
				continue
			}
			prev := c
			delete(s.otps, id)
			onUndo(func() { s.otps[prev.ID] = prev })
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	return s.write(ctx, func(onUndo func(func())) error {
		if _, ok := s.sessions[sess.ID]; ok {
			return storage.ErrAlreadyExists
		}
		s.sessions[sess.ID] = sess
		onUndo(func() { delete(s.sessions, sess.ID) })
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	var (
		sess models.Session
		ok   bool
	)
	s.read(ctx, func() { sess, ok = s.sessions[id] })
	if !ok {
		return models.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.write(ctx, func(onUndo func(func())) error {
		prev, ok := s.sessions[id]
		if !ok {
			return storage.ErrNotFound
		}
		delete(s.sessions, id)
		onUndo(func() { s.sessions[id] = prev })
		return nil
	})
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func(onUndo func(func())) error {
		for id, sess := range s.sessions {
			if !sess.ExpiresAt.Before(before) {
				continue
			}
			prev := sess
			delete(s.sessions, id)
			onUndo(func() { s.sessions[prev.ID] = prev })
			n++
		}
		return nil
	})
	return n, err
}
