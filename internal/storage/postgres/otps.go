package postgres

import (
	"context"
	"time"

	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

// CreateOtp inserts a code row.
func (s *Store) CreateOtp(ctx context.Context, code models.OtpCode) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO otp_codes (id, user_id, code, purpose, expires_at, used, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		code.ID, code.UserID, code.Code, code.Purpose, code.ExpiresAt, code.Used, code.Attempts, code.CreatedAt,
	)
	return classify("create otp", err)
}

// InvalidateOtps burns every outstanding code for the pair.
func (s *Store) InvalidateOtps(ctx context.Context, userID string, purpose models.OtpPurpose) (int64, error) {
	tag, err := s.db(ctx).Exec(ctx,
		`UPDATE otp_codes SET used = TRUE WHERE user_id = $1 AND purpose = $2 AND NOT used`, userID, purpose)
	if err != nil {
		return 0, classify("invalidate otps", err)
	}
	return tag.RowsAffected(), nil
}

// OutstandingOtp returns the newest unused code and locks it.
func (s *Store) OutstandingOtp(ctx context.Context, userID string, purpose models.OtpPurpose) (models.OtpCode, error) {
	var c models.OtpCode
	err := s.db(ctx).QueryRow(ctx, `
		SELECT id, user_id, code, purpose, expires_at, used, attempts, created_at
		FROM otp_codes
		WHERE user_id = $1 AND purpose = $2 AND NOT used
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, userID, purpose,
	).Scan(&c.ID, &c.UserID, &c.Code, &c.Purpose, &c.ExpiresAt, &c.Used, &c.Attempts, &c.CreatedAt)
	return c, classify("get outstanding otp", err)
}

// MarkOtpUsed is a compare-and-set on the used flag.
func (s *Store) MarkOtpUsed(ctx context.Context, id string) error {
	tag, err := s.db(ctx).Exec(ctx, `UPDATE otp_codes SET used = TRUE WHERE id = $1 AND NOT used`, id)
	if err != nil {
		return classify("mark otp used", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordOtpFailure bumps the attempt counter and burns the code at limit.
func (s *Store) RecordOtpFailure(ctx context.Context, id string, limit int) (bool, error) {
	var burned bool
	err := s.db(ctx).QueryRow(ctx, `
		UPDATE otp_codes
		SET attempts = attempts + 1,
		    used = ($2 > 0 AND attempts + 1 >= $2)
		WHERE id = $1 AND NOT used
		RETURNING used`, id, limit,
	).Scan(&burned)
	return burned, classify("record otp failure", err)
}

// DeleteExpiredOtps removes codes that can no longer validate.
func (s *Store) DeleteExpiredOtps(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM otp_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, classify("delete expired otps", err)
	}
	return tag.RowsAffected(), nil
}
