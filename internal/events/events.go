// Package events carries ledger notifications to out-of-process consumers
// such as the mailer and the push gateway.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/models"
)

// Routing keys.
const (
	TypeOtpIssued         = "otp.issued"
	TypeTransferCompleted = "transfer.completed"
	TypeTransferFailed    = "transfer.failed"
	TypeOfferRedeemed     = "offer.redeemed"
)

// Event is the envelope written to the exchange.
type Event struct {
	ID         string    `json:"event_id"`
	Type       string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	UserID     string    `json:"user_id"`
	Data       any       `json:"data"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// TransferData describes a transaction that reached a terminal state.
type TransferData struct {
	TransactionID    string `json:"transaction_id"`
	SenderID         string `json:"sender_id"`
	RecipientID      string `json:"recipient_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	FailureReason    string `json:"failure_reason,omitempty"`
	PaymentSessionID string `json:"payment_session_id,omitempty"`
}

// OtpData is consumed by the mailer, which delivers Code to the user.
type OtpData struct {
	Purpose   string    `json:"purpose"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTransfer builds the event for a finished transaction. The type follows
// the status: COMPLETED maps to transfer.completed, anything else to
// transfer.failed. When viaOffer is set the type is offer.redeemed.
func NewTransfer(tx models.Transaction, at time.Time, viaOffer bool) Event {
	typ := TypeTransferFailed
	switch {
	case tx.Status == models.StatusCompleted && viaOffer:
		typ = TypeOfferRedeemed
	case tx.Status == models.StatusCompleted:
		typ = TypeTransferCompleted
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: at,
		UserID:     tx.SenderID,
		Data: TransferData{
			TransactionID:    tx.ID,
			SenderID:         tx.SenderID,
			RecipientID:      tx.RecipientID,
			Amount:           tx.Amount,
			Currency:         tx.Currency,
			Status:           string(tx.Status),
			FailureReason:    string(tx.FailureReason),
			PaymentSessionID: tx.PaymentSessionID,
		},
	}
}

// NewOtpIssued builds the event that asks the mailer to deliver a code.
func NewOtpIssued(code models.OtpCode, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       TypeOtpIssued,
		OccurredAt: at,
		UserID:     code.UserID,
		Data: OtpData{
			Purpose:   string(code.Purpose),
			Code:      code.Code,
			ExpiresAt: code.ExpiresAt,
		},
	}
}

const publishTimeout = 3 * time.Second

// Emit publishes evt after a commit. Delivery is best-effort: a failure is
// logged and never reaches the caller, whose state change already happened.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, evt Event) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, evt); err != nil {
		log.Warn("publish event failed",
			zap.String("event_type", evt.Type),
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
	}
}

// LogPublisher writes event metadata to the logger. Payloads are omitted
// because they may carry one-time codes.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.log.Info("event",
		zap.String("event_type", evt.Type),
		zap.String("event_id", evt.ID),
		zap.String("user_id", evt.UserID),
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of every recorded event in publish order.
func (r *Recorder) Types() []string {
	evts := r.Events()
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}
