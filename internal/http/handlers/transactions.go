package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/qrpay/internal/apperr"
	"github.com/hongminglow/qrpay/internal/http/respond"
	"github.com/hongminglow/qrpay/internal/ledger"
	"github.com/hongminglow/qrpay/internal/middleware"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/models/dto"
)

// TransactionHandler exposes direct transfers and history.
type TransactionHandler struct {
	ledger Ledger
}

func NewTransactionHandler(l Ledger) *TransactionHandler {
	return &TransactionHandler{ledger: l}
}

func (h *TransactionHandler) Routes(r chi.Router) {
	r.Post("/transactions", h.handleInitiate)
	r.Get("/transactions", h.handleList)
	r.Get("/transactions/{id}", h.handleGet)
	r.Post("/transactions/{id}/confirm", h.handleConfirm)
	r.Post("/transactions/{id}/cancel", h.handleCancel)
}

func (h *TransactionHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req dto.InitiateTransferRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	amount, err := req.Parse()
	if err != nil {
		respond.FromError(w, err)
		return
	}
	tx, err := h.ledger.InitiateTransfer(r.Context(), middleware.UserID(r.Context()), strings.TrimSpace(req.RecipientID), amount, req.Description)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, "transfer initiated", dto.NewTransactionView(tx))
}

func (h *TransactionHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req dto.ConfirmRequest
	if err := decode(r, &req, true); err != nil {
		respond.FromError(w, err)
		return
	}
	tx, err := h.ledger.ConfirmTransfer(r.Context(), chi.URLParam(r, "id"),
		ledger.ActingAs(middleware.UserID(r.Context())), ledger.WithOTP(req.OTP))
	writeOutcome(w, tx, err, "transfer completed")
}

func (h *TransactionHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.CancelTransfer(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "transfer cancelled", dto.NewTransactionView(tx))
}

// handleGet only shows a transaction to its two parties. Anyone else gets
// the same answer as for a missing id.
func (h *TransactionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	tx, err := h.ledger.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err == nil && tx.SenderID != userID && tx.RecipientID != userID {
		err = apperr.Wrap(apperr.ErrNotFound, "transaction %s", tx.ID)
	}
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", dto.NewTransactionView(tx))
}

func (h *TransactionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", ledger.DefaultPageSize)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	p, err := h.ledger.ListForUser(r.Context(), middleware.UserID(r.Context()), page, limit)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", dto.TransactionPage{
		Transactions: dto.NewTransactionViews(p.Transactions),
		Page:         p.Page,
		Limit:        p.Limit,
		Total:        p.Total,
		Pages:        p.Pages,
	})
}

// writeOutcome reports a settle attempt. A FAILED transaction is still
// returned so the client can show why.
func writeOutcome(w http.ResponseWriter, tx models.Transaction, err error, message string) {
	switch {
	case err == nil:
		respond.JSON(w, http.StatusOK, message, dto.NewTransactionView(tx))
	case tx.ID != "" && tx.Status.Terminal():
		respond.Failure(w, err, dto.NewTransactionView(tx))
	default:
		respond.FromError(w, err)
	}
}
