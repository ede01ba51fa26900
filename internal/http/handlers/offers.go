package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/qrpay/internal/http/respond"
	"github.com/hongminglow/qrpay/internal/middleware"
	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/models/dto"
	"github.com/hongminglow/qrpay/internal/payments"
)

// OfferHandler exposes QR payment requests.
type OfferHandler struct {
	offers Offers
}

func NewOfferHandler(o Offers) *OfferHandler {
	return &OfferHandler{offers: o}
}

func (h *OfferHandler) Routes(r chi.Router) {
	r.Post("/offers", h.handleCreate)
	r.Post("/offers/resolve", h.handleResolve)
	r.Get("/offers/{id}", h.handleGet)
	r.Get("/offers/{id}/qr.png", h.handleQR)
	r.Post("/offers/{id}/redeem", h.handleRedeem)
}

func (h *OfferHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOfferRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	amount, err := req.Parse()
	if err != nil {
		respond.FromError(w, err)
		return
	}
	var opts []payments.OfferOption
	if req.PayerID != "" {
		opts = append(opts, payments.DirectedTo(req.PayerID))
	}
	ps, err := h.offers.CreateOffer(r.Context(), middleware.UserID(r.Context()), amount, req.Description, opts...)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	h.writeOffer(w, http.StatusCreated, "offer created", ps)
}

func (h *OfferHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ps, err := h.offers.GetOffer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	h.writeOffer(w, http.StatusOK, "ok", ps)
}

func (h *OfferHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveOfferRequest
	if err := decode(r, &req, false); err != nil {
		respond.FromError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		respond.FromError(w, err)
		return
	}
	ps, err := h.offers.Resolve(r.Context(), req.Payload)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "ok", dto.NewOfferView(ps, ""))
}

func (h *OfferHandler) handleQR(w http.ResponseWriter, r *http.Request) {
	size, err := queryInt(r, "size", 256)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	if size > 1024 {
		size = 1024
	}
	png, err := h.offers.RenderPNG(r.Context(), chi.URLParam(r, "id"), size)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *OfferHandler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req dto.ConfirmRequest
	if err := decode(r, &req, true); err != nil {
		respond.FromError(w, err)
		return
	}
	tx, err := h.offers.Redeem(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r.Context()), payments.WithOTP(req.OTP))
	writeOutcome(w, tx, err, "payment completed")
}

func (h *OfferHandler) writeOffer(w http.ResponseWriter, status int, message string, ps models.PaymentSession) {
	payload, err := h.offers.Payload(ps)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, status, message, dto.NewOfferView(ps, payload))
}
