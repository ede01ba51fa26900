package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/auth"
	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/config"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/http/handlers"
	"github.com/hongminglow/qrpay/internal/keylock"
	"github.com/hongminglow/qrpay/internal/ledger"
	"github.com/hongminglow/qrpay/internal/middleware"
	"github.com/hongminglow/qrpay/internal/otp"
	"github.com/hongminglow/qrpay/internal/payments"
	"github.com/hongminglow/qrpay/internal/random"
	"github.com/hongminglow/qrpay/internal/storage"
	"github.com/hongminglow/qrpay/internal/sweeper"
)

// Services is the set of components behind the HTTP surface.
type Services struct {
	Store   storage.Store
	Ledger  *ledger.Engine
	Offers  *payments.Manager
	Codes   *otp.Service
	Tokens  *auth.TokenManager
	Creds   *auth.CredentialService
	Sweeper *sweeper.Sweeper
}

// NewServices wires every component over one store and one lock table.
func NewServices(cfg config.Config, store storage.Store, pub events.Publisher, clk clock.Clock, log *zap.Logger) Services {
	locks := keylock.New()
	src := random.Crypto{}

	codes := otp.NewService(store, locks, src, clk, pub, log.Named("otp"), otp.Config{
		TTL:    cfg.OtpTTL,
		Length: cfg.OtpLength,
	})
	engine := ledger.NewEngine(store, locks, codes, pub, clk, log.Named("ledger"), ledger.Config{
		Currency:        cfg.Currency,
		OpeningBalance:  cfg.InitBalance,
		StepUpThreshold: cfg.TransferThreshold,
	})
	codec := payments.NewCodec(cfg.JWTSecret, cfg.JWTIssuer, clk)
	offers := payments.NewManager(store, engine, codes, locks, src, codec, clk, pub, log.Named("payments"), payments.Config{
		TTL: cfg.OfferTTL,
	})
	tokens := auth.NewTokenManager(store, cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL, clk, log.Named("auth"))

	return Services{
		Store:   store,
		Ledger:  engine,
		Offers:  offers,
		Codes:   codes,
		Tokens:  tokens,
		Creds:   auth.NewCredentialService(store, engine, codes, tokens, clk, log.Named("auth")),
		Sweeper: sweeper.New(store, offers, clk, log.Named("sweeper"), cfg.SweepInterval),
	}
}

// NewRouter mounts every route with the shared middleware chain.
func NewRouter(cfg config.Config, svc Services, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(log.Named("http")))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	authHandler := handlers.NewAuthHandler(svc.Creds, svc.Tokens)
	handlers.NewHealthHandler(time.Now(), svc.Store).Routes(r)
	authHandler.Routes(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticated(svc.Tokens))
		authHandler.ProtectedRoutes(r)
		handlers.NewUserHandler(svc.Ledger, svc.Creds, svc.Codes).Routes(r)
		handlers.NewTransactionHandler(svc.Ledger).Routes(r)
		handlers.NewOfferHandler(svc.Offers).Routes(r)
	})
	return r
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, svc Services, log *zap.Logger) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           NewRouter(cfg, svc, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return &Server{inner: httpServer}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
