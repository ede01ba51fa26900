package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/config"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/otp"
	"github.com/hongminglow/qrpay/internal/storage/memory"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type api struct {
	t      *testing.T
	srv    *httptest.Server
	events *events.Recorder
	clock  *clock.Manual
}

func newAPI(t *testing.T) *api {
	t.Helper()
	cfg := config.Config{
		Port:              "0",
		JWTSecret:         "router-test-secret",
		JWTIssuer:         "qrpay-test",
		SessionTTL:        24 * time.Hour,
		CORSOrigins:       []string{"*"},
		OfferTTL:          10 * time.Minute,
		OtpTTL:            5 * time.Minute,
		OtpLength:         6,
		TransferThreshold: 8000,
		InitBalance:       10000,
		Currency:          "PHP",
		SweepInterval:     time.Minute,
	}
	rec := &events.Recorder{}
	clk := clock.NewManual(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	svc := NewServices(cfg, memory.New(), rec, clk, zap.NewNop())
	srv := httptest.NewServer(NewRouter(cfg, svc, zap.NewNop()))
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, events: rec, clock: clk}
}

func (a *api) do(method, path, token string, body any) (int, envelope) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type userData struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
}

type txData struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	FailureReason string `json:"failure_reason"`
}

type loginData struct {
	Token       string   `json:"token"`
	RequiresOTP bool     `json:"requires_otp"`
	User        userData `json:"user"`
}

// signup registers and logs in a user, returning its id and token.
func (a *api) signup(name, phone string) (string, string) {
	a.t.Helper()
	status, env := a.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": name + "@example.com", "phone": phone, "full_name": name, "password": "password-" + name,
	})
	require.Equal(a.t, http.StatusCreated, status, env.Message)

	status, env = a.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": name + "@example.com", "password": "password-" + name,
	})
	require.Equal(a.t, http.StatusOK, status, env.Message)
	login := decodeData[loginData](a.t, env)
	require.NotEmpty(a.t, login.Token)
	return login.User.ID, login.Token
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	status, env := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", env.Message)
}

func TestDirectTransferFlow(t *testing.T) {
	a := newAPI(t)
	aliceID, alice := a.signup("alice", "+639170000001")
	bobID, bob := a.signup("bob", "+639170000002")
	_, carol := a.signup("carol", "+639170000003")

	status, env := a.do(http.MethodPost, "/transactions", alice, map[string]string{
		"recipient_id": bobID, "amount": "25.50", "description": "dinner",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	tx := decodeData[txData](t, env)
	assert.Equal(t, "PENDING", tx.Status)
	assert.Equal(t, "25.50", tx.Amount)

	status, _ = a.do(http.MethodPost, "/transactions/"+tx.ID+"/confirm", bob, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = a.do(http.MethodPost, "/transactions/"+tx.ID+"/confirm", alice, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, "COMPLETED", decodeData[txData](t, env).Status)

	_, env = a.do(http.MethodGet, "/users/me", alice, nil)
	assert.Equal(t, "74.50", decodeData[userData](t, env).Balance)
	assert.Equal(t, aliceID, decodeData[userData](t, env).ID)

	status, _ = a.do(http.MethodGet, "/transactions/"+tx.ID, bob, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(http.MethodGet, "/transactions/"+tx.ID, carol, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = a.do(http.MethodGet, "/transactions?page=1&limit=10", bob, nil)
	require.Equal(t, http.StatusOK, status)
	page := decodeData[struct {
		Transactions []txData `json:"transactions"`
		Total        int      `json:"total"`
		Pages        int      `json:"pages"`
	}](t, env)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Pages)

	_, env = a.do(http.MethodGet, "/users/me/summary", bob, nil)
	summary := decodeData[map[string]any](t, env)
	assert.Equal(t, "125.50", summary["balance"])
	assert.Equal(t, "25.50", summary["total_received"])
}

func TestTransferFailureReturnsTransaction(t *testing.T) {
	a := newAPI(t)
	_, alice := a.signup("alice", "+639170000001")
	bobID, _ := a.signup("bob", "+639170000002")

	var ids []string
	for i := 0; i < 2; i++ {
		status, env := a.do(http.MethodPost, "/transactions", alice, map[string]string{
			"recipient_id": bobID, "amount": "70.00",
		})
		require.Equal(t, http.StatusCreated, status)
		ids = append(ids, decodeData[txData](t, env).ID)
	}

	status, _ := a.do(http.MethodPost, "/transactions/"+ids[0]+"/confirm", alice, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := a.do(http.MethodPost, "/transactions/"+ids[1]+"/confirm", alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	failed := decodeData[txData](t, env)
	assert.Equal(t, "FAILED", failed.Status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", failed.FailureReason)

	status, _ = a.do(http.MethodPost, "/transactions", alice, map[string]string{
		"recipient_id": bobID, "amount": "1.005",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCancelTransfer(t *testing.T) {
	a := newAPI(t)
	_, alice := a.signup("alice", "+639170000001")
	bobID, bob := a.signup("bob", "+639170000002")

	_, env := a.do(http.MethodPost, "/transactions", alice, map[string]string{"recipient_id": bobID, "amount": "5"})
	tx := decodeData[txData](t, env)

	status, _ := a.do(http.MethodPost, "/transactions/"+tx.ID+"/cancel", bob, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, env = a.do(http.MethodPost, "/transactions/"+tx.ID+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CANCELLED", decodeData[txData](t, env).Status)

	status, _ = a.do(http.MethodPost, "/transactions/"+tx.ID+"/confirm", alice, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestOfferFlow(t *testing.T) {
	a := newAPI(t)
	_, alice := a.signup("alice", "+639170000001")
	_, shop := a.signup("shop", "+639170000002")

	status, env := a.do(http.MethodPost, "/offers", shop, map[string]string{"amount": "10.00", "description": "latte"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	offer := decodeData[struct {
		ID      string `json:"id"`
		Payload string `json:"payload"`
	}](t, env)
	require.NotEmpty(t, offer.Payload)

	status, env = a.do(http.MethodPost, "/offers/resolve", alice, map[string]string{"payload": offer.Payload})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, offer.ID, decodeData[struct {
		ID string `json:"id"`
	}](t, env).ID)

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/offers/"+offer.ID+"/qr.png?size=128", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	status, env = a.do(http.MethodPost, "/offers/"+offer.ID+"/redeem", alice, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, "COMPLETED", decodeData[txData](t, env).Status)

	status, _ = a.do(http.MethodPost, "/offers/"+offer.ID+"/redeem", alice, nil)
	assert.Equal(t, http.StatusGone, status)
	status, _ = a.do(http.MethodGet, "/offers/"+offer.ID, alice, nil)
	assert.Equal(t, http.StatusGone, status)

	_, env = a.do(http.MethodGet, "/users/me", shop, nil)
	assert.Equal(t, "110.00", decodeData[userData](t, env).Balance)
}

func TestOfferExpires(t *testing.T) {
	a := newAPI(t)
	_, alice := a.signup("alice", "+639170000001")
	_, shop := a.signup("shop", "+639170000002")

	_, env := a.do(http.MethodPost, "/offers", shop, map[string]string{"amount": "1.00"})
	id := decodeData[struct {
		ID string `json:"id"`
	}](t, env).ID

	a.clock.Advance(11 * time.Minute)
	status, _ := a.do(http.MethodPost, "/offers/"+id+"/redeem", alice, nil)
	assert.Equal(t, http.StatusGone, status)
}

func TestStepUpConfirm(t *testing.T) {
	a := newAPI(t)
	_, alice := a.signup("alice", "+639170000001")
	bobID, _ := a.signup("bob", "+639170000002")

	_, env := a.do(http.MethodPost, "/transactions", alice, map[string]string{"recipient_id": bobID, "amount": "90.00"})
	tx := decodeData[txData](t, env)

	status, _ := a.do(http.MethodPost, "/transactions/"+tx.ID+"/confirm", alice, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(http.MethodPost, "/otp/send", alice, map[string]string{"purpose": "TRANSFER_CONFIRM"})
	require.Equal(t, http.StatusOK, status)
	code := lastCode(t, a.events)

	status, env = a.do(http.MethodPost, "/transactions/"+tx.ID+"/confirm", alice, map[string]string{"otp": code})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, "COMPLETED", decodeData[txData](t, env).Status)
}

func TestTwoFactorLoginAndLogout(t *testing.T) {
	a := newAPI(t)
	userID, token := a.signup("alice", "+639170000001")

	status, _ := a.do(http.MethodPut, "/users/me/2fa", token, map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, status)

	status, env := a.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "password-alice",
	})
	require.Equal(t, http.StatusOK, status)
	login := decodeData[loginData](t, env)
	assert.True(t, login.RequiresOTP)
	assert.Empty(t, login.Token)

	status, env = a.do(http.MethodPost, "/auth/verify-otp", "", map[string]string{
		"user_id": userID, "code": lastCode(t, a.events),
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	second := decodeData[loginData](t, env).Token

	status, env = a.do(http.MethodPost, "/auth/refresh", second, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	refreshed := decodeData[struct {
		Token string `json:"token"`
	}](t, env).Token
	status, _ = a.do(http.MethodGet, "/users/me", second, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(http.MethodPost, "/auth/logout", refreshed, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = a.do(http.MethodGet, "/users/me", refreshed, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(http.MethodGet, "/users/me", token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRequestBodiesRejectUnknownFields(t *testing.T) {
	a := newAPI(t)
	_, alice := a.signup("alice", "+639170000001")
	bobID, _ := a.signup("bob", "+639170000002")

	status, env := a.do(http.MethodPost, "/transactions", alice, map[string]string{
		"recipient_id": bobID, "amount": "5.00", "sender_id": bobID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "sender_id")

	status, _ = a.do(http.MethodPost, "/auth/login", "", map[string]any{
		"email": "alice@example.com", "password": "password-alice", "admin": true,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	_, env = a.do(http.MethodGet, "/transactions", alice, nil)
	assert.Zero(t, decodeData[struct {
		Total int `json:"total"`
	}](t, env).Total)
}

func TestVerifyOtpBurnsCodeAfterRepeatedFailures(t *testing.T) {
	a := newAPI(t)
	userID, token := a.signup("alice", "+639170000001")
	status, _ := a.do(http.MethodPut, "/users/me/2fa", token, map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, status)

	status, _ = a.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "password-alice",
	})
	require.Equal(t, http.StatusOK, status)
	code := lastCode(t, a.events)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < otp.DefaultMaxAttempts; i++ {
		status, _ = a.do(http.MethodPost, "/auth/verify-otp", "", map[string]string{"user_id": userID, "code": wrong})
		require.Equal(t, http.StatusUnauthorized, status)
	}
	status, _ = a.do(http.MethodPost, "/auth/verify-otp", "", map[string]string{"user_id": userID, "code": code})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUpdateProfileAndSearchUsers(t *testing.T) {
	a := newAPI(t)
	aliceID, alice := a.signup("alice", "+639170000001")
	_, bob := a.signup("bob", "+639170000002")

	status, env := a.do(http.MethodPut, "/users/profile", alice, map[string]string{"full_name": "Alice Mendoza"})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, "Alice Mendoza", decodeData[map[string]any](t, env)["full_name"])

	status, _ = a.do(http.MethodPut, "/users/profile", alice, map[string]string{"phone": "+639170000002"})
	assert.Equal(t, http.StatusConflict, status)

	status, env = a.do(http.MethodGet, "/users/search?q=mendoza", bob, nil)
	require.Equal(t, http.StatusOK, status)
	found := decodeData[[]map[string]any](t, env)
	require.Len(t, found, 1)
	assert.Equal(t, aliceID, found[0]["id"])
	assert.NotContains(t, found[0], "balance")

	status, _ = a.do(http.MethodGet, "/users/search", bob, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func lastCode(t *testing.T, rec *events.Recorder) string {
	t.Helper()
	all := rec.Events()
	for i := len(all) - 1; i >= 0; i-- {
		if data, ok := all[i].Data.(events.OtpData); ok {
			return data.Code
		}
	}
	t.Fatal("no otp.issued event recorded")
	return ""
}
