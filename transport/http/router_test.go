package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/usdcpay/adapters/eth"
	"github.com/layer-3/usdcpay/adapters/events"
	"github.com/layer-3/usdcpay/adapters/store"
	"github.com/layer-3/usdcpay/adapters/tokenizer"
	"github.com/layer-3/usdcpay/ports"
	"github.com/layer-3/usdcpay/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "router-test-secret-that-is-32-chars!"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubSigner struct{ address string }

func (s stubSigner) Address() string { return s.address }

type stubSigners struct{}

func (stubSigners) SignerFor(_ context.Context, walletAddress string, _ ports.Credential) (ports.Signer, error) {
	return stubSigner{address: walletAddress}, nil
}

type stubChain struct {
	err     error
	balance *big.Int
}

func (c *stubChain) Submit(context.Context, ports.Signer, string, *big.Int) (string, error) {
	return "0xabc123", nil
}

func (c *stubChain) Confirm(context.Context, string) error {
	return c.err
}

func (c *stubChain) BalanceOf(context.Context, string) (*big.Int, error) {
	return c.balance, nil
}

type testAPI struct {
	engine *gin.Engine
	chain  *stubChain
}

func newTestAPI(t *testing.T, opts ...func(*RouterConfig)) *testAPI {
	t.Helper()

	ledger := store.NewMemoryLedger()
	chain := &stubChain{balance: big.NewInt(12_345_678)}
	identity := service.NewIdentityService(ledger, discard)
	auth := service.NewAuthService(
		tokenizer.NewJWTTokenizer([]byte(testSecret)),
		eth.NewPersonalSignVerifier(),
		store.NewMemoryNonceStore(),
		identity,
		discard,
		service.AuthOptions{},
	)
	ledgerSvc := service.NewLedgerService(ledger.Transactions(), identity, ledger, events.NoopPublisher{}, discard)
	settlement := service.NewSettlementService(ledger.Transactions(), stubSigners{}, chain, events.NoopPublisher{}, discard, 0)

	cfg := RouterConfig{
		Logger:         discard,
		Auth:           NewAuthHandlers(auth, discard),
		Users:          NewUserHandlers(identity, discard),
		Transactions:   NewTransactionHandlers(ledgerSvc, settlement, discard),
		Balances:       NewBalanceHandlers(service.NewBalanceService(chain), discard),
		TokenValidator: auth,
		AuthRatePerMin: 1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine, err := NewRouter(cfg)
	require.NoError(t, err)
	return &testAPI{engine: engine, chain: chain}
}

type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path, token, body string) (int, apiResponse) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var res apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res), w.Body.String())
	return w.Code, res
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// login runs the nonce and signature flow for a fresh key and returns the
// bearer token and the wallet address.
func (a *testAPI) login(t *testing.T) (string, string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	code, res := a.do(t, http.MethodGet, "/api/auth/nonce", "", "")
	require.Equal(t, http.StatusOK, code)
	nonce := decode[map[string]string](t, res.Data)["nonce"]

	sig, err := crypto.Sign(accounts.TextHash([]byte(nonce)), key)
	require.NoError(t, err)
	sig[64] += 27

	body, err := json.Marshal(map[string]string{
		"walletAddress": wallet,
		"signature":     hexutil.Encode(sig),
		"message":       nonce,
	})
	require.NoError(t, err)

	code, res = a.do(t, http.MethodPost, "/api/auth/authenticate", "", string(body))
	require.Equal(t, http.StatusOK, code, res.Error)
	out := decode[struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}](t, res.Data)
	require.NotEmpty(t, out.Token)
	assert.Equal(t, strings.ToLower(wallet), out.User.WalletAddress)
	return out.Token, strings.ToLower(wallet)
}

func TestNonceEndpoint(t *testing.T) {
	api := newTestAPI(t)

	code, res := api.do(t, http.MethodGet, "/api/auth/nonce", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", res.Status)
	assert.True(t, strings.HasPrefix(decode[map[string]string](t, res.Data)["nonce"], "Sign this message"))
}

func TestAuthenticateRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)

	code, res := api.do(t, http.MethodPost, "/api/auth/authenticate", "", `{"walletAddress":"0x1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, errInvalidInput, res.Error)

	code, res = api.do(t, http.MethodPost, "/api/auth/authenticate", "",
		`{"walletAddress":"0x1234567890123456789012345678901234567890","signature":"0x00","message":"hello"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid signature", res.Error)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/users/profile"},
		{http.MethodPatch, "/api/users/profile"},
		{http.MethodPost, "/api/transactions"},
		{http.MethodGet, "/api/transactions/user"},
		{http.MethodPost, "/api/transactions/some-id/execute"},
	} {
		code, res := api.do(t, r.method, r.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, code, r.path)
		assert.Equal(t, errAuthRequired, res.Error, r.path)
	}

	code, res := api.do(t, http.MethodGet, "/api/users/profile", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid token", res.Error)
}

func TestUserRoutes(t *testing.T) {
	api := newTestAPI(t)

	code, res := api.do(t, http.MethodPost, "/api/users", "",
		`{"walletAddress":"0x2234567890123456789012345678901234567890","username":"bob"}`)
	require.Equal(t, http.StatusCreated, code, res.Error)
	bob := decode[userResponse](t, res.Data)
	assert.Equal(t, "bob", *bob.Username)

	code, res = api.do(t, http.MethodPost, "/api/users", "",
		`{"walletAddress":"0x2234567890123456789012345678901234567890"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "User already exists", res.Error)

	code, _ = api.do(t, http.MethodPost, "/api/users", "",
		`{"walletAddress":"0x3234567890123456789012345678901234567890","email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	token, _ := api.login(t)

	code, res = api.do(t, http.MethodPatch, "/api/users/profile", token, `{"username":"alice"}`)
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.Equal(t, "alice", *decode[userResponse](t, res.Data).Username)

	code, res = api.do(t, http.MethodPatch, "/api/users/profile", token, `{"username":"bob"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Username already taken", res.Error)

	code, _ = api.do(t, http.MethodPatch, "/api/users/profile", token, `{"username":"al"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = api.do(t, http.MethodGet, "/api/users/profile", token, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", *decode[userResponse](t, res.Data).Username)

	code, res = api.do(t, http.MethodGet, "/api/users/search?query=ali", "", "")
	require.Equal(t, http.StatusOK, code)
	found := decode[[]userResponse](t, res.Data)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", *found[0].Username)

	code, res = api.do(t, http.MethodGet, "/api/users/search", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Search query is required", res.Error)
}

func TestTransactionLifecycle(t *testing.T) {
	api := newTestAPI(t)
	senderToken, _ := api.login(t)
	recipientToken, recipient := api.login(t)

	code, res := api.do(t, http.MethodPost, "/api/transactions", senderToken,
		`{"recipientAddress":"`+recipient+`","amount":"10000000","note":"lunch"}`)
	require.Equal(t, http.StatusCreated, code, res.Error)
	created := decode[transactionResponse](t, res.Data)
	assert.Equal(t, "PENDING", string(created.Status))
	assert.Equal(t, "10000000", created.Amount)
	assert.Nil(t, created.TxHash)

	code, res = api.do(t, http.MethodPost, "/api/transactions/"+created.ID+"/execute", recipientToken, "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Only the sender can execute this transaction", res.Error)

	code, res = api.do(t, http.MethodPost, "/api/transactions/"+created.ID+"/execute", senderToken, "")
	require.Equal(t, http.StatusOK, code, res.Error)
	done := decode[transactionResponse](t, res.Data)
	assert.Equal(t, "COMPLETED", string(done.Status))
	require.NotNil(t, done.TxHash)
	assert.Equal(t, "0xabc123", *done.TxHash)

	code, res = api.do(t, http.MethodPost, "/api/transactions/"+created.ID+"/execute", senderToken, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Transaction is not pending", res.Error)

	code, res = api.do(t, http.MethodGet, "/api/transactions/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "COMPLETED", string(decode[transactionResponse](t, res.Data).Status))

	for _, token := range []string{senderToken, recipientToken} {
		code, res = api.do(t, http.MethodGet, "/api/transactions/user", token, "")
		require.Equal(t, http.StatusOK, code)
		list := decode[[]transactionResponse](t, res.Data)
		require.Len(t, list, 1)
		assert.Equal(t, created.ID, list[0].ID)
	}
}

func TestExecuteFailureReturnsRecord(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.login(t)
	_, recipient := api.login(t)
	api.chain.err = errors.New("execution reverted")

	_, res := api.do(t, http.MethodPost, "/api/transactions", token,
		`{"recipientAddress":"`+recipient+`","amount":"5"}`)
	created := decode[transactionResponse](t, res.Data)

	code, res := api.do(t, http.MethodPost, "/api/transactions/"+created.ID+"/execute", token, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Transaction failed", res.Error)
	failed := decode[transactionResponse](t, res.Data)
	assert.Equal(t, "FAILED", string(failed.Status))
	assert.Nil(t, failed.TxHash)
}

func TestCreateTransactionValidation(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.login(t)

	code, res := api.do(t, http.MethodPost, "/api/transactions", token,
		`{"recipientAddress":"invalid-address","amount":"100"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid Ethereum address", res.Error)

	code, _ = api.do(t, http.MethodPost, "/api/transactions", token,
		`{"recipientAddress":"0x2234567890123456789012345678901234567890","amount":"1.5"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.do(t, http.MethodPost, "/api/transactions", token, `{"amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetTransactionNotFound(t *testing.T) {
	api := newTestAPI(t)

	code, res := api.do(t, http.MethodGet, "/api/transactions/does-not-exist", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Transaction not found", res.Error)
}

func TestBalanceEndpoint(t *testing.T) {
	api := newTestAPI(t)

	code, res := api.do(t, http.MethodGet, "/api/balances/0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "", "")
	require.Equal(t, http.StatusOK, code, res.Error)
	got := decode[map[string]string](t, res.Data)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", got["address"])
	assert.Equal(t, "12345678", got["balance"])
	assert.Equal(t, "12.345678", got["formatted"])

	code, _ = api.do(t, http.MethodGet, "/api/balances/not-an-address", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResponseHeaders(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/nonce", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func nonceFrom(api *testAPI, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/nonce", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w.Code
}

func TestAuthRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	api := newTestAPI(t, func(cfg *RouterConfig) { cfg.AuthRatePerMin = 1 })

	assert.Equal(t, http.StatusOK, nonceFrom(api, "203.0.113.7:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, nonceFrom(api, "203.0.113.7:4000", "198.51.100.2"))
}

func TestAuthRateLimitHonorsTrustedProxy(t *testing.T) {
	api := newTestAPI(t, func(cfg *RouterConfig) {
		cfg.AuthRatePerMin = 1
		cfg.TrustedProxies = []string{"10.0.0.0/8"}
	})

	assert.Equal(t, http.StatusOK, nonceFrom(api, "10.1.2.3:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusOK, nonceFrom(api, "10.1.2.3:4000", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, nonceFrom(api, "10.1.2.3:4000", "198.51.100.1"))
}

func TestNewRouterRejectsBadTrustedProxy(t *testing.T) {
	_, err := NewRouter(RouterConfig{Logger: discard, TrustedProxies: []string{"not-an-ip"}})
	assert.Error(t, err)
}
