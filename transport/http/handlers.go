package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
	"github.com/layer-3/usdcpay/service"
)

// Point-of-use views of the services, so tests can swap them.
type (
	authService interface {
		IssueNonce(ctx context.Context) (string, error)
		Authenticate(ctx context.Context, walletAddress, signature, message string) (*core.AuthResult, error)
	}

	identityService interface {
		Register(ctx context.Context, walletAddress string, username, email *string) (*core.User, error)
		Get(ctx context.Context, id string) (*core.User, error)
		UpdateProfile(ctx context.Context, who core.Identity, update core.ProfileUpdate) (*core.User, error)
		Search(ctx context.Context, query string) ([]*core.User, error)
	}

	ledgerService interface {
		Create(ctx context.Context, who core.Identity, in service.CreateTransferInput) (*core.Transaction, error)
		ListForUser(ctx context.Context, who core.Identity) ([]*core.Transaction, error)
		Get(ctx context.Context, id string) (*core.Transaction, error)
	}

	settlementService interface {
		Execute(ctx context.Context, who core.Identity, id string, cred ports.Credential) (*core.Transaction, error)
	}

	balanceService interface {
		BalanceOf(ctx context.Context, address string) (*core.Balance, error)
	}
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	auth   authService
	logger *slog.Logger
}

func NewAuthHandlers(auth authService, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{auth: auth, logger: logger.With("component", "auth_handler")}
}

// GET /api/auth/nonce
func (h *AuthHandlers) Nonce(c *gin.Context) {
	ctx := c.Request.Context()

	nonce, err := h.auth.IssueNonce(ctx)
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, gin.H{"nonce": nonce})
}

type authenticateRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
	Signature     string `json:"signature"     binding:"required"`
	Message       string `json:"message"       binding:"required"`
}

// POST /api/auth/authenticate
func (h *AuthHandlers) Authenticate(c *gin.Context) {
	ctx := c.Request.Context()

	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, errInvalidInput)
		return
	}

	res, err := h.auth.Authenticate(ctx, req.WalletAddress, req.Signature, req.Message)
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"token": res.Token,
		"user":  toUserResponse(res.User),
	})
}

// UserHandlers serves registration, profile and search
type UserHandlers struct {
	identity identityService
	logger   *slog.Logger
}

func NewUserHandlers(identity identityService, logger *slog.Logger) *UserHandlers {
	return &UserHandlers{identity: identity, logger: logger.With("component", "user_handler")}
}

type createUserRequest struct {
	WalletAddress string  `json:"walletAddress" binding:"required"`
	Username      *string `json:"username"      binding:"omitempty,min=3,max=30"`
	Email         *string `json:"email"         binding:"omitempty,email"`
}

// POST /api/users
func (h *UserHandlers) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, errInvalidInput)
		return
	}

	user, err := h.identity.Register(ctx, req.WalletAddress, req.Username, req.Email)
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusCreated, toUserResponse(user))
}

// GET /api/users/profile
func (h *UserHandlers) Profile(c *gin.Context) {
	ctx := c.Request.Context()
	who, ok := callerIdentity(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, errAuthRequired)
		return
	}

	user, err := h.identity.Get(ctx, who.UserID)
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, toUserResponse(user))
}

type updateProfileRequest struct {
	Username *string `json:"username" binding:"omitempty,min=3,max=30"`
	Email    *string `json:"email"    binding:"omitempty,email"`
}

// PATCH /api/users/profile
func (h *UserHandlers) UpdateProfile(c *gin.Context) {
	ctx := c.Request.Context()
	who, ok := callerIdentity(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, errAuthRequired)
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, errInvalidInput)
		return
	}

	user, err := h.identity.UpdateProfile(ctx, who, core.ProfileUpdate{Username: req.Username, Email: req.Email})
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, toUserResponse(user))
}

// GET /api/users/search?query=
func (h *UserHandlers) Search(c *gin.Context) {
	ctx := c.Request.Context()

	users, err := h.identity.Search(ctx, c.Query("query"))
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, toUserResponses(users))
}

// TransactionHandlers serves the transaction ledger and settlement
type TransactionHandlers struct {
	ledger     ledgerService
	settlement settlementService
	logger     *slog.Logger
}

func NewTransactionHandlers(ledger ledgerService, settlement settlementService, logger *slog.Logger) *TransactionHandlers {
	return &TransactionHandlers{
		ledger:     ledger,
		settlement: settlement,
		logger:     logger.With("component", "transaction_handler"),
	}
}

type createTransactionRequest struct {
	RecipientAddress string  `json:"recipientAddress" binding:"required"`
	Amount           string  `json:"amount"           binding:"required"`
	Note             *string `json:"note"`
}

// POST /api/transactions
func (h *TransactionHandlers) Create(c *gin.Context) {
	ctx := c.Request.Context()
	who, ok := callerIdentity(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, errAuthRequired)
		return
	}

	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, errInvalidInput)
		return
	}

	tx, err := h.ledger.Create(ctx, who, service.CreateTransferInput{
		RecipientAddress: req.RecipientAddress,
		Amount:           req.Amount,
		Note:             req.Note,
	})
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusCreated, toTransactionResponse(tx))
}

type executeTransactionRequest struct {
	PrivateKey string `json:"privateKey"`
}

// POST /api/transactions/:id/execute
func (h *TransactionHandlers) Execute(c *gin.Context) {
	ctx := c.Request.Context()
	who, ok := callerIdentity(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, errAuthRequired)
		return
	}

	// The body is optional; custodial signing needs none.
	var req executeTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondMessage(c, http.StatusBadRequest, errInvalidInput)
		return
	}

	tx, err := h.settlement.Execute(ctx, who, c.Param("id"), ports.Credential{PrivateKey: req.PrivateKey})
	if err != nil {
		var data any
		if tx != nil {
			data = toTransactionResponse(tx)
		}
		respondError(ctx, c, h.logger, err, data)
		return
	}

	respond(c, http.StatusOK, toTransactionResponse(tx))
}

// GET /api/transactions/user
func (h *TransactionHandlers) ListForUser(c *gin.Context) {
	ctx := c.Request.Context()
	who, ok := callerIdentity(c)
	if !ok {
		respondMessage(c, http.StatusUnauthorized, errAuthRequired)
		return
	}

	txs, err := h.ledger.ListForUser(ctx, who)
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, toTransactionResponses(txs))
}

// GET /api/transactions/:id
func (h *TransactionHandlers) Get(c *gin.Context) {
	ctx := c.Request.Context()

	tx, err := h.ledger.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, toTransactionResponse(tx))
}

// BalanceHandlers serves on-chain USDC balances
type BalanceHandlers struct {
	balances balanceService
	logger   *slog.Logger
}

func NewBalanceHandlers(balances balanceService, logger *slog.Logger) *BalanceHandlers {
	return &BalanceHandlers{balances: balances, logger: logger.With("component", "balance_handler")}
}

// GET /api/balances/:address
func (h *BalanceHandlers) Get(c *gin.Context) {
	ctx := c.Request.Context()

	b, err := h.balances.BalanceOf(ctx, c.Param("address"))
	if err != nil {
		respondError(ctx, c, h.logger, err, nil)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"address":   b.Address,
		"balance":   b.Raw,
		"formatted": b.Formatted,
	})
}
