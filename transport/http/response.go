package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/usdcpay/core"
)

const (
	errInternalServer  = "Internal server error"
	errInvalidInput    = "Invalid input"
	errTooManyRequests = "Too many requests"
	errAuthRequired    = "Authentication required"
)

type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func respond(c *gin.Context, code int, data any) {
	c.JSON(code, envelope{Status: "success", Data: data})
}

func respondMessage(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, envelope{Status: "error", Error: msg})
}

// respondError writes err as an error envelope. data, when not nil, is
// included so a caller can see the record the failure left behind.
func respondError(ctx context.Context, c *gin.Context, logger *slog.Logger, err error, data any) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(code, envelope{Status: "error", Error: msg, Data: data})
}

func statusFor(err error) (int, string) {
	var e *core.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, errInternalServer
	}

	switch {
	case errors.Is(e.Kind, core.ErrValidation):
		return http.StatusBadRequest, e.Msg
	case errors.Is(e.Kind, core.ErrUnauthorized):
		return http.StatusUnauthorized, e.Msg
	case errors.Is(e.Kind, core.ErrForbidden):
		return http.StatusForbidden, e.Msg
	case errors.Is(e.Kind, core.ErrNotFound):
		return http.StatusNotFound, e.Msg
	case errors.Is(e.Kind, core.ErrConflict):
		return http.StatusConflict, e.Msg
	case errors.Is(e.Kind, core.ErrSettlementFailed):
		return http.StatusBadRequest, e.Msg
	case errors.Is(e.Kind, core.ErrUnavailable):
		return http.StatusServiceUnavailable, e.Msg
	default:
		return http.StatusInternalServerError, errInternalServer
	}
}

type userResponse struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	Username      *string   `json:"username"`
	Email         *string   `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toUserResponse(u *core.User) userResponse {
	return userResponse{
		ID:            u.ID,
		WalletAddress: u.WalletAddress,
		Username:      u.Username,
		Email:         u.Email,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func toUserResponses(users []*core.User) []userResponse {
	out := make([]userResponse, len(users))
	for i, u := range users {
		out[i] = toUserResponse(u)
	}
	return out
}

type transactionResponse struct {
	ID               string      `json:"id"`
	SenderID         string      `json:"senderId"`
	RecipientID      string      `json:"recipientId"`
	RecipientAddress string      `json:"recipientAddress"`
	Amount           string      `json:"amount"`
	Status           core.Status `json:"status"`
	TxHash           *string     `json:"txHash"`
	Note             *string     `json:"note"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

func toTransactionResponse(t *core.Transaction) transactionResponse {
	return transactionResponse{
		ID:               t.ID,
		SenderID:         t.SenderID,
		RecipientID:      t.RecipientID,
		RecipientAddress: t.RecipientAddress,
		Amount:           t.Amount,
		Status:           t.Status,
		TxHash:           t.TxHash,
		Note:             t.Note,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func toTransactionResponses(txs []*core.Transaction) []transactionResponse {
	out := make([]transactionResponse, len(txs))
	for i, t := range txs {
		out[i] = toTransactionResponse(t)
	}
	return out
}
