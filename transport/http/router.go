package http

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// RouterConfig carries everything the HTTP surface depends on.
type RouterConfig struct {
	Logger         *slog.Logger
	Auth           *AuthHandlers
	Users          *UserHandlers
	Transactions   *TransactionHandlers
	Balances       *BalanceHandlers
	TokenValidator tokenValidator
	AuthRatePerMin int
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For header
	// is honored. Empty means the peer address is the client IP.
	TrustedProxies []string
}

// NewRouter sets up the gin engine with all API routes
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Security())
	r.Use(sloggin.New(cfg.Logger))
	r.Use(Metrics())

	requireAuth := AuthMiddleware(cfg.TokenValidator)
	limiter := NewRateLimiter(cfg.AuthRatePerMin)

	api := r.Group("/api")

	auth := api.Group("/auth", limiter.Middleware())
	auth.GET("/nonce", cfg.Auth.Nonce)
	auth.POST("/authenticate", cfg.Auth.Authenticate)

	users := api.Group("/users")
	users.POST("", cfg.Users.Create)
	users.GET("/search", cfg.Users.Search)
	users.GET("/profile", requireAuth, cfg.Users.Profile)
	users.PATCH("/profile", requireAuth, cfg.Users.UpdateProfile)

	txs := api.Group("/transactions")
	txs.POST("", requireAuth, cfg.Transactions.Create)
	txs.GET("/user", requireAuth, cfg.Transactions.ListForUser)
	txs.GET("/:id", cfg.Transactions.Get)
	txs.POST("/:id/execute", requireAuth, cfg.Transactions.Execute)

	api.GET("/balances/:address", cfg.Balances.Get)

	return r, nil
}
