package api

import (
	"net/http"
	"time"

	"bintrade-core/internal/access"
	"bintrade-core/internal/auth"
	"bintrade-core/internal/bank"
	"bintrade-core/internal/ledger"
	"bintrade-core/internal/market"
	"bintrade-core/internal/monitor"
	"bintrade-core/internal/notify"
	"bintrade-core/internal/settings"
	"bintrade-core/internal/trade"
	"bintrade-core/internal/users"
	"bintrade-core/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the trading services.
type Server struct {
	Router   *gin.Engine
	Users    *users.Service
	Trades   *trade.Manager
	Wallet   *wallet.Service
	Banks    *bank.Service
	Settings *settings.Service
	Ledger   *ledger.Manager
	Oracle   *market.Oracle
	Hub      *notify.Hub
	Tokens   *auth.Tokens
	Metrics  *monitor.SystemMetrics
	Alerts   *monitor.RecentSink
	Meta     SystemMeta
}

// Deps groups the services the HTTP layer calls. Hub, Metrics and Alerts are optional.
type Deps struct {
	Users    *users.Service
	Trades   *trade.Manager
	Wallet   *wallet.Service
	Banks    *bank.Service
	Settings *settings.Service
	Ledger   *ledger.Manager
	Oracle   *market.Oracle
	Hub      *notify.Hub
	Tokens   *auth.Tokens
	Metrics  *monitor.SystemMetrics
	Alerts   *monitor.RecentSink
}

// Options tunes the middleware stack.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Version    string
	OracleMode string
	Storage    string
}

func NewServer(d Deps, opts Options, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!): recovery first, CORS last before routes.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(d.Metrics))
	r.Use(RateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	s := &Server{
		Router:   r,
		Users:    d.Users,
		Trades:   d.Trades,
		Wallet:   d.Wallet,
		Banks:    d.Banks,
		Settings: d.Settings,
		Ledger:   d.Ledger,
		Oracle:   d.Oracle,
		Hub:      d.Hub,
		Tokens:   d.Tokens,
		Metrics:  d.Metrics,
		Alerts:   d.Alerts,
		Meta:     meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)

		// Auth endpoints (no auth required)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", s.registerUser)
			authGroup.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(s.AuthMiddleware())
		{
			protected.GET("/me", s.getMe)
			protected.PUT("/me", s.updateMe)

			protected.GET("/market", s.getMarket)
			protected.GET("/market/:id", s.getCrypto)

			protected.POST("/trades", s.openTrade)
			protected.GET("/trades", s.listTrades)
			protected.GET("/trades/:id", s.getTrade)
			protected.PATCH("/trades/:id/status", s.settleTrade)

			protected.GET("/wallet/balance", s.getBalance)
			protected.POST("/wallet/deposit", s.requestDeposit)
			protected.POST("/wallet/withdraw", s.requestWithdraw)
			protected.GET("/wallet/transactions", s.listMyTransactions)

			protected.GET("/bank-accounts", s.listBankAccounts)
			protected.POST("/bank-accounts", s.createBankAccount)
			protected.GET("/bank-accounts/:id/reveal", s.revealBankAccount)
			protected.PUT("/bank-accounts/:id/default", s.setDefaultBankAccount)
			protected.DELETE("/bank-accounts/:id", s.deleteBankAccount)

			protected.GET("/settings", s.getSettings)
		}

		admin := protected.Group("/admin")
		{
			admin.GET("/users", RequireCapability(access.CanManageUsers), s.adminListUsers)
			admin.PUT("/users/:id", RequireCapability(access.CanManageUsers), s.adminUpdateUser)

			admin.GET("/trades", RequireCapability(access.CanViewAllTrades), s.adminListTrades)
			admin.PATCH("/trades/:id/predetermined", RequireCapability(access.CanSetPredeterminedResult), s.adminSetPredetermined)

			txs := admin.Group("/transactions", RequireCapability(access.CanManageTransactions))
			{
				txs.GET("", s.adminListTransactions)
				txs.POST("/:id/approve", s.adminReviewTransaction(reviewApprove))
				txs.POST("/:id/reject", s.adminReviewTransaction(reviewReject))
				txs.POST("/:id/freeze", s.adminReviewTransaction(reviewFreeze))
			}

			admin.PUT("/settings", RequireCapability(access.CanManageSettings), s.adminUpdateSettings)
			admin.GET("/metrics", RequireCapability(access.CanViewMetrics), s.getMetrics)
			admin.GET("/metrics/prom", RequireCapability(access.CanViewMetrics), s.getPromMetrics)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getSystemStatus exposes runtime mode for the dashboard.
func (s *Server) getSystemStatus(c *gin.Context) {
	var fetchedAt *time.Time
	if s.Oracle != nil {
		if t := s.Oracle.FetchedAt(); !t.IsZero() {
			fetchedAt = &t
		}
	}
	wsClients := 0
	if s.Hub != nil {
		wsClients = s.Hub.Clients()
	}
	c.JSON(http.StatusOK, gin.H{
		"version":           s.Meta.Version,
		"oracle_mode":       s.Meta.OracleMode,
		"storage":           s.Meta.Storage,
		"oracle_fetched_at": fetchedAt,
		"ws_clients":        wsClients,
		"server_time":       time.Now().UTC(),
	})
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
