package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"bintrade-core/internal/access"
	"bintrade-core/internal/bank"
	"bintrade-core/internal/trade"
	"bintrade-core/internal/wallet"
	"bintrade-core/pkg/db"

	"github.com/gin-gonic/gin"
)

type settleRequest struct {
	Status string `json:"status"`
}

// bindOptionalJSON binds a body that may be absent; it writes the error response itself.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return false
	}
	return true
}

// ----------------------------------------
// Market
// ----------------------------------------

func (s *Server) getMarket(c *gin.Context) {
	coins, err := s.Oracle.MarketData(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coins)
}

func (s *Server) getCrypto(c *gin.Context) {
	id := strings.ToLower(strings.TrimSpace(c.Param("id")))
	coin, err := s.Oracle.CryptoByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if coin == nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "unknown crypto "+id)
		return
	}
	c.JSON(http.StatusOK, coin)
}

// ----------------------------------------
// Trades
// ----------------------------------------

func (s *Server) openTrade(c *gin.Context) {
	var req trade.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.UserID = CurrentUserID(c)

	t, err := s.Trades.Open(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) listTrades(c *gin.Context) {
	trades, err := s.Trades.ListByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if status := c.Query("status"); status != "" {
		trades = filterTrades(trades, status)
	}
	c.JSON(http.StatusOK, nonNil(trades))
}

// getTrade hides other users' trades behind 404 unless the caller may view all trades.
func (s *Server) getTrade(c *gin.Context) {
	t, err := s.Trades.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if t.UserID != CurrentUserID(c) && !access.Can(CurrentRole(c), access.CanViewAllTrades) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "trade not found")
		return
	}
	c.JSON(http.StatusOK, t)
}

// settleTrade is the manual settlement trigger. The only accepted target status is completed.
func (s *Server) settleTrade(c *gin.Context) {
	var req settleRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Status != "" && req.Status != db.TradeCompleted {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "status can only be set to "+db.TradeCompleted)
		return
	}

	ctx := c.Request.Context()
	t, err := s.Trades.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	anyTrade := access.Can(CurrentRole(c), access.CanSettleAnyTrade)
	if err := s.Trades.CheckManualSettle(t, CurrentUserID(c), anyTrade); err != nil {
		writeError(c, err)
		return
	}

	settled, err := s.Trades.Settle(ctx, t.ID, trade.TriggerManual)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settled)
}

func filterTrades(in []db.Trade, status string) []db.Trade {
	out := in[:0:0]
	for _, t := range in {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// ----------------------------------------
// Wallet
// ----------------------------------------

func (s *Server) getBalance(c *gin.Context) {
	balance, err := s.Ledger.GetBalance(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance.String()})
}

func (s *Server) requestDeposit(c *gin.Context) {
	s.walletRequest(c, s.Wallet.RequestDeposit)
}

func (s *Server) requestWithdraw(c *gin.Context) {
	s.walletRequest(c, s.Wallet.RequestWithdraw)
}

func (s *Server) walletRequest(c *gin.Context, submit func(ctx context.Context, req wallet.Request) (*db.Transaction, error)) {
	var req wallet.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.UserID = CurrentUserID(c)

	tx, err := submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) listMyTransactions(c *gin.Context) {
	txs, err := s.Wallet.ListByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(txs))
}

// ----------------------------------------
// Bank accounts
// ----------------------------------------

func (s *Server) listBankAccounts(c *gin.Context) {
	accounts, err := s.Banks.List(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(accounts))
}

func (s *Server) createBankAccount(c *gin.Context) {
	var req bank.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	acc, err := s.Banks.Create(c.Request.Context(), CurrentUserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acc)
}

func (s *Server) revealBankAccount(c *gin.Context) {
	acc, err := s.Banks.Reveal(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

func (s *Server) setDefaultBankAccount(c *gin.Context) {
	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	if err := s.Banks.SetDefault(ctx, userID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	s.listBankAccounts(c)
}

func (s *Server) deleteBankAccount(c *gin.Context) {
	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	if err := s.Banks.Delete(ctx, userID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	s.listBankAccounts(c)
}

// ----------------------------------------
// Settings
// ----------------------------------------

func (s *Server) getSettings(c *gin.Context) {
	all, err := s.Settings.All(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
