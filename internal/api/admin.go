package api

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"bintrade-core/internal/events"
	"bintrade-core/internal/users"
	"bintrade-core/pkg/db"

	"github.com/gin-gonic/gin"
)

type reviewKind int

const (
	reviewApprove reviewKind = iota
	reviewReject
	reviewFreeze
)

func (k reviewKind) String() string {
	switch k {
	case reviewReject:
		return "reject"
	case reviewFreeze:
		return "freeze"
	default:
		return "approve"
	}
}

type reviewRequest struct {
	Note string `json:"note"`
}

type predeterminedRequest struct {
	Result string `json:"result"`
}

func (s *Server) adminListUsers(c *gin.Context) {
	list, err := s.Users.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(list))
}

func (s *Server) adminUpdateUser(c *gin.Context) {
	var req users.AdminEdit
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	user, err := s.Users.AdminUpdate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Printf("👤 [ADMIN] %s edited user %s", CurrentUserID(c), user.ID)
	c.JSON(http.StatusOK, user)
}

func (s *Server) adminListTrades(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		trades []db.Trade
		err    error
	)
	switch status := c.Query("status"); status {
	case "":
		trades, err = s.Trades.ListAll(ctx)
	case db.TradeActive:
		trades, err = s.Trades.ListActive(ctx)
	default:
		trades, err = s.Trades.ListAll(ctx)
		trades = filterTrades(trades, status)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(trades))
}

func (s *Server) adminSetPredetermined(c *gin.Context) {
	var req predeterminedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	t, err := s.Trades.SetPredetermined(c.Request.Context(), c.Param("id"), req.Result)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) adminListTransactions(c *gin.Context) {
	txs, err := s.Wallet.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(txs))
}

func (s *Server) adminReviewTransaction(kind reviewKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reviewRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		id := c.Param("id")

		var (
			tx  *db.Transaction
			err error
		)
		switch kind {
		case reviewReject:
			tx, err = s.Wallet.Reject(ctx, id, req.Note)
		case reviewFreeze:
			tx, err = s.Wallet.Freeze(ctx, id, req.Note)
		default:
			tx, err = s.Wallet.Approve(ctx, id, req.Note)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		log.Printf("📋 [ADMIN] %s %s transaction %s", CurrentUserID(c), kind, id)
		c.JSON(http.StatusOK, tx)
	}
}

func (s *Server) adminUpdateSettings(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "expected a non-empty object of settings")
		return
	}
	ctx := c.Request.Context()
	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Settings.Set(ctx, k, req[k]); err != nil {
			writeError(c, err)
			return
		}
	}
	log.Printf("⚙️ [ADMIN] %s updated settings %s", CurrentUserID(c), strings.Join(keys, ","))
	s.getSettings(c)
}

// getMetrics returns system performance metrics plus recent settlement alerts.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	alerts := []events.Alert{}
	if s.Alerts != nil {
		alerts = s.Alerts.Recent()
	}
	c.JSON(http.StatusOK, gin.H{
		"metrics": s.Metrics.GetSnapshot(),
		"alerts":  alerts,
	})
}

// getPromMetrics returns a minimal Prometheus text exposition of key metrics.
func (s *Server) getPromMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	snapshot := s.Metrics.GetSnapshot()

	var b strings.Builder
	// Counters
	fmt.Fprintf(&b, "bintrade_trades_opened_total %d\n", snapshot.TradesOpened)
	fmt.Fprintf(&b, "bintrade_trades_settled_total %d\n", snapshot.TradesSettled)
	fmt.Fprintf(&b, "bintrade_settle_errors_total %d\n", snapshot.SettleErrors)
	fmt.Fprintf(&b, "bintrade_malformed_records_total %d\n", snapshot.MalformedRecords)
	fmt.Fprintf(&b, "bintrade_sweeps_total %d\n", snapshot.Sweeps)
	fmt.Fprintf(&b, "bintrade_oracle_fetches_total %d\n", snapshot.OracleFetches)
	fmt.Fprintf(&b, "bintrade_oracle_failures_total %d\n", snapshot.OracleFailures)
	fmt.Fprintf(&b, "bintrade_oracle_stale_serves_total %d\n", snapshot.StaleServes)
	fmt.Fprintf(&b, "bintrade_http_requests_total %d\n", snapshot.HTTPRequests)
	fmt.Fprintf(&b, "bintrade_http_errors_total %d\n", snapshot.HTTPErrors)
	fmt.Fprintf(&b, "bintrade_ledger_lock_acquisitions_total %d\n", snapshot.LedgerLockAcquires)
	// Gauges
	fmt.Fprintf(&b, "bintrade_ws_clients %d\n", snapshot.WSClients)
	fmt.Fprintf(&b, "bintrade_goroutines %d\n", snapshot.GoroutineCount)
	fmt.Fprintf(&b, "bintrade_last_sweep_ms %.3f\n", snapshot.LastSweepMs)
	fmt.Fprintf(&b, "bintrade_settle_latency_p95_ms %.3f\n", snapshot.SettleLatency.P95)
	fmt.Fprintf(&b, "bintrade_oracle_latency_p95_ms %.3f\n", snapshot.OracleLatency.P95)

	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(b.String()))
}
