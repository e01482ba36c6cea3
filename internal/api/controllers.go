package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/internal/engine"
	"signal-core/internal/order"
)

type closeRequest struct {
	Symbol string `json:"symbol" binding:"required,min=3"`
	Reason string `json:"reason" binding:"max=200"`
}

type journalQuery struct {
	Limit int `form:"limit"`
}

func (q *journalQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// cycleBrief is the last cycle without its market payload.
type cycleBrief struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Started    time.Time      `json:"started"`
	DurationMS int64          `json:"duration_ms"`
	Outcome    engine.Outcome `json:"outcome"`
	Action     string         `json:"action,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	PnL        *float64       `json:"pnl,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func brief(rep *engine.CycleReport) *cycleBrief {
	if rep == nil {
		return nil
	}
	b := &cycleBrief{
		ID:         rep.ID,
		Kind:       rep.Kind,
		Started:    rep.Started,
		DurationMS: rep.DurationMS,
		Outcome:    rep.Outcome,
		PnL:        rep.PnL,
		Error:      rep.Error,
	}
	if rep.Decision != nil {
		b.Action = string(rep.Decision.Action)
	}
	if rep.Verdict != nil {
		b.Reason = rep.Verdict.Reason
	}
	return b
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"meta":           s.Meta,
		"uptime_seconds": int64(time.Since(s.Meta.StartedAt).Seconds()),
		"cycles":         s.Engine.Cycles(),
		"last_cycle":     brief(s.Engine.LastCycle()),
		"risk":           s.Engine.Gate().State(),
		"cycle_latency":  s.Metrics.CycleStats(),
	}
	if s.Feed != nil {
		resp["feed"] = s.Feed.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getSnapshot(c *gin.Context) {
	rep := s.Engine.LastCycle()
	if rep == nil || rep.Indicators == nil {
		respondError(c, http.StatusNotFound, "NO_CYCLE", "no cycle has completed yet")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cycle_id":         rep.ID,
		"kind":             rep.Kind,
		"started":          rep.Started,
		"price":            rep.Price,
		"balance":          rep.Balance,
		"indicators":       rep.Indicators,
		"timeframes":       rep.Timeframes,
		"market_sentiment": rep.Sentiment,
		"decision":         rep.Decision,
		"verdict":          rep.Verdict,
	})
}

func (s *Server) getJournal(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "trade journal is not configured")
		return
	}
	var q journalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	records, err := s.Journal.Recent(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getPerformance(c *gin.Context) {
	st := s.Engine.Gate().State()
	resp := gin.H{
		"memory": s.Engine.Memory().Summary(),
		"risk": gin.H{
			"total_realized_pnl": st.TotalRealizedPnL,
			"max_profit":         st.MaxProfit,
			"max_drawdown":       st.MaxDrawdown,
			"trades_recorded":    st.TradesRecorded,
			"consecutive_losses": st.ConsecutiveLosses,
		},
	}
	if s.Journal != nil {
		stats, err := s.Journal.Stats(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		resp["journal"] = stats
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) closePositions(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "ALL" {
		symbol = "all"
	}
	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("manual close by %s", CurrentOperator(c))
	}

	results, err := s.Engine.CloseManual(c.Request.Context(), symbol, reason)
	if results == nil {
		results = []order.CloseResult{}
	}
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("manual close failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"code":   "CLOSE_FAILED",
			"error":  err.Error(),
			"closed": results,
		})
		return
	}
	s.log.Warn().Str("symbol", symbol).Str("operator", CurrentOperator(c)).Int("closed", len(results)).Msg("manual close")
	c.JSON(http.StatusOK, gin.H{"closed": results})
}

func (s *Server) resetLosses(c *gin.Context) {
	gate := s.Engine.Gate()
	prev := gate.ConsecutiveLosses()
	gate.ResetConsecutiveLosses()
	s.log.Warn().Int("previous", prev).Str("operator", CurrentOperator(c)).Msg("losing streak reset")
	c.JSON(http.StatusOK, gin.H{
		"previous":           prev,
		"consecutive_losses": gate.ConsecutiveLosses(),
	})
}
