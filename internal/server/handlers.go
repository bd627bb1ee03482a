package server

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/translation"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	defaultFundLimit    = 100
	defaultHistoryDays  = 30
	defaultRankingLimit = 20
	defaultAlertLimit   = 50
)

func fail(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"success": false, "error": msg}
	if err != nil {
		body["message"] = err.Error()
		log.WithError(err).WithField("path", c.FullPath()).Error(msg)
	}
	c.JSON(status, body)
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func queryDecimal(c *gin.Context, key string) (*decimal.Decimal, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, false
	}
	return &d, true
}

func (s *Server) health(c *gin.Context) {
	if err := s.deps.Funds.Ping(c.Request.Context()); err != nil {
		log.WithError(err).Error("health check failed")
		c.String(http.StatusServiceUnavailable, "database unavailable")
		return
	}
	c.String(http.StatusOK, "OK")
}

// GET /api/funds?limit=&discount_min=&discount_max=&type=&sort=discount|update_time&order=asc|desc
func (s *Server) listFunds(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultFundLimit)
	if !ok {
		fail(c, http.StatusBadRequest, "invalid limit", nil)
		return
	}
	minRate, ok := queryDecimal(c, "discount_min")
	if !ok {
		fail(c, http.StatusBadRequest, "invalid discount_min", nil)
		return
	}
	maxRate, ok := queryDecimal(c, "discount_max")
	if !ok {
		fail(c, http.StatusBadRequest, "invalid discount_max", nil)
		return
	}

	filter := types.FundFilter{DiscountMin: minRate, DiscountMax: maxRate, Limit: limit}
	if raw := c.Query("type"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !types.Category(n).Valid() {
			fail(c, http.StatusBadRequest, "invalid type", nil)
			return
		}
		category := types.Category(n)
		filter.Category = &category
	}

	sortBy := c.DefaultQuery("sort", "discount")
	order := c.DefaultQuery("order", "desc")
	if sortBy != "discount" && sortBy != "update_time" {
		fail(c, http.StatusBadRequest, "invalid sort", nil)
		return
	}
	if order != "asc" && order != "desc" {
		fail(c, http.StatusBadRequest, "invalid order", nil)
		return
	}

	funds, err := s.deps.Funds.LatestPerInstrument(c.Request.Context(), filter)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch funds", err)
		return
	}
	sortFunds(funds, sortBy, order == "desc")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    funds,
		"total":   len(funds),
		"filters": gin.H{
			"limit":        limit,
			"discount_min": minRate,
			"discount_max": maxRate,
			"type":         filter.Category,
			"sort":         sortBy,
			"order":        order,
		},
	})
}

func sortFunds(funds []types.FundRecord, by string, desc bool) {
	sort.SliceStable(funds, func(i, j int) bool {
		a, b := funds[i], funds[j]
		if desc {
			a, b = b, a
		}
		if by == "update_time" {
			return a.SourceUpdatedAt.Before(b.SourceUpdatedAt)
		}
		return a.DiscountRate.LessThan(b.DiscountRate)
	})
}

// GET /api/funds/:code
func (s *Server) getFund(c *gin.Context) {
	code := c.Param("code")
	funds, err := s.deps.Funds.LatestPerInstrument(c.Request.Context(), types.FundFilter{Code: code, Limit: 1})
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch fund", err)
		return
	}
	if len(funds) == 0 {
		fail(c, http.StatusNotFound, "fund not found", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": funds[0]})
}

// GET /api/funds/:code/history?days=
func (s *Server) fundHistory(c *gin.Context) {
	code := c.Param("code")
	days, ok := queryInt(c, "days", defaultHistoryDays)
	if !ok || days == 0 {
		fail(c, http.StatusBadRequest, "invalid days", nil)
		return
	}

	history, err := s.deps.Funds.History(c.Request.Context(), code, days)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch fund history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      history,
		"total":     len(history),
		"fund_code": code,
		"days":      days,
	})
}

// GET /api/funds/abnormal?threshold=
func (s *Server) abnormalFunds(c *gin.Context) {
	threshold := s.deps.SweepThreshold
	if t, ok := queryDecimal(c, "threshold"); !ok {
		fail(c, http.StatusBadRequest, "invalid threshold", nil)
		return
	} else if t != nil {
		threshold = t.Abs()
	}

	funds, err := s.deps.Funds.Abnormal(c.Request.Context(), threshold)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch abnormal funds", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      funds,
		"total":     len(funds),
		"threshold": threshold,
	})
}

// GET /api/funds/ranking?type=discount_high|discount_low|volume_high&limit=
func (s *Server) ranking(c *gin.Context) {
	kind := c.DefaultQuery("type", "discount_high")
	limit, ok := queryInt(c, "limit", defaultRankingLimit)
	if !ok {
		fail(c, http.StatusBadRequest, "invalid limit", nil)
		return
	}

	funds, err := s.deps.Funds.LatestPerInstrument(c.Request.Context(), types.FundFilter{})
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch ranking", err)
		return
	}

	switch kind {
	case "discount_low":
		sortFunds(funds, "discount", false)
	case "volume_high":
		sort.SliceStable(funds, func(i, j int) bool {
			return funds[i].PriceChangePct.Abs().GreaterThan(funds[j].PriceChangePct.Abs())
		})
	default:
		kind = "discount_high"
		sortFunds(funds, "discount", true)
	}
	if limit > 0 && len(funds) > limit {
		funds = funds[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"data":         funds,
		"total":        len(funds),
		"ranking_type": kind,
		"limit":        limit,
	})
}

// GET /api/alerts?limit=
func (s *Server) recentAlerts(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultAlertLimit)
	if !ok {
		fail(c, http.StatusBadRequest, "invalid limit", nil)
		return
	}
	records, err := s.deps.Funds.RecentAlertRecords(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to fetch alert history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records, "total": len(records)})
}

// GET /api/system/status
func (s *Server) status(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stored, err := s.deps.Funds.Count(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to read system status", err)
		return
	}

	data := gin.H{
		"server": gin.H{
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
			"memory_alloc":   mem.Alloc,
			"platform":       runtime.GOOS + "/" + runtime.GOARCH,
			"language":       translation.GetLanguage(),
		},
		"stored_records":  stored,
		"recrawl_running": s.recrawlOn.Load(),
		"last_runs":       s.deps.Runner.LastRuns(),
		"channels":        s.deps.Notifier.Channels(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.Scheduler != nil {
		data["tasks"] = s.deps.Scheduler.Tasks()
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// GET /api/system/test-api
func (s *Server) testAPI(c *gin.Context) {
	if s.deps.Upstream == nil {
		fail(c, http.StatusServiceUnavailable, "upstream client not configured", nil)
		return
	}
	connected := s.deps.Upstream.TestConnection(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"api_connected": connected,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// POST /api/system/crawl clears the store and ingests a fresh snapshot in
// the background. Only one recrawl runs at a time.
func (s *Server) crawl(c *gin.Context) {
	if !s.recrawlOn.CompareAndSwap(false, true) {
		fail(c, http.StatusConflict, "a recrawl is already running", nil)
		return
	}

	s.recrawls.Add(1)
	go func() {
		defer s.recrawls.Done()
		defer s.recrawlOn.Store(false)

		report, err := s.deps.Runner.Recrawl(s.ctx)
		if err != nil {
			log.WithError(err).WithField("run_id", report.RunID).Error("manual recrawl failed")
			return
		}
		log.WithFields(log.Fields{
			"run_id":   report.RunID,
			"inserted": report.Stored.Inserted,
			"skipped":  report.Stored.Skipped,
		}).Info("manual recrawl finished")
	}()

	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "recrawl started"})
}

// POST /api/system/test-notifications
func (s *Server) testNotifications(c *gin.Context) {
	results := s.deps.Notifier.TestChannels(c.Request.Context())

	data := make(map[string]gin.H, len(results))
	for name, err := range results {
		entry := gin.H{"ok": err == nil}
		if err != nil {
			entry["error"] = err.Error()
		}
		data[name] = entry
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "message": "notification test finished"})
}

type testAlertRequest struct {
	Message string `json:"message"`
}

// POST /api/system/send-test-alert
func (s *Server) sendTestAlert(c *gin.Context) {
	var req testAlertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	if req.Message == "" {
		req.Message = "This is a test alert message"
	}

	results := s.deps.Notifier.SendSystemAlert(c.Request.Context(), "test", req.Message)
	delivered := 0
	for _, r := range results {
		if r.OK() {
			delivered++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "test alert sent",
		"delivered": delivered,
		"channels":  len(results),
	})
}
