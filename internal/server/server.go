package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/pipeline"
	"fund-arbitrage-bot/internal/scheduler"
	"fund-arbitrage-bot/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// FundReader is the read side of the fund store
type FundReader interface {
	LatestPerInstrument(ctx context.Context, filter types.FundFilter) ([]types.FundRecord, error)
	History(ctx context.Context, code string, days int) ([]types.FundRecord, error)
	Abnormal(ctx context.Context, threshold decimal.Decimal) ([]types.FundRecord, error)
	RecentAlertRecords(ctx context.Context, limit int) ([]types.AlertRecord, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

type Runner interface {
	Recrawl(ctx context.Context) (pipeline.Report, error)
	LastRuns() map[string]pipeline.Report
}

type Notifier interface {
	Channels() []string
	TestChannels(ctx context.Context) map[string]error
	SendSystemAlert(ctx context.Context, status, message string) []alert.ChannelResult
}

type TaskLister interface {
	Tasks() map[string]scheduler.TaskStatus
}

type Upstream interface {
	TestConnection(ctx context.Context) bool
}

// Deps are the collaborators behind the routes. Scheduler and Upstream may be nil.
type Deps struct {
	Funds     FundReader
	Runner    Runner
	Notifier  Notifier
	Scheduler TaskLister
	Upstream  Upstream
	Gatherer  prometheus.Gatherer
	// SweepThreshold is the default of /api/funds/abnormal
	SweepThreshold decimal.Decimal
}

// Server is the HTTP surface: health, metrics and the read API
type Server struct {
	deps    Deps
	engine  *gin.Engine
	http    *http.Server
	started time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	recrawls  sync.WaitGroup
	recrawlOn atomic.Bool
}

func New(deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		engine:  gin.New(),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	{
		funds := api.Group("/funds")
		{
			funds.GET("", s.listFunds)
			funds.GET("/abnormal", s.abnormalFunds)
			funds.GET("/ranking", s.ranking)
			funds.GET("/:code", s.getFund)
			funds.GET("/:code/history", s.fundHistory)
		}

		api.GET("/alerts", s.recentAlerts)

		system := api.Group("/system")
		{
			system.GET("/status", s.status)
			system.GET("/test-api", s.testAPI)
			system.POST("/crawl", s.crawl)
			system.POST("/test-notifications", s.testNotifications)
			system.POST("/send-test-alert", s.sendTestAlert)
		}
	}
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server is shut down
func (s *Server) ListenAndServe(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("Launching API, metrics and health endpoint on :%d", port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server failed")
	}
	return nil
}

// Shutdown stops accepting requests, cancels a background recrawl and
// waits for it within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.recrawls.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("background recrawl did not stop in time")
	}
	return err
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("http request")
	}
}
