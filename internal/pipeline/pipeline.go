package pipeline

import (
	"context"
	"sync"
	"time"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/crawler"
	"fund-arbitrage-bot/internal/database"
	"fund-arbitrage-bot/internal/metrics"
	"fund-arbitrage-bot/internal/scheduler"
	"fund-arbitrage-bot/internal/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	TaskIngest  = "ingest"
	TaskSweep   = "sweep"
	TaskCleanup = "cleanup"
	TaskRecrawl = "recrawl"
)

type Fetcher interface {
	FetchAllCategories(ctx context.Context) ([]crawler.RawRecord, error)
}

type Store interface {
	Store(ctx context.Context, records []types.FundRecord, opts ...database.StoreOption) types.StoreResult
	Abnormal(ctx context.Context, threshold decimal.Decimal) ([]types.FundRecord, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	ClearAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, events []types.AlertEvent) []alert.ChannelResult
}

// Report summarizes one pipeline run
type Report struct {
	RunID      string                `json:"run_id"`
	Task       string                `json:"task"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Fetched    int                   `json:"fetched"`
	Invalid    int                   `json:"invalid"`
	Stored     types.StoreResult     `json:"stored"`
	Alerts     int                   `json:"alerts"`
	Delivered  int                   `json:"delivered"`
	Purged     int64                 `json:"purged"`
	Cleared    int64                 `json:"cleared"`
	Error      string                `json:"error,omitempty"`
	Channels   []alert.ChannelResult `json:"-"`
}

// Service runs the ingestion, alerting and retention flows. Runs are
// serialized: a run waits for the previous one to finish.
type Service struct {
	fetcher       Fetcher
	store         Store
	dispatcher    Dispatcher
	normalizer    crawler.Normalizer
	thresholds    alert.Thresholds
	retentionDays int
	metrics       *metrics.PipelineMetrics
	now           func() time.Time

	runMu   sync.Mutex
	lastMu  sync.Mutex
	lastRun map[string]Report
}

type Option func(*Service)

func WithNormalizer(n crawler.Normalizer) Option {
	return func(s *Service) {
		s.normalizer = n
	}
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithRetentionDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.retentionDays = days
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(fetcher Fetcher, store Store, dispatcher Dispatcher, thresholds alert.Thresholds, opts ...Option) *Service {
	s := &Service{
		fetcher:       fetcher,
		store:         store,
		dispatcher:    dispatcher,
		thresholds:    thresholds,
		retentionDays: 90,
		now:           time.Now,
		lastRun:       make(map[string]Report),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Jobs binds the service to the scheduler's default tasks
func (s *Service) Jobs() scheduler.Jobs {
	return scheduler.Jobs{
		Ingest: func(ctx context.Context) error {
			_, err := s.Ingest(ctx)
			return err
		},
		Sweep: func(ctx context.Context) error {
			_, err := s.Sweep(ctx)
			return err
		},
		Cleanup: func(ctx context.Context) error {
			_, err := s.Cleanup(ctx)
			return err
		},
	}
}

// LastRuns returns the latest report of each task
func (s *Service) LastRuns() map[string]Report {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	runs := make(map[string]Report, len(s.lastRun))
	for k, v := range s.lastRun {
		runs[k] = v
	}
	return runs
}

// Ingest fetches every category, stores the valid records and alerts on
// the newly inserted ones. A failure of the first category is returned.
func (s *Service) Ingest(ctx context.Context) (Report, error) {
	return s.run(ctx, TaskIngest, func(ctx context.Context, r *Report) error {
		return s.ingest(ctx, r, true)
	})
}

// Sweep alerts on every latest-per-fund record outside the thresholds,
// including records that were already alerted on.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	return s.run(ctx, TaskSweep, func(ctx context.Context, r *Report) error {
		records, err := s.store.Abnormal(ctx, s.thresholds.Sweep())
		if err != nil {
			return errors.Wrap(err, "could not load abnormal funds")
		}
		s.alert(ctx, r, records)
		return nil
	})
}

// Cleanup removes records ingested before the retention window
func (s *Service) Cleanup(ctx context.Context) (Report, error) {
	return s.run(ctx, TaskCleanup, func(ctx context.Context, r *Report) error {
		purged, err := s.store.PurgeOlderThan(ctx, s.retentionDays)
		if err != nil {
			return errors.Wrap(err, "could not purge old records")
		}
		r.Purged = purged
		if s.metrics != nil {
			s.metrics.RecordsPurged.Add(float64(purged))
		}
		s.updateStoredGauge(ctx)
		return nil
	})
}

// Recrawl clears the store and ingests a fresh snapshot without alerting
func (s *Service) Recrawl(ctx context.Context) (Report, error) {
	return s.run(ctx, TaskRecrawl, func(ctx context.Context, r *Report) error {
		cleared, err := s.store.ClearAll(ctx)
		if err != nil {
			return errors.Wrap(err, "could not clear records")
		}
		r.Cleared = cleared
		return s.ingest(ctx, r, false)
	})
}

func (s *Service) run(ctx context.Context, task string, fn func(ctx context.Context, r *Report) error) (Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := Report{
		RunID:     uuid.NewString(),
		Task:      task,
		StartedAt: s.now(),
	}
	logger := log.WithFields(log.Fields{"run_id": report.RunID, "task": task})
	logger.Info("🚀 run started")

	err := fn(ctx, &report)

	report.FinishedAt = s.now()
	if err != nil {
		report.Error = err.Error()
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(task, err)
	}

	s.lastMu.Lock()
	s.lastRun[task] = report
	s.lastMu.Unlock()

	fields := log.Fields{
		"fetched":  report.Fetched,
		"invalid":  report.Invalid,
		"inserted": report.Stored.Inserted,
		"skipped":  report.Stored.Skipped,
		"failed":   report.Stored.Failed,
		"alerts":   report.Alerts,
		"purged":   report.Purged,
		"duration": report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("❌ run failed")
	} else {
		logger.WithFields(fields).Info("✅ run finished")
	}
	return report, err
}

func (s *Service) ingest(ctx context.Context, r *Report, withAlerts bool) error {
	raw, fetchErr := s.fetcher.FetchAllCategories(ctx)
	r.Fetched = len(raw)
	if fetchErr != nil && len(raw) == 0 {
		return errors.Wrap(fetchErr, "fetch failed")
	}

	valid := make([]types.FundRecord, 0, len(raw))
	for _, entry := range raw {
		record := s.normalizer.Normalize(entry)
		if !crawler.Validate(record) {
			r.Invalid++
			log.WithField("code", record.Code).Debug("dropping invalid record")
			continue
		}
		valid = append(valid, record)
	}

	storeCtx := ctx
	if fetchErr != nil {
		// keep what was fetched before an interrupted pacing wait
		storeCtx = context.WithoutCancel(ctx)
	}
	r.Stored = s.store.Store(storeCtx, valid)

	if s.metrics != nil {
		s.metrics.RecordsFetched.Add(float64(r.Fetched))
		s.metrics.RecordsInvalid.Add(float64(r.Invalid))
		s.metrics.ObserveStore(r.Stored)
		if fetchErr == nil {
			s.metrics.LastIngest.Set(float64(s.now().Unix()))
		}
	}
	s.updateStoredGauge(ctx)

	if withAlerts {
		s.alert(ctx, r, r.Stored.Records)
	}

	if fetchErr != nil {
		return errors.Wrap(fetchErr, "fetch incomplete")
	}
	return nil
}

func (s *Service) alert(ctx context.Context, r *Report, records []types.FundRecord) {
	events := s.thresholds.Evaluate(records)
	r.Alerts = len(events)
	if len(events) == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveAlerts(events)
	}

	r.Channels = s.dispatcher.Dispatch(ctx, events)
	for _, res := range r.Channels {
		if res.OK() {
			r.Delivered++
		}
	}
}

func (s *Service) updateStoredGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		log.WithError(err).Warn("could not count stored records")
		return
	}
	s.metrics.StoredRecords.Set(float64(count))
}
