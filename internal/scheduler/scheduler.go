package scheduler

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"fund-arbitrage-bot/config"

	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	TaskCrawlMorning   = "crawl-morning"
	TaskCrawlAfternoon = "crawl-afternoon"
	TaskCleanup        = "cleanup"
	TaskAlertSweep     = "alert-sweep"
)

// Job is the unit of work behind a task
type Job func(ctx context.Context) error

// Task is a named recurring job
type Task interface {
	Name() string
	Start() error
	Stop()
	Status() TaskStatus
	Run(ctx context.Context) error
}

// TaskStatus is a snapshot of a task for status reporting
type TaskStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Scheduled bool      `json:"scheduled"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Jobs are the pipeline entry points bound to the default tasks
type Jobs struct {
	Ingest  Job
	Sweep   Job
	Cleanup Job
}

// Scheduler owns the registered tasks and the cron runner driving them
type Scheduler struct {
	mu      sync.Mutex
	cron    *gocron.Scheduler
	tasks   map[string]Task
	gate    *runGate
	started bool
	stopped bool
}

// New creates a scheduler evaluating cron expressions in loc
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cron := gocron.NewScheduler(loc)
	cron.TagsUnique()

	return &Scheduler{
		cron:  cron,
		tasks: make(map[string]Task),
		gate:  newRunGate(),
	}
}

// NewDefault registers the two daily crawls, the cleanup and the alert sweep
func NewDefault(cfg config.Schedule, loc *time.Location, jobs Jobs) *Scheduler {
	s := New(loc)
	s.Register(s.NewCronTask(TaskCrawlMorning, cfg.CrawlMorning, jobs.Ingest))
	s.Register(s.NewCronTask(TaskCrawlAfternoon, cfg.CrawlAfternoon, jobs.Ingest))
	s.Register(s.NewCronTask(TaskCleanup, cfg.Cleanup, jobs.Cleanup))
	s.Register(s.NewCronTask(TaskAlertSweep, cfg.AlertSweep, jobs.Sweep))
	return s
}

// LoadLocation resolves a timezone name, falling back to UTC
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.WithError(err).Warnf("unknown timezone %q, using UTC", name)
		return time.UTC
	}
	return loc
}

// Register adds a task, replacing one with the same name
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[t.Name()]; ok {
		old.Stop()
	}
	s.tasks[t.Name()] = t
}

// Start schedules every registered task. A task that cannot be scheduled,
// e.g. because of an invalid cron expression, is logged and skipped.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, name := range s.sortedNames() {
		if err := s.tasks[name].Start(); err != nil {
			log.WithError(err).WithField("task", name).Error("❌ could not schedule task")
			continue
		}
		log.WithField("task", name).Info("⏰ task scheduled")
	}
	s.cron.StartAsync()
}

// Stop unschedules and releases every task. Runs already in progress are
// left to finish; Wait blocks until they have. Calling it more than once
// is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	for _, t := range s.tasks {
		t.Stop()
	}
	s.tasks = make(map[string]Task)
	s.gate.close()
	s.mu.Unlock()

	s.cron.Stop()
	log.Info("scheduler stopped")
}

// Wait blocks until the scheduled runs in progress have finished or ctx
// is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	idle := s.gate.idle()
	select {
	case <-idle:
		return nil
	default:
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "scheduled runs still in progress")
	}
}

// Tasks returns the status of every registered task keyed by name
func (s *Scheduler) Tasks() map[string]TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]TaskStatus, len(s.tasks))
	for name, t := range s.tasks {
		statuses[name] = t.Status()
	}
	return statuses
}

// RunNow runs a task immediately, outside of its timetable
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return errors.Errorf("unknown task %q", name)
	}
	return t.Run(ctx)
}

func (s *Scheduler) sortedNames() []string {
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CronTask runs a job on a cron timetable. Overlapping runs of the same
// task are not started.
type CronTask struct {
	name     string
	schedule string
	job      Job
	cron     *gocron.Scheduler
	gate     *runGate

	mu        sync.Mutex
	entry     *gocron.Job
	running   bool
	runs      int
	lastRun   time.Time
	lastError string
}

// NewCronTask creates a task bound to the scheduler's cron runner
func (s *Scheduler) NewCronTask(name, schedule string, job Job) *CronTask {
	return &CronTask{
		name:     name,
		schedule: schedule,
		job:      job,
		cron:     s.cron,
		gate:     s.gate,
	}
}

func (t *CronTask) Name() string {
	return t.name
}

func (t *CronTask) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entry != nil {
		return nil
	}
	if t.job == nil {
		return errors.Errorf("task %s has no job", t.name)
	}

	entry, err := t.cron.Cron(t.schedule).Tag(t.name).SingletonMode().Do(t.scheduledRun)
	if err != nil {
		return errors.Wrapf(err, "invalid schedule %q", t.schedule)
	}
	t.entry = entry
	return nil
}

// scheduledRun is what the cron runner fires. Stopping the scheduler does
// not cancel it.
func (t *CronTask) scheduledRun() {
	if !t.gate.enter() {
		return
	}
	defer t.gate.leave()

	if err := t.Run(context.Background()); err != nil {
		log.WithError(err).WithField("task", t.name).Error("❌ scheduled run failed")
	}
}

func (t *CronTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entry == nil {
		return
	}
	if err := t.cron.RemoveByTag(t.name); err != nil {
		log.WithError(err).WithField("task", t.name).Debug("task was not scheduled")
	}
	t.entry = nil
}

func (t *CronTask) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := TaskStatus{
		Name:      t.name,
		Schedule:  t.schedule,
		Scheduled: t.entry != nil,
		Running:   t.running,
		Runs:      t.runs,
		LastRun:   t.lastRun,
		LastError: t.lastError,
	}
	if t.entry != nil {
		st.NextRun = t.entry.NextRun()
	}
	return st
}

// Run executes the job once. A panic inside the job is recovered and
// returned as an error.
func (t *CronTask) Run(ctx context.Context) (err error) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.Errorf("task %s is already running", t.name)
	}
	t.running = true
	t.mu.Unlock()

	start := time.Now()
	logger := log.WithField("task", t.name)
	logger.Info("▶️ task started")

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("recovered from panic: %v\n%s", r, debug.Stack())
			err = errors.Errorf("task %s panicked: %v", t.name, r)
		}

		t.mu.Lock()
		t.running = false
		t.runs++
		t.lastRun = start
		t.lastError = ""
		if err != nil {
			t.lastError = err.Error()
		}
		t.mu.Unlock()

		logger.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("⏹️ task finished")
	}()

	return t.job(ctx)
}

// runGate counts scheduled runs in progress and refuses new ones once closed
type runGate struct {
	mu      sync.Mutex
	active  int
	closed  bool
	waiters []chan struct{}
}

func newRunGate() *runGate {
	return &runGate{}
}

func (g *runGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.active++
	return true
}

func (g *runGate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.active--
	if g.active == 0 {
		for _, w := range g.waiters {
			close(w)
		}
		g.waiters = nil
	}
}

func (g *runGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// idle returns a channel closed once no run is in progress
func (g *runGate) idle() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan struct{})
	if g.active == 0 {
		close(ch)
		return ch
	}
	g.waiters = append(g.waiters, ch)
	return ch
}
