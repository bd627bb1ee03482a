package alert

import (
	"context"
	"fmt"
	"time"

	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/translation"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Channel delivers a rendered alert. Implementations decide how records are
// presented; they are nil for system notices.
type Channel interface {
	Name() string
	Send(ctx context.Context, title, body string, records []types.FundRecord) error
}

// Recorder persists the alert history
type Recorder interface {
	InsertAlertRecords(ctx context.Context, events []types.AlertEvent, message string, status types.AlertStatus) error
}

// ChannelResult is the outcome of one channel for one broadcast
type ChannelResult struct {
	Channel  string
	Err      error
	Duration time.Duration
}

func (r ChannelResult) OK() bool {
	return r.Err == nil
}

// Dispatcher fans alerts out to every channel. A failing channel never stops
// or fails the others.
type Dispatcher struct {
	channels []Channel
	limit    int
	recorder Recorder
	observe  func(ChannelResult)
	location *time.Location
	now      func() time.Time
}

type Option func(*Dispatcher)

// WithConcurrency bounds the number of channels sending at the same time
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithRecorder stores a history row per event after every dispatch
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithObserver is called once per channel result, e.g. to count deliveries
func WithObserver(fn func(ChannelResult)) Option {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// WithLocation sets the zone timestamps are rendered in
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		d.location = loc
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(channels []Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels: channels,
		limit:    defaultConcurrency,
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels lists the registered channel names in registration order
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Dispatch sends one message describing all events to every channel and
// records the history. It returns one result per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, events []types.AlertEvent) []ChannelResult {
	if len(events) == 0 {
		return nil
	}

	records := make([]types.FundRecord, 0, len(events))
	for _, e := range events {
		records = append(records, e.Record)
	}

	title := FormatTitle(events)
	body := FormatBody(events, d.now(), d.location)

	log.WithField("events", len(events)).Info("dispatching fund alerts")
	results := d.Broadcast(ctx, title, body, records)

	status := types.AlertStatusFailed
	for _, r := range results {
		if r.OK() {
			status = types.AlertStatusSent
			break
		}
	}

	if d.recorder != nil {
		if err := d.recorder.InsertAlertRecords(ctx, events, title, status); err != nil {
			log.WithError(err).Error("failed to record alert history")
		}
	}

	return results
}

// Broadcast sends the message to every channel concurrently and waits for
// all of them. Results are in channel registration order.
func (d *Dispatcher) Broadcast(ctx context.Context, title, body string, records []types.FundRecord) []ChannelResult {
	results := make([]ChannelResult, len(d.channels))

	var g errgroup.Group
	g.SetLimit(d.limit)

	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = d.send(ctx, ch, title, body, records)
			return nil
		})
	}
	g.Wait()

	for _, r := range results {
		if d.observe != nil {
			d.observe(r)
		}
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, title, body string, records []types.FundRecord) (result ChannelResult) {
	start := time.Now()
	result.Channel = ch.Name()
	logger := log.WithField("channel", result.Channel)

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("channel panicked: %v", r)
		}
		result.Duration = time.Since(start)
		if result.Err != nil {
			logger.WithError(result.Err).Error("notification failed")
		} else {
			logger.Debug("notification sent")
		}
	}()

	if err := ch.Send(ctx, title, body, records); err != nil {
		result.Err = errors.Wrapf(err, "channel %s", result.Channel)
	}
	return result
}

// SendSystemAlert broadcasts an operational notice such as a failed run
func (d *Dispatcher) SendSystemAlert(ctx context.Context, status, message string) []ChannelResult {
	log.WithField("status", status).Info("sending system notice")
	return d.Broadcast(ctx, FormatSystemTitle(status), message, nil)
}

// TestChannels sends a test message through every channel one after the
// other. The map holds a nil error for channels that delivered.
func (d *Dispatcher) TestChannels(ctx context.Context) map[string]error {
	title := translation.Translate("Test notification")
	body := translation.Translate("This is a test message to verify that notifications work.")

	results := make(map[string]error, len(d.channels))
	for _, ch := range d.channels {
		r := d.send(ctx, ch, title, body, nil)
		results[r.Channel] = r.Err
		if r.OK() {
			log.WithField("channel", r.Channel).Info("channel test succeeded")
		}
	}
	return results
}
