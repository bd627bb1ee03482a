package metrics

import (
	"sync"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const namespace = "fund_arbitrage"

// Store persists metric values between restarts
type Store interface {
	SaveMetric(metricName string, value float64) error
	GetMetric(metricName string) (float64, error)
	SaveMetricWithLabels(metricName, labelKey, labelValue string, value float64) error
	GetMetricsWithLabels(metricName string) (map[string]map[string]float64, error)
}

type PipelineMetrics struct {
	Runs            *prometheus.CounterVec
	RecordsFetched  prometheus.Counter
	RecordsInserted prometheus.Counter
	RecordsSkipped  prometheus.Counter
	RecordsFailed   prometheus.Counter
	RecordsInvalid  prometheus.Counter
	RecordsPurged   prometheus.Counter
	AlertsTriggered *prometheus.CounterVec
	ChannelSends    *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	StoredRecords   prometheus.Gauge
	LastIngest      prometheus.Gauge
	Mutex           sync.Mutex
}

// New creates the pipeline metrics and registers them with reg
func New(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "runs",
				Help:      "The total number of pipeline runs by task and outcome",
			},
			[]string{"task", "outcome"},
		),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_fetched",
			Help:      "The total number of raw records fetched from the upstream source",
		}),
		RecordsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_inserted",
			Help:      "The total number of newly stored records",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_skipped",
			Help:      "The total number of records not stored, duplicates included",
		}),
		RecordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_failed",
			Help:      "The total number of records rejected by a write error",
		}),
		RecordsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_invalid",
			Help:      "The total number of records dropped by validation",
		}),
		RecordsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_purged",
			Help:      "The total number of records removed by retention cleanup",
		}),
		AlertsTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "triggered",
				Help:      "The total number of alert events by type",
			},
			[]string{"type"},
		),
		ChannelSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "channel_sends",
				Help:      "The total number of notification attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "telegram_bot",
				Name:      "commands_processed",
				Help:      "The total number of processed chat commands by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		StoredRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stored_records",
			Help:      "The current number of stored records",
		}),
		LastIngest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_ingest_timestamp_seconds",
			Help:      "Unix time of the last successful ingest",
		}),
	}

	for _, c := range m.collectors() {
		reg.MustRegister(c)
	}
	return m
}

func (m *PipelineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Runs, m.RecordsFetched, m.RecordsInserted, m.RecordsSkipped, m.RecordsFailed,
		m.RecordsInvalid, m.RecordsPurged, m.AlertsTriggered, m.ChannelSends,
		m.Commands, m.StoredRecords, m.LastIngest,
	}
}

// ObserveRun counts a finished pipeline run
func (m *PipelineMetrics) ObserveRun(task string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Runs.WithLabelValues(task, outcome).Inc()
}

// ObserveStore folds one store result into the record counters
func (m *PipelineMetrics) ObserveStore(r types.StoreResult) {
	m.RecordsInserted.Add(float64(r.Inserted))
	m.RecordsSkipped.Add(float64(r.Skipped))
	m.RecordsFailed.Add(float64(r.Failed))
}

func (m *PipelineMetrics) ObserveAlerts(events []types.AlertEvent) {
	for _, e := range events {
		m.AlertsTriggered.WithLabelValues(string(e.Type)).Inc()
	}
}

// ObserveChannel matches alert.WithObserver
func (m *PipelineMetrics) ObserveChannel(r alert.ChannelResult) {
	outcome := "sent"
	if !r.OK() {
		outcome = "failed"
	}
	m.ChannelSends.WithLabelValues(r.Channel, outcome).Inc()
}

// ObserveCommand matches commands.Observer
func (m *PipelineMetrics) ObserveCommand(command string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Commands.WithLabelValues(command, outcome).Inc()
}

type scalar struct {
	name      string
	collector prometheus.Collector
}

type vector struct {
	name string
	vec  *prometheus.CounterVec
	// labels in the order they are stored as label key and label value
	labels []string
}

func (m *PipelineMetrics) scalars() []scalar {
	return []scalar{
		{"records_fetched", m.RecordsFetched},
		{"records_inserted", m.RecordsInserted},
		{"records_skipped", m.RecordsSkipped},
		{"records_failed", m.RecordsFailed},
		{"records_invalid", m.RecordsInvalid},
		{"records_purged", m.RecordsPurged},
		{"stored_records", m.StoredRecords},
		{"last_ingest", m.LastIngest},
	}
}

func (m *PipelineMetrics) vectors() []vector {
	return []vector{
		{"runs", m.Runs, []string{"task", "outcome"}},
		{"alerts_triggered", m.AlertsTriggered, []string{"type"}},
		{"channel_sends", m.ChannelSends, []string{"channel", "outcome"}},
		{"commands_processed", m.Commands, []string{"command", "outcome"}},
	}
}

// Load restores the persisted values. Counters continue from the stored
// totals, gauges take the stored value.
func (m *PipelineMetrics) Load(store Store) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	for _, s := range m.scalars() {
		value, err := store.GetMetric(s.name)
		if err != nil {
			log.WithError(err).Errorf("failed to load metric %s", s.name)
			continue
		}
		switch c := s.collector.(type) {
		case prometheus.Gauge:
			c.Set(value)
		case prometheus.Counter:
			if value > 0 {
				c.Add(value)
			}
		}
	}

	for _, v := range m.vectors() {
		loadLabeledMetrics(store, v.name, func(labelKey, labelValue string, value float64) {
			if value <= 0 {
				return
			}
			values := []string{labelKey}
			if len(v.labels) > 1 {
				values = append(values, labelValue)
			}
			v.vec.WithLabelValues(values...).Add(value)
		})
	}

	log.Debug("Metrics loaded from database.")
}

func loadLabeledMetrics(store Store, metricName string, callback func(labelKey, labelValue string, value float64)) {
	metricsWithLabels, err := store.GetMetricsWithLabels(metricName)
	if err != nil {
		log.WithError(err).Errorf("failed to load metric %s", metricName)
		return
	}
	for labelKey, labelValues := range metricsWithLabels {
		for labelValue, value := range labelValues {
			callback(labelKey, labelValue, value)
		}
	}
}

// Save writes the current values to the store
func (m *PipelineMetrics) Save(store Store) {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	for _, s := range m.scalars() {
		if err := store.SaveMetric(s.name, GetMetricValue(s.collector)); err != nil {
			log.WithError(err).Errorf("failed to save metric %s", s.name)
		}
	}

	for _, v := range m.vectors() {
		metricChan := make(chan prometheus.Metric, 1)
		go func() {
			v.vec.Collect(metricChan)
			close(metricChan)
		}()

		for metric := range metricChan {
			metricProto := &dto.Metric{}
			if err := metric.Write(metricProto); err != nil {
				log.WithError(err).Errorf("failed to read metric %s", v.name)
				continue
			}
			labels := make(map[string]string, len(metricProto.Label))
			for _, label := range metricProto.Label {
				labels[label.GetName()] = label.GetValue()
			}
			var labelKey, labelValue string
			labelKey = labels[v.labels[0]]
			if len(v.labels) > 1 {
				labelValue = labels[v.labels[1]]
			}
			if err := store.SaveMetricWithLabels(v.name, labelKey, labelValue, metricProto.Counter.GetValue()); err != nil {
				log.WithError(err).Errorf("failed to save metric %s", v.name)
			}
		}
	}

	log.Debug("Metrics saved to database.")
}

// GetMetricValue reads the current value of a single counter or gauge
func GetMetricValue(metric prometheus.Collector) float64 {
	var metricValue float64
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	metricProto := &dto.Metric{}
	if err := (<-metricChan).Write(metricProto); err != nil {
		log.WithError(err).Error("failed to read metric value")
		return 0
	}

	if metricProto.Counter != nil {
		metricValue = metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		metricValue = metricProto.Gauge.GetValue()
	}
	return metricValue
}
