package metrics

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/database"
	"fund-arbitrage-bot/internal/types"

	"github.com/prometheus/client_golang/prometheus"
)

func openStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRun("ingest", nil)
	m.ObserveRun("ingest", errors.New("boom"))
	m.ObserveStore(types.StoreResult{Inserted: 5, Skipped: 3, Failed: 1})
	m.ObserveAlerts([]types.AlertEvent{{Type: types.AlertPositive}, {Type: types.AlertNegative}, {Type: types.AlertPositive}})
	m.ObserveChannel(alert.ChannelResult{Channel: "email", Err: errors.New("smtp down")})
	m.ObserveChannel(alert.ChannelResult{Channel: "console"})
	m.ObserveCommand("f", nil)
	m.ObserveCommand("f", errors.New("fund not found"))
	m.ObserveCommand("c", nil)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"runs success", m.Runs.WithLabelValues("ingest", "success"), 1},
		{"runs failure", m.Runs.WithLabelValues("ingest", "failure"), 1},
		{"inserted", m.RecordsInserted, 5},
		{"skipped", m.RecordsSkipped, 3},
		{"failed", m.RecordsFailed, 1},
		{"positive alerts", m.AlertsTriggered.WithLabelValues("positive"), 2},
		{"negative alerts", m.AlertsTriggered.WithLabelValues("negative"), 1},
		{"email failed", m.ChannelSends.WithLabelValues("email", "failed"), 1},
		{"console sent", m.ChannelSends.WithLabelValues("console", "sent"), 1},
		{"fund command", m.Commands.WithLabelValues("f", "success"), 1},
		{"failed fund command", m.Commands.WithLabelValues("f", "failure"), 1},
		{"chart command", m.Commands.WithLabelValues("c", "success"), 1},
	}
	for _, tt := range tests {
		if got := GetMetricValue(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := openStore(t)

	before := New(prometheus.NewRegistry())
	before.ObserveRun("sweep", nil)
	before.ObserveRun("sweep", nil)
	before.ObserveStore(types.StoreResult{Inserted: 42, Skipped: 7})
	before.RecordsFetched.Add(49)
	before.ObserveAlerts([]types.AlertEvent{{Type: types.AlertNegative}})
	before.ObserveChannel(alert.ChannelResult{Channel: "telegram"})
	before.ObserveCommand("top", nil)
	before.StoredRecords.Set(120)
	before.LastIngest.Set(float64(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix()))
	before.Save(store)

	after := New(prometheus.NewRegistry())
	after.Load(store)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"runs", after.Runs.WithLabelValues("sweep", "success"), 2},
		{"fetched", after.RecordsFetched, 49},
		{"inserted", after.RecordsInserted, 42},
		{"skipped", after.RecordsSkipped, 7},
		{"negative alerts", after.AlertsTriggered.WithLabelValues("negative"), 1},
		{"telegram sent", after.ChannelSends.WithLabelValues("telegram", "sent"), 1},
		{"top command", after.Commands.WithLabelValues("top", "success"), 1},
		{"stored records", after.StoredRecords, 120},
		{"last ingest", after.LastIngest, float64(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix())},
	}
	for _, tt := range tests {
		if got := GetMetricValue(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	// counters continue from the restored totals
	after.ObserveStore(types.StoreResult{Inserted: 1})
	if got := GetMetricValue(after.RecordsInserted); got != 43 {
		t.Errorf("inserted after restore = %v, want 43", got)
	}
}

func TestLoad_EmptyStore(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Load(openStore(t))

	if got := GetMetricValue(m.RecordsInserted); got != 0 {
		t.Errorf("inserted = %v, want 0", got)
	}
}

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveRun("ingest", nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "fund_arbitrage_pipeline_runs" {
			found = true
		}
	}
	if !found {
		t.Error("runs counter is not registered")
	}
}
