package database

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"fund-arbitrage-bot/internal/crawler"
	"fund-arbitrage-bot/internal/types"

	"github.com/shopspring/decimal"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", unsafeName.ReplaceAllString(t.Name(), "_"))
	s, err := Open(dsn, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func fund(code string, discount string, updatedAt time.Time) types.FundRecord {
	return types.FundRecord{
		Code:            code,
		Name:            "Fund " + code,
		Category:        types.CategoryLOF,
		Valuation:       decimal.RequireFromString("1.0000"),
		DiscountRate:    decimal.RequireFromString(discount),
		MarketPrice:     decimal.RequireFromString("1.0350"),
		SourceUpdatedAt: updatedAt,
	}
}

func TestStore_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := fund("501096", "3.5", baseTime)

	first := s.Store(ctx, []types.FundRecord{rec})
	if first.Inserted != 1 || first.Skipped != 0 {
		t.Fatalf("first store = %+v, want 1 inserted", first)
	}
	if len(first.Records) != 1 || first.Records[0].ID == 0 || first.Records[0].IngestedAt.IsZero() {
		t.Errorf("inserted records = %+v, want the stored record with id and ingestion time", first.Records)
	}

	second := s.Store(ctx, []types.FundRecord{rec})
	if second.Inserted != 0 || second.Skipped != 1 || second.Failed != 0 {
		t.Errorf("second store = %+v, want 1 skipped without failure", second)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestStore_ExistenceCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Store(ctx, []types.FundRecord{fund("501096", "3.5", baseTime)})

	res := s.Store(ctx, []types.FundRecord{
		fund("501096", "3.5", baseTime),
		fund("501096", "3.6", baseTime.Add(time.Hour)),
	}, WithExistenceCheck())

	if res.Inserted != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 inserted and 1 skipped", res)
	}

	exists, err := s.Exists(ctx, "501096", baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("the new observation should exist")
	}
}

func TestStore_DuplicateWithinBatch(t *testing.T) {
	s := newTestStore(t)
	rec := fund("161725", "-4.1", baseTime)

	res := s.Store(context.Background(), []types.FundRecord{rec, rec})
	if res.Inserted != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 inserted and 1 skipped", res)
	}
}

func TestStore_FallbackSkipsOnlyViolator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := make([]types.FundRecord, 0, defaultBatchSize)
	for i := 0; i < defaultBatchSize; i++ {
		batch = append(batch, fund(fmt.Sprintf("%06d", i), "1.0", baseTime))
	}
	batch[17].Category = types.Category(9)

	res := s.Store(ctx, batch)

	if res.Inserted != defaultBatchSize-1 {
		t.Errorf("Inserted = %d, want %d", res.Inserted, defaultBatchSize-1)
	}
	if res.Skipped != 1 || res.Failed != 1 {
		t.Errorf("Skipped/Failed = %d/%d, want 1/1", res.Skipped, res.Failed)
	}
	for _, r := range res.Records {
		if r.Code == batch[17].Code {
			t.Error("the violating record should not be reported as inserted")
		}
	}

	exists, _ := s.Exists(ctx, batch[17].Code, baseTime)
	if exists {
		t.Error("the violating record should not be stored")
	}
}

func TestStore_BatchesAreIndependent(t *testing.T) {
	s := newTestStore(t, WithBatchSize(3))
	ctx := context.Background()

	var records []types.FundRecord
	for i := 0; i < 7; i++ {
		records = append(records, fund(fmt.Sprintf("B%02d", i), "0.5", baseTime))
	}
	records[1].Category = types.Category(-1)
	records[5].Category = types.Category(4)

	res := s.Store(ctx, records)
	if res.Inserted != 5 || res.Failed != 2 || res.Skipped != 2 {
		t.Errorf("result = %+v, want 5 inserted and 2 failed", res)
	}

	var codes []string
	for _, r := range res.Records {
		codes = append(codes, r.Code)
	}
	if fmt.Sprint(codes) != "[B00 B02 B03 B04 B06]" {
		t.Errorf("inserted codes = %v, want input order without violators", codes)
	}
}

func TestStore_Empty(t *testing.T) {
	s := newTestStore(t)
	res := s.Store(context.Background(), nil)
	if res.Inserted != 0 || res.Skipped != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want zero", res)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := baseTime.Add(-24 * time.Hour)
	rec := fund("501096", "3.5", baseTime)
	rec.Category = types.CategorySpecial
	rec.RemindEnabled = true
	rec.WatcherID = "42"
	rec.WatchStartedAt = &started
	rec.PauseState = 1
	rec.Note = "suspended"
	rec.DeclineCount = decimal.NewNullDecimal(decimal.NewFromInt(3))
	rec.ShareDelta = decimal.RequireFromString("-2500.5")

	s.Store(ctx, []types.FundRecord{rec})

	got, err := s.LatestPerInstrument(ctx, types.FundFilter{Code: "501096"})
	if err != nil {
		t.Fatalf("LatestPerInstrument: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if !r.DiscountRate.Equal(rec.DiscountRate) || !r.ShareDelta.Equal(rec.ShareDelta) {
		t.Errorf("decimals = %s/%s, want %s/%s", r.DiscountRate, r.ShareDelta, rec.DiscountRate, rec.ShareDelta)
	}
	if r.Category != types.CategorySpecial || !r.RemindEnabled || r.PauseState != 1 || r.Note != "suspended" {
		t.Errorf("record = %+v", r)
	}
	if !r.SourceUpdatedAt.Equal(baseTime) {
		t.Errorf("SourceUpdatedAt = %v, want %v", r.SourceUpdatedAt, baseTime)
	}
	if r.WatchStartedAt == nil || !r.WatchStartedAt.Equal(started) {
		t.Errorf("WatchStartedAt = %v, want %v", r.WatchStartedAt, started)
	}
	if !r.DeclineCount.Valid || !r.DeclineCount.Decimal.Equal(decimal.NewFromInt(3)) {
		t.Errorf("DeclineCount = %+v, want 3", r.DeclineCount)
	}
}

func seedQueries(t *testing.T, s *Store) {
	t.Helper()
	etf := fund("510300", "-3.0", baseTime.Add(2*time.Hour))
	etf.Category = types.CategoryETF

	res := s.Store(context.Background(), []types.FundRecord{
		fund("501096", "1.0", baseTime),
		fund("501096", "3.5", baseTime.Add(time.Hour)),
		fund("161725", "-4.2", baseTime),
		fund("161725", "0.2", baseTime.Add(-time.Hour)),
		etf,
		fund("160416", "2.9", baseTime),
	})
	if res.Inserted != 6 {
		t.Fatalf("seed inserted %d, want 6", res.Inserted)
	}
}

func codesOf(records []types.FundRecord) string {
	var codes []string
	for _, r := range records {
		codes = append(codes, r.Code)
	}
	return fmt.Sprint(codes)
}

func TestStore_OverflowingUpstreamNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := crawler.Normalizer{Now: func() time.Time { return baseTime }}.Normalize(crawler.RawRecord{
		"fundCode":     "501096",
		"fundName":     "Example LOF",
		"type":         "9",
		"discount":     "1e400",
		"currentPrice": "-1e400",
		"amount":       "2.5",
		"updateTime":   "2024-01-01 10:00:00",
	})
	if !crawler.Validate(rec) {
		t.Fatalf("normalized record should be valid: %+v", rec)
	}

	res := s.Store(ctx, []types.FundRecord{rec})
	if res.Inserted != 1 || res.Failed != 0 {
		t.Fatalf("store = %+v, want 1 inserted", res)
	}

	latest, err := s.LatestPerInstrument(ctx, types.FundFilter{})
	if err != nil {
		t.Fatalf("LatestPerInstrument: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("latest = %d records, want 1", len(latest))
	}
	got := latest[0]
	if !got.DiscountRate.IsZero() || !got.MarketPrice.IsZero() {
		t.Errorf("discount %s, price %s, want both zeroed", got.DiscountRate, got.MarketPrice)
	}
	if got.Category != types.CategoryOther {
		t.Errorf("Category = %v, want other", got.Category)
	}
	if !got.TradeAmount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("TradeAmount = %s, want 2.5", got.TradeAmount)
	}

	if _, err := s.Abnormal(ctx, decimal.NewFromInt(3)); err != nil {
		t.Errorf("Abnormal: %v", err)
	}
}

func TestLatestPerInstrument(t *testing.T) {
	s := newTestStore(t)
	seedQueries(t, s)
	ctx := context.Background()

	min := decimal.NewFromInt(0)
	max := decimal.RequireFromString("3.0")
	etf := types.CategoryETF

	tests := []struct {
		name   string
		filter types.FundFilter
		want   string
	}{
		{"all", types.FundFilter{}, "[501096 160416 510300 161725]"},
		{"limit", types.FundFilter{Limit: 2}, "[501096 160416]"},
		{"code", types.FundFilter{Code: "161725"}, "[161725]"},
		{"discount range", types.FundFilter{DiscountMin: &min, DiscountMax: &max}, "[160416]"},
		{"category", types.FundFilter{Category: &etf}, "[510300]"},
		{"no match", types.FundFilter{Code: "000000"}, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LatestPerInstrument(ctx, tt.filter)
			if err != nil {
				t.Fatalf("LatestPerInstrument: %v", err)
			}
			if codesOf(got) != tt.want {
				t.Errorf("codes = %s, want %s", codesOf(got), tt.want)
			}
		})
	}

	latest, _ := s.LatestPerInstrument(ctx, types.FundFilter{Code: "501096"})
	if !latest[0].DiscountRate.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("latest 501096 discount = %s, want the newest observation 3.5", latest[0].DiscountRate)
	}
}

func TestAbnormal(t *testing.T) {
	s := newTestStore(t)
	seedQueries(t, s)

	got, err := s.Abnormal(context.Background(), decimal.RequireFromString("3.0"))
	if err != nil {
		t.Fatalf("Abnormal: %v", err)
	}
	// 161725 latest is -4.2, 501096 latest is 3.5, 510300 sits exactly on the boundary
	if codesOf(got) != "[161725 501096 510300]" {
		t.Errorf("codes = %s, want [161725 501096 510300]", codesOf(got))
	}
}

func TestHistory(t *testing.T) {
	clock := &fakeClock{now: baseTime.Add(24 * time.Hour)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	s.Store(ctx, []types.FundRecord{
		fund("501096", "1.0", baseTime.AddDate(0, 0, -10)),
		fund("501096", "2.0", baseTime.AddDate(0, 0, -1)),
		fund("501096", "3.0", baseTime),
		fund("161725", "3.0", baseTime),
	})

	got, err := s.History(ctx, "501096", 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].SourceUpdatedAt.After(got[1].SourceUpdatedAt) {
		t.Error("history should be newest first")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	s.Store(ctx, []types.FundRecord{fund("OLD1", "1", baseTime), fund("OLD2", "1", baseTime)})
	clock.now = baseTime.AddDate(0, 0, 60)
	s.Store(ctx, []types.FundRecord{fund("NEW1", "1", baseTime)})
	clock.now = baseTime.AddDate(0, 0, 100)

	deleted, err := s.PurgeOlderThan(ctx, 90)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	seedQueries(t, s)
	ctx := context.Background()

	deleted, err := s.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if deleted != 6 {
		t.Errorf("deleted = %d, want 6", deleted)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestAlertRecords(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	events := []types.AlertEvent{
		{Record: fund("501096", "3.5", baseTime), Type: types.AlertPositive, Threshold: decimal.NewFromInt(3)},
		{Record: fund("161725", "-4.2", baseTime), Type: types.AlertNegative, Threshold: decimal.NewFromInt(-3)},
	}
	if err := s.InsertAlertRecords(ctx, events, "2 funds out of range", types.AlertStatusSent); err != nil {
		t.Fatalf("InsertAlertRecords: %v", err)
	}
	clock.now = baseTime.Add(time.Hour)
	if err := s.InsertAlertRecords(ctx, events[:1], "retry", types.AlertStatusFailed); err != nil {
		t.Fatalf("InsertAlertRecords: %v", err)
	}

	got, err := s.RecentAlertRecords(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAlertRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Status != types.AlertStatusFailed || got[0].Message != "retry" {
		t.Errorf("newest = %+v, want the failed retry", got[0])
	}
	if !got[1].DiscountRate.Equal(decimal.RequireFromString("-4.2")) || got[1].AlertType != types.AlertNegative {
		t.Errorf("second = %+v", got[1])
	}
}

func TestMetrics(t *testing.T) {
	s := newTestStore(t)

	if v, err := s.GetMetric("missing"); err != nil || v != 0 {
		t.Errorf("GetMetric(missing) = %v, %v; want 0, nil", v, err)
	}

	if err := s.SaveMetric("fund_runs_total", 3); err != nil {
		t.Fatalf("SaveMetric: %v", err)
	}
	if err := s.SaveMetric("fund_runs_total", 4); err != nil {
		t.Fatalf("SaveMetric: %v", err)
	}
	if v, _ := s.GetMetric("fund_runs_total"); v != 4 {
		t.Errorf("GetMetric = %v, want 4", v)
	}

	s.SaveMetricWithLabels("fund_alerts_total", "channel", "email", 2)
	s.SaveMetricWithLabels("fund_alerts_total", "channel", "telegram", 5)

	labelled, err := s.GetMetricsWithLabels("fund_alerts_total")
	if err != nil {
		t.Fatalf("GetMetricsWithLabels: %v", err)
	}
	if labelled["channel"]["email"] != 2 || labelled["channel"]["telegram"] != 5 {
		t.Errorf("labelled = %v", labelled)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "funds.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
