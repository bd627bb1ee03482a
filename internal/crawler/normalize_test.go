package crawler

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"fund-arbitrage-bot/internal/types"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

func testNormalizer() Normalizer {
	return Normalizer{
		Now:      func() time.Time { return fixedNow },
		Location: time.FixedZone("CST", 8*3600),
	}
}

func TestNormalize_ListingEntry(t *testing.T) {
	raw := RawRecord{
		"fundCode":      "501096",
		"fundName":      "Example LOF",
		"type":          json.Number("0"),
		"value":         "1.2345",
		"discount":      "3.50",
		"estimateLimit": "0.8",
		"currentPrice":  json.Number("1.278"),
		"increaseRt":    "-0.42",
		"updateTime":    "2024-01-01T10:00:00Z",
		"openRemind":    json.Number("1"),
		"nav":           false,
		"amount":        "1234.5",
	}

	rec := testNormalizer().Normalize(raw)

	if rec.Code != "501096" || rec.Name != "Example LOF" {
		t.Errorf("identity = %q/%q", rec.Code, rec.Name)
	}
	if rec.Category != types.CategoryLOF {
		t.Errorf("Category = %v, want LOF", rec.Category)
	}
	if !rec.DiscountRate.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("DiscountRate = %s, want 3.5", rec.DiscountRate)
	}
	if !rec.MarketPrice.Equal(decimal.RequireFromString("1.278")) {
		t.Errorf("MarketPrice = %s, want 1.278", rec.MarketPrice)
	}
	if !rec.PriceChangePct.Equal(decimal.RequireFromString("-0.42")) {
		t.Errorf("PriceChangePct = %s, want -0.42", rec.PriceChangePct)
	}
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !rec.SourceUpdatedAt.Equal(want) {
		t.Errorf("SourceUpdatedAt = %v, want %v", rec.SourceUpdatedAt, want)
	}
	if !rec.RemindEnabled {
		t.Error("RemindEnabled should be true")
	}
	if rec.NetAssetFlag {
		t.Error("NetAssetFlag should be false")
	}
	if !rec.TotalShares.IsZero() {
		t.Errorf("missing TotalShares = %s, want 0", rec.TotalShares)
	}
	if rec.DeclineCount.Valid {
		t.Error("missing DeclineCount should be null")
	}
	if rec.WatchStartedAt != nil {
		t.Error("missing WatchStartedAt should be nil")
	}
}

func TestNormalize_Numbers(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"missing", nil, "0"},
		{"garbage", "abc", "0"},
		{"empty", "", "0"},
		{"percent suffix", "3.5%", "3.5"},
		{"leading plus", "+2.25", "2.25"},
		{"json number", json.Number("-1.25"), "-1.25"},
		{"float", 2.0, "2"},
		{"exponent", "1e2", "100"},
		{"bare fraction", ".5", "0.5"},
		{"boolean", true, "0"},
		{"overflows float64", "1e400", "0"},
		{"overflowing json number", json.Number("-1e400"), "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testNormalizer().Normalize(RawRecord{"discount": tt.in})
			if !rec.DiscountRate.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("DiscountRate = %s, want %s", rec.DiscountRate, tt.want)
			}
		})
	}
}

func TestNormalize_Flags(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{"", false},
		{"0", false},
		{"false", false},
		{"1", true},
		{"true", true},
		{"yes", true},
		{json.Number("0"), false},
		{json.Number("2"), true},
		{true, true},
	}

	for _, tt := range tests {
		rec := testNormalizer().Normalize(RawRecord{"openRemind": tt.in})
		if rec.RemindEnabled != tt.want {
			t.Errorf("openRemind %#v: RemindEnabled = %v, want %v", tt.in, rec.RemindEnabled, tt.want)
		}
	}
}

func TestNormalize_Timestamps(t *testing.T) {
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"rfc3339", "2024-01-01T10:00:00Z", want},
		{"rfc3339 with offset", "2024-01-01T18:00:00+08:00", want},
		{"epoch millis", json.Number("1704103200000"), want},
		{"epoch seconds string", "1704103200", want},
		{"local datetime", "2024-01-01 18:00:00", want},
		{"local minutes", "2024-01-01 18:00", want},
		{"slashes", "2024/01/01 18:00:00", want},
		{"missing", nil, fixedNow},
		{"garbage", "yesterday", fixedNow},
		{"zero", json.Number("0"), fixedNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testNormalizer().Normalize(RawRecord{"updateTime": tt.in})
			if !rec.SourceUpdatedAt.Equal(tt.want) {
				t.Errorf("SourceUpdatedAt = %v, want %v", rec.SourceUpdatedAt, tt.want)
			}
			if rec.SourceUpdatedAt.Location() != time.UTC {
				t.Errorf("SourceUpdatedAt location = %v, want UTC", rec.SourceUpdatedAt.Location())
			}
		})
	}
}

func TestNormalize_Supplementary(t *testing.T) {
	rec := testNormalizer().Normalize(RawRecord{
		"type":      "3",
		"wxUserId":  json.Number("42"),
		"intoTime":  "2024-02-01 09:30:00",
		"isPause":   "1",
		"info":      "  suspended  ",
		"fallNum":   "2",
		"allShare":  "1000000",
		"incrShare": "-2500.5",
	})

	if rec.Category != types.CategorySpecial {
		t.Errorf("Category = %v, want special", rec.Category)
	}
	if rec.WatcherID != "42" {
		t.Errorf("WatcherID = %q, want 42", rec.WatcherID)
	}
	if rec.WatchStartedAt == nil || !rec.WatchStartedAt.Equal(time.Date(2024, 2, 1, 1, 30, 0, 0, time.UTC)) {
		t.Errorf("WatchStartedAt = %v", rec.WatchStartedAt)
	}
	if rec.PauseState != 1 {
		t.Errorf("PauseState = %d, want 1", rec.PauseState)
	}
	if rec.Note != "suspended" {
		t.Errorf("Note = %q, want trimmed", rec.Note)
	}
	if !rec.DeclineCount.Valid || !rec.DeclineCount.Decimal.Equal(decimal.NewFromInt(2)) {
		t.Errorf("DeclineCount = %+v, want 2", rec.DeclineCount)
	}
	if !rec.ShareDelta.Equal(decimal.RequireFromString("-2500.5")) {
		t.Errorf("ShareDelta = %s", rec.ShareDelta)
	}
}

func TestNormalize_Category(t *testing.T) {
	tests := []struct {
		in   any
		want types.Category
	}{
		{nil, types.CategoryLOF},
		{"abc", types.CategoryLOF},
		{"1", types.CategoryETF},
		{json.Number("3"), types.CategorySpecial},
		{"7", types.CategoryOther},
		{-1.0, types.CategoryOther},
	}

	for _, tt := range tests {
		rec := testNormalizer().Normalize(RawRecord{"type": tt.in})
		if rec.Category != tt.want {
			t.Errorf("type %v: Category = %v, want %v", tt.in, rec.Category, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := types.FundRecord{Code: "501096", Name: "Example LOF"}

	tests := []struct {
		name   string
		mutate func(r *types.FundRecord)
		want   bool
	}{
		{"complete", func(r *types.FundRecord) {}, true},
		{"missing code", func(r *types.FundRecord) { r.Code = "" }, false},
		{"missing name", func(r *types.FundRecord) { r.Name = "" }, false},
		{"code too long", func(r *types.FundRecord) { r.Code = strings.Repeat("1", 21) }, false},
		{"name too long", func(r *types.FundRecord) { r.Name = strings.Repeat("n", 101) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if got := Validate(r); got != tt.want {
				t.Errorf("Validate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Properties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	n := testNormalizer()

	properties.Property("normalize is total over arbitrary strings", prop.ForAll(
		func(code, discount, updated, flag string) bool {
			rec := n.Normalize(RawRecord{
				"fundCode":   code,
				"discount":   discount,
				"updateTime": updated,
				"openRemind": flag,
			})
			return !rec.SourceUpdatedAt.IsZero()
		},
		gen.AnyString(), gen.AnyString(), gen.AnyString(), gen.AnyString(),
	))

	properties.Property("decimal strings round trip", prop.ForAll(
		func(f float64) bool {
			s := strconv.FormatFloat(f, 'f', -1, 64)
			rec := n.Normalize(RawRecord{"discount": s})
			return rec.DiscountRate.Equal(decimal.RequireFromString(s))
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("epoch millis and seconds agree", prop.ForAll(
		func(sec int64) bool {
			a := n.Normalize(RawRecord{"updateTime": strconv.FormatInt(sec, 10)})
			b := n.Normalize(RawRecord{"updateTime": json.Number(strconv.FormatInt(sec*1000, 10))})
			return a.SourceUpdatedAt.Equal(b.SourceUpdatedAt)
		},
		gen.Int64Range(1e11, 4e11),
	))

	properties.TestingRun(t)
}
