package crawler

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fund-arbitrage-bot/internal/types"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	leadingDecimal = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
	leadingInteger = regexp.MustCompile(`^[+-]?\d+`)
	allDigits      = regexp.MustCompile(`^\d+$`)

	timeLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006/01/02 15:04:05",
		"2006-01-02",
	}

	validate = validator.New()
)

// Normalizer maps raw upstream entries to FundRecord values. Timestamps
// without a zone are read in Location; missing ones default to Now().
type Normalizer struct {
	Now      func() time.Time
	Location *time.Location
}

// Normalize uses a normalizer with the wall clock and UTC
func Normalize(raw RawRecord) types.FundRecord {
	return Normalizer{}.Normalize(raw)
}

// Normalize never fails: invalid numbers become zero, flags use truthiness,
// an invalid update time becomes the current time.
func (n Normalizer) Normalize(raw RawRecord) types.FundRecord {
	updatedAt, ok := n.toTime(raw["updateTime"])
	if !ok {
		updatedAt = n.now()
	}

	record := types.FundRecord{
		Code:            toString(raw["fundCode"]),
		Name:            toString(raw["fundName"]),
		Category:        toCategory(raw["type"]),
		Valuation:       toDecimal(raw["value"]),
		DiscountRate:    toDecimal(raw["discount"]),
		EstimateLimit:   toDecimal(raw["estimateLimit"]),
		MarketPrice:     toDecimal(raw["currentPrice"]),
		PriceChangePct:  toDecimal(raw["increaseRt"]),
		SourceUpdatedAt: updatedAt,
		RemindEnabled:   toBool(raw["openRemind"]),
		WatcherID:       toString(raw["wxUserId"]),
		PauseState:      toInt(raw["isPause"]),
		Note:            toString(raw["info"]),
		NetAssetFlag:    toBool(raw["nav"]),
		DeclineCount:    toNullDecimal(raw["fallNum"]),
		TradeAmount:     toDecimal(raw["amount"]),
		TotalShares:     toDecimal(raw["allShare"]),
		ShareDelta:      toDecimal(raw["incrShare"]),
	}

	if started, ok := n.toTime(raw["intoTime"]); ok {
		record.WatchStartedAt = &started
	}

	return record
}

// Validate reports whether the record carries the fields required for storage
func Validate(record types.FundRecord) bool {
	return validate.Struct(record) == nil
}

func (n Normalizer) now() time.Time {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return now().UTC().Truncate(time.Millisecond)
}

func (n Normalizer) location() *time.Location {
	if n.Location != nil {
		return n.Location
	}
	return time.UTC
}

func (n Normalizer) toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return fromEpoch(f)
		}
	case float64:
		return fromEpoch(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if allDigits.MatchString(s) {
			f, err := strconv.ParseFloat(s, 64)
			if err == nil {
				return fromEpoch(f)
			}
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return parsed.UTC().Truncate(time.Millisecond), true
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.ParseInLocation(layout, s, n.location()); err == nil {
				return parsed.UTC().Truncate(time.Millisecond), true
			}
		}
	}
	return time.Time{}, false
}

// fromEpoch accepts seconds or milliseconds since the epoch
func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f >= 1e16 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case json.Number:
		return parseDecimal(t.String())
	case string:
		return parseDecimal(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	}
	return decimal.Zero
}

func toNullDecimal(v any) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(toDecimal(v))
}

// parseDecimal reads the leading numeric part of s, "3.50%" reads as 3.5
func parseDecimal(s string) decimal.Decimal {
	match := leadingDecimal.FindString(strings.TrimSpace(s))
	if match == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero
	}
	// "1e400" parses but cannot be stored as a REAL
	if f := d.InexactFloat64(); math.IsInf(f, 0) {
		return decimal.Zero
	}
	return d
}

// toCategory maps codes outside the known set to CategoryOther
func toCategory(v any) types.Category {
	c := types.Category(toInt(v))
	if !c.Valid() {
		return types.CategoryOther
	}
	return c
}

func toInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		return parseInt(t.String())
	case string:
		return parseInt(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	}
	return 0
}

func parseInt(s string) int {
	match := leadingInteger.FindString(strings.TrimSpace(s))
	if match == "" {
		return 0
	}
	i, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return i
}

func toBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case string:
		s := strings.TrimSpace(t)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s != ""
	}
	return true
}
