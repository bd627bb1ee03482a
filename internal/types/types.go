package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the fund structure type reported by the upstream source
type Category int

const (
	CategoryLOF Category = iota
	CategoryETF
	CategoryOther
	CategorySpecial
)

// AllCategories is the fixed fetch order
var AllCategories = []Category{CategoryLOF, CategoryETF, CategoryOther, CategorySpecial}

func (c Category) String() string {
	switch c {
	case CategoryLOF:
		return "LOF"
	case CategoryETF:
		return "ETF"
	case CategoryOther:
		return "other"
	case CategorySpecial:
		return "special"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	return c >= CategoryLOF && c <= CategorySpecial
}

// FundRecord is one observation of one instrument at one upstream timestamp.
// (Code, SourceUpdatedAt) is the natural key.
type FundRecord struct {
	ID              int64               `json:"id,omitempty"`
	Code            string              `json:"code" validate:"required,max=20"`
	Name            string              `json:"name" validate:"required,max=100"`
	Category        Category            `json:"category"`
	Valuation       decimal.Decimal     `json:"valuation"`
	DiscountRate    decimal.Decimal     `json:"discount_rate"`
	EstimateLimit   decimal.Decimal     `json:"estimate_limit"`
	MarketPrice     decimal.Decimal     `json:"market_price"`
	PriceChangePct  decimal.Decimal     `json:"price_change_pct"`
	SourceUpdatedAt time.Time           `json:"source_updated_at"`
	RemindEnabled   bool                `json:"remind_enabled"`
	WatcherID       string              `json:"watcher_id,omitempty"`
	WatchStartedAt  *time.Time          `json:"watch_started_at,omitempty"`
	PauseState      int                 `json:"pause_state"`
	Note            string              `json:"note,omitempty"`
	NetAssetFlag    bool                `json:"net_asset_flag"`
	DeclineCount    decimal.NullDecimal `json:"decline_count"`
	TradeAmount     decimal.Decimal     `json:"trade_amount"`
	TotalShares     decimal.Decimal     `json:"total_shares"`
	ShareDelta      decimal.Decimal     `json:"share_delta"`
	IngestedAt      time.Time           `json:"ingested_at"`
}

// Key returns the natural key of the record
func (r FundRecord) Key() string {
	return fmt.Sprintf("%s@%d", r.Code, r.SourceUpdatedAt.UnixMilli())
}

type AlertType string

const (
	AlertPositive AlertType = "positive"
	AlertNegative AlertType = "negative"
)

// AlertEvent pairs a record with the threshold it breached at evaluation time
type AlertEvent struct {
	Record    FundRecord      `json:"record"`
	Type      AlertType       `json:"type"`
	Threshold decimal.Decimal `json:"threshold"`
}

// FundFilter narrows LatestPerInstrument results. Nil fields are not applied.
type FundFilter struct {
	Code        string
	DiscountMin *decimal.Decimal
	DiscountMax *decimal.Decimal
	Category    *Category
	Limit       int
}

// StoreResult aggregates the outcome of one store call.
// Skipped counts every record that was not inserted; Failed is the part of
// Skipped that was rejected by an error rather than by the natural key.
type StoreResult struct {
	Inserted int          `json:"inserted"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
	Records  []FundRecord `json:"-"`
}

// Add folds another result into r
func (r *StoreResult) Add(o StoreResult) {
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Records = append(r.Records, o.Records...)
}

type AlertStatus string

const (
	AlertStatusSent   AlertStatus = "sent"
	AlertStatusFailed AlertStatus = "failed"
)

// AlertRecord is a persisted alert history row
type AlertRecord struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	AlertType    AlertType       `json:"alert_type"`
	Threshold    decimal.Decimal `json:"threshold"`
	Message      string          `json:"message"`
	Status       AlertStatus     `json:"status"`
	SentAt       time.Time       `json:"sent_at"`
}
