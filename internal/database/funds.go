package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fund-arbitrage-bot/internal/types"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const fundColumns = `id, code, name, category, valuation, discount_rate, estimate_limit,
	market_price, price_change_pct, source_updated_at, remind_enabled, watcher_id,
	watch_started_at, pause_state, note, net_asset_flag, decline_count, trade_amount,
	total_shares, share_delta, ingested_at`

const insertFundQuery = `
	INSERT INTO fund_data (code, name, category, valuation, discount_rate, estimate_limit,
		market_price, price_change_pct, source_updated_at, remind_enabled, watcher_id,
		watch_started_at, pause_state, note, net_asset_flag, decline_count, trade_amount,
		total_shares, share_delta, ingested_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (code, source_updated_at) DO NOTHING;`

// latestJoin restricts fund_data to the newest observation of every code
const latestJoin = `
	FROM fund_data f
	INNER JOIN (
		SELECT code, MAX(source_updated_at) AS max_time
		FROM fund_data
		GROUP BY code
	) l ON f.code = l.code AND f.source_updated_at = l.max_time`

// PersistenceError is a failed batched write. Store recovers from it by
// retrying the batch record by record.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("batch %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type storeOptions struct {
	checkExisting bool
}

type StoreOption func(*storeOptions)

// WithExistenceCheck looks every record up by its natural key before
// building the batches and drops the ones already stored.
func WithExistenceCheck() StoreOption {
	return func(o *storeOptions) {
		o.checkExisting = true
	}
}

// Store writes the records in batches, one transaction per batch. A failed
// batch is retried record by record so one bad record only costs itself.
// Duplicates of the natural key are skipped; Store never returns an error.
func (s *Store) Store(ctx context.Context, records []types.FundRecord, opts ...StoreOption) types.StoreResult {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var result types.StoreResult
	progress := &progressLog{total: len(records), every: s.progressEvery}

	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if o.checkExisting {
			var existing int
			batch, existing = s.dropExisting(ctx, batch)
			result.Skipped += existing
		}

		result.Add(s.storeBatch(ctx, batch))
		progress.advance(end-start, result)
	}

	log.WithFields(log.Fields{
		"total":    len(records),
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
	}).Info("fund records stored")

	return result
}

func (s *Store) dropExisting(ctx context.Context, batch []types.FundRecord) ([]types.FundRecord, int) {
	fresh := make([]types.FundRecord, 0, len(batch))
	skipped := 0
	for _, r := range batch {
		exists, err := s.Exists(ctx, r.Code, r.SourceUpdatedAt)
		if err != nil {
			// the unique key still guards the insert
			log.WithError(err).WithField("code", r.Code).Warn("existence check failed")
		}
		if exists {
			skipped++
			continue
		}
		fresh = append(fresh, r)
	}
	return fresh, skipped
}

func (s *Store) storeBatch(ctx context.Context, batch []types.FundRecord) types.StoreResult {
	if len(batch) == 0 {
		return types.StoreResult{}
	}

	result, err := s.insertBatch(ctx, batch)
	if err == nil {
		return result
	}

	log.WithError(err).WithField("size", len(batch)).Warn("batch insert failed, falling back to single inserts")
	return s.insertEach(ctx, batch)
}

func (s *Store) insertBatch(ctx context.Context, batch []types.FundRecord) (result types.StoreResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, &PersistenceError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertFundQuery)
	if err != nil {
		return types.StoreResult{}, &PersistenceError{Op: "prepare", Err: err}
	}
	defer stmt.Close()

	ingestedAt := s.clock()
	for _, r := range batch {
		r.IngestedAt = ingestedAt
		id, inserted, execErr := execInsert(ctx, stmt, r)
		if execErr != nil {
			return types.StoreResult{}, &PersistenceError{Op: "insert " + r.Code, Err: execErr}
		}
		if !inserted {
			result.Skipped++
			continue
		}
		r.ID = id
		result.Inserted++
		result.Records = append(result.Records, r)
	}

	if err = tx.Commit(); err != nil {
		return types.StoreResult{}, &PersistenceError{Op: "commit", Err: err}
	}
	return result, nil
}

func (s *Store) insertEach(ctx context.Context, batch []types.FundRecord) types.StoreResult {
	var result types.StoreResult

	stmt, err := s.db.PrepareContext(ctx, insertFundQuery)
	if err != nil {
		log.WithError(err).Error("failed to prepare single insert")
		result.Skipped = len(batch)
		result.Failed = len(batch)
		return result
	}
	defer stmt.Close()

	ingestedAt := s.clock()
	for _, r := range batch {
		r.IngestedAt = ingestedAt
		id, inserted, err := execInsert(ctx, stmt, r)
		switch {
		case err != nil:
			log.WithError(err).WithFields(log.Fields{
				"code":       r.Code,
				"updated_at": r.SourceUpdatedAt,
			}).Warn("failed to insert fund record")
			result.Skipped++
			result.Failed++
		case !inserted:
			result.Skipped++
		default:
			r.ID = id
			result.Inserted++
			result.Records = append(result.Records, r)
		}
	}
	return result
}

func execInsert(ctx context.Context, stmt *sql.Stmt, r types.FundRecord) (int64, bool, error) {
	var watchStartedAt sql.NullInt64
	if r.WatchStartedAt != nil {
		watchStartedAt = sql.NullInt64{Int64: r.WatchStartedAt.UnixMilli(), Valid: true}
	}

	res, err := stmt.ExecContext(ctx,
		r.Code, r.Name, int(r.Category), r.Valuation, r.DiscountRate, r.EstimateLimit,
		r.MarketPrice, r.PriceChangePct, r.SourceUpdatedAt.UnixMilli(), r.RemindEnabled, r.WatcherID,
		watchStartedAt, r.PauseState, r.Note, r.NetAssetFlag, r.DeclineCount, r.TradeAmount,
		r.TotalShares, r.ShareDelta, r.IngestedAt.UnixMilli(),
	)
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, true, nil
	}
	return id, true, nil
}

// Exists reports whether an observation with the natural key is stored
func (s *Store) Exists(ctx context.Context, code string, updatedAt time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fund_data WHERE code = ? AND source_updated_at = ?;`,
		code, updatedAt.UnixMilli(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check fund record %s: %w", code, err)
	}
	return count > 0, nil
}

// LatestPerInstrument returns the newest row of every code matching the
// filter, ordered by discount rate descending.
func (s *Store) LatestPerInstrument(ctx context.Context, filter types.FundFilter) ([]types.FundRecord, error) {
	var conditions []string
	var args []any

	if filter.Code != "" {
		conditions = append(conditions, "f.code = ?")
		args = append(args, filter.Code)
	}
	if filter.DiscountMin != nil {
		conditions = append(conditions, "f.discount_rate >= ?")
		args = append(args, filter.DiscountMin.InexactFloat64())
	}
	if filter.DiscountMax != nil {
		conditions = append(conditions, "f.discount_rate <= ?")
		args = append(args, filter.DiscountMax.InexactFloat64())
	}
	if filter.Category != nil {
		conditions = append(conditions, "f.category = ?")
		args = append(args, int(*filter.Category))
	}

	query := "SELECT " + prefixed("f", fundColumns) + latestJoin
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY f.discount_rate DESC, f.code"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryFunds(ctx, query, args...)
}

// History returns every row of code observed within the last days, newest first
func (s *Store) History(ctx context.Context, code string, days int) ([]types.FundRecord, error) {
	since := s.clock().AddDate(0, 0, -days)
	query := "SELECT " + fundColumns + ` FROM fund_data
		WHERE code = ? AND source_updated_at >= ?
		ORDER BY source_updated_at DESC`
	return s.queryFunds(ctx, query, code, since.UnixMilli())
}

// Abnormal returns the newest row of every code whose absolute discount rate
// reaches threshold, largest deviation first.
func (s *Store) Abnormal(ctx context.Context, threshold decimal.Decimal) ([]types.FundRecord, error) {
	query := "SELECT " + prefixed("f", fundColumns) + latestJoin + `
		WHERE ABS(f.discount_rate) >= ?
		ORDER BY ABS(f.discount_rate) DESC, f.code`
	return s.queryFunds(ctx, query, threshold.Abs().InexactFloat64())
}

// PurgeOlderThan deletes rows ingested more than days ago
func (s *Store) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := s.clock().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, `DELETE FROM fund_data WHERE ingested_at < ?;`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge fund records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged fund records: %w", err)
	}
	log.WithFields(log.Fields{"deleted": n, "retention_days": days}).Info("old fund records purged")
	return n, nil
}

// ClearAll wipes every stored observation
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fund_data;`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear fund records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared fund records: %w", err)
	}
	log.WithField("deleted", n).Warn("all fund records cleared")
	return n, nil
}

// Count returns the number of stored observations
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fund_data;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fund records: %w", err)
	}
	return n, nil
}

func (s *Store) queryFunds(ctx context.Context, query string, args ...any) ([]types.FundRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund records: %w", err)
	}
	defer rows.Close()

	records := []types.FundRecord{}
	for rows.Next() {
		r, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fund records: %w", err)
	}
	return records, nil
}

func scanFund(rows *sql.Rows) (types.FundRecord, error) {
	var (
		r              types.FundRecord
		category       int
		sourceUpdated  int64
		ingested       int64
		watchStartedAt sql.NullInt64
	)
	err := rows.Scan(
		&r.ID, &r.Code, &r.Name, &category, &r.Valuation, &r.DiscountRate, &r.EstimateLimit,
		&r.MarketPrice, &r.PriceChangePct, &sourceUpdated, &r.RemindEnabled, &r.WatcherID,
		&watchStartedAt, &r.PauseState, &r.Note, &r.NetAssetFlag, &r.DeclineCount, &r.TradeAmount,
		&r.TotalShares, &r.ShareDelta, &ingested,
	)
	if err != nil {
		return r, err
	}

	r.Category = types.Category(category)
	r.SourceUpdatedAt = time.UnixMilli(sourceUpdated).UTC()
	r.IngestedAt = time.UnixMilli(ingested).UTC()
	if watchStartedAt.Valid {
		t := time.UnixMilli(watchStartedAt.Int64).UTC()
		r.WatchStartedAt = &t
	}
	return r, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type progressLog struct {
	total     int
	every     int
	processed int
}

func (p *progressLog) advance(n int, so types.StoreResult) {
	before := p.processed
	p.processed += n
	if p.every <= 0 || p.processed/p.every == before/p.every {
		return
	}
	log.WithFields(log.Fields{
		"processed": p.processed,
		"total":     p.total,
		"inserted":  so.Inserted,
		"skipped":   so.Skipped,
	}).Debug("store progress")
}
