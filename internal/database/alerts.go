package database

import (
	"context"
	"fmt"
	"time"

	"fund-arbitrage-bot/internal/types"

	log "github.com/sirupsen/logrus"
)

// InsertAlertRecords saves one history row per alert event
func (s *Store) InsertAlertRecords(ctx context.Context, events []types.AlertEvent, message string, status types.AlertStatus) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin alert insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO alert_records (code, name, discount_rate, alert_type, threshold, message, status, sent_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("failed to prepare alert insert: %w", err)
	}
	defer stmt.Close()

	sentAt := s.clock().UnixMilli()
	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.Record.Code, e.Record.Name, e.Record.DiscountRate, string(e.Type),
			e.Threshold, message, string(status), sentAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert for %s: %w", e.Record.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert records: %w", err)
	}

	log.WithFields(log.Fields{"count": len(events), "status": status}).Debug("alert records inserted")
	return nil
}

// RecentAlertRecords returns the latest alert history rows, newest first
func (s *Store) RecentAlertRecords(ctx context.Context, limit int) ([]types.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, code, name, discount_rate, alert_type, threshold, message, status, sent_at
	FROM alert_records
	ORDER BY sent_at DESC, id DESC
	LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert records: %w", err)
	}
	defer rows.Close()

	alerts := []types.AlertRecord{}
	for rows.Next() {
		var (
			a         types.AlertRecord
			alertType string
			status    string
			sentAt    int64
		)
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.DiscountRate, &alertType, &a.Threshold, &a.Message, &status, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		a.AlertType = types.AlertType(alertType)
		a.Status = types.AlertStatus(status)
		a.SentAt = time.UnixMilli(sentAt).UTC()
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read alert records: %w", err)
	}

	return alerts, nil
}
