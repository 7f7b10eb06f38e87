package store

import (
	"context"

	"github.com/r3e-network/micasa/internal/merr"
)

// DataPoint is one row of the shared getData query shape: {timestamp,
// value[, minimum, maximum]}, per §4.8's query API.
type DataPoint struct {
	Date    int64
	Value   float64
	Minimum float64
	Maximum float64
	HasMM   bool
}

// InsertCounterHistory appends a raw counter sample.
func (s *Store) InsertCounterHistory(ctx context.Context, deviceID int, value float64, date int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO device_counter_history (device_id, value, date) VALUES (?, ?, ?)`, deviceID, value, date)
	return wrapHistErr(err, "insert counter history")
}

// UpsertCounterTrend writes the hourly max-min diff row for an hour
// bucket (date truncated to the hour by the caller).
func (s *Store) UpsertCounterTrend(ctx context.Context, deviceID int, last, diff float64, hourDate int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO device_counter_trends (device_id, last, diff, date) VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, date) DO UPDATE SET last = excluded.last, diff = excluded.diff`, deviceID, last, diff, hourDate)
	return wrapHistErr(err, "upsert counter trend")
}

// UpsertLevelHistory folds a new sample into the 5-minute bucket's
// running average: value = ((value*samples)+new)/(samples+1).
func (s *Store) UpsertLevelHistory(ctx context.Context, deviceID int, bucketDate int64, newValue float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapHistErr(err, "begin level history tx")
	}
	defer tx.Rollback()

	var value float64
	var samples int
	err = tx.QueryRowContext(ctx, `SELECT value, samples FROM device_level_history WHERE device_id = ? AND date = ?`, deviceID, bucketDate).
		Scan(&value, &samples)
	if err == nil {
		value = ((value * float64(samples)) + newValue) / float64(samples+1)
		samples++
		if _, err := tx.ExecContext(ctx, `UPDATE device_level_history SET value = ?, samples = ? WHERE device_id = ? AND date = ?`,
			value, samples, deviceID, bucketDate); err != nil {
			return wrapHistErr(err, "update level history")
		}
	} else {
		if _, err := tx.ExecContext(ctx, `INSERT INTO device_level_history (device_id, value, samples, date) VALUES (?, ?, 1, ?)`,
			deviceID, newValue, bucketDate); err != nil {
			return wrapHistErr(err, "insert level history")
		}
	}
	return wrapHistErr(tx.Commit(), "commit level history tx")
}

// UpsertLevelTrend writes the hourly min/max/avg row computed by the
// caller from history rows within the hour.
func (s *Store) UpsertLevelTrend(ctx context.Context, deviceID int, min, max, avg float64, hourDate int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO device_level_trends (device_id, min, max, average, date) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id, date) DO UPDATE SET min = excluded.min, max = excluded.max, average = excluded.average`,
		deviceID, min, max, avg, hourDate)
	return wrapHistErr(err, "upsert level trend")
}

// InsertSwitchHistory appends a raw switch-option sample.
func (s *Store) InsertSwitchHistory(ctx context.Context, deviceID int, value string, date int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO device_switch_history (device_id, value, date) VALUES (?, ?, ?)`, deviceID, value, date)
	return wrapHistErr(err, "insert switch history")
}

// InsertTextHistory appends a raw text sample.
func (s *Store) InsertTextHistory(ctx context.Context, deviceID int, value string, date int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO device_text_history (device_id, value, date) VALUES (?, ?, ?)`, deviceID, value, date)
	return wrapHistErr(err, "insert text history")
}

// LevelHistoryInRange returns level history rows within [from, to), used
// by the history query API.
func (s *Store) LevelHistoryInRange(ctx context.Context, deviceID int, from, to int64) ([]DataPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, value FROM device_level_history WHERE device_id = ? AND date >= ? AND date < ? ORDER BY date ASC`,
		deviceID, from, to)
	if err != nil {
		return nil, wrapHistErr(err, "query level history")
	}
	defer rows.Close()
	var out []DataPoint
	for rows.Next() {
		var p DataPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, wrapHistErr(err, "scan level history")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CounterHistoryInRange returns counter history rows within [from, to).
func (s *Store) CounterHistoryInRange(ctx context.Context, deviceID int, from, to int64) ([]DataPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, value FROM device_counter_history WHERE device_id = ? AND date >= ? AND date < ? ORDER BY date ASC`,
		deviceID, from, to)
	if err != nil {
		return nil, wrapHistErr(err, "query counter history")
	}
	defer rows.Close()
	var out []DataPoint
	for rows.Next() {
		var p DataPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, wrapHistErr(err, "scan counter history")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteHistoryBefore removes history rows older than cutoff across the
// four per-kind tables for one device, implementing per-device retention.
func (s *Store) DeleteHistoryBefore(ctx context.Context, deviceID int, cutoff int64) error {
	for _, table := range []string{"device_counter_history", "device_level_history", "device_switch_history", "device_text_history"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE device_id = ? AND date < ?`, deviceID, cutoff); err != nil {
			return wrapHistErr(err, "delete history")
		}
	}
	return nil
}

// DeleteLevelTrendsBefore removes level trend rows older than cutoff.
func (s *Store) DeleteLevelTrendsBefore(ctx context.Context, deviceID int, cutoff int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_level_trends WHERE device_id = ? AND date < ?`, deviceID, cutoff)
	return wrapHistErr(err, "delete level trends")
}

func wrapHistErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return merr.Wrap(merr.CodeInvalid, 0, msg, err)
}
