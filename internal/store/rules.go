package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/r3e-network/micasa/internal/merr"
)

// ScriptRow mirrors the scripts table.
type ScriptRow struct {
	ID      int
	Name    string
	Code    string
	Enabled bool
}

// TimerRow mirrors the timers table.
type TimerRow struct {
	ID      int
	Name    string
	Cron    string
	Enabled bool
}

// LinkRow mirrors the links table.
type LinkRow struct {
	ID             int
	DeviceID       int
	TargetDeviceID int
	Value          string
	TargetValue    string
	After          float64
	For            float64
	Clear          bool
	Enabled        bool
}

// ListScripts returns every script row, ordered by id, for the API
// adapter's list operation.
func (s *Store) ListScripts(ctx context.Context) ([]ScriptRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, code, enabled FROM scripts ORDER BY id ASC`)
	if err != nil {
		return nil, wrapHistErr(err, "list scripts")
	}
	return scanScripts(rows)
}

// GetScript looks up a script by id.
func (s *Store) GetScript(ctx context.Context, id int) (*ScriptRow, error) {
	var r ScriptRow
	var enabled int
	err := s.db.QueryRowContext(ctx, `SELECT id, name, code, enabled FROM scripts WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Code, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.NotFound("script", r.Name)
	}
	if err != nil {
		return nil, merr.Wrap(merr.CodeInvalid, 0, "get script", err)
	}
	r.Enabled = enabled != 0
	return &r, nil
}

// GetScriptByName looks up a script by name whether enabled or not, used
// by the host's include() builtin, which checks Enabled itself.
func (s *Store) GetScriptByName(ctx context.Context, name string) (*ScriptRow, error) {
	var r ScriptRow
	var enabled int
	err := s.db.QueryRowContext(ctx, `SELECT id, name, code, enabled FROM scripts WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &r.Code, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.NotFound("script", name)
	}
	if err != nil {
		return nil, merr.Wrap(merr.CodeInvalid, 0, "get script by name", err)
	}
	r.Enabled = enabled != 0
	return &r, nil
}

// SetScriptEnabled flips a script's enabled flag, used to disable a
// script on syntax/internal error.
func (s *Store) SetScriptEnabled(ctx context.Context, id int, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scripts SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	return wrapHistErr(err, "set script enabled")
}

// ScriptsForDevice returns enabled scripts bound to a device via
// x_device_scripts, for event dispatch.
func (s *Store) ScriptsForDevice(ctx context.Context, deviceID int) ([]ScriptRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.id, s.name, s.code, s.enabled FROM scripts s
		JOIN x_device_scripts x ON x.script_id = s.id WHERE x.device_id = ? AND s.enabled = 1`, deviceID)
	if err != nil {
		return nil, wrapHistErr(err, "scripts for device")
	}
	return scanScripts(rows)
}

// ScriptsForTimer returns enabled scripts bound to a timer.
func (s *Store) ScriptsForTimer(ctx context.Context, timerID int) ([]ScriptRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT s.id, s.name, s.code, s.enabled FROM scripts s
		JOIN x_timer_scripts x ON x.script_id = s.id WHERE x.timer_id = ? AND s.enabled = 1`, timerID)
	if err != nil {
		return nil, wrapHistErr(err, "scripts for timer")
	}
	return scanScripts(rows)
}

func scanScripts(rows *sql.Rows) ([]ScriptRow, error) {
	defer rows.Close()
	var out []ScriptRow
	for rows.Next() {
		var r ScriptRow
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.Code, &enabled); err != nil {
			return nil, wrapHistErr(err, "scan script")
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTimers returns every timer row regardless of enabled state, for
// the API adapter's list operation.
func (s *Store) ListTimers(ctx context.Context) ([]TimerRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, cron, enabled FROM timers ORDER BY id ASC`)
	if err != nil {
		return nil, wrapHistErr(err, "list timers")
	}
	defer rows.Close()
	var out []TimerRow
	for rows.Next() {
		var r TimerRow
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.Cron, &enabled); err != nil {
			return nil, wrapHistErr(err, "scan timer")
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEnabledTimers returns every enabled timer, for the once-per-minute
// timer scan task.
func (s *Store) ListEnabledTimers(ctx context.Context) ([]TimerRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, cron, enabled FROM timers WHERE enabled = 1`)
	if err != nil {
		return nil, wrapHistErr(err, "list timers")
	}
	defer rows.Close()
	var out []TimerRow
	for rows.Next() {
		var r TimerRow
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.Cron, &enabled); err != nil {
			return nil, wrapHistErr(err, "scan timer")
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetTimerEnabled sets a timer's enabled flag; the timer scan uses it to
// disable a timer whose cron expression failed to parse.
func (s *Store) SetTimerEnabled(ctx context.Context, id int, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE timers SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	return wrapHistErr(err, "set timer enabled")
}

// TimerDeviceTargets returns the (device_id, target value) pairs bound
// to a timer via x_timer_devices.
func (s *Store) TimerDeviceTargets(ctx context.Context, timerID int) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_id, value FROM x_timer_devices WHERE timer_id = ?`, timerID)
	if err != nil {
		return nil, wrapHistErr(err, "timer device targets")
	}
	defer rows.Close()
	out := make(map[int]string)
	for rows.Next() {
		var deviceID int
		var value string
		if err := rows.Scan(&deviceID, &value); err != nil {
			return nil, wrapHistErr(err, "scan timer device target")
		}
		out[deviceID] = value
	}
	return out, rows.Err()
}

// LinksForSourceDevice returns enabled links whose source device is
// deviceID, for link dispatch on a Switch value change.
func (s *Store) LinksForSourceDevice(ctx context.Context, deviceID int) ([]LinkRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, device_id, target_device_id, value, target_value, after, "for", clear, enabled
		FROM links WHERE device_id = ? AND enabled = 1`, deviceID)
	if err != nil {
		return nil, wrapHistErr(err, "links for device")
	}
	defer rows.Close()
	var out []LinkRow
	for rows.Next() {
		var r LinkRow
		var clear, enabled int
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.TargetDeviceID, &r.Value, &r.TargetValue, &r.After, &r.For, &clear, &enabled); err != nil {
			return nil, wrapHistErr(err, "scan link")
		}
		r.Clear = clear != 0
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
