package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/r3e-network/micasa/internal/merr"
)

// DeviceRow mirrors one row of the devices table.
type DeviceRow struct {
	ID            int
	PluginID      int
	Reference     string
	Label         string
	Name          string
	Type          int
	Enabled       bool
	Value         string
	PreviousValue string
	LastUpdate    int64
	LastSource    int
}

// InsertDevice inserts a new device row owned by pluginID.
func (s *Store) InsertDevice(ctx context.Context, pluginID int, reference, label string, typ int, enabled bool) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (plugin_id, reference, label, type, enabled) VALUES (?, ?, ?, ?, ?)`,
		pluginID, reference, label, typ, boolToInt(enabled))
	if err != nil {
		return 0, merr.Wrap(merr.CodeInvalid, 0, "insert device", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, merr.Wrap(merr.CodeInvalid, 0, "read device id", err)
	}
	return int(id), nil
}

// GetDeviceByReference looks up a device by (plugin, reference), the
// pair declareDevice checks for idempotency.
func (s *Store) GetDeviceByReference(ctx context.Context, pluginID int, reference string) (*DeviceRow, error) {
	return s.scanDeviceRow(ctx, `SELECT id, plugin_id, reference, label, name, type, enabled, value, previous_value, last_update, last_source
		FROM devices WHERE plugin_id = ? AND reference = ?`, pluginID, reference)
}

// GetDevice looks up a device by id.
func (s *Store) GetDevice(ctx context.Context, id int) (*DeviceRow, error) {
	return s.scanDeviceRow(ctx, `SELECT id, plugin_id, reference, label, name, type, enabled, value, previous_value, last_update, last_source
		FROM devices WHERE id = ?`, id)
}

// GetDeviceByName looks up a device by its settable name override.
func (s *Store) GetDeviceByName(ctx context.Context, name string) (*DeviceRow, error) {
	return s.scanDeviceRow(ctx, `SELECT id, plugin_id, reference, label, name, type, enabled, value, previous_value, last_update, last_source
		FROM devices WHERE name = ?`, name)
}

// GetDeviceByLabel looks up a device by its label.
func (s *Store) GetDeviceByLabel(ctx context.Context, label string) (*DeviceRow, error) {
	return s.scanDeviceRow(ctx, `SELECT id, plugin_id, reference, label, name, type, enabled, value, previous_value, last_update, last_source
		FROM devices WHERE label = ?`, label)
}

func (s *Store) scanDeviceRow(ctx context.Context, query string, args ...any) (*DeviceRow, error) {
	var r DeviceRow
	var enabled int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &r.PluginID, &r.Reference, &r.Label, &r.Name, &r.Type, &enabled,
		&r.Value, &r.PreviousValue, &r.LastUpdate, &r.LastSource,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.NotFound("device", query)
	}
	if err != nil {
		return nil, merr.Wrap(merr.CodeInvalid, 0, "get device", err)
	}
	r.Enabled = enabled != 0
	return &r, nil
}

// ListDevicesByPlugin returns every device row owned by pluginID.
func (s *Store) ListDevicesByPlugin(ctx context.Context, pluginID int) ([]DeviceRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, plugin_id, reference, label, name, type, enabled, value, previous_value, last_update, last_source
		FROM devices WHERE plugin_id = ? ORDER BY id ASC`, pluginID)
	if err != nil {
		return nil, merr.Wrap(merr.CodeInvalid, 0, "list devices", err)
	}
	defer rows.Close()

	var out []DeviceRow
	for rows.Next() {
		var r DeviceRow
		var enabled int
		if err := rows.Scan(&r.ID, &r.PluginID, &r.Reference, &r.Label, &r.Name, &r.Type, &enabled,
			&r.Value, &r.PreviousValue, &r.LastUpdate, &r.LastSource); err != nil {
			return nil, merr.Wrap(merr.CodeInvalid, 0, "scan device", err)
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateDeviceValue commits the applied-value side effects of a
// successful updateValue call: new value, previous value, last-update
// timestamp and last source.
func (s *Store) UpdateDeviceValue(ctx context.Context, id int, value, previousValue string, lastUpdate int64, lastSource int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET value = ?, previous_value = ?, last_update = ?, last_source = ? WHERE id = ?`,
		value, previousValue, lastUpdate, lastSource, id)
	if err != nil {
		return merr.Wrap(merr.CodeInvalid, 0, "update device value", err)
	}
	return nil
}

// RemoveDevice deletes a device row; foreign keys cascade to its history,
// trend and cross-table rows.
func (s *Store) RemoveDevice(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return merr.Wrap(merr.CodeInvalid, 0, "remove device", err)
	}
	return nil
}
