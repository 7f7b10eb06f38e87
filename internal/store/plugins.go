package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/r3e-network/micasa/internal/merr"
)

// PluginRow mirrors one row of the plugins table.
type PluginRow struct {
	ID        int
	ParentID  sql.NullInt64
	Reference string
	Type      string
	Enabled   bool
}

// InsertPlugin inserts a new plugin row, returning its assigned id.
func (s *Store) InsertPlugin(ctx context.Context, parentID *int, reference, typ string, enabled bool) (int, error) {
	var parent sql.NullInt64
	if parentID != nil {
		parent = sql.NullInt64{Int64: int64(*parentID), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO plugins (parent_id, reference, type, enabled) VALUES (?, ?, ?, ?)`,
		parent, reference, typ, boolToInt(enabled))
	if err != nil {
		return 0, merr.Wrap(merr.CodeInvalid, 0, "insert plugin", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, merr.Wrap(merr.CodeInvalid, 0, "read plugin id", err)
	}
	return int(id), nil
}

// ListPlugins returns every plugin row ordered by id ascending - parents
// before children, per the design's load-order invariant.
func (s *Store) ListPlugins(ctx context.Context) ([]PluginRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id, reference, type, enabled FROM plugins ORDER BY id ASC`)
	if err != nil {
		return nil, merr.Wrap(merr.CodeInvalid, 0, "list plugins", err)
	}
	defer rows.Close()

	var out []PluginRow
	for rows.Next() {
		var r PluginRow
		var enabled int
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Reference, &r.Type, &enabled); err != nil {
			return nil, merr.Wrap(merr.CodeInvalid, 0, "scan plugin", err)
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPluginByReference looks up a plugin by its unique reference.
func (s *Store) GetPluginByReference(ctx context.Context, reference string) (*PluginRow, error) {
	var r PluginRow
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, parent_id, reference, type, enabled FROM plugins WHERE reference = ?`, reference,
	).Scan(&r.ID, &r.ParentID, &r.Reference, &r.Type, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.NotFound("plugin", reference)
	}
	if err != nil {
		return nil, merr.Wrap(merr.CodeInvalid, 0, "get plugin", err)
	}
	r.Enabled = enabled != 0
	return &r, nil
}

// RemovePlugin deletes a plugin row; foreign keys cascade to its devices
// and child plugins.
func (s *Store) RemovePlugin(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE id = ?`, id)
	if err != nil {
		return merr.Wrap(merr.CodeInvalid, 0, "remove plugin", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
