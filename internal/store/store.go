// Package store persists timelines and rendered exports in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/timeline"
)

var ErrNotFound = errors.New("not found")

// Store implements domain.Storage.
type Store struct {
	db   *sql.DB
	path string
}

type TimelineSummary struct {
	ScenarioID string
	Duration   float64
	Layers     int
	UpdatedAt  time.Time
}

// Open creates or connects to the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) LoadTimeline(ctx context.Context, scenarioID string) ([]domain.Layer, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT layers_json FROM timelines WHERE scenario_id = ?", scenarioID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("timeline %q: %w", scenarioID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}

	var layers []domain.Layer
	if err := json.Unmarshal([]byte(raw), &layers); err != nil {
		return nil, fmt.Errorf("decode timeline %q: %w", scenarioID, err)
	}
	return layers, nil
}

func (s *Store) SaveTimeline(ctx context.Context, scenarioID string, layers []domain.Layer) error {
	raw, err := json.Marshal(layers)
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timelines (scenario_id, layers_json, duration, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scenario_id) DO UPDATE SET
			layers_json = excluded.layers_json,
			duration = excluded.duration,
			updated_at = excluded.updated_at`,
		scenarioID, string(raw), timeline.TotalDuration(layers), now(),
	)
	if err != nil {
		return fmt.Errorf("save timeline: %w", err)
	}
	return nil
}

func (s *Store) ListTimelines(ctx context.Context) ([]TimelineSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT scenario_id, layers_json, duration, updated_at FROM timelines ORDER BY scenario_id")
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	defer rows.Close()

	var out []TimelineSummary
	for rows.Next() {
		var (
			sum     TimelineSummary
			raw     string
			updated string
		)
		if err := rows.Scan(&sum.ScenarioID, &raw, &sum.Duration, &updated); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		var layers []domain.Layer
		if err := json.Unmarshal([]byte(raw), &layers); err == nil {
			sum.Layers = len(layers)
		}
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTimeline(ctx context.Context, scenarioID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM timelines WHERE scenario_id = ?", scenarioID)
	if err != nil {
		return fmt.Errorf("delete timeline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("timeline %q: %w", scenarioID, ErrNotFound)
	}
	return nil
}

func (s *Store) WriteExport(ctx context.Context, key domain.ExportKey, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exports (scenario_id, timeline_hash, data, size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scenario_id, timeline_hash) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			created_at = excluded.created_at`,
		key.ScenarioID, key.TimelineHash, data, len(data), now(),
	)
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

func (s *Store) ReadExport(ctx context.Context, key domain.ExportKey) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM exports WHERE scenario_id = ? AND timeline_hash = ?",
		key.ScenarioID, key.TimelineHash,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export %s/%s: %w", key.ScenarioID, key.TimelineHash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return data, nil
}

func (s *Store) ExportExists(ctx context.Context, key domain.ExportKey) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM exports WHERE scenario_id = ? AND timeline_hash = ?",
		key.ScenarioID, key.TimelineHash,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check export: %w", err)
	}
	return n > 0, nil
}

// PruneExports removes every export of scenarioID except the one for keepHash.
func (s *Store) PruneExports(ctx context.Context, scenarioID, keepHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM exports WHERE scenario_id = ? AND timeline_hash != ?", scenarioID, keepHash)
	if err != nil {
		return 0, fmt.Errorf("prune exports: %w", err)
	}
	return res.RowsAffected()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
