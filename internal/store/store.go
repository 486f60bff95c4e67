// Package store caches parsed replay data in SQLite.
//
// Everything stored here can be rebuilt from the replay files, so the
// database can be deleted at any time.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/slpwatch/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Source reads replays that are missing from the cache.
type Source interface {
	ReadSummary(path string) (model.ReplaySummary, error)
	ReadStats(path string) (model.MatchStats, error)
}

// Store wraps SQLite access for cached replays.
type Store struct {
	db     *sql.DB
	source Source
}

// Open opens or creates the SQLite database and applies migrations. Misses
// are read from source.
func Open(path string, source Source) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, source: source}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS replay_summaries (
			path TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			mod_time_ns INTEGER NOT NULL,
			game_mode INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			summary TEXT NOT NULL,
			cached_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS replay_stats (
			path TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			mod_time_ns INTEGER NOT NULL,
			stats TEXT NOT NULL,
			cached_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_replay_summaries_started_at ON replay_summaries(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type fileKey struct {
	size    int64
	modTime int64
}

func statKey(path string) (fileKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileKey{}, err
	}
	return fileKey{size: info.Size(), modTime: info.ModTime().UnixNano()}, nil
}

// ReadSummary returns the cached summary of path, reading the file on a miss
// or when the file changed since it was cached.
func (s *Store) ReadSummary(path string) (model.ReplaySummary, error) {
	ctx := context.Background()
	key, err := statKey(path)
	if err != nil {
		return model.ReplaySummary{}, fmt.Errorf("failed to stat replay: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx,
		`SELECT summary FROM replay_summaries WHERE path = ? AND size = ? AND mod_time_ns = ?`,
		path, key.size, key.modTime,
	).Scan(&raw)
	if err == nil {
		var summary model.ReplaySummary
		if err := json.Unmarshal([]byte(raw), &summary); err == nil {
			return summary, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		slog.Debug("replay cache lookup failed", "path", path, "error", err)
	}

	summary, err := s.source.ReadSummary(path)
	if err != nil {
		return model.ReplaySummary{}, err
	}
	// Unfinished replays keep growing; only finished ones are worth keeping.
	if summary.GameEnd != nil {
		if err := s.putSummary(ctx, path, key, summary); err != nil {
			slog.Debug("failed to cache replay summary", "path", path, "error", err)
		}
	}
	return summary, nil
}

// ReadStats returns the cached stats of path, computing them on a miss.
func (s *Store) ReadStats(path string) (model.MatchStats, error) {
	ctx := context.Background()
	key, err := statKey(path)
	if err != nil {
		return model.MatchStats{}, fmt.Errorf("failed to stat replay: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx,
		`SELECT stats FROM replay_stats WHERE path = ? AND size = ? AND mod_time_ns = ?`,
		path, key.size, key.modTime,
	).Scan(&raw)
	if err == nil {
		var stats model.MatchStats
		if err := json.Unmarshal([]byte(raw), &stats); err == nil {
			return stats, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		slog.Debug("replay cache lookup failed", "path", path, "error", err)
	}

	stats, err := s.source.ReadStats(path)
	if err != nil {
		return model.MatchStats{}, err
	}
	if stats.GameComplete {
		if err := s.putStats(ctx, path, key, stats); err != nil {
			slog.Debug("failed to cache replay stats", "path", path, "error", err)
		}
	}
	return stats, nil
}

func (s *Store) putSummary(ctx context.Context, path string, key fileKey, summary model.ReplaySummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO replay_summaries (path, size, mod_time_ns, game_mode, started_at, summary, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mod_time_ns = excluded.mod_time_ns,
			game_mode = excluded.game_mode,
			started_at = excluded.started_at,
			summary = excluded.summary,
			cached_at = excluded.cached_at`,
		path,
		key.size,
		key.modTime,
		int(summary.Settings.GameMode),
		summary.Metadata.StartAt.Format(time.RFC3339Nano),
		string(data),
		time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) putStats(ctx context.Context, path string, key fileKey, stats model.MatchStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO replay_stats (path, size, mod_time_ns, stats, cached_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mod_time_ns = excluded.mod_time_ns,
			stats = excluded.stats,
			cached_at = excluded.cached_at`,
		path, key.size, key.modTime, string(data), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

// Prune removes entries whose replay file no longer exists and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM replay_summaries UNION SELECT path FROM replay_stats`)
	if err != nil {
		return 0, err
	}
	var missing []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			_ = rows.Close()
			return 0, err
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, path)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	if cerr := rows.Close(); cerr != nil {
		// Best-effort rows close.
		_ = cerr
	}
	if len(missing) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()
	for _, path := range missing {
		if _, err = tx.ExecContext(ctx, `DELETE FROM replay_summaries WHERE path = ?`, path); err != nil {
			return 0, err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM replay_stats WHERE path = ?`, path); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return len(missing), nil
}

// CountSummaries returns how many replay summaries are cached.
func (s *Store) CountSummaries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replay_summaries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
