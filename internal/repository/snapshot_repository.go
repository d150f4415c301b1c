// Package repository provides data access implementations
package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/abelzeko/water-balance/internal/entities"
)

// SnapshotRepository defines the operations of the water-balance response cache
type SnapshotRepository interface {
	SaveSnapshot(snapshot entities.Snapshot) error
	GetSnapshot(owner, groupName, statDate string) (*entities.Snapshot, error)
	ListSnapshots(groupName string) ([]entities.Snapshot, error)
	DeleteSnapshotsBefore(cutoff time.Time) (int64, error)
	Close() error
}

// SQLiteSnapshotRepository implements SnapshotRepository using SQLite
type SQLiteSnapshotRepository struct {
	db     *sql.DB
	DBPath string
	logger *log.Logger
}

// NewSQLiteSnapshotRepository creates and initializes a new SQLite repository
func NewSQLiteSnapshotRepository(dbPath string, logger *log.Logger) (*SQLiteSnapshotRepository, error) {
	if logger == nil {
		logger = log.Default()
	}
	if dbPath == "" {
		dbPath = filepath.Join("data", "waterbalance.db")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logger.Infof("Opening snapshot database at %s", dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dropUnownedSnapshots(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	// fetched_at is stored as unix seconds to avoid driver-specific time formats.
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS water_balance_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		group_name TEXT NOT NULL,
		stat_date TEXT NOT NULL,
		payload TEXT NOT NULL,
		success INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL,
		UNIQUE(owner, group_name, stat_date)
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_fetched_at ON water_balance_snapshots(fetched_at);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteSnapshotRepository{
		db:     db,
		DBPath: dbPath,
		logger: logger,
	}, nil
}

// dropUnownedSnapshots removes a cache table created before snapshots were
// keyed by owner. Its rows cannot be attributed to anyone.
func dropUnownedSnapshots(db *sql.DB, logger *log.Logger) error {
	var tables, ownerColumns int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'water_balance_snapshots'`).Scan(&tables)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if tables == 0 {
		return nil
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('water_balance_snapshots') WHERE name = 'owner'`).Scan(&ownerColumns)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if ownerColumns > 0 {
		return nil
	}

	logger.Warn("Dropping snapshot cache without owner column")
	if _, err := db.Exec(`DROP TABLE water_balance_snapshots`); err != nil {
		return fmt.Errorf("failed to drop old snapshot table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *SQLiteSnapshotRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveSnapshot stores a snapshot, replacing any previous one for the same owner, group and date
func (r *SQLiteSnapshotRepository) SaveSnapshot(s entities.Snapshot) error {
	payload, err := json.Marshal(s.Response)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s/%s: %w", s.GroupName, s.StatDate, err)
	}
	if s.FetchedAt.IsZero() {
		s.FetchedAt = time.Now()
	}

	_, err = r.db.Exec(`
		INSERT INTO water_balance_snapshots(owner, group_name, stat_date, payload, success, fetched_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, group_name, stat_date) DO UPDATE SET
		payload=excluded.payload,
		success=excluded.success,
		fetched_at=excluded.fetched_at`,
		s.Owner,
		s.GroupName,
		s.StatDate,
		string(payload),
		s.Response.Success,
		s.FetchedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s/%s: %w", s.GroupName, s.StatDate, err)
	}

	r.logger.Debug("Saved snapshot", "owner", s.Owner, "group", s.GroupName, "date", s.StatDate, "items", len(s.Response.Data))
	return nil
}

// GetSnapshot returns the snapshot owner fetched for a group and date, or nil if there is none
func (r *SQLiteSnapshotRepository) GetSnapshot(owner, groupName, statDate string) (*entities.Snapshot, error) {
	row := r.db.QueryRow(`
		SELECT id, owner, group_name, stat_date, payload, fetched_at
		FROM water_balance_snapshots
		WHERE owner = ? AND group_name = ? AND stat_date = ?`, owner, groupName, statDate)

	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for %s/%s: %w", groupName, statDate, err)
	}
	return s, nil
}

// ListSnapshots returns every snapshot of a group across owners, newest stat
// date first. An empty group name lists all groups.
func (r *SQLiteSnapshotRepository) ListSnapshots(groupName string) ([]entities.Snapshot, error) {
	query := `
		SELECT id, owner, group_name, stat_date, payload, fetched_at
		FROM water_balance_snapshots
		WHERE ? = '' OR group_name = ?
		ORDER BY group_name, stat_date DESC, owner`

	rows, err := r.db.Query(query, groupName, groupName)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var result []entities.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

// DeleteSnapshotsBefore removes snapshots fetched before cutoff and reports how many were removed
func (r *SQLiteSnapshotRepository) DeleteSnapshotsBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM water_balance_snapshots WHERE fetched_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted snapshots: %w", err)
	}
	if n > 0 {
		r.logger.Infof("Pruned %d snapshots fetched before %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*entities.Snapshot, error) {
	var (
		s         entities.Snapshot
		payload   string
		fetchedAt int64
	)
	if err := row.Scan(&s.ID, &s.Owner, &s.GroupName, &s.StatDate, &payload, &fetchedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &s.Response); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	s.FetchedAt = time.Unix(fetchedAt, 0)
	return &s, nil
}
