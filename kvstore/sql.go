package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roadhazard/common"
)

const (
	createTableSQLite = `CREATE TABLE IF NOT EXISTS kv_store (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	createTableMySQL = `CREATE TABLE IF NOT EXISTS kv_store (
		k VARCHAR(255) NOT NULL PRIMARY KEY,
		v LONGTEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`

	upsertSQLite = `INSERT INTO kv_store (k, v, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`
	upsertMySQL = `INSERT INTO kv_store (k, v, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE v = ?, updated_at = ?`

	selectValue = `SELECT v FROM kv_store WHERE k = ?`
	deleteValue = `DELETE FROM kv_store WHERE k = ?`
)

// SQLStore keeps every key in one kv_store table. The dialect only
// changes the DDL and the upsert statement.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if dialect != common.DriverMySQL && dialect != common.DriverSQLite {
		return nil, fmt.Errorf("unsupported kv store dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

func (s *SQLStore) Init(ctx context.Context) error {
	ddl := createTableSQLite
	if s.dialect == common.DriverMySQL {
		ddl = createTableMySQL
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create kv_store table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, selectValue, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	ts := s.now().UnixMilli()
	var (
		result sql.Result
		err    error
	)
	if s.dialect == common.DriverMySQL {
		result, err = s.db.ExecContext(ctx, upsertMySQL, key, value, ts, value, ts)
	} else {
		result, err = s.db.ExecContext(ctx, upsertSQLite, key, value, ts)
	}
	// MySQL reports 0 affected rows when an upsert changes nothing.
	common.LogResult("kvstore set "+key, result, err, s.dialect != common.DriverMySQL)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, deleteValue, key)
	common.LogResult("kvstore remove "+key, result, err, false)
	if err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
