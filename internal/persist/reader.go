package persist

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mip-automation/silomon/internal/config"
)

// HistoryRow is one persisted reading as served to history queries.
type HistoryRow struct {
	Code      string    `db:"external_code"`
	Quantity  int       `db:"quantity"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HistoryLimit caps rows returned by a single history query.
const HistoryLimit = 1000

// Reader serves history queries on its own connection. It must never share
// the writer's connection: HTTP handlers and the batch writer run on
// different goroutines.
type Reader struct {
	db    *sqlx.DB
	table string
}

// OpenReader connects a dedicated read connection for history queries.
func OpenReader(cfg config.DatabaseConfig) (*Reader, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect history reader: %w", err)
	}
	return &Reader{db: db, table: cfg.TableName}, nil
}

// Recent returns the device's rows from the last hours, newest first.
func (r *Reader) Recent(code string, hours int) ([]HistoryRow, error) {
	query := fmt.Sprintf(
		"SELECT TOP (%d) external_code, quantity, updated_at FROM %s "+
			"WHERE external_code = @p1 AND updated_at >= DATEADD(HOUR, -@p2, GETDATE()) "+
			"ORDER BY updated_at DESC",
		HistoryLimit, r.table,
	)
	var rows []HistoryRow
	if err := r.db.Select(&rows, query, code, hours); err != nil {
		return nil, fmt.Errorf("query history for %s: %w", code, err)
	}
	return rows, nil
}

// RecentAll returns rows for every device from the last hours.
func (r *Reader) RecentAll(hours int) ([]HistoryRow, error) {
	query := fmt.Sprintf(
		"SELECT TOP (%d) external_code, quantity, updated_at FROM %s "+
			"WHERE updated_at >= DATEADD(HOUR, -@p1, GETDATE()) "+
			"ORDER BY updated_at DESC, external_code",
		HistoryLimit, r.table,
	)
	var rows []HistoryRow
	if err := r.db.Select(&rows, query, hours); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return rows, nil
}

// Close releases the read connection.
func (r *Reader) Close() error {
	return r.db.Close()
}
