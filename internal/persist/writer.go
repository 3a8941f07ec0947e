package persist

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/sirupsen/logrus"

	"github.com/mip-automation/silomon/internal/config"
	"github.com/mip-automation/silomon/internal/metrics"
	"github.com/mip-automation/silomon/internal/store"
)

// QueueCapacity bounds the persistence queue; enqueue drops on overflow.
const QueueCapacity = 1000

// DrainTimeout caps how long shutdown waits for queued records.
const DrainTimeout = 5 * time.Second

// Writer owns the database connection and drains the record queue in
// batches. No other component may issue statements on its connection;
// HTTP history reads go through a separate Reader.
type Writer struct {
	cfg   config.DatabaseConfig
	dsn   string
	tz    *time.Location
	log   *logrus.Entry
	queue chan Record
	db    *sqlx.DB

	// dequeueWait is the bounded wait per queue poll; shortened in tests.
	dequeueWait time.Duration
	// flush writes one batch; swapped out by scheduler-level tests.
	flush func(batch []Record) error
}

// NewWriter builds a writer from the database config. Credentials are read
// from the configured environment variables; missing credentials fail here
// so startup can abort.
func NewWriter(cfg config.DatabaseConfig, tz *time.Location, log *logrus.Entry) (*Writer, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		cfg:         cfg,
		dsn:         dsn,
		tz:          tz,
		log:         log,
		queue:       make(chan Record, QueueCapacity),
		dequeueWait: time.Second,
	}
	w.flush = w.flushBatch
	return w, nil
}

func buildDSN(cfg config.DatabaseConfig) (string, error) {
	username := os.Getenv(cfg.UsernameEnv)
	if username == "" {
		return "", fmt.Errorf("database username not found in environment variable %s", cfg.UsernameEnv)
	}
	password := os.Getenv(cfg.PasswordEnv)
	if password == "" {
		return "", fmt.Errorf("database password not found in environment variable %s", cfg.PasswordEnv)
	}

	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(username, password),
	}
	if cfg.Instance != "" {
		u.Host = cfg.Host
		u.Path = cfg.Instance
	} else {
		u.Host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("encrypt", "optional")
	q.Set("TrustServerCertificate", "true")
	q.Set("connection timeout", "10")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open connects and verifies the target table exists. The writer never
// issues DDL: a missing table is a fatal startup error.
func (w *Writer) Open() error {
	db, err := sqlx.Connect("sqlserver", w.dsn)
	if err != nil {
		return fmt.Errorf("connect to SQL Server: %w", err)
	}

	var one int
	err = db.Get(&one, "SELECT 1 FROM sysobjects WHERE name = @p1 AND xtype = 'U'", w.cfg.TableName)
	if err == sql.ErrNoRows {
		db.Close()
		return fmt.Errorf("table %s not found; create it manually before starting", w.cfg.TableName)
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("verify table %s: %w", w.cfg.TableName, err)
	}

	w.db = db
	w.log.Infof("connected to SQL Server %s/%s, table %s verified", w.cfg.Host, w.cfg.Database, w.cfg.TableName)
	return nil
}

// Enqueue adds a record without blocking. On overflow the record is dropped
// with a single warning.
func (w *Writer) Enqueue(rec Record) {
	select {
	case w.queue <- rec:
	default:
		metrics.QueueDropped.Inc()
		w.log.Warn("queue full, record lost")
	}
}

// QueueDepth reports how many records are waiting.
func (w *Writer) QueueDepth() int { return len(w.queue) }

// Run drains the queue until ctx is cancelled: records accumulate until the
// batch size is reached or the write interval has elapsed since the first
// record of the batch. On shutdown the queue is drained for up to
// DrainTimeout, a final flush runs, and the connection closes.
func (w *Writer) Run(ctx context.Context) error {
	var batch []Record
	var first time.Time

	for {
		select {
		case <-ctx.Done():
			batch = append(batch, w.drain()...)
			if len(batch) > 0 {
				if err := w.flush(batch); err != nil {
					w.log.WithError(err).Error("final batch flush failed")
				}
			}
			if w.db != nil {
				w.db.Close()
			}
			w.log.Info("persistence writer stopped")
			return nil

		case rec := <-w.queue:
			if len(batch) == 0 {
				first = time.Now()
			}
			batch = append(batch, rec)

		case <-time.After(w.dequeueWait):
		}

		if len(batch) == 0 {
			continue
		}
		if len(batch) >= w.cfg.BatchSize || time.Since(first) >= w.cfg.WriteInterval() {
			if err := w.flush(batch); err != nil {
				w.log.WithError(err).Errorf("batch write failed, %d records lost", len(batch))
			}
			batch = nil
		}
	}
}

// drain collects stragglers until the queue has stayed empty for one
// dequeue wait, bounded by DrainTimeout overall. Records enqueued by a
// read that finishes during shutdown are still picked up here.
func (w *Writer) drain() []Record {
	var out []Record
	deadline := time.NewTimer(DrainTimeout)
	defer deadline.Stop()
	for {
		select {
		case rec := <-w.queue:
			out = append(out, rec)
		case <-deadline.C:
			return out
		case <-time.After(w.dequeueWait):
			if len(w.queue) == 0 {
				return out
			}
		}
	}
}

// flushBatch writes one batch inside a single transaction. Any failure
// rolls back and drops the batch; the writer stays live and reconnects on
// the next flush.
func (w *Writer) flushBatch(batch []Record) error {
	if err := w.ensureConnection(); err != nil {
		metrics.BatchFlushes.WithLabelValues("error").Inc()
		return err
	}

	tx, err := w.db.Beginx()
	if err != nil {
		metrics.BatchFlushes.WithLabelValues("error").Inc()
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (external_code, quantity, updated_at) VALUES (@p1, @p2, @p3)",
		w.cfg.TableName,
	)
	for _, rec := range batch {
		if _, err := tx.Exec(stmt, rec.Code, rec.Quantity, rec.At.In(w.tz).Format(store.TimeFormat)); err != nil {
			tx.Rollback()
			metrics.BatchFlushes.WithLabelValues("error").Inc()
			return fmt.Errorf("insert %s: %w", rec.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		metrics.BatchFlushes.WithLabelValues("error").Inc()
		return fmt.Errorf("commit batch: %w", err)
	}

	metrics.BatchFlushes.WithLabelValues("ok").Inc()
	w.log.Infof("inserted %d records", len(batch))
	return nil
}

func (w *Writer) ensureConnection() error {
	if w.db != nil {
		if err := w.db.Ping(); err == nil {
			return nil
		}
		w.log.Warn("database connection lost, reconnecting")
		w.db.Close()
		w.db = nil
	}
	db, err := sqlx.Connect("sqlserver", w.dsn)
	if err != nil {
		return fmt.Errorf("reconnect to SQL Server: %w", err)
	}
	w.db = db
	return nil
}
