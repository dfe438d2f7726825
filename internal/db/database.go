package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrshield/qrshield-go/internal/classify"
)

// ErrNotFound is returned when a queried entity does not exist.
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a pgx connection pool and stores the scan history.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect creates a new DB instance, connects to PostgreSQL, and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := &DB{Pool: pool, logger: logger}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Migrate reads and executes the embedded SQL migration files.
func (db *DB) Migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	db.logger.Info("database migrated")

	if err := db.EnsureCurrentAndNextPartitions(ctx); err != nil {
		return fmt.Errorf("ensure partitions: %w", err)
	}

	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// PingContext checks the database connection.
func (db *DB) PingContext(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Scans
// ---------------------------------------------------------------------------

// RecordScan inserts a scan. The insert trigger publishes it on the
// scan_stream channel.
func (db *DB) RecordScan(ctx context.Context, s *Scan) error {
	var sourceIP *string
	if ip := net.ParseIP(s.SourceIP); ip != nil {
		v := ip.String()
		sourceIP = &v
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO scans (id, created_at, url, status, confidence, probability, color, classifier, source, source_ip, response_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::inet, $11)`,
		s.ID, s.CreatedAt, s.URL, s.Status, s.Confidence, s.Probability, s.Color, s.Classifier, s.Source, sourceIP, s.ResponseTimeMs)
	return err
}

// GetScan retrieves a scan by ID.
func (db *DB) GetScan(ctx context.Context, id string) (*Scan, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, created_at, url, status, confidence, probability, color, classifier, source, host(source_ip), response_time_ms
		 FROM scans WHERE id = $1 LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	scans, err := collectScans(rows)
	if err != nil {
		return nil, err
	}
	if len(scans) == 0 {
		return nil, ErrNotFound
	}
	return &scans[0], nil
}

// RecentScans retrieves the most recent scans, newest first.
func (db *DB) RecentScans(ctx context.Context, limit int) ([]Scan, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, created_at, url, status, confidence, probability, color, classifier, source, host(source_ip), response_time_ms
		 FROM scans ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collectScans(rows)
}

// GetStats returns aggregate counts over the whole history.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.Pool.QueryRow(ctx,
		`SELECT
		    COUNT(*),
		    COUNT(*) FILTER (WHERE status = $1),
		    COUNT(*) FILTER (WHERE status = $2),
		    COUNT(*) FILTER (WHERE classifier = $3),
		    COALESCE(AVG(response_time_ms), 0)
		 FROM scans`,
		string(classify.StatusMalicious), string(classify.StatusSafe), classify.ClassifierWhitelist,
	).Scan(&s.TotalScans, &s.MaliciousScans, &s.SafeScans, &s.WhitelistedScans, &s.AvgResponseMs)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectScans(rows pgx.Rows) ([]Scan, error) {
	defer rows.Close()
	var scans []Scan
	for rows.Next() {
		var s Scan
		var sourceIP *string
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.URL, &s.Status, &s.Confidence, &s.Probability,
			&s.Color, &s.Classifier, &s.Source, &sourceIP, &s.ResponseTimeMs); err != nil {
			return nil, err
		}
		if sourceIP != nil {
			s.SourceIP = *sourceIP
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scans, nil
}

// ---------------------------------------------------------------------------
// Partitions
// ---------------------------------------------------------------------------

// EnsurePartition creates a monthly partition for the scans table if it
// does not already exist.
func (db *DB) EnsurePartition(ctx context.Context, t time.Time) error {
	year, month, _ := t.Date()
	name := fmt.Sprintf("scans_%d_%02d", year, month)
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	quotedName := pgx.Identifier{name}.Sanitize()
	sql := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF scans FOR VALUES FROM ('%s') TO ('%s')`,
		quotedName, start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	_, err := db.Pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	db.logger.Info("partition ensured", "table", name)
	return nil
}

// EnsureCurrentAndNextPartitions creates partitions for the current and next month.
func (db *DB) EnsureCurrentAndNextPartitions(ctx context.Context) error {
	now := time.Now().UTC()
	if err := db.EnsurePartition(ctx, now); err != nil {
		return err
	}
	return db.EnsurePartition(ctx, now.AddDate(0, 1, 0))
}

// PartitionLoop keeps next month's partition in place. Run it under
// server.RunWithRecovery.
func (db *DB) PartitionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.EnsureCurrentAndNextPartitions(ctx); err != nil {
				db.logger.Error("partition maintenance failed", "err", err)
			}
		}
	}
}
