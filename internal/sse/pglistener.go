package sse

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrshield/qrshield-go/internal/db"
)

// ScanChannel is the PostgreSQL NOTIFY channel fed by the scans insert trigger.
// The payload carries only the scan id, keeping it far below the 8000 byte
// NOTIFY limit regardless of URL length.
const ScanChannel = "scan_stream"

// ScanFetcher loads a notified scan row.
type ScanFetcher interface {
	GetScan(ctx context.Context, id string) (*db.Scan, error)
}

// PGListener subscribes to the scan notification channel and fans
// notifications out to live feeds, so every replica sees every scan.
type PGListener struct {
	pool   *pgxpool.Pool
	store  ScanFetcher
	sink   ScanPublisher
	logger *slog.Logger
}

// NewPGListener creates a new PGListener that bridges PostgreSQL notifications to sink.
func NewPGListener(pool *pgxpool.Pool, store ScanFetcher, sink ScanPublisher, logger *slog.Logger) *PGListener {
	return &PGListener{pool: pool, store: store, sink: sink, logger: logger}
}

// Listen blocks until ctx is cancelled or an error occurs.
// It should be run inside RunWithRecovery so it auto-restarts on failure.
func (pl *PGListener) Listen(ctx context.Context) {
	conn, err := pl.pool.Acquire(ctx)
	if err != nil {
		pl.logger.Error("pg-listen: acquire connection failed", "err", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ScanChannel); err != nil {
		pl.logger.Error("pg-listen: LISTEN failed", "channel", ScanChannel, "err", err)
		return
	}
	pl.logger.Info("pg-listen: subscribed to notification channel", "channel", ScanChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // graceful shutdown
			}
			pl.logger.Error("pg-listen: notification error", "err", err)
			return // RunWithRecovery will reconnect
		}

		pl.handle(ctx, notification.Payload)
	}
}

type scanNotice struct {
	ID string `json:"id"`
}

var errEmptyNotice = errors.New("notification without scan id")

func decodeNotice(payload string) (string, error) {
	var n scanNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return "", err
	}
	if n.ID == "" {
		return "", errEmptyNotice
	}
	return n.ID, nil
}

// handle loads the notified scan and publishes it.
func (pl *PGListener) handle(ctx context.Context, payload string) {
	id, err := decodeNotice(payload)
	if err != nil {
		pl.logger.Warn("pg-listen: unmarshal payload failed", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	scan, err := pl.store.GetScan(ctx, id)
	if err != nil {
		pl.logger.Warn("pg-listen: load scan failed", "id", id, "err", err)
		return
	}
	pl.sink.PublishScan(scan)
}
