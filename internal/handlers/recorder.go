package handlers

import (
	"context"

	"github.com/qrshield/qrshield-go/internal/db"
	"github.com/qrshield/qrshield-go/internal/sse"
)

// Recorder persists a scan and makes it visible on the live feeds.
// *db.DB is a Recorder: its insert trigger notifies sse.PGListener.
type Recorder interface {
	RecordScan(ctx context.Context, s *db.Scan) error
}

// LocalRecorder publishes scans in-process when there is no database.
type LocalRecorder struct {
	publisher sse.ScanPublisher
}

// NewLocalRecorder creates a recorder that only publishes.
func NewLocalRecorder(p sse.ScanPublisher) *LocalRecorder {
	return &LocalRecorder{publisher: p}
}

// RecordScan implements Recorder.
func (l *LocalRecorder) RecordScan(_ context.Context, s *db.Scan) error {
	l.publisher.PublishScan(s)
	return nil
}
