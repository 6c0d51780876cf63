// Package ledger is the append-only ExecutionAttempt log: a bounded
// in-memory ring buffer backing health queries, plus an asynchronous
// GORM/MySQL writer for durable storage. Record never blocks the caller
// on a database round trip, matching the execution coordinator's
// requirement that recording an outcome can't stall the next attempt.
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/blackholelabs/liqd/internal/types"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultWriteQueueCapacity = 1024

// Ledger is the engine-wide attempt recorder. One Ledger instance is
// shared across chains; CandidateDigest/ChainID distinguish rows.
type Ledger struct {
	ring      *ring
	db        *gorm.DB
	writeCh   chan types.ExecutionAttempt
	log       zerolog.Logger
	dropCount atomic.Uint64
}

// NewLedger opens (and auto-migrates) a MySQL-backed ledger. db may be
// nil for tests or a dry-run mode that only exercises the ring buffer.
func NewLedger(db *gorm.DB, ringCapacity int, log zerolog.Logger) *Ledger {
	l := &Ledger{
		ring:    newRing(ringCapacity),
		db:      db,
		writeCh: make(chan types.ExecutionAttempt, defaultWriteQueueCapacity),
		log:     log.With().Str("component", "ledger").Logger(),
	}
	return l
}

// NewMySQLLedger dials MySQL via dsn and auto-migrates the attempt table.
func NewMySQLLedger(dsn string, ringCapacity int, log zerolog.Logger) (*Ledger, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	if err := db.AutoMigrate(&attemptRecord{}); err != nil {
		return nil, fmt.Errorf("migrate execution_attempts: %w", err)
	}
	return NewLedger(db, ringCapacity, log), nil
}

// Record appends attempt to the in-memory ring immediately and enqueues
// it for asynchronous persistence. If the write queue is saturated
// (the database is falling behind), the record is still kept in the
// ring but dropped from durable storage and counted, never blocking.
func (l *Ledger) Record(ctx context.Context, attempt types.ExecutionAttempt) {
	l.ring.Push(attempt)

	if l.db == nil {
		return
	}

	select {
	case l.writeCh <- attempt:
	default:
		l.dropCount.Add(1)
		l.log.Warn().Str("attempt_id", attempt.ID).Msg("write queue full, attempt not durably persisted")
	}
}

// Run drains the write queue into MySQL until ctx is cancelled, then
// flushes whatever remains queued before returning.
func (l *Ledger) Run(ctx context.Context) {
	if l.db == nil {
		return
	}
	for {
		select {
		case attempt, ok := <-l.writeCh:
			if !ok {
				return
			}
			l.persist(attempt)
		case <-ctx.Done():
			l.drain()
			return
		}
	}
}

func (l *Ledger) drain() {
	for {
		select {
		case attempt, ok := <-l.writeCh:
			if !ok {
				return
			}
			l.persist(attempt)
		default:
			return
		}
	}
}

func (l *Ledger) persist(attempt types.ExecutionAttempt) {
	record := toRecord(attempt)
	if err := l.db.Create(&record).Error; err != nil {
		l.log.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to persist execution attempt")
	}
}

// OverflowCount reports how many ring-buffer entries have been evicted
// to make room for newer ones, for health reporting.
func (l *Ledger) OverflowCount() uint64 {
	return l.ring.Overflowed()
}

// DroppedWrites reports how many attempts were never enqueued for
// durable persistence because the write queue was saturated.
func (l *Ledger) DroppedWrites() uint64 {
	return l.dropCount.Load()
}

// Since returns every ring-buffered attempt observed at or after cutoff.
func (l *Ledger) Since(cutoff time.Time) []types.ExecutionAttempt {
	return l.ring.Since(cutoff)
}

// QueryRange reads attempts persisted between start and end (inclusive)
// directly from durable storage, for operator lookback beyond the ring
// buffer's recent-activity window. Returns an empty slice, not an error,
// when the ledger has no database attached.
func (l *Ledger) QueryRange(ctx context.Context, start, end time.Time) ([]types.ExecutionAttempt, error) {
	if l.db == nil {
		return nil, nil
	}
	var records []attemptRecord
	err := l.db.WithContext(ctx).
		Where("created_at BETWEEN ? AND ?", start, end).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query execution_attempts by time range: %w", err)
	}
	attempts := make([]types.ExecutionAttempt, len(records))
	for i, record := range records {
		attempts[i] = fromRecord(record)
	}
	return attempts, nil
}

// CountSince reports how many attempts have been durably persisted at or
// after cutoff, for dashboards that want a cheap count without paging
// through full rows.
func (l *Ledger) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	if l.db == nil {
		return 0, nil
	}
	var count int64
	err := l.db.WithContext(ctx).Model(&attemptRecord{}).
		Where("created_at >= ?", cutoff).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count execution_attempts: %w", err)
	}
	return count, nil
}
