package audit

import (
	"context"
	"sync"
	"time"

	"github.com/zeitwerk/platform/internal/shared/metrics"
	"github.com/zeitwerk/platform/internal/shared/types"
	"go.uber.org/zap"
)

const (
	queueSize     = 1024
	appendTimeout = 5 * time.Second
)

// Logger fans audit entries out to the configured recorders from a
// background worker. Record never blocks the caller; when the queue is
// full the entry is dropped and counted in the process log instead.
type Logger struct {
	recorders []Recorder
	logger    *zap.Logger

	queue chan *Entry
	done  chan struct{}
	once  sync.Once
}

// NewLogger creates and starts an async audit logger.
func NewLogger(logger *zap.Logger, recorders ...Recorder) *Logger {
	l := &Logger{
		recorders: recorders,
		logger:    logger,
		queue:     make(chan *Entry, queueSize),
		done:      make(chan struct{}),
	}
	go l.run()
	return l
}

// Record queues an audit entry for persistence. Missing ID/timestamp
// fields are filled in here.
func (l *Logger) Record(entry Entry) {
	if entry.ID.IsZero() {
		entry.ID = types.NewID()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	select {
	case l.queue <- &entry:
	default:
		l.logger.Warn("audit queue full, dropping entry",
			zap.String("event_type", entry.EventType),
			zap.String("user_id", entry.UserID.String()))
	}
}

func (l *Logger) run() {
	for entry := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		for _, r := range l.recorders {
			if err := r.Append(ctx, entry); err != nil {
				l.logger.Error("audit append failed",
					zap.String("event_type", entry.EventType),
					zap.Error(err))
			}
		}
		cancel()
		metrics.RecordAuditEntry()
	}
	close(l.done)
}

// Close drains the queue and stops the worker.
func (l *Logger) Close() {
	l.once.Do(func() {
		close(l.queue)
	})
	<-l.done
}
