// internal/audit/audit.go
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/metrics"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

// Sink accepts audit entries. Append must never block the caller.
type Sink interface {
	Append(e model.AuditEntry)
}

// Writer persists audit entries from a buffered channel on its own goroutine.
// When the buffer is full the entry is dropped and a warning is logged.
type Writer struct {
	repo    repository.AuditRepositoryInterface
	logger  *zap.Logger
	entries chan model.AuditEntry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewWriter(repo repository.AuditRepositoryInterface, buffer int, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 1
	}
	w := &Writer{
		repo:    repo,
		logger:  logger,
		entries: make(chan model.AuditEntry, buffer),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) Append(e model.AuditEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn("audit entry after close", zap.String("action", e.ActionType))
		return
	}

	select {
	case w.entries <- e:
	default:
		metrics.AuditDropped.Inc()
		w.logger.Warn("audit buffer full, dropping entry",
			zap.String("action", e.ActionType),
			zap.String("description", e.Description),
		)
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.repo.Insert(ctx, &e); err != nil {
			w.logger.Warn("failed to write audit entry",
				zap.String("action", e.ActionType),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the buffer to drain.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Sink = (*Writer)(nil)
