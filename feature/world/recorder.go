package world

import (
	"context"
	"errors"

	"world-sync/core/database"
	"world-sync/core/transport"

	"go.uber.org/zap"
)

// Recorder persists session changes to the database.
type Recorder struct {
	repo   *database.Repository
	logger *zap.Logger
}

// NewRecorder creates a recorder writing through repo.
func NewRecorder(repo *database.Repository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record persists one notification.
func (r *Recorder) Record(ctx context.Context, n transport.Notification) error {
	if n.Session == "" {
		return ErrInvalidSession
	}
	return r.repo.Apply(ctx, n.Session, n.StateChange)
}

// Observe records n and logs a failed write, so one bad change does not stop the
// caller from recording the next.
func (r *Recorder) Observe(ctx context.Context, n transport.Notification) {
	if err := r.Record(ctx, n); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("Failed to record change",
			zap.String("session", n.Session),
			zap.String("origin", n.Origin),
			zap.Error(err),
		)
	}
}
