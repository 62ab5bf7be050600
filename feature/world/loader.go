package world

import (
	"context"
	"time"

	"world-sync/core/database"
	"world-sync/core/transport"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service  *Service
	handler  *Handler
	recorder *Recorder
	watcher  transport.Watcher
	logger   *zap.Logger
}

// NewFeature creates the world feature. repo may be nil, which disables recording
// and the session list.
func NewFeature(sessions transport.Sessions, watcher transport.Watcher, repo *database.Repository, logger *zap.Logger, cacheTTL time.Duration) *Feature {
	svc := NewService(sessions, repo, logger, cacheTTL)
	f := &Feature{
		service: svc,
		handler: NewHandler(svc),
		watcher: watcher,
		logger:  svc.logger,
	}
	if repo != nil {
		f.recorder = NewRecorder(repo, svc.logger)
	}
	return f
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "world"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return true
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}

// Service returns the feature's service.
func (f *Feature) Service() *Service {
	return f.service
}

// Run follows every session until ctx is done: cached states are dropped on change
// and, with a database, changes are recorded.
func (f *Feature) Run(ctx context.Context) error {
	if f.watcher == nil {
		<-ctx.Done()
		return nil
	}

	f.logger.Info("Following session changes", zap.Bool("recording", f.recorder != nil))
	return f.watcher.Run(ctx, func(n transport.Notification) {
		f.service.Invalidate(n.Session)
		if f.recorder != nil {
			f.recorder.Observe(ctx, n)
		}
	})
}
