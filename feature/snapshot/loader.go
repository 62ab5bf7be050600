package snapshot

import (
	"world-sync/core/storage"
	"world-sync/core/transport"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	service *Service
	handler *Handler
	enabled bool
}

// NewFeature creates the snapshot feature. Without a storage client it is disabled.
func NewFeature(client storage.Client, bucket string, sessions transport.Sessions, logger *zap.Logger) *Feature {
	svc := NewService(client, bucket, sessions, logger)
	return &Feature{service: svc, handler: NewHandler(svc), enabled: client != nil}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "snapshot"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return f.enabled
}

// Service returns the feature's service.
func (f *Feature) Service() *Service {
	return f.service
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}
