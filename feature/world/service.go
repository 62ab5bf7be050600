package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"world-sync/core/database"
	"world-sync/core/keypath"
	"world-sync/core/transport"
	worldcore "world-sync/core/world"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidSession is returned for an empty session name.
	ErrInvalidSession = errors.New("invalid session name")
	// ErrEmptyDelta is returned for a delta that changes nothing.
	ErrEmptyDelta = errors.New("delta is empty")
	// ErrNoDatabase is returned by operations that need persisted sessions.
	ErrNoDatabase = errors.New("database not configured")
)

// Delta is a structured partial update of a session.
type Delta struct {
	// Set is merged into the world, e.g. {"pieces": {"3": {"x": 1}}}.
	Set map[string]any `json:"set"`
	// Remove lists the pieces to delete.
	Remove []int `json:"remove"`
}

// Service reads and writes world sessions on behalf of HTTP clients.
type Service struct {
	sessions transport.Sessions
	repo     *database.Repository
	logger   *zap.Logger
	cache    *stateCache
	newToken func() string
}

// NewService creates a service. repo may be nil when no database is configured.
// States read from the store are reused for cacheTTL.
func NewService(sessions transport.Sessions, repo *database.Repository, logger *zap.Logger, cacheTTL time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessions: sessions,
		repo:     repo,
		logger:   logger,
		cache:    newStateCache(cacheTTL),
		newToken: uuid.NewString,
	}
}

// State returns the flat state of a session. When the store cannot be read, the
// persisted copy is served instead.
func (s *Service) State(ctx context.Context, session string) (keypath.Flat, error) {
	if session == "" {
		return nil, ErrInvalidSession
	}

	return s.cache.get(ctx, session, func(ctx context.Context) (keypath.Flat, error) {
		tr := s.sessions.Open(session)
		defer tr.Close()

		flat, err := tr.State(ctx)
		if err == nil {
			return flat, nil
		}
		if s.repo == nil {
			return nil, err
		}

		s.logger.Warn("Store read failed, serving persisted state",
			zap.String("session", session), zap.Error(err))
		return s.repo.Load(ctx, session)
	})
}

// World returns the unflattened state of a session.
func (s *Service) World(ctx context.Context, session string) (map[string]any, error) {
	flat, err := s.State(ctx, session)
	if err != nil {
		return nil, err
	}
	return keypath.Unflatten(flat), nil
}

// Pieces returns the live pieces of a session keyed by id. Deleted pieces are omitted.
// A stored state that does not classify as a world returns ErrMalformedUpdate.
func (s *Service) Pieces(ctx context.Context, session string) (map[string]any, error) {
	w, err := s.World(ctx, session)
	if err != nil {
		return nil, err
	}

	env := worldcore.Classify(w)
	if env.Kind == worldcore.EnvelopeMalformed {
		return nil, fmt.Errorf("%w: %s", worldcore.ErrMalformedUpdate, env.Reason)
	}

	pieces := map[string]any{}
	for _, entry := range env.Pieces {
		if entry.Record != nil {
			pieces[entry.ID.String()] = entry.Record
		}
	}
	return pieces, nil
}

// ApplyDelta publishes a partial update and returns the flat change-set written.
func (s *Service) ApplyDelta(ctx context.Context, session string, delta Delta) (keypath.Flat, error) {
	if session == "" {
		return nil, ErrInvalidSession
	}

	env := worldcore.Classify(delta.Set)
	if delta.Set != nil {
		switch env.Kind {
		case worldcore.EnvelopeMalformed:
			return nil, fmt.Errorf("%w: %s", worldcore.ErrMalformedUpdate, env.Reason)
		case worldcore.EnvelopeReset:
			return nil, fmt.Errorf("%w: %s is only accepted by reset", worldcore.ErrMalformedUpdate, worldcore.ResetField)
		}
	}

	set := make(map[worldcore.PieceID]bool, len(env.Pieces))
	for _, entry := range env.Pieces {
		set[entry.ID] = true
	}

	flat, err := keypath.Flatten(delta.Set)
	if err != nil {
		return nil, err
	}
	for _, id := range delta.Remove {
		if id < 0 {
			return nil, fmt.Errorf("%w: negative piece id %d", worldcore.ErrMalformedUpdate, id)
		}
		if set[worldcore.PieceID(id)] {
			return nil, fmt.Errorf("%w: piece %d is both set and removed", worldcore.ErrMalformedUpdate, id)
		}
		flat[keypath.Join(worldcore.PiecesField, worldcore.PieceID(id).String())] = keypath.NullSentinel
	}
	if len(flat) == 0 {
		return nil, ErrEmptyDelta
	}

	if err := s.publish(ctx, session, flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// Reset replaces the world of a session with pieces and returns the flat change-set written.
func (s *Service) Reset(ctx context.Context, session string, pieces map[string]any) (keypath.Flat, error) {
	if session == "" {
		return nil, ErrInvalidSession
	}
	if pieces == nil {
		pieces = map[string]any{}
	}

	update := map[string]any{
		worldcore.ResetField:  s.newToken(),
		worldcore.PiecesField: pieces,
	}
	if env := worldcore.Classify(update); env.Kind == worldcore.EnvelopeMalformed {
		return nil, fmt.Errorf("%w: %s", worldcore.ErrMalformedUpdate, env.Reason)
	}

	flat, err := keypath.Flatten(update)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, session, flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// Sessions lists the sessions with persisted state.
func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	if s.repo == nil {
		return nil, ErrNoDatabase
	}
	return s.repo.Sessions(ctx)
}

// Invalidate drops the cached state of a session.
func (s *Service) Invalidate(session string) {
	s.cache.invalidate(session)
}

func (s *Service) publish(ctx context.Context, session string, flat keypath.Flat) error {
	tr := s.sessions.Open(session)
	defer tr.Close()

	if err := tr.Publish(ctx, flat); err != nil {
		return fmt.Errorf("failed to publish to session %s: %w", session, err)
	}
	s.cache.invalidate(session)
	s.logger.Info("Published change-set",
		zap.String("session", session), zap.Int("keys", len(flat)))
	return nil
}
