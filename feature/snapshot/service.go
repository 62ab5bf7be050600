package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"world-sync/core/keypath"
	"world-sync/core/storage"
	"world-sync/core/transport"
	worldcore "world-sync/core/world"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// Prefix is the object prefix of every snapshot.
const Prefix = "snapshots/"

var (
	// ErrNotFound is returned when a session has no snapshot.
	ErrNotFound = errors.New("snapshot not found")
	// ErrInvalidObject is returned for an object name outside the session's snapshots.
	ErrInvalidObject = errors.New("invalid snapshot object")
)

// Document is the stored form of a snapshot.
type Document struct {
	Session   string       `json:"session"`
	CreatedAt time.Time    `json:"created_at"`
	State     keypath.Flat `json:"state"`
}

// Service exports and imports session snapshots.
type Service struct {
	client   storage.Client
	bucket   string
	sessions transport.Sessions
	logger   *zap.Logger
	now      func() time.Time
	newToken func() string
	// retain is the number of snapshots kept per session, 0 keeps all.
	retain int
}

// NewService creates a snapshot service.
func NewService(client storage.Client, bucket string, sessions transport.Sessions, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:   client,
		bucket:   bucket,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// SetRetention bounds the snapshots kept per session after each export. Zero or
// less keeps every snapshot.
func (s *Service) SetRetention(keep int) {
	if keep < 0 {
		keep = 0
	}
	s.retain = keep
}

// ObjectName returns the object name of a snapshot taken at t.
func ObjectName(session string, t time.Time) string {
	return fmt.Sprintf("%s%s/%d.json", Prefix, session, t.Unix())
}

func sessionPrefix(session string) string {
	return Prefix + session + "/"
}

// Export stores the current state of a session and returns the object name.
func (s *Service) Export(ctx context.Context, session string) (string, error) {
	tr := s.sessions.Open(session)
	defer tr.Close()

	state, err := tr.State(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read session %s: %w", session, err)
	}

	doc := Document{Session: session, CreatedAt: s.now().UTC(), State: state}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	object := ObjectName(session, doc.CreatedAt)
	_, err = s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	s.logger.Info("Exported snapshot",
		zap.String("session", session),
		zap.String("object", object),
		zap.Int("keys", len(state)),
	)

	if s.retain > 0 {
		// A failed cleanup does not fail the export.
		if _, err := s.Prune(ctx, session, s.retain); err != nil {
			s.logger.Warn("Snapshot cleanup failed", zap.String("session", session), zap.Error(err))
		}
	}
	return object, nil
}

// snapshotEntry is a stored snapshot of a session.
type snapshotEntry struct {
	object string
	ts     int64
}

// list returns the snapshots of a session, newest first.
func (s *Service) list(ctx context.Context, session string) ([]snapshotEntry, error) {
	var entries []snapshotEntry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    sessionPrefix(session),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		if !ownedBy(session, obj.Key) {
			continue
		}
		ts, _ := timestampOf(obj.Key)
		entries = append(entries, snapshotEntry{object: obj.Key, ts: ts})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts > entries[j].ts
		}
		return entries[i].object > entries[j].object
	})
	return entries, nil
}

// Latest returns the newest snapshot object of a session.
func (s *Service) Latest(ctx context.Context, session string) (string, error) {
	entries, err := s.list(ctx, session)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: session %s", ErrNotFound, session)
	}
	return entries[0].object, nil
}

// Prune deletes all but the keep newest snapshots of a session and returns how many
// were removed.
func (s *Service) Prune(ctx context.Context, session string, keep int) (int, error) {
	entries, err := s.list(ctx, session)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(entries) <= keep {
		return 0, nil
	}

	removed := 0
	for _, e := range entries[keep:] {
		if err := s.client.RemoveObject(ctx, s.bucket, e.object, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("failed to remove snapshot %s: %w", e.object, err)
		}
		removed++
	}

	s.logger.Info("Pruned snapshots",
		zap.String("session", session),
		zap.Int("removed", removed),
		zap.Int("kept", keep),
	)
	return removed, nil
}

// Load reads a snapshot document.
func (s *Service) Load(ctx context.Context, object string) (*Document, error) {
	reader, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", object, err)
	}
	defer reader.Close()

	var doc Document
	if err := json.NewDecoder(reader).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", object, err)
	}
	return &doc, nil
}

// Import publishes a snapshot as a reset of session and returns the restored object.
// An empty object name restores the latest snapshot of the session.
func (s *Service) Import(ctx context.Context, session, object string) (string, keypath.Flat, error) {
	if object == "" {
		latest, err := s.Latest(ctx, session)
		if err != nil {
			return "", nil, err
		}
		object = latest
	}
	if !ownedBy(session, object) {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidObject, object)
	}

	doc, err := s.Load(ctx, object)
	if err != nil {
		return "", nil, err
	}

	flat := make(keypath.Flat, len(doc.State)+1)
	for k, v := range doc.State {
		flat[k] = v
	}
	flat[worldcore.ResetField] = s.newToken()

	tr := s.sessions.Open(session)
	defer tr.Close()
	if err := tr.Publish(ctx, flat); err != nil {
		return "", nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	s.logger.Info("Restored snapshot",
		zap.String("session", session),
		zap.String("object", object),
		zap.Int("keys", len(flat)),
	)
	return object, flat, nil
}

// ownedBy reports whether object is a snapshot stored directly under session.
func ownedBy(session, object string) bool {
	rest, ok := strings.CutPrefix(object, sessionPrefix(session))
	if !ok || strings.Contains(rest, "/") {
		return false
	}
	_, ok = timestampOf(object)
	return ok
}

// timestampOf parses the unix time of a snapshot object name.
func timestampOf(object string) (int64, bool) {
	base := path.Base(object)
	if !strings.HasSuffix(base, ".json") {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSuffix(base, ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
