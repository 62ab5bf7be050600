package database

import (
	"context"
	"fmt"

	"world-sync/core/keypath"
	"world-sync/core/transport"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the flat state of sessions.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository over db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Load returns the persisted flat state of a session. An unknown session is empty.
func (r *Repository) Load(ctx context.Context, session string) (keypath.Flat, error) {
	var rows []WorldKey
	if err := r.db.WithContext(ctx).Where("session = ?", session).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", session, err)
	}

	flat := make(keypath.Flat, len(rows))
	for _, row := range rows {
		flat[row.Key] = row.Value
	}
	return flat, nil
}

// Apply stores one state change: removed keys are deleted and added keys upserted
// in a single transaction.
func (r *Repository) Apply(ctx context.Context, session string, change transport.StateChange) error {
	if change.Empty() {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(change.Removed) > 0 {
			err := tx.Where("session = ? AND flat_key IN ?", session, change.Removed).Delete(&WorldKey{}).Error
			if err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
		}
		return upsert(tx, session, change.AddedFlat())
	})
}

// Reset replaces the whole state of a session with flat.
func (r *Repository) Reset(ctx context.Context, session string, flat keypath.Flat) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session = ?", session).Delete(&WorldKey{}).Error; err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		return upsert(tx, session, flat)
	})
}

// Sessions lists the sessions with persisted state.
func (r *Repository) Sessions(ctx context.Context) ([]string, error) {
	var sessions []string
	err := r.db.WithContext(ctx).Model(&WorldKey{}).Distinct().Order("session").Pluck("session", &sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func upsert(tx *gorm.DB, session string, flat keypath.Flat) error {
	if len(flat) == 0 {
		return nil
	}

	rows := make([]WorldKey, 0, len(flat))
	for _, k := range flat.Keys() {
		rows = append(rows, WorldKey{Session: session, Key: k, Value: flat[k]})
	}

	err := tx.Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to write keys: %w", err)
	}
	return nil
}
