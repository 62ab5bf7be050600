package database

import "time"

// WorldKey is one flat key of a persisted session.
type WorldKey struct {
	Session   string    `gorm:"column:session;primaryKey;size:128"`
	Key       string    `gorm:"column:flat_key;primaryKey;size:512"`
	Value     string    `gorm:"column:value;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the table name for GORM.
func (WorldKey) TableName() string {
	return "world_keys"
}
