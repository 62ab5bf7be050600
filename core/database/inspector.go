package database

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// ColumnInfo matches the output of SHOW COLUMNS.
type ColumnInfo struct {
	Field   string
	Type    string
	Null    string
	Key     string
	Default *string // NULL default is possible
	Extra   string
}

// GetTableColumns retrieves the column definitions for a given table.
func GetTableColumns(db *gorm.DB, tableName string) ([]ColumnInfo, error) {
	var columns []ColumnInfo
	err := db.Raw(fmt.Sprintf("SHOW COLUMNS FROM `%s`", tableName)).Scan(&columns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", tableName, err)
	}
	for i := range columns {
		columns[i].Type = strings.ToLower(columns[i].Type)
		columns[i].Field = strings.ToLower(columns[i].Field)
	}
	return columns, nil
}

// VerifySchema checks that the world_keys table has every column the repository uses.
func VerifySchema(db *gorm.DB) error {
	table := WorldKey{}.TableName()
	columns, err := GetTableColumns(db, table)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c.Field] = true
	}

	var missing []string
	for _, want := range []string{"session", "flat_key", "value", "updated_at"} {
		if !present[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("table %s is missing columns: %s", table, strings.Join(missing, ", "))
	}
	return nil
}
