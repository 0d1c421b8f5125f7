package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSON is free-form client metadata on tracks and stems, stored in the
// column type each dialect supports
type JSON struct {
	datatypes.JSON
}

// ErrInvalidMeta is returned by MetaJSON for malformed input
var ErrInvalidMeta = errors.New("metadata is not valid JSON")

// MetaJSON wraps raw client metadata. Empty input and null stay NULL.
func MetaJSON(raw []byte) (JSON, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return JSON{}, nil
	}
	if !json.Valid(raw) {
		return JSON{}, ErrInvalidMeta
	}
	return JSON{JSON: datatypes.JSON(raw)}, nil
}

// Value promotes the embedded JSON's Value method
func (j JSON) Value() (driver.Value, error) {
	return j.JSON.Value()
}

// Scan promotes the embedded JSON's Scan method
func (j *JSON) Scan(value interface{}) error {
	return j.JSON.Scan(value)
}

// GormDBDataType picks the column type per dialect; sqlserver has no json type.
func (JSON) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	case "sqlserver", "mssql":
		return "NVARCHAR(MAX)"
	case "sqlite":
		return "JSON"
	}
	return "TEXT"
}
