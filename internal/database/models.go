package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Target is a monitored endpoint. Targets are reference data created and
// edited out of band; the watcher only reads them.
type Target struct {
	Key     string `gorm:"primaryKey;size:64" json:"key"`
	Name    string `gorm:"size:255;not null" json:"name"`
	URL     string `gorm:"type:text;not null" json:"url"`
	Headers JSONB  `gorm:"type:jsonb" json:"headers,omitempty"`
}

// HeaderMap returns the target's request headers as a string map.
func (t *Target) HeaderMap() map[string]string {
	if len(t.Headers) == 0 {
		return nil
	}
	headers := make(map[string]string, len(t.Headers))
	for k, v := range t.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

// Log is one probe result for one target, appended every watch cycle.
type Log struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	TargetKey     string    `gorm:"size:64;not null;index" json:"target_key"`
	CreatedAt     time.Time `json:"created_at"`
	ResponseTime  *int64    `json:"response_time"`
	StatusCode    *int      `json:"status_code"`
	StatusMessage *string   `json:"status_message"`
	ErrorName     *string   `json:"error_name"`
	ErrorCode     *string   `json:"error_code"`
}

// Incident is one row per group: the currently-open or most-recently-closed
// outage for that group. At most one open incident (is_closed IS NULL) exists
// per group at any time.
type Incident struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Keyword   string    `gorm:"size:64;not null;index" json:"keyword"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Count is the number of consecutive error cycles since the incident
	// opened. It starts at 1 on creation.
	Count    int   `gorm:"not null;default:1" json:"count"`
	IsClosed *bool `gorm:"index" json:"is_closed"`
	// External notification references, retained after close for audit.
	GooglechatName string `gorm:"size:255" json:"googlechat_name"`
	InstatusID     string `gorm:"size:255" json:"instatus_id"`
}

// IsOpen reports whether the incident is still open.
func (i *Incident) IsOpen() bool {
	return i.IsClosed == nil || !*i.IsClosed
}

// TableName overrides for explicit table naming
func (Target) TableName() string {
	return "targets"
}

func (Log) TableName() string {
	return "logs"
}

func (Incident) TableName() string {
	return "incidents"
}
