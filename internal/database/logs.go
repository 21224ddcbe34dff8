package database

import (
	"time"

	"gorm.io/gorm"
)

// ListTargets returns every monitored target, ordered by key. The watcher
// reads the full list at the start of each cycle.
func ListTargets(db *gorm.DB) ([]Target, error) {
	var targets []Target
	if err := db.Order("key ASC").Find(&targets).Error; err != nil {
		return nil, err
	}
	return targets, nil
}

// InsertLogs appends one cycle's probe results as a single batch.
func InsertLogs(db *gorm.DB, logs []Log) error {
	if len(logs) == 0 {
		return nil
	}
	return db.Create(&logs).Error
}

// LogsInRange returns logs for the given target keys between start and end,
// ordered by time. Used by the dashboard charts.
func LogsInRange(db *gorm.DB, keys []string, start, end time.Time) ([]Log, error) {
	var logs []Log
	err := db.Where("target_key IN ? AND created_at >= ? AND created_at <= ?", keys, start, end).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// ErrorLog is a log row that recorded a failure, joined with the target's
// display name for the dashboard error table.
type ErrorLog struct {
	Name          string    `json:"name"`
	TargetKey     string    `json:"target_key"`
	CreatedAt     time.Time `json:"created_at"`
	ResponseTime  *int64    `json:"response_time"`
	StatusCode    *int      `json:"status_code"`
	StatusMessage *string   `json:"status_message"`
	ErrorName     *string   `json:"error_name"`
	ErrorCode     *string   `json:"error_code"`
}

// ErrorLogsInMonth returns all failed probes in the month at the given
// offset from now (0 = this month, -1 = last month).
func ErrorLogsInMonth(db *gorm.DB, offset int, now time.Time) ([]ErrorLog, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, offset, 0)
	end := start.AddDate(0, 1, 0)

	var rows []ErrorLog
	err := db.Table("logs").
		Select("targets.name, logs.target_key, logs.created_at, logs.response_time, logs.status_code, logs.status_message, logs.error_name, logs.error_code").
		Joins("JOIN targets ON targets.key = logs.target_key").
		Where("logs.created_at >= ? AND logs.created_at < ?", start, end).
		Where("logs.status_code IS NULL OR logs.status_code != ? OR logs.error_code IS NOT NULL", 200).
		Order("logs.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
