package database

import (
	"time"

	"gorm.io/gorm"
)

// OpenIncidents returns all incidents that are currently open
// (is_closed IS NULL). Accepts a db parameter for dependency injection,
// transaction contexts, and easier testing.
func OpenIncidents(db *gorm.DB) ([]Incident, error) {
	var incidents []Incident
	if err := db.Where("is_closed IS NULL").Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

// OpenIncidentForGroup returns the open incident for a group, or nil if the
// group is healthy.
func OpenIncidentForGroup(db *gorm.DB, keyword string) (*Incident, error) {
	var incident Incident
	err := db.Where("keyword = ? AND is_closed IS NULL", keyword).First(&incident).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// CreateIncident opens a new incident for a group with count=1 and no
// notification references yet.
func CreateIncident(db *gorm.DB, keyword string, now time.Time) (*Incident, error) {
	incident := &Incident{
		Keyword:   keyword,
		CreatedAt: now,
		UpdatedAt: now,
		Count:     1,
	}
	if err := db.Create(incident).Error; err != nil {
		return nil, err
	}
	return incident, nil
}

// UpdateIncidentProgress advances an open incident to a new error count and
// records the notification references acquired so far. The update is
// conditional on the row's updated_at still matching what we read at the
// start of the cycle: if another cycle got there first, no rows are touched
// and false is returned.
func UpdateIncidentProgress(db *gorm.DB, incident *Incident, count int, googlechatName, instatusID string, now time.Time) (bool, error) {
	result := db.Model(&Incident{}).
		Where("id = ? AND updated_at = ?", incident.ID, incident.UpdatedAt).
		Updates(map[string]interface{}{
			"count":           count,
			"updated_at":      now,
			"googlechat_name": googlechatName,
			"instatus_id":     instatusID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CloseIncident marks an open incident as closed. The notification
// references stay on the row for audit. Conditional on updated_at like
// UpdateIncidentProgress.
func CloseIncident(db *gorm.DB, incident *Incident, now time.Time) (bool, error) {
	result := db.Model(&Incident{}).
		Where("id = ? AND updated_at = ?", incident.ID, incident.UpdatedAt).
		Updates(map[string]interface{}{
			"is_closed":  true,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IncidentsInMonth returns incidents created in the month at the given
// offset from now (0 = this month, -1 = last month), ordered by creation.
func IncidentsInMonth(db *gorm.DB, offset int, now time.Time) ([]Incident, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, offset, 0)
	end := start.AddDate(0, 1, 0)

	var incidents []Incident
	err := db.Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at ASC").
		Find(&incidents).Error
	if err != nil {
		return nil, err
	}
	return incidents, nil
}
