// Package testhelpers provides data builders for testing
package testhelpers

import (
	"time"

	"github.com/interpark/mikage/internal/database"
)

// TargetBuilder builds Target instances for testing
type TargetBuilder struct {
	target database.Target
}

// NewTargetBuilder creates a new target builder with defaults
func NewTargetBuilder() *TargetBuilder {
	return &TargetBuilder{
		target: database.Target{
			Key:  "saaske01",
			Name: "Saaske 01",
			URL:  "https://example.com/health",
		},
	}
}

// WithKey sets the target key
func (b *TargetBuilder) WithKey(key string) *TargetBuilder {
	b.target.Key = key
	return b
}

// WithName sets the display name
func (b *TargetBuilder) WithName(name string) *TargetBuilder {
	b.target.Name = name
	return b
}

// WithURL sets the probe URL
func (b *TargetBuilder) WithURL(url string) *TargetBuilder {
	b.target.URL = url
	return b
}

// WithHeaders sets extra request headers
func (b *TargetBuilder) WithHeaders(headers map[string]interface{}) *TargetBuilder {
	b.target.Headers = database.JSONB(headers)
	return b
}

// Build returns the constructed target
func (b *TargetBuilder) Build() database.Target {
	return b.target
}

// IncidentBuilder builds Incident instances for testing
type IncidentBuilder struct {
	incident database.Incident
}

// NewIncidentBuilder creates a new incident builder with defaults
func NewIncidentBuilder() *IncidentBuilder {
	now := time.Now()
	return &IncidentBuilder{
		incident: database.Incident{
			Keyword:   "saaske",
			CreatedAt: now,
			UpdatedAt: now,
			Count:     1,
		},
	}
}

// WithKeyword sets the group keyword
func (b *IncidentBuilder) WithKeyword(keyword string) *IncidentBuilder {
	b.incident.Keyword = keyword
	return b
}

// WithCount sets the consecutive error cycle count
func (b *IncidentBuilder) WithCount(count int) *IncidentBuilder {
	b.incident.Count = count
	return b
}

// WithTimes sets created and updated timestamps
func (b *IncidentBuilder) WithTimes(createdAt, updatedAt time.Time) *IncidentBuilder {
	b.incident.CreatedAt = createdAt
	b.incident.UpdatedAt = updatedAt
	return b
}

// WithChatThread sets the chat thread reference
func (b *IncidentBuilder) WithChatThread(name string) *IncidentBuilder {
	b.incident.GooglechatName = name
	return b
}

// WithStatusPageIncident sets the status page incident reference
func (b *IncidentBuilder) WithStatusPageIncident(id string) *IncidentBuilder {
	b.incident.InstatusID = id
	return b
}

// Closed marks the incident as closed
func (b *IncidentBuilder) Closed() *IncidentBuilder {
	closed := true
	b.incident.IsClosed = &closed
	return b
}

// Build returns the constructed incident
func (b *IncidentBuilder) Build() database.Incident {
	return b.incident
}
