package watch

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/interpark/mikage/internal/config"
	"github.com/interpark/mikage/internal/database"
	"github.com/interpark/mikage/internal/notify"
)

// ChatChannel sends incident notifications to a chat space.
type ChatChannel interface {
	CreateThread(ctx context.Context, items []notify.ErrorItem, linkURL string) (*notify.ChatMessage, error)
	UpdateThread(ctx context.Context, items []notify.ErrorItem, threadName string) (*notify.ChatMessage, error)
	ResolveThread(ctx context.Context, items []notify.ErrorItem, threadName string) (*notify.ChatMessage, error)
}

// StatusPageChannel manages incidents on a public status page.
type StatusPageChannel interface {
	CreateIncident(ctx context.Context, page config.StatusPage, started time.Time) (*notify.StatusPageIncident, error)
	UpdateIncident(ctx context.Context, page config.StatusPage, incidentID string, started time.Time) (*notify.StatusPageIncident, error)
	ResolveIncident(ctx context.Context, page config.StatusPage, incidentID string, started time.Time) (*notify.StatusPageIncident, error)
}

// StoreResult records what happened to the incident row this cycle.
type StoreResult struct {
	Action     string `json:"action"` // created, updated, closed, conflict
	IncidentID uint   `json:"incidentId"`
	Count      int    `json:"count"`
}

// GroupResult is the per-group outcome of one cycle: what the store did and
// what each notification channel answered. Channel failures are collected
// rather than aborting the group.
type GroupResult struct {
	Group      string                     `json:"group"`
	Store      *StoreResult               `json:"store,omitempty"`
	Chat       *notify.ChatMessage        `json:"chat,omitempty"`
	StatusPage *notify.StatusPageIncident `json:"statusPage,omitempty"`
	Failures   []string                   `json:"failures,omitempty"`
}

// Coordinator drives the incident lifecycle for a group: it compares the
// cycle's errors against the open incident row and decides what to write to
// the store and what to send to each channel.
//
// A fresh incident stays quiet for one cycle to absorb transient blips. From
// the second consecutive error cycle on, chat is updated every cycle while
// the status page is only touched on creation and then every fifth cycle.
type Coordinator struct {
	db           *gorm.DB
	chat         ChatChannel
	statusPage   StatusPageChannel
	dashboardURL string
}

// NewCoordinator wires the coordinator to its store and channels. Either
// channel may be nil, in which case that channel is skipped entirely.
func NewCoordinator(db *gorm.DB, chat ChatChannel, statusPage StatusPageChannel, dashboardURL string) *Coordinator {
	return &Coordinator{
		db:           db,
		chat:         chat,
		statusPage:   statusPage,
		dashboardURL: dashboardURL,
	}
}

// Process advances one group's incident lifecycle by one cycle. errs are the
// group's actionable errors this cycle; incident is the group's open incident
// row, or nil. External failures are logged and collected in the result, so
// one broken channel never blocks the store or the other channel.
func (c *Coordinator) Process(ctx context.Context, group config.Group, errs []Outcome, incident *database.Incident) GroupResult {
	result := GroupResult{Group: group.Name}
	now := time.Now()

	switch {
	case len(errs) == 0 && incident == nil:
		// Healthy and quiet. Nothing to do.

	case len(errs) == 0:
		c.resolve(ctx, group, incident, now, &result)

	case incident == nil:
		c.open(group, now, &result)

	default:
		c.escalate(ctx, group, errs, incident, now, &result)
	}

	return result
}

// open records a brand-new incident without notifying anyone. If the next
// cycle is clean the incident resolves silently; a single failed cycle is
// not worth waking people up for.
func (c *Coordinator) open(group config.Group, now time.Time, result *GroupResult) {
	incident, err := database.CreateIncident(c.db, group.Name, now)
	if err != nil {
		c.fail(result, "store create: %v", err)
		return
	}
	result.Store = &StoreResult{Action: "created", IncidentID: incident.ID, Count: incident.Count}
}

// escalate advances an already-open incident by one error cycle: status page
// on the throttle schedule, chat every cycle, then the conditional row update.
func (c *Coordinator) escalate(ctx context.Context, group config.Group, errs []Outcome, incident *database.Incident, now time.Time, result *GroupResult) {
	errorCount := incident.Count + 1
	instatusID := incident.InstatusID
	threadName := incident.GooglechatName

	// Status page: create on the second consecutive error cycle, then post
	// a progress update every fifth. In between, the public page is left
	// alone to avoid notification fatigue.
	if page := group.StatusPage; page != nil && c.statusPage != nil {
		switch {
		case instatusID == "" && errorCount == 2:
			created, err := c.statusPage.CreateIncident(ctx, *page, incident.CreatedAt)
			if err != nil {
				c.fail(result, "status page create: %v", err)
			} else {
				result.StatusPage = created
				if id := created.CanonicalID(); id != "" {
					instatusID = id
				}
			}
		case instatusID != "" && errorCount%5 == 0:
			updated, err := c.statusPage.UpdateIncident(ctx, *page, instatusID, incident.UpdatedAt)
			if err != nil {
				c.fail(result, "status page update: %v", err)
			} else {
				result.StatusPage = updated
			}
		}
	}

	// Chat: open the thread if we don't hold one yet, otherwise reply on
	// it. A fresh thread immediately gets the detail card as its first
	// reply so the announcement stays short.
	if c.chat != nil {
		items := chatItems(errs)
		if threadName == "" {
			message, err := c.chat.CreateThread(ctx, items, c.incidentLink(group, instatusID))
			if err != nil {
				c.fail(result, "chat create: %v", err)
			} else {
				result.Chat = message
				threadName = message.Thread.Name
				if _, err := c.chat.UpdateThread(ctx, items, threadName); err != nil {
					c.fail(result, "chat first update: %v", err)
				}
			}
		} else {
			message, err := c.chat.UpdateThread(ctx, items, threadName)
			if err != nil {
				c.fail(result, "chat update: %v", err)
			} else {
				result.Chat = message
			}
		}
	}

	ok, err := database.UpdateIncidentProgress(c.db, incident, errorCount, threadName, instatusID, now)
	if err != nil {
		c.fail(result, "store update: %v", err)
		return
	}
	if !ok {
		result.Store = &StoreResult{Action: "conflict", IncidentID: incident.ID, Count: incident.Count}
		log.Printf("Coordinator: incident %d for %s was advanced elsewhere, skipping", incident.ID, group.Name)
		return
	}
	result.Store = &StoreResult{Action: "updated", IncidentID: incident.ID, Count: errorCount}
}

// resolve closes an open incident after a clean cycle. Each channel is only
// notified if it was engaged while the incident was open; an incident that
// never got past its first cycle closes silently.
func (c *Coordinator) resolve(ctx context.Context, group config.Group, incident *database.Incident, now time.Time, result *GroupResult) {
	if c.chat != nil && incident.GooglechatName != "" {
		message, err := c.chat.ResolveThread(ctx, nil, incident.GooglechatName)
		if err != nil {
			c.fail(result, "chat resolve: %v", err)
		} else {
			result.Chat = message
		}
	}

	if page := group.StatusPage; page != nil && c.statusPage != nil && incident.InstatusID != "" {
		resolved, err := c.statusPage.ResolveIncident(ctx, *page, incident.InstatusID, now)
		if err != nil {
			c.fail(result, "status page resolve: %v", err)
		} else {
			result.StatusPage = resolved
		}
	}

	ok, err := database.CloseIncident(c.db, incident, now)
	if err != nil {
		c.fail(result, "store close: %v", err)
		return
	}
	if !ok {
		result.Store = &StoreResult{Action: "conflict", IncidentID: incident.ID, Count: incident.Count}
		log.Printf("Coordinator: incident %d for %s was advanced elsewhere, skipping close", incident.ID, group.Name)
		return
	}
	result.Store = &StoreResult{Action: "closed", IncidentID: incident.ID, Count: incident.Count}
}

// incidentLink is the URL the chat announcement points at: the group's
// public status page when one exists, otherwise the dashboard.
func (c *Coordinator) incidentLink(group config.Group, instatusID string) string {
	if group.StatusPage != nil && group.StatusPage.PublicURL != "" {
		if instatusID != "" {
			return group.StatusPage.PublicURL + "/" + instatusID
		}
		return group.StatusPage.PublicURL
	}
	return c.dashboardURL
}

func (c *Coordinator) fail(result *GroupResult, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("Coordinator: %s: %s", result.Group, msg)
	result.Failures = append(result.Failures, msg)
}
