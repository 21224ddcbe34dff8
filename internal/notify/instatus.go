package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/interpark/mikage/internal/config"
)

// StatusPageRef is the nested incident reference some Instatus responses
// carry instead of a top-level id.
type StatusPageRef struct {
	ID string `json:"id"`
}

// StatusPageIncident is the provider's response to a create or update call.
// Depending on the endpoint, the incident id arrives either at the top level
// or nested under "incident".
type StatusPageIncident struct {
	ID       string         `json:"id,omitempty"`
	Incident *StatusPageRef `json:"incident,omitempty"`
}

// CanonicalID returns the incident id regardless of which shape the
// provider answered with. The nested reference wins when both are present.
func (r *StatusPageIncident) CanonicalID() string {
	if r == nil {
		return ""
	}
	if r.Incident != nil && r.Incident.ID != "" {
		return r.Incident.ID
	}
	return r.ID
}

// InstatusClient manages public status page incidents via the Instatus API.
type InstatusClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewInstatusClient creates a status page client. baseURL is the API root,
// e.g. "https://api.instatus.com".
func NewInstatusClient(baseURL, apiKey string) *InstatusClient {
	return &InstatusClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type componentStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type incidentBody struct {
	Name       string            `json:"name,omitempty"`
	Message    string            `json:"message"`
	Components []string          `json:"components"`
	Started    string            `json:"started"`
	Status     string            `json:"status"`
	Notify     bool              `json:"notify"`
	Statuses   []componentStatus `json:"statuses"`
}

// CreateIncident opens a new incident on the page, marking its components
// as a major outage.
func (c *InstatusClient) CreateIncident(ctx context.Context, page config.StatusPage, started time.Time) (*StatusPageIncident, error) {
	body := incidentBody{
		Name:       "接続しづらい状況が発生",
		Message:    fmt.Sprintf("%sにおいて、アクセスしづらい状況が発生しています。現在、原因の調査を行っております。", page.ServiceName),
		Components: page.Components,
		Started:    started.UTC().Format(time.RFC3339),
		Status:     "INVESTIGATING",
		Notify:     true,
		Statuses:   componentStatuses(page.Components, "MAJOROUTAGE"),
	}
	url := fmt.Sprintf("%s/v1/%s/incidents", c.baseURL, page.PageID)
	return c.send(ctx, url, body)
}

// UpdateIncident posts a progress update to an existing incident.
func (c *InstatusClient) UpdateIncident(ctx context.Context, page config.StatusPage, incidentID string, started time.Time) (*StatusPageIncident, error) {
	body := incidentBody{
		Message:    fmt.Sprintf("引き続き、%sにおいて、アクセスしづらい状況が発生しています。現在、復旧作業を行っております。", page.ServiceName),
		Components: page.Components,
		Started:    started.UTC().Format(time.RFC3339),
		Status:     "MONITORING",
		Notify:     true,
		Statuses:   componentStatuses(page.Components, "MAJOROUTAGE"),
	}
	url := fmt.Sprintf("%s/v1/%s/incidents/%s/incident-updates", c.baseURL, page.PageID, incidentID)
	return c.send(ctx, url, body)
}

// ResolveIncident closes the incident and returns its components to
// operational.
func (c *InstatusClient) ResolveIncident(ctx context.Context, page config.StatusPage, incidentID string, started time.Time) (*StatusPageIncident, error) {
	body := incidentBody{
		Message:    "サーバーが平常時に復帰いたしました。",
		Components: page.Components,
		Started:    started.UTC().Format(time.RFC3339),
		Status:     "RESOLVED",
		Notify:     true,
		Statuses:   componentStatuses(page.Components, "OPERATIONAL"),
	}
	url := fmt.Sprintf("%s/v1/%s/incidents/%s/incident-updates", c.baseURL, page.PageID, incidentID)
	return c.send(ctx, url, body)
}

func componentStatuses(components []string, status string) []componentStatus {
	statuses := make([]componentStatus, len(components))
	for i, id := range components {
		statuses[i] = componentStatus{ID: id, Status: status}
	}
	return statuses
}

func (c *InstatusClient) send(ctx context.Context, url string, body incidentBody) (*StatusPageIncident, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instatus payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("instatus API returned status %d", resp.StatusCode)
	}

	var result StatusPageIncident
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode instatus response: %w", err)
	}
	return &result, nil
}
