package watch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/interpark/mikage/internal/config"
	"github.com/interpark/mikage/internal/database"
	"github.com/interpark/mikage/internal/notify"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&database.Target{},
		&database.Log{},
		&database.Incident{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// chatCall records one invocation of the fake chat channel.
type chatCall struct {
	Method     string
	ThreadName string
	LinkURL    string
	Items      []notify.ErrorItem
}

type fakeChat struct {
	Calls      []chatCall
	ThreadName string
	Err        error
}

func (f *fakeChat) CreateThread(ctx context.Context, items []notify.ErrorItem, linkURL string) (*notify.ChatMessage, error) {
	f.Calls = append(f.Calls, chatCall{Method: "create", LinkURL: linkURL, Items: items})
	if f.Err != nil {
		return nil, f.Err
	}
	return &notify.ChatMessage{Thread: notify.ChatThread{Name: f.ThreadName}}, nil
}

func (f *fakeChat) UpdateThread(ctx context.Context, items []notify.ErrorItem, threadName string) (*notify.ChatMessage, error) {
	f.Calls = append(f.Calls, chatCall{Method: "update", ThreadName: threadName, Items: items})
	if f.Err != nil {
		return nil, f.Err
	}
	return &notify.ChatMessage{Thread: notify.ChatThread{Name: threadName}}, nil
}

func (f *fakeChat) ResolveThread(ctx context.Context, items []notify.ErrorItem, threadName string) (*notify.ChatMessage, error) {
	f.Calls = append(f.Calls, chatCall{Method: "resolve", ThreadName: threadName})
	if f.Err != nil {
		return nil, f.Err
	}
	return &notify.ChatMessage{Thread: notify.ChatThread{Name: threadName}}, nil
}

// statusCall records one invocation of the fake status page channel.
type statusCall struct {
	Method     string
	PageID     string
	IncidentID string
	Started    time.Time
}

type fakeStatusPage struct {
	Calls    []statusCall
	Response *notify.StatusPageIncident
	Err      error
}

func (f *fakeStatusPage) CreateIncident(ctx context.Context, page config.StatusPage, started time.Time) (*notify.StatusPageIncident, error) {
	f.Calls = append(f.Calls, statusCall{Method: "create", PageID: page.PageID, Started: started})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

func (f *fakeStatusPage) UpdateIncident(ctx context.Context, page config.StatusPage, incidentID string, started time.Time) (*notify.StatusPageIncident, error) {
	f.Calls = append(f.Calls, statusCall{Method: "update", PageID: page.PageID, IncidentID: incidentID, Started: started})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

func (f *fakeStatusPage) ResolveIncident(ctx context.Context, page config.StatusPage, incidentID string, started time.Time) (*notify.StatusPageIncident, error) {
	f.Calls = append(f.Calls, statusCall{Method: "resolve", PageID: page.PageID, IncidentID: incidentID, Started: started})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Response, nil
}

func saaskeGroup() config.Group {
	groups := config.DefaultGroups()
	for i := range groups {
		if groups[i].Name == "saaske" {
			g := groups[i]
			g.StatusPage = &config.StatusPage{
				PageID:      "page123",
				Components:  []string{"comp1"},
				ServiceName: "サスケ",
				PublicURL:   "https://saaske.instatus.com",
			}
			return g
		}
	}
	panic("saaske group missing")
}

func TestProcessHealthyGroupIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-1"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	result := coordinator.Process(context.Background(), saaskeGroup(), nil, nil)

	if result.Store != nil || result.Chat != nil || result.StatusPage != nil {
		t.Errorf("expected no actions for a healthy group, got %+v", result)
	}
	if len(chat.Calls) != 0 || len(status.Calls) != 0 {
		t.Errorf("expected no channel calls for a healthy group")
	}

	open, _ := database.OpenIncidents(db)
	if len(open) != 0 {
		t.Errorf("expected no incidents, got %d", len(open))
	}
}

func TestProcessFirstErrorOpensQuietly(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-1"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	errs := []Outcome{timeoutOutcome("saaske02")}
	result := coordinator.Process(context.Background(), saaskeGroup(), errs, nil)

	if result.Store == nil || result.Store.Action != "created" {
		t.Fatalf("expected created action, got %+v", result.Store)
	}
	if result.Store.Count != 1 {
		t.Errorf("expected count 1, got %d", result.Store.Count)
	}
	if len(chat.Calls) != 0 || len(status.Calls) != 0 {
		t.Errorf("first error cycle must not notify anyone")
	}

	incident, _ := database.OpenIncidentForGroup(db, "saaske")
	if incident == nil {
		t.Fatalf("expected open incident")
	}
	if incident.Count != 1 {
		t.Errorf("expected stored count 1, got %d", incident.Count)
	}
}

func TestProcessSecondErrorCycleEngagesChannels(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-1"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	group := saaskeGroup()
	createdAt := time.Now().Add(-5 * time.Minute)
	incident := &database.Incident{Keyword: "saaske", CreatedAt: createdAt, UpdatedAt: createdAt, Count: 1}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	errs := []Outcome{timeoutOutcome("saaske02")}
	result := coordinator.Process(context.Background(), group, errs, incident)

	if result.Store == nil || result.Store.Action != "updated" {
		t.Fatalf("expected updated action, got %+v", result.Store)
	}
	if result.Store.Count != 2 {
		t.Errorf("expected count 2, got %d", result.Store.Count)
	}

	// Status page: one create, started at the incident's opening time.
	if len(status.Calls) != 1 || status.Calls[0].Method != "create" {
		t.Fatalf("expected one status page create, got %+v", status.Calls)
	}
	if !status.Calls[0].Started.Equal(incident.CreatedAt) {
		t.Errorf("status page create must start at the incident's created_at")
	}

	// Chat: thread opened, then the detail card as its first reply.
	if len(chat.Calls) != 2 || chat.Calls[0].Method != "create" || chat.Calls[1].Method != "update" {
		t.Fatalf("expected chat create then update, got %+v", chat.Calls)
	}
	if chat.Calls[1].ThreadName != "spaces/x/threads/y" {
		t.Errorf("first reply must target the new thread, got %q", chat.Calls[1].ThreadName)
	}
	if chat.Calls[0].LinkURL != "https://saaske.instatus.com/inc-1" {
		t.Errorf("announcement must link to the status page incident, got %q", chat.Calls[0].LinkURL)
	}

	// Both references persisted.
	stored, _ := database.OpenIncidentForGroup(db, "saaske")
	if stored.GooglechatName != "spaces/x/threads/y" {
		t.Errorf("expected chat thread reference, got %q", stored.GooglechatName)
	}
	if stored.InstatusID != "inc-1" {
		t.Errorf("expected instatus reference, got %q", stored.InstatusID)
	}
	if stored.Count != 2 {
		t.Errorf("expected stored count 2, got %d", stored.Count)
	}
}

func TestProcessStatusPageThrottling(t *testing.T) {
	group := saaskeGroup()

	// errorCount = count+1; the page is touched on creation (2) and then
	// every fifth cycle.
	cases := []struct {
		count      int
		wantMethod string // "" means no call
	}{
		{1, "create"},
		{2, ""},
		{3, ""},
		{4, "update"},
		{5, ""},
		{8, ""},
		{9, "update"},
		{14, "update"},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("count_%d", tc.count), func(t *testing.T) {
			db := setupTestDB(t)
			chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
			status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-9"}}
			coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

			createdAt := time.Now().Add(-time.Hour)
			updatedAt := time.Now().Add(-time.Minute)
			incident := &database.Incident{
				Keyword:   "saaske",
				CreatedAt: createdAt,
				UpdatedAt: updatedAt,
				Count:     tc.count,
			}
			if tc.count > 1 {
				incident.GooglechatName = "spaces/x/threads/y"
				incident.InstatusID = "inc-9"
			}
			if err := db.Create(incident).Error; err != nil {
				t.Fatalf("failed to seed incident: %v", err)
			}

			errs := []Outcome{timeoutOutcome("saaske02")}
			result := coordinator.Process(context.Background(), group, errs, incident)

			if result.Store == nil || result.Store.Action != "updated" {
				t.Fatalf("expected updated action, got %+v", result.Store)
			}

			if tc.wantMethod == "" {
				if len(status.Calls) != 0 {
					t.Errorf("expected no status page call at count %d, got %+v", tc.count, status.Calls)
				}
				return
			}
			if len(status.Calls) != 1 || status.Calls[0].Method != tc.wantMethod {
				t.Fatalf("expected one %s call at count %d, got %+v", tc.wantMethod, tc.count, status.Calls)
			}
			if tc.wantMethod == "update" {
				if status.Calls[0].IncidentID != "inc-9" {
					t.Errorf("update must target the stored incident, got %q", status.Calls[0].IncidentID)
				}
				if !status.Calls[0].Started.Equal(updatedAt) {
					t.Errorf("update must start at the incident's updated_at")
				}
			}
		})
	}
}

func TestProcessChatUpdatesEveryCycle(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-9"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	createdAt := time.Now().Add(-time.Hour)
	incident := &database.Incident{
		Keyword:        "saaske",
		CreatedAt:      createdAt,
		UpdatedAt:      time.Now().Add(-time.Minute),
		Count:          2,
		GooglechatName: "spaces/x/threads/y",
		InstatusID:     "inc-9",
	}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	errs := []Outcome{timeoutOutcome("saaske02"), markerOutcome("saaske03", "CODE_77")}
	coordinator.Process(context.Background(), saaskeGroup(), errs, incident)

	// errorCount 3: no status page touch, but chat still gets the card.
	if len(status.Calls) != 0 {
		t.Errorf("expected no status page call, got %+v", status.Calls)
	}
	if len(chat.Calls) != 1 || chat.Calls[0].Method != "update" {
		t.Fatalf("expected one chat update, got %+v", chat.Calls)
	}
	if len(chat.Calls[0].Items) != 2 {
		t.Errorf("expected 2 error items in the card, got %d", len(chat.Calls[0].Items))
	}
}

func TestProcessResolution(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-9"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	incident := &database.Incident{
		Keyword:        "saaske",
		CreatedAt:      time.Now().Add(-time.Hour),
		UpdatedAt:      time.Now().Add(-time.Minute),
		Count:          7,
		GooglechatName: "spaces/x/threads/y",
		InstatusID:     "inc-9",
	}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	result := coordinator.Process(context.Background(), saaskeGroup(), nil, incident)

	if result.Store == nil || result.Store.Action != "closed" {
		t.Fatalf("expected closed action, got %+v", result.Store)
	}
	if len(chat.Calls) != 1 || chat.Calls[0].Method != "resolve" {
		t.Errorf("expected one chat resolve, got %+v", chat.Calls)
	}
	if len(status.Calls) != 1 || status.Calls[0].Method != "resolve" || status.Calls[0].IncidentID != "inc-9" {
		t.Errorf("expected one status page resolve for inc-9, got %+v", status.Calls)
	}

	open, _ := database.OpenIncidentForGroup(db, "saaske")
	if open != nil {
		t.Errorf("expected incident to be closed")
	}
}

func TestProcessSilentResolutionAfterSingleErrorCycle(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-9"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	// Count 1: nobody was ever notified, so nobody hears about the close.
	now := time.Now()
	incident := &database.Incident{Keyword: "saaske", CreatedAt: now, UpdatedAt: now, Count: 1}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	result := coordinator.Process(context.Background(), saaskeGroup(), nil, incident)

	if result.Store == nil || result.Store.Action != "closed" {
		t.Fatalf("expected closed action, got %+v", result.Store)
	}
	if len(chat.Calls) != 0 || len(status.Calls) != 0 {
		t.Errorf("a never-announced incident must close silently")
	}
}

func TestProcessChatOnlyGroup(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-9"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	// No status page configured for this group.
	group := saaskeGroup()
	group.StatusPage = nil

	createdAt := time.Now().Add(-5 * time.Minute)
	incident := &database.Incident{Keyword: "saaske", CreatedAt: createdAt, UpdatedAt: createdAt, Count: 1}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	errs := []Outcome{timeoutOutcome("saaske02")}
	coordinator.Process(context.Background(), group, errs, incident)

	if len(status.Calls) != 0 {
		t.Errorf("chat-only group must never touch the status page, got %+v", status.Calls)
	}
	if len(chat.Calls) != 2 || chat.Calls[0].Method != "create" {
		t.Fatalf("expected chat create then update, got %+v", chat.Calls)
	}
	// The announcement falls back to the dashboard link.
	if chat.Calls[0].LinkURL != "https://mikage.example.com/" {
		t.Errorf("expected dashboard link, got %q", chat.Calls[0].LinkURL)
	}
}

func TestProcessChannelFailureDoesNotBlockStore(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{Err: fmt.Errorf("webhook down")}
	status := &fakeStatusPage{Err: fmt.Errorf("api down")}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	createdAt := time.Now().Add(-5 * time.Minute)
	incident := &database.Incident{Keyword: "saaske", CreatedAt: createdAt, UpdatedAt: createdAt, Count: 1}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	errs := []Outcome{timeoutOutcome("saaske02")}
	result := coordinator.Process(context.Background(), saaskeGroup(), errs, incident)

	if result.Store == nil || result.Store.Action != "updated" {
		t.Fatalf("expected the count to advance despite channel failures, got %+v", result.Store)
	}
	if len(result.Failures) != 2 {
		t.Errorf("expected 2 recorded failures, got %v", result.Failures)
	}

	// No references acquired; nothing to persist but the count.
	stored, _ := database.OpenIncidentForGroup(db, "saaske")
	if stored.Count != 2 {
		t.Errorf("expected count 2, got %d", stored.Count)
	}
	if stored.GooglechatName != "" || stored.InstatusID != "" {
		t.Errorf("failed channels must not leave references behind")
	}
}

func TestProcessPreservesReferencesWhenNoCallIsMade(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/new/threads/z"}
	status := &fakeStatusPage{Response: &notify.StatusPageIncident{ID: "inc-new"}}
	coordinator := NewCoordinator(db, chat, status, "https://mikage.example.com/")

	// errorCount 4: no status page call this cycle. The stored instatus
	// reference must survive the row update untouched.
	incident := &database.Incident{
		Keyword:        "saaske",
		CreatedAt:      time.Now().Add(-time.Hour),
		UpdatedAt:      time.Now().Add(-time.Minute),
		Count:          3,
		GooglechatName: "spaces/x/threads/y",
		InstatusID:     "inc-9",
	}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	errs := []Outcome{timeoutOutcome("saaske02")}
	coordinator.Process(context.Background(), saaskeGroup(), errs, incident)

	stored, _ := database.OpenIncidentForGroup(db, "saaske")
	if stored.InstatusID != "inc-9" {
		t.Errorf("expected instatus reference to be preserved, got %q", stored.InstatusID)
	}
	if stored.GooglechatName != "spaces/x/threads/y" {
		t.Errorf("expected chat reference to be preserved, got %q", stored.GooglechatName)
	}
}

func TestProcessStaleIncidentReportsConflict(t *testing.T) {
	db := setupTestDB(t)
	chat := &fakeChat{ThreadName: "spaces/x/threads/y"}
	coordinator := NewCoordinator(db, chat, nil, "https://mikage.example.com/")

	now := time.Now()
	incident := &database.Incident{Keyword: "saaske", CreatedAt: now, UpdatedAt: now, Count: 1}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	// Another writer advances the row behind our back.
	stale := *incident
	if ok, err := database.UpdateIncidentProgress(db, incident, 2, "", "", now.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("setup update failed: ok=%v err=%v", ok, err)
	}

	errs := []Outcome{timeoutOutcome("saaske02")}
	result := coordinator.Process(context.Background(), saaskeGroup(), errs, &stale)

	if result.Store == nil || result.Store.Action != "conflict" {
		t.Fatalf("expected conflict action, got %+v", result.Store)
	}

	stored, _ := database.OpenIncidentForGroup(db, "saaske")
	if stored.Count != 2 {
		t.Errorf("expected the other writer's count to stand, got %d", stored.Count)
	}
}

func TestProcessNilChannels(t *testing.T) {
	db := setupTestDB(t)
	coordinator := NewCoordinator(db, nil, nil, "https://mikage.example.com/")

	createdAt := time.Now().Add(-5 * time.Minute)
	incident := &database.Incident{Keyword: "saaske", CreatedAt: createdAt, UpdatedAt: createdAt, Count: 1}
	if err := db.Create(incident).Error; err != nil {
		t.Fatalf("failed to seed incident: %v", err)
	}

	errs := []Outcome{timeoutOutcome("saaske02")}
	result := coordinator.Process(context.Background(), saaskeGroup(), errs, incident)

	if result.Store == nil || result.Store.Action != "updated" {
		t.Fatalf("expected updated action with no channels, got %+v", result.Store)
	}
}
