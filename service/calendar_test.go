package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/c54335/contract-delivery-tracker/model"
)

// fakeCalendar is an in-memory events endpoint for one calendar
type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]*calendar.Event
	inserts int
	updates int
	failPut bool
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/calendars/primary/events"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	var event calendar.Event
	json.NewDecoder(r.Body).Decode(&event)

	switch r.Method {
	case http.MethodPut:
		if f.failPut {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error": {"code": 403, "message": "Forbidden"}}`))
			return
		}
		id := strings.TrimPrefix(r.URL.Path, prefix+"/")
		if _, ok := f.events[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": {"code": 404, "message": "Not Found"}}`))
			return
		}
		event.Id = id
		f.events[id] = &event
		f.updates++
	case http.MethodPost:
		f.events[event.Id] = &event
		f.inserts++
	}
	json.NewEncoder(w).Encode(&event)
}

func newTestCalendarSync(t *testing.T, fake *fakeCalendar) *CalendarSync {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	srv, err := calendar.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("Failed to create calendar service: %v", err)
	}
	return NewCalendarSync(srv, "")
}

func TestCalendarSync(t *testing.T) {
	fake := &fakeCalendar{events: make(map[string]*calendar.Event)}
	cs := newTestCalendarSync(t, fake)
	tracker := newTestTracker(t)
	rows := tracker.Export(*day("2024-03-10"))

	result, err := cs.Sync(context.Background(), "session-1", rows)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result != (SyncResult{Created: 2, Skipped: 1}) {
		t.Errorf("Unexpected first sync result %+v", result)
	}

	event := fake.events[eventID("session-1", "期中報告")]
	if event == nil {
		t.Fatal("Expected event for 期中報告")
	}
	if event.Start.Date != "2024-03-20" || event.End.Date != "2024-03-21" {
		t.Errorf("Unexpected event dates %s..%s", event.Start.Date, event.End.Date)
	}
	if !strings.Contains(event.Summary, "期中報告") {
		t.Errorf("Unexpected summary %q", event.Summary)
	}
	if event.ExtendedProperties.Private["session_id"] != "session-1" {
		t.Errorf("Expected session_id property, got %v", event.ExtendedProperties.Private)
	}

	result, err = cs.Sync(context.Background(), "session-1", rows)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if result != (SyncResult{Updated: 2, Skipped: 1}) {
		t.Errorf("Unexpected second sync result %+v", result)
	}
	if len(fake.events) != 2 || fake.inserts != 2 || fake.updates != 2 {
		t.Errorf("Expected 2 events with 2 inserts and 2 updates, got %d/%d/%d", len(fake.events), fake.inserts, fake.updates)
	}
}

func TestCalendarSyncAPIError(t *testing.T) {
	fake := &fakeCalendar{events: make(map[string]*calendar.Event), failPut: true}
	cs := newTestCalendarSync(t, fake)

	rows := newTestTracker(t).Export(*day("2024-03-10"))
	_, err := cs.Sync(context.Background(), "session-1", rows)
	if err == nil || !strings.Contains(err.Error(), "期中報告") {
		t.Errorf("Expected sync error naming the item, got %v", err)
	}
	if fake.inserts != 0 {
		t.Errorf("Expected no inserts, got %d", fake.inserts)
	}
}

func TestCalendarSyncSkipsFailedRows(t *testing.T) {
	fake := &fakeCalendar{events: make(map[string]*calendar.Event)}
	cs := newTestCalendarSync(t, fake)

	rows := []model.Row{{ItemName: "extraction failed", ExtractionFailed: true, Status: model.StatusExtractionFailed}}
	result, err := cs.Sync(context.Background(), "session-1", rows)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Skipped != 1 || len(fake.events) != 0 {
		t.Errorf("Expected the failed row to be skipped, got %+v", result)
	}
}

func TestEventID(t *testing.T) {
	id := eventID("s1", "期中報告")
	if id != eventID("s1", "期中報告") {
		t.Error("Expected deterministic event ID")
	}
	if id == eventID("s2", "期中報告") || id == eventID("s1", "期末報告") {
		t.Error("Expected event IDs to differ by session and item")
	}
	if len(id) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(id))
	}
}

func TestNewCalendarServiceMissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.CalendarConfig{
		CredentialsFile: filepath.Join(dir, "credentials.json"),
		TokenFile:       filepath.Join(dir, "token.json"),
	}

	if _, err := NewCalendarService(context.Background(), cfg); err == nil {
		t.Error("Expected error for missing credentials file")
	}

	credentials := `{"installed": {"client_id": "id", "client_secret": "secret", "redirect_uris": ["http://localhost"], "auth_uri": "https://accounts.google.com/o/oauth2/auth", "token_uri": "https://oauth2.googleapis.com/token"}}`
	os.WriteFile(cfg.CredentialsFile, []byte(credentials), 0600)
	if _, err := NewCalendarService(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "token") {
		t.Errorf("Expected token file error, got %v", err)
	}

	os.WriteFile(cfg.TokenFile, []byte(`{"access_token": "abc", "token_type": "Bearer"}`), 0600)
	if _, err := NewCalendarService(context.Background(), cfg); err != nil {
		t.Errorf("NewCalendarService failed: %v", err)
	}
}
