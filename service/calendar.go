package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/c54335/contract-delivery-tracker/model"
	"github.com/c54335/contract-delivery-tracker/pkg/logger"
)

// NewCalendarService builds a Calendar API client from an OAuth client secrets
// file and a previously authorized token file.
func NewCalendarService(ctx context.Context, cfg *config.CalendarConfig) (*calendar.Service, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", cfg.CredentialsFile, err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(oauthConfig.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	return srv, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("unable to open token file: %w", err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

// SyncResult counts what a calendar sync did
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// CalendarSync mirrors due dates into a Google calendar as all-day events
type CalendarSync struct {
	srv        *calendar.Service
	calendarID string
}

func NewCalendarSync(srv *calendar.Service, calendarID string) *CalendarSync {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &CalendarSync{srv: srv, calendarID: calendarID}
}

// Sync upserts one event per row that has a due date. Event IDs are derived
// from the session and item, so repeated syncs update rather than duplicate.
func (c *CalendarSync) Sync(ctx context.Context, sessionID string, rows []model.Row) (SyncResult, error) {
	var result SyncResult
	for _, row := range rows {
		if row.DueDate == nil || row.ExtractionFailed {
			result.Skipped++
			continue
		}

		created, err := c.upsert(ctx, eventID(sessionID, row.ItemName), dueEvent(sessionID, row))
		if err != nil {
			return result, fmt.Errorf("sync %q: %w", row.ItemName, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	logger.Info(ctx, "calendar synced",
		"calendar_id", c.calendarID,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (c *CalendarSync) upsert(ctx context.Context, id string, event *calendar.Event) (bool, error) {
	_, err := c.srv.Events.Update(c.calendarID, id, event).Context(ctx).Do()
	if err == nil {
		return false, nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return false, err
	}

	event.Id = id
	if _, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do(); err != nil {
		return false, err
	}
	return true, nil
}

// eventID is a valid Calendar event ID (lowercase hex) unique per session and item
func eventID(sessionID, itemName string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + itemName))
	return hex.EncodeToString(sum[:])
}

func dueEvent(sessionID string, row model.Row) *calendar.Event {
	due := *row.DueDate
	return &calendar.Event{
		Summary:     fmt.Sprintf("交付期限：%s", row.ItemName),
		Description: fmt.Sprintf("%s\n狀態：%s\n到期日（民國）：%s", row.BasisClause, row.Status, FormatROC(due)),
		Start:       &calendar.EventDateTime{Date: due.Format("2006-01-02")},
		End:         &calendar.EventDateTime{Date: AddDays(due, 1).Format("2006-01-02")},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				"session_id": sessionID,
				"item_name":  row.ItemName,
			},
		},
	}
}
