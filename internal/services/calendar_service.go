package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var (
	// ErrCalendarFailed indicates the calendar provider rejected or failed the request
	ErrCalendarFailed = errors.New("calendar provider failed")
	// ErrNoCalendarCredential indicates the user has not granted calendar access
	ErrNoCalendarCredential = errors.New("calendar not connected")
)

// CalendarProvider creates events in the user's external calendar
type CalendarProvider interface {
	// CreateEvent pushes the event and returns its external id
	CreateEvent(ctx context.Context, user *models.User, event *models.CalendarEvent) (string, error)
}

// GoogleCalendar writes events to the user's primary Google calendar
type GoogleCalendar struct {
	oauthConfig    *oauth2.Config
	accountService *AccountService
	clientOptions  []option.ClientOption
	logger         *zap.Logger
}

// NewGoogleCalendar creates a Google Calendar provider. Extra client options are appended to every service.
func NewGoogleCalendar(oauthConfig *oauth2.Config, accountService *AccountService, logger *zap.Logger, opts ...option.ClientOption) *GoogleCalendar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleCalendar{
		oauthConfig:    oauthConfig,
		accountService: accountService,
		clientOptions:  opts,
		logger:         logger,
	}
}

// CreateEvent inserts the event into the "primary" calendar
func (g *GoogleCalendar) CreateEvent(ctx context.Context, user *models.User, event *models.CalendarEvent) (string, error) {
	refreshToken, err := g.accountService.CalendarRefreshToken(user)
	if err != nil {
		if errors.Is(err, ErrNoGoogleCredential) {
			return "", ErrNoCalendarCredential
		}
		return "", err
	}

	ts := g.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.clientOptions...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCalendarFailed, err)
	}

	created, err := svc.Events.Insert("primary", toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCalendarFailed, err)
	}

	g.logger.Info("calendar event created",
		zap.Uint("user_id", user.ID),
		zap.Uint("task_id", event.TaskID),
		zap.String("event_id", created.Id),
	)
	return created.Id, nil
}

func toGoogleEvent(event *models.CalendarEvent) *calendar.Event {
	reminder := event.ReminderMinutes
	if reminder <= 0 {
		reminder = models.DefaultReminderMinutes
	}

	return &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start: &calendar.EventDateTime{
			DateTime: event.StartTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: event.EndTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: int64(reminder)},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
}
