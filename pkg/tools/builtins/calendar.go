package builtins

import (
	"context"
	"fmt"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// CalendarStore persists events created over voice.
type CalendarStore interface {
	CreateEvent(ctx context.Context, userID string, event CalendarEvent) (string, error)
}

// CalendarEvent is one entry in the user's calendar.
type CalendarEvent struct {
	Title    string
	Start    time.Time
	End      time.Time
	Location string
	Notes    string
}

// CalendarCreate books a calendar event.
type CalendarCreate struct {
	Store CalendarStore
}

func (t *CalendarCreate) Name() string { return ToolCalendarCreate }

func (t *CalendarCreate) Definition() tools.Definition {
	return tools.Definition{
		Name:        ToolCalendarCreate,
		Description: "Create a calendar event for the user. Requires a title and a start time; duration defaults to one hour.",
		Category:    "calendar",
		Keywords: []string{
			"calendar", "appointment", "meeting", "schedule", "book",
			"booking", "remind", "reminder", "event",
		},
		InputSchema: &types.JSONSchema{
			Type: "object",
			Properties: map[string]types.JSONSchema{
				"title":            {Type: "string", Description: "Short event title"},
				"start":            {Type: "string", Description: "Start time, ISO 8601; interpreted in the user's timezone when no offset is given"},
				"duration_minutes": {Type: "integer", Description: "Event length in minutes, default 60"},
				"location":         {Type: "string", Description: "Where the event takes place"},
				"notes":            {Type: "string"},
			},
			Required: []string{"title", "start"},
		},
	}
}

func (t *CalendarCreate) Execute(ctx context.Context, args map[string]any, rctx types.RuntimeContext) (map[string]any, error) {
	title := stringArg(args, "title")
	if title == "" {
		return nil, core.NewValidationError("title must be non-empty", "title")
	}
	start, err := parseWhen(stringArg(args, "start"), rctx.Timezone)
	if err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("unrecognized start time %q", stringArg(args, "start")), "start")
	}

	duration := 60 * time.Minute
	if mins, ok := numberArg(args, "duration_minutes"); ok && mins > 0 {
		duration = time.Duration(mins) * time.Minute
	}

	event := CalendarEvent{
		Title:    title,
		Start:    start,
		End:      start.Add(duration),
		Location: stringArg(args, "location"),
		Notes:    stringArg(args, "notes"),
	}
	id, err := t.Store.CreateEvent(ctx, rctx.UserID, event)
	if err != nil {
		return nil, storeErr("could not save the event", err)
	}
	return map[string]any{
		"event_id": id,
		"title":    event.Title,
		"start":    event.Start.Format(time.RFC3339),
		"end":      event.End.Format(time.RFC3339),
	}, nil
}
