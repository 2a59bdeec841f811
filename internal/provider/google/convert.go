package google

import (
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/calbridge/calbridge/internal/provider"
)

// toAPIEvent converts the provider-neutral event into the wire format.
// All-day events carry date-only start/end; timed events carry RFC3339
// instants. Back-reference ids ride in private extended properties.
func toAPIEvent(e *provider.Event) *calendar.Event {
	out := &calendar.Event{
		Id:          e.ID,
		Summary:     e.Summary,
		Description: e.Description,
		ColorId:     e.ColorID,
	}

	if e.AllDay {
		out.Start = &calendar.EventDateTime{Date: e.Start.Format("2006-01-02")}
		out.End = &calendar.EventDateTime{Date: e.End.Format("2006-01-02")}
	} else {
		out.Start = &calendar.EventDateTime{DateTime: e.Start.UTC().Format(time.RFC3339)}
		out.End = &calendar.EventDateTime{DateTime: e.End.UTC().Format(time.RFC3339)}
	}

	props := map[string]string{}
	if e.TaskRef != "" {
		props[taskRefProperty] = e.TaskRef
	}
	if e.ProjectRef != "" {
		props[projectRefProperty] = e.ProjectRef
	}
	if len(props) > 0 {
		out.ExtendedProperties = &calendar.EventExtendedProperties{Private: props}
	}

	return out
}

// fromAPIEvent converts a wire event into the provider-neutral form.
func fromAPIEvent(calendarID string, item *calendar.Event) provider.Event {
	e := provider.Event{
		ID:          item.Id,
		CalendarID:  calendarID,
		Summary:     item.Summary,
		Description: item.Description,
		Status:      item.Status,
		ColorID:     item.ColorId,
	}

	if item.Start != nil {
		if item.Start.Date != "" {
			e.AllDay = true
			e.Start, _ = time.ParseInLocation("2006-01-02", item.Start.Date, time.UTC)
		} else if item.Start.DateTime != "" {
			e.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		}
	}
	if item.End != nil {
		if item.End.Date != "" {
			e.End, _ = time.ParseInLocation("2006-01-02", item.End.Date, time.UTC)
		} else if item.End.DateTime != "" {
			e.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
		}
	}

	if item.Updated != "" {
		e.Updated, _ = time.Parse(time.RFC3339, item.Updated)
	}

	if item.ExtendedProperties != nil && item.ExtendedProperties.Private != nil {
		e.TaskRef = item.ExtendedProperties.Private[taskRefProperty]
		e.ProjectRef = item.ExtendedProperties.Private[projectRefProperty]
	}

	return e
}
