package tooling

import (
	"context"
	"fmt"
	"time"

	"spellcast/internal/domain"
)

// clockNow is the clock used by queryTime; tests may replace it.
var clockNow = time.Now

// QueryTimeTool returns the queryTime descriptor: the current time as
// HH:MM:SS, optionally in a named IANA time zone.
func QueryTimeTool() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        "queryTime",
		Description: "Returns the current time as HH:MM:SS",
		Args: []domain.ArgSpec{
			{Name: "zone", Description: "IANA time zone such as Europe/Berlin; local time when omitted"},
		},
		Func: queryTime,
	}
}

// QueryDateTool returns the queryDate descriptor: today's date as YYYY-MM-DD with the weekday.
func QueryDateTool() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        "queryDate",
		Description: "Returns today's date as YYYY-MM-DD followed by the weekday",
		Args: []domain.ArgSpec{
			{Name: "zone", Description: "IANA time zone; local time when omitted"},
		},
		Func: func(ctx context.Context, args []string) (string, error) {
			now, err := zonedNow("queryDate", args)
			if err != nil {
				return "", err
			}
			return now.Format("2006-01-02 Monday"), nil
		},
	}
}

func queryTime(ctx context.Context, args []string) (string, error) {
	now, err := zonedNow("queryTime", args)
	if err != nil {
		return "", err
	}
	return now.Format("15:04:05"), nil
}

func zonedNow(tool string, args []string) (time.Time, error) {
	if err := checkArgs(tool, args, 0, 1); err != nil {
		return time.Time{}, err
	}
	now := clockNow()
	if zone := optional(args, 0, ""); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown time zone %q", zone)
		}
		now = now.In(loc)
	}
	return now, nil
}
