package verify

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
)

// Layouts tried in order before falling back to the general-purpose parser.
var cronLayouts = []string{
	"15:04:05.000 UTC Mon Jan 2 2006", // 08:59:34.021 UTC Thu Nov 20 2025
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"20060102 15:04:05",
	"02-01-2006 15:04:05",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04:05 PM",
}

// ToAppletCron converts a free-text date-time string into the five-field
// event-applet cron format "minute hour day month weekday", where weekday 0 is
// Monday. Unparseable input is a hard error: the calling operation must fail
// rather than schedule an install on a nonsensical time.
func ToAppletCron(dateTime string) (string, error) {
	var parsed time.Time
	var ok bool

	for _, layout := range cronLayouts {
		if t, err := time.Parse(layout, dateTime); err == nil {
			parsed, ok = t, true
			break
		}
	}

	if !ok {
		t, err := dateparse.ParseAny(dateTime)
		if err != nil {
			return "", fmt.Errorf("unable to parse datetime string %q: %w", dateTime, err)
		}
		parsed = t
	}

	// time.Weekday counts from Sunday; the applet cron field counts from Monday.
	weekday := (int(parsed.Weekday()) + 6) % 7

	return fmt.Sprintf("%d %d %d %d %d",
		parsed.Minute(), parsed.Hour(), parsed.Day(), int(parsed.Month()), weekday), nil
}
