package service

import (
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// DisplayLayout is how timestamps are shown on the dashboard.
const DisplayLayout = "2006-01-02 15:04:05"

// DisplayClock converts stored UTC instants to the dashboard's fixed-offset wall clock.
// There is no daylight-saving handling; the offset is constant.
type DisplayClock struct {
	Offset time.Duration
}

// Format renders t shifted by the display offset.
func (d DisplayClock) Format(t time.Time) string {
	return t.UTC().Add(d.Offset).Format(DisplayLayout)
}

// Convert renders a raw stored timestamp. Text that does not parse is returned unchanged so
// one bad row does not fail a whole query.
func (d DisplayClock) Convert(raw string) string {
	ts, err := iso8601.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return d.Format(ts)
}
