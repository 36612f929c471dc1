package utils

import "time"

// DisplayZone is the zone used in user-facing messages.
const DisplayZone = "Asia/Dhaka"

// ToLocal converts t to the display zone, falling back to t's own zone.
func ToLocal(t time.Time) time.Time {
	loc, err := time.LoadLocation(DisplayZone)
	if err != nil {
		return t
	}
	return t.In(loc)
}

// FormatDateTime renders t for notification text.
func FormatDateTime(t time.Time) string {
	return ToLocal(t).Format("2006-01-02 15:04")
}
