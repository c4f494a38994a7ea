package planner

import "time"

// WeekStart returns midnight UTC of the Monday of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// GetNextMonday returns the Monday of the week following t.
func GetNextMonday(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 7)
}
