package model

import "time"

// Market timestamps are kept in exchange-local time. The exchange calendar
// for US equities is eastern.
var Eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Day truncates t to midnight in exchange-local time.
func Day(t time.Time) time.Time {
	local := t.In(Eastern)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Eastern)
}

// Today returns the current exchange-local day.
func Today() time.Time {
	return Day(time.Now())
}
