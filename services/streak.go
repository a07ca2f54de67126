package services

import (
	"time"

	"savegame-system/models"
)

// StreakState is a current/longest streak pair in days.
type StreakState struct {
	Current int
	Longest int
}

// CalendarDaysBetween counts whole calendar days from earlier to later, both
// read as local dates in loc. Times of day are ignored: 23:59 and 00:01 the
// next morning are one day apart.
func CalendarDaysBetween(later, earlier time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ly, lm, ld := later.In(loc).Date()
	ey, em, ed := earlier.In(loc).Date()
	a := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	b := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}

// NextStreak advances a streak for activity at now, given the most recent
// prior activity dates (newest first).
//
//	same day     -> unchanged
//	next day     -> +1
//	gap > 1 day  -> reset to 1
//
// With no prior activity the state is returned as is.
func NextStreak(state StreakState, recentDesc []time.Time, now time.Time, loc *time.Location) StreakState {
	if len(recentDesc) == 0 {
		return state
	}
	switch diff := CalendarDaysBetween(now, recentDesc[0], loc); {
	case diff <= 0:
	case diff == 1:
		state.Current++
	default:
		state.Current = 1
	}
	if state.Current > state.Longest {
		state.Longest = state.Current
	}
	return state
}

// UpdateStreak applies NextStreak to a user's stats in place and returns the new current streak.
func UpdateStreak(user *models.User, recentDesc []time.Time, now time.Time, loc *time.Location) int {
	next := NextStreak(StreakState{Current: user.CurrentStreak, Longest: user.LongestStreak}, recentDesc, now, loc)
	user.CurrentStreak = next.Current
	user.LongestStreak = next.Longest
	return next.Current
}

// openStreak makes sure a day with a verified save counts as at least a one-day streak.
func openStreak(s StreakState) StreakState {
	if s.Current < 1 {
		s.Current = 1
	}
	if s.Longest < s.Current {
		s.Longest = s.Current
	}
	return s
}
