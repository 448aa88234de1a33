package session

import "github.com/quizdesk/quizdesk-backend/internal/model"

// EffectiveRemaining derives the UI-facing countdown value from the last
// server-confirmed snapshot and the seconds ticked locally since that
// snapshot. It is a pure function of its inputs: the two sources are never
// merged destructively, so a reconciliation landing between ticks cannot
// be clobbered by a stale running total.
//
// Returns nil for untimed quizzes. Never returns a negative value.
func EffectiveRemaining(snapshot *model.SessionSnapshot, localElapsedDelta int) *int {
	if snapshot == nil || snapshot.RemainingTimeSeconds == nil {
		return nil
	}
	remaining := *snapshot.RemainingTimeSeconds - localElapsedDelta
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// EffectiveTimeSpent is the optimistic elapsed counter: the confirmed
// server value plus local ticks since the last sync. It may run ahead of
// the authority between reconciliations but is never treated as
// authoritative.
func EffectiveTimeSpent(snapshot *model.SessionSnapshot, localElapsedDelta int) int {
	if snapshot == nil {
		return localElapsedDelta
	}
	return snapshot.TimeSpentSeconds + localElapsedDelta
}
