package session

// ExpiryPolicy decides when warning and time-up callbacks fire. Each
// threshold fires at most once per session, keyed by the threshold value
// rather than an exact tick, so a coarse reconciliation jump (say 11
// minutes straight to 9) still produces exactly one 10-minute warning.
type ExpiryPolicy struct {
	thresholds []int
	fired      map[int]bool
	timeUpDone bool

	onWarning func(minutesLeft int)
	onTimeUp  func()
}

// NewExpiryPolicy creates a policy with the given remaining-minutes
// thresholds. Callbacks may be nil.
func NewExpiryPolicy(thresholds []int, onWarning func(int), onTimeUp func()) *ExpiryPolicy {
	p := &ExpiryPolicy{
		thresholds: thresholds,
		onWarning:  onWarning,
		onTimeUp:   onTimeUp,
	}
	p.Reset(nil)
	return p
}

// Reset re-arms the policy for a new session. Thresholds that cover the
// quiz's whole duration are pre-suppressed: a "10 minutes remaining"
// warning at the start of a 10-minute quiz tells the participant nothing.
func (p *ExpiryPolicy) Reset(durationMinutes *int) {
	p.fired = make(map[int]bool, len(p.thresholds))
	p.timeUpDone = false
	if durationMinutes == nil {
		return
	}
	for _, t := range p.thresholds {
		if t >= *durationMinutes {
			p.fired[t] = true
		}
	}
}

// Observe evaluates the policy against the current effective remaining
// time. A nil remaining (untimed quiz) never fires anything. active
// gates the time-up callback so an already paused or terminal session
// reaching zero by reconciliation does not trigger auto-submission twice.
func (p *ExpiryPolicy) Observe(remainingSeconds *int, active bool) {
	if remainingSeconds == nil {
		return
	}
	remaining := *remainingSeconds

	minutesLeft := ceilMinutes(remaining)
	for _, t := range p.thresholds {
		if p.fired[t] {
			continue
		}
		if minutesLeft <= t {
			p.fired[t] = true
			if remaining > 0 && p.onWarning != nil {
				p.onWarning(t)
			}
		}
	}

	if remaining == 0 && active && !p.timeUpDone {
		p.timeUpDone = true
		if p.onTimeUp != nil {
			p.onTimeUp()
		}
	}
}

// TimeUpFired reports whether the time-up callback has already run.
func (p *ExpiryPolicy) TimeUpFired() bool {
	return p.timeUpDone
}

func ceilMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
