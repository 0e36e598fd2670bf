package limiters

import "time"

// AttemptBudget caps consecutive failures of a per-account code check, such
// as second-factor or one-time login codes.
type AttemptBudget struct {
	Max int
}

// Exhausted reports whether failures has used up the budget. A zero Max
// disables the cap.
func (b AttemptBudget) Exhausted(failures int) bool {
	return b.Max > 0 && failures >= b.Max
}

// Cooldown suppresses a repeated request made within Window of the previous
// one.
type Cooldown struct {
	Window time.Duration
}

// Active reports whether a request made at last is still cooling down at now.
func (c Cooldown) Active(last, now time.Time) bool {
	if c.Window <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) < c.Window
}
