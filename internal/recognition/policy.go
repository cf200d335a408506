package recognition

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultRestartDelay       = 100 * time.Millisecond
	defaultRestartMaxDelay    = 5 * time.Second
	defaultRestartMaxAttempts = 5
	defaultRestartResetAfter  = 3 * time.Second
)

// Trigger names the session event that may cause an automatic restart.
type Trigger string

const (
	TriggerEnd      Trigger = "end"
	TriggerNoSpeech Trigger = "no-speech"
)

// RestartPolicy decides whether a session that stopped on its own is
// restarted while the user still wants to listen, and how quickly.
// MaxAttempts bounds consecutive restarts of runs that ended within
// ResetAfter of starting; a run that lasted longer refunds the budget.
type RestartPolicy struct {
	OnEnd       bool
	OnNoSpeech  bool
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	ResetAfter  time.Duration
}

// NoRestart treats every end of session as authoritative.
func NoRestart() RestartPolicy {
	return RestartPolicy{}
}

// AlwaysRestart restarts after both end and no-speech events.
func AlwaysRestart() RestartPolicy {
	return RestartPolicy{OnEnd: true, OnNoSpeech: true}.withDefaults()
}

// Applies reports whether the policy restarts after the given trigger.
func (p RestartPolicy) Applies(trigger Trigger) bool {
	switch trigger {
	case TriggerEnd:
		return p.OnEnd
	case TriggerNoSpeech:
		return p.OnNoSpeech
	default:
		return false
	}
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.Delay <= 0 {
		p.Delay = defaultRestartDelay
	}
	if p.MaxDelay < p.Delay {
		p.MaxDelay = defaultRestartMaxDelay
		if p.MaxDelay < p.Delay {
			p.MaxDelay = p.Delay
		}
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRestartMaxAttempts
	}
	if p.ResetAfter <= 0 {
		p.ResetAfter = defaultRestartResetAfter
	}
	return p
}

// restartBackoff bounds consecutive restart attempts. Delays grow
// exponentially without jitter. The budget resets once the session delivers
// results again or a run stays up for ResetAfter.
type restartBackoff struct {
	policy   RestartPolicy
	backoff  *backoff.ExponentialBackOff
	attempts int
}

func newRestartBackoff(policy RestartPolicy) *restartBackoff {
	policy = policy.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Delay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return &restartBackoff{policy: policy, backoff: b}
}

// Next returns the delay before the next attempt, or false when the attempt
// budget is spent.
func (r *restartBackoff) Next() (time.Duration, bool) {
	if r.attempts >= r.policy.MaxAttempts {
		return 0, false
	}
	r.attempts++
	delay := r.backoff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	return delay, true
}

func (r *restartBackoff) Reset() {
	r.attempts = 0
	r.backoff.Reset()
}

func (r *restartBackoff) Attempts() int {
	return r.attempts
}

// Settled reports whether a run that lasted ran counts as healthy, so the
// next restart starts a fresh budget.
func (r *restartBackoff) Settled(ran time.Duration) bool {
	return ran >= r.policy.ResetAfter
}
