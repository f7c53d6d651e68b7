// Package retryflow implements the per-attempt outcome state machine that
// decides, after each failed upstream call, whether the dispatcher should
// wait and retry the same provider, fall through to the next candidate in
// the attempt list, or give up. There is no equivalent component in the
// gateway this was adapted from; it is engineered directly from the
// documented state machine, following the pack's conventions for
// injectable clocks and randomness (see Gomez12-tokenrouter's
// ProviderHealthChecker) so behavior is deterministically testable.
package retryflow

import (
	"math/rand"
	"time"

	"github.com/chronicle-run/chronicle/internal/codec"
	"github.com/chronicle-run/chronicle/internal/domain"
)

// GrowthKind selects how backoff grows between attempts against the same
// provider.
type GrowthKind string

const (
	GrowthConstant    GrowthKind = "constant"
	GrowthExponential GrowthKind = "exponential"
	GrowthAdditive    GrowthKind = "additive"
)

// Policy is the resolved (defaults-merged) retry/backoff configuration for
// one call.
type Policy struct {
	MaxTries                       int
	InitialBackoff                 time.Duration
	MaxBackoff                     time.Duration
	Jitter                         time.Duration
	Growth                         GrowthKind
	GrowthMultiplier                float64
	GrowthAmount                    time.Duration
	FailIfRateLimitExceedsMaxBackoff bool

	// Intn is the jitter randomness source; overridden in tests.
	Intn func(n int) int
}

// DefaultPolicy matches spec defaults: initial 500ms, multiplier 2,
// max 5000ms, jitter 100ms, max_tries 4.
func DefaultPolicy() Policy {
	return Policy{
		MaxTries:         4,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       5000 * time.Millisecond,
		Jitter:           100 * time.Millisecond,
		Growth:           GrowthExponential,
		GrowthMultiplier: 2,
		Intn:             rand.Intn,
	}
}

// Merge overlays request-supplied overrides (zero fields mean "use default")
// onto the default policy.
func Merge(base Policy, opts domain.RetryOptions) Policy {
	p := base
	if opts.MaxTries > 0 {
		p.MaxTries = opts.MaxTries
	}
	if opts.InitialBackoffMS > 0 {
		p.InitialBackoff = time.Duration(opts.InitialBackoffMS) * time.Millisecond
	}
	if opts.MaxBackoffMS > 0 {
		p.MaxBackoff = time.Duration(opts.MaxBackoffMS) * time.Millisecond
	}
	if opts.JitterMS > 0 {
		p.Jitter = time.Duration(opts.JitterMS) * time.Millisecond
	}
	if opts.GrowthKind != "" {
		p.Growth = GrowthKind(opts.GrowthKind)
	}
	if opts.GrowthMultiplier > 0 {
		p.GrowthMultiplier = opts.GrowthMultiplier
	}
	if opts.GrowthAmountMS > 0 {
		p.GrowthAmount = time.Duration(opts.GrowthAmountMS) * time.Millisecond
	}
	if opts.FailIfRateLimitExceedsMaxBackoff {
		p.FailIfRateLimitExceedsMaxBackoff = true
	}
	return p
}

// Backoff computes the delay before retry attempt i (0-indexed: i=0 is the
// delay before the second attempt against the same provider), clamped to
// MaxBackoff and with uniform jitter in [0, Jitter] added.
func (p Policy) Backoff(i int) time.Duration {
	var d time.Duration
	switch p.Growth {
	case GrowthConstant:
		d = p.InitialBackoff
	case GrowthAdditive:
		d = p.InitialBackoff + time.Duration(i)*p.GrowthAmount
	default: // exponential
		mult := p.GrowthMultiplier
		if mult <= 0 {
			mult = 2
		}
		d = p.InitialBackoff
		for n := 0; n < i; n++ {
			d = time.Duration(float64(d) * mult)
		}
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		intn := p.Intn
		if intn == nil {
			intn = rand.Intn
		}
		d += time.Duration(intn(int(p.Jitter) + 1))
	}
	return d
}

// Action is what the dispatcher should do after an attempt's Outcome.
type Action int

const (
	ActionSuccess Action = iota
	ActionWait
	ActionNextProvider
	ActionFail
)

// Decision is the state machine's verdict for one attempt.
type Decision struct {
	Action         Action
	Delay          time.Duration
	WasRateLimited bool
}

// State tracks per-provider try counts across the lifetime of one call.
type State struct {
	policy        Policy
	providerIdx   int
	triesThisProv int
	numProviders  int
}

func NewState(policy Policy, numProviders int) *State {
	return &State{policy: policy, numProviders: numProviders}
}

// ProviderIndex is the current candidate's index into the attempt list.
func (s *State) ProviderIndex() int { return s.providerIdx }

// Success records the terminal successful outcome.
func (s *State) Success() Decision { return Decision{Action: ActionSuccess} }

// Next applies the outcome of the most recent attempt and returns what to
// do next. Call it once per failed attempt, in order.
func (s *State) Next(outcome codec.Outcome) Decision {
	switch outcome.Kind {
	case codec.OutcomeTerminal:
		return Decision{Action: ActionFail}

	case codec.OutcomeRateLimited:
		retryAfter := time.Duration(outcome.RetryAfterMS) * time.Millisecond
		hasMoreProviders := s.providerIdx+1 < s.numProviders
		if hasMoreProviders && s.policy.FailIfRateLimitExceedsMaxBackoff && retryAfter > s.policy.MaxBackoff {
			return s.advanceProvider(true)
		}
		delay := retryAfter
		if delay > s.policy.MaxBackoff {
			delay = s.policy.MaxBackoff
		}
		return Decision{Action: ActionWait, Delay: delay, WasRateLimited: true}

	case codec.OutcomeRetryable:
		if s.triesThisProv+1 < s.policy.MaxTries {
			delay := s.policy.Backoff(s.triesThisProv)
			s.triesThisProv++
			return Decision{Action: ActionWait, Delay: delay}
		}
		return s.advanceProvider(false)

	default:
		return Decision{Action: ActionFail}
	}
}

func (s *State) advanceProvider(wasRateLimited bool) Decision {
	s.providerIdx++
	s.triesThisProv = 0
	if s.providerIdx >= s.numProviders {
		return Decision{Action: ActionFail, WasRateLimited: wasRateLimited}
	}
	return Decision{Action: ActionNextProvider, WasRateLimited: wasRateLimited}
}
