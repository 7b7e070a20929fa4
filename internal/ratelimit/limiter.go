// Package ratelimit paces upstream calls per provider, retries rate-limit
// rejections with a linear cool-down, and gates the quota-constrained
// provider against a shared per-cycle call budget.
package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Provider identifies an upstream data source.
type Provider string

const (
	// FinMind is quota-constrained: calls are counted against the Budget.
	FinMind Provider = "finmind"
	// Yahoo has no queryable quota.
	Yahoo Provider = "yahoo"
)

// Delay is the uniform interval Wait draws from.
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// Tiers holds the pacing interval per provider and authentication state.
type Tiers struct {
	Unconstrained Delay
	Authenticated Delay
	Anonymous     Delay
}

// DefaultTiers space anonymous FinMind calls the widest and Yahoo calls the
// narrowest.
var DefaultTiers = Tiers{
	Unconstrained: Delay{Min: 800 * time.Millisecond, Max: 1500 * time.Millisecond},
	Authenticated: Delay{Min: 1500 * time.Millisecond, Max: 2500 * time.Millisecond},
	Anonymous:     Delay{Min: 4 * time.Second, Max: 6 * time.Second},
}

const (
	DefaultBackoffUnit = 10 * time.Second
	DefaultMaxRetries  = 3
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Limiter paces and retries calls to one provider.
type Limiter struct {
	provider      Provider
	authenticated bool
	delay         Delay
	backoffUnit   time.Duration
	maxRetries    int
	budget        *Budget
	sleep         Sleeper

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithTiers overrides the pacing tiers.
func WithTiers(t Tiers) Option {
	return func(l *Limiter) { l.delay = pickDelay(l.provider, l.authenticated, t) }
}

// WithSleeper replaces the blocking primitive, for tests.
func WithSleeper(s Sleeper) Option { return func(l *Limiter) { l.sleep = s } }

// WithBackoffUnit sets the per-attempt cool-down step.
func WithBackoffUnit(d time.Duration) Option { return func(l *Limiter) { l.backoffUnit = d } }

// WithMaxRetries sets how many times CallWithRetry invokes an operation.
func WithMaxRetries(n int) Option { return func(l *Limiter) { l.maxRetries = n } }

// WithSeed makes Wait durations reproducible.
func WithSeed(seed int64) Option { return func(l *Limiter) { l.rng = rand.New(rand.NewSource(seed)) } }

// New creates a limiter for provider. authenticated selects the narrower
// FinMind tier. budget may be nil, meaning unlimited.
func New(provider Provider, authenticated bool, budget *Budget, opts ...Option) *Limiter {
	l := &Limiter{
		provider:      provider,
		authenticated: authenticated,
		backoffUnit:   DefaultBackoffUnit,
		maxRetries:    DefaultMaxRetries,
		budget:        budget,
		sleep:         sleepCtx,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	l.delay = pickDelay(provider, authenticated, DefaultTiers)
	for _, o := range opts {
		o(l)
	}
	if l.budget == nil {
		l.budget = NewBudget()
	}
	return l
}

func pickDelay(p Provider, authenticated bool, t Tiers) Delay {
	switch {
	case p != FinMind:
		return t.Unconstrained
	case authenticated:
		return t.Authenticated
	default:
		return t.Anonymous
	}
}

// Provider returns the provider this limiter paces.
func (l *Limiter) Provider() Provider { return l.provider }

// Delay returns the configured pacing interval.
func (l *Limiter) Delay() Delay { return l.delay }

// Wait blocks for a duration drawn uniformly from the pacing interval.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.sleep(ctx, l.nextDelay())
}

func (l *Limiter) nextDelay() time.Duration {
	span := l.delay.Max - l.delay.Min
	if span <= 0 {
		return l.delay.Min
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay.Min + time.Duration(l.rng.Int63n(int64(span)+1))
}

// Backoff blocks for attempt times the backoff unit after a rate-limit
// rejection.
func (l *Limiter) Backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt) * l.backoffUnit
	log.WithField("provider", l.provider).Warnf("rate limited, cooling down for %s", d)
	return l.sleep(ctx, d)
}

func (l *Limiter) quotaBound() bool { return l.provider == FinMind }

// Afford returns ErrBudgetExhausted when the limiter is quota-bound and
// fewer than n calls are left. Nothing is reserved.
func (l *Limiter) Afford(n int) error {
	if !l.quotaBound() {
		return nil
	}
	if left, limited := l.budget.Remaining(); limited && left < n {
		return ErrBudgetExhausted
	}
	return nil
}

// CallWithRetry invokes op through l. For the quota-constrained provider the
// budget is checked first and ErrBudgetExhausted returned without calling op.
// Rate-limit rejections are retried after Backoff while attempts remain; any
// other error is returned unchanged after a single attempt. ok is false with
// a nil error when every attempt was rate limited: the caller should skip
// and try again on a later pass. A successful FinMind call consumes one unit
// of budget.
func CallWithRetry[T any](ctx context.Context, l *Limiter, op func(context.Context) (T, error)) (result T, ok bool, err error) {
	var zero T
	if l.quotaBound() {
		if err := l.budget.reserve(); err != nil {
			return zero, false, err
		}
		defer func() {
			if !ok {
				l.budget.refund()
			}
		}()
	}

	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, true, nil
		}
		if !IsRateLimited(err) {
			return zero, false, err
		}
		if attempt < l.maxRetries {
			if err := l.Backoff(ctx, attempt); err != nil {
				return zero, false, err
			}
		}
	}
	log.WithField("provider", l.provider).Warnf("still rate limited after %d attempts, giving up", l.maxRetries)
	return zero, false, nil
}

// IsRateLimited reports whether err is a "too many requests" rejection. A
// structured status code is preferred; otherwise the message is searched for
// "429".
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		return sc.HTTPStatus() == 429
	}
	return strings.Contains(err.Error(), "429")
}
