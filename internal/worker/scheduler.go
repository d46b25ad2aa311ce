package worker

import (
	"context"
	"log/slog"
	"time"
)

// State is the position of one delivery in the retry state machine:
// Scheduled -> Attempting -> {Delivered | Exhausted}.
type State int

const (
	StateScheduled State = iota
	StateAttempting
	StateDelivered
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateAttempting:
		return "attempting"
	case StateDelivered:
		return "delivered"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Backoff computes the wait inserted after a failed attempt.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait after failed attempt n (1-based), i.e. before
// attempt n+1: min(Base * 2^(n-1), Max).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Attempter performs one HTTP attempt.
type Attempter interface {
	Attempt(ctx context.Context, req Request) Outcome
}

// Limiter throttles attempts per key. Admit returns zero when the attempt
// may proceed, or how long to wait before asking again. It must not block.
type Limiter interface {
	Admit(ctx context.Context, key string, limit int) time.Duration
}

// Job is one logical delivery: a (subscription, event, payload) triple.
type Job struct {
	TenantID           string
	Request            Request
	MaxAttempts        int
	RateLimitPerSecond int
}

// Result is the terminal disposition of a job.
type Result struct {
	State    State
	Attempts int
	Outcome  Outcome
}

// Recorder observes a job's attempts. It returns an identifier for the attempt
// record from AttemptStarted, empty if nothing was recorded.
type Recorder interface {
	AttemptStarted(ctx context.Context, job *Job, attempt int) string
	AttemptFinished(ctx context.Context, job *Job, recordID string, attempt int, outcome Outcome, final bool)
	DeliveryFinished(ctx context.Context, job *Job, result Result)
}

// Scheduler owns the attempt loop of every delivery. Each job advances one
// attempt per pool task; waits between attempts are timers, so no worker is
// held during backoff. Jobs share no mutable state.
type Scheduler struct {
	pool          *Pool
	attempter     Attempter
	recorder      Recorder
	limiter       Limiter
	backoff       Backoff
	throttleDelay time.Duration
	logger        *slog.Logger
}

type SchedulerOption func(*Scheduler)

// WithBackoff overrides the default 1s..30s backoff.
func WithBackoff(b Backoff) SchedulerOption {
	return func(s *Scheduler) { s.backoff = b }
}

// WithLimiter enables per-subscription rate limiting. Throttled attempts are
// deferred by the limiter's wait, never less than delay, without consuming an
// attempt number.
func WithLimiter(l Limiter, delay time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.limiter = l
		if delay > 0 {
			s.throttleDelay = delay
		}
	}
}

func NewScheduler(pool *Pool, attempter Attempter, recorder Recorder, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		pool:          pool,
		attempter:     attempter,
		recorder:      recorder,
		backoff:       DefaultBackoff(),
		throttleDelay: 250 * time.Millisecond,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule starts a delivery. It never blocks; ErrQueueFull or ErrPoolStopped
// is returned when the first attempt cannot be queued.
func (s *Scheduler) Schedule(job *Job) error {
	if job.MaxAttempts < 1 {
		job.MaxAttempts = 1
	}
	r := &run{s: s, job: job, state: StateScheduled}
	return s.pool.TrySubmit(r.step)
}

// run is the state of one delivery. Only one step of a run executes at a
// time; the next step is queued after the current one has decided.
type run struct {
	s       *Scheduler
	job     *Job
	state   State
	attempt int
}

func (r *run) step(ctx context.Context) {
	s := r.s
	job := r.job

	if s.limiter != nil && job.RateLimitPerSecond > 0 {
		if wait := s.limiter.Admit(ctx, job.Request.SubscriptionID, job.RateLimitPerSecond); wait > 0 {
			wait = max(wait, s.throttleDelay)
			s.logger.Debug("attempt throttled",
				"subscription_id", job.Request.SubscriptionID,
				"limit", job.RateLimitPerSecond,
				"retry_in", wait,
			)
			r.retryAfter(wait)
			return
		}
	}

	r.attempt++
	r.state = StateAttempting

	req := job.Request
	req.Attempt = r.attempt

	recordID := s.recorder.AttemptStarted(ctx, job, r.attempt)
	outcome := s.attempter.Attempt(ctx, req)

	final := outcome.Kind != RetryableFailure || r.attempt >= job.MaxAttempts
	s.recorder.AttemptFinished(ctx, job, recordID, r.attempt, outcome, final)

	switch {
	case outcome.Kind == Delivered:
		r.state = StateDelivered
	case final:
		r.state = StateExhausted
	default:
		r.state = StateScheduled
		delay := s.backoff.Delay(r.attempt)
		s.logger.Info("delivery will be retried",
			"subscription_id", job.Request.SubscriptionID,
			"event_type", job.Request.EventType,
			"attempt", r.attempt,
			"max_attempts", job.MaxAttempts,
			"retry_in_ms", delay.Milliseconds(),
			"reason", outcome.Reason,
		)
		r.retryAfter(delay)
		return
	}

	s.recorder.DeliveryFinished(ctx, job, Result{
		State:    r.state,
		Attempts: r.attempt,
		Outcome:  outcome,
	})
}

func (r *run) retryAfter(delay time.Duration) {
	if !r.s.pool.SubmitAfter(delay, r.step) {
		r.s.logger.Warn("retry suppressed, worker pool stopped",
			"subscription_id", r.job.Request.SubscriptionID,
			"event_type", r.job.Request.EventType,
			"attempt", r.attempt,
		)
	}
}
