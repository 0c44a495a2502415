package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// MaxAttempts is the number of generation calls made before giving up.
const MaxAttempts = 3

// Fixed wait before retrying a failure that is not a rate limit.
const otherBackoff = time.Second

// User-facing messages for terminal failures.
const (
	MsgQuotaExceeded = "Limite de uso da API de IA excedido. Tente novamente mais tarde."
	msgInternalError = "Erro interno ao gerar o relatório: %v"
)

// Kind classifies a failed generation attempt.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindOther       Kind = "other"
)

// Generator is the remote text-generation capability.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Classifier maps a Generator error to a Kind.
type Classifier func(error) Kind

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Failure is returned once every attempt has failed. Status is the HTTP
// status to report to the caller: 429 for rate limits, 500 otherwise.
type Failure struct {
	Kind          Kind
	Status        int
	Message       string
	Attempts      int
	RateLimitHits int
	Err           error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s) (%s): %v", f.Attempts, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is a successful generation.
type Result struct {
	Text          string
	Attempts      int
	RateLimitHits int
	Waits         []time.Duration
}

// RetryConfig holds the dependencies of a Retryer.
type RetryConfig struct {
	Model    string
	Classify Classifier

	// Optional; defaults are a context-aware timer and math/rand/v2.
	Sleep  Sleeper
	Jitter func() float64

	Metrics  *Metrics
	EventBus *EventBus
	Logger   *slog.Logger
}

// Retryer calls a Generator with bounded retries.
//
// Rate-limit failures back off exponentially with jitter; any other failure
// waits a fixed second. Waits happen on the caller's goroutine, so only the
// request being retried is held up.
type Retryer struct {
	gen Generator
	cfg RetryConfig
}

// NewRetryer creates a new Retryer around gen.
func NewRetryer(gen Generator, cfg RetryConfig) *Retryer {
	if cfg.Classify == nil {
		cfg.Classify = func(error) Kind { return KindOther }
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retryer{gen: gen, cfg: cfg}
}

// Model returns the model identifier sent on every attempt.
func (r *Retryer) Model() string { return r.cfg.Model }

// Backoff returns the wait before the attempt following a failed attempt
// (0-based) of the given kind. jitter is expected in [0, 1).
func Backoff(kind Kind, attempt int, jitter float64) time.Duration {
	if kind != KindRateLimited {
		return otherBackoff
	}
	secs := math.Pow(2, float64(attempt)) + jitter
	return time.Duration(secs * float64(time.Second))
}

// Generate runs prompt through the Generator, retrying up to MaxAttempts.
// A terminal failure is returned as *Failure.
func (r *Retryer) Generate(ctx context.Context, requestID, prompt string) (Result, error) {
	res := Result{}
	start := time.Now()

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		res.Attempts = attempt + 1

		text, err := r.gen.Generate(ctx, r.cfg.Model, prompt)
		if err == nil {
			res.Text = text
			r.cfg.Metrics.RecordAttempt(OutcomeSuccess)
			r.publish(Event{Type: EventGenerated, RequestID: requestID, Attempt: attempt, DurationMs: time.Since(start).Milliseconds()})
			return res, nil
		}

		kind := r.cfg.Classify(err)
		if kind == KindRateLimited {
			res.RateLimitHits++
		}
		r.cfg.Metrics.RecordAttempt(Outcome(kind))
		r.cfg.Logger.Warn("generation attempt failed",
			"request_id", requestID,
			"attempt", attempt,
			"kind", kind,
			"err", err,
		)
		r.publish(Event{Type: EventAttemptFailed, RequestID: requestID, Attempt: attempt, Kind: kind, Error: err.Error()})

		if attempt == MaxAttempts-1 {
			return res, r.failure(requestID, kind, res, err)
		}

		wait := Backoff(kind, attempt, r.cfg.Jitter())
		res.Waits = append(res.Waits, wait)
		r.cfg.Metrics.RecordBackoff(kind, wait)
		r.publish(Event{Type: EventBackoff, RequestID: requestID, Attempt: attempt, Kind: kind, WaitMs: wait.Milliseconds()})

		if err := r.cfg.Sleep(ctx, wait); err != nil {
			// Only reachable when the caller cancels ctx.
			return res, r.failure(requestID, KindOther, res, err)
		}
	}

	// Unreachable: the loop returns on the last attempt.
	return res, r.failure(requestID, KindOther, res, fmt.Errorf("no attempts made"))
}

func (r *Retryer) failure(requestID string, kind Kind, res Result, err error) *Failure {
	attempts := res.Attempts
	f := &Failure{Kind: kind, Attempts: attempts, RateLimitHits: res.RateLimitHits, Err: err}
	if kind == KindRateLimited {
		f.Status = http.StatusTooManyRequests
		f.Message = MsgQuotaExceeded
	} else {
		f.Status = http.StatusInternalServerError
		f.Message = fmt.Sprintf(msgInternalError, err)
	}
	r.cfg.Logger.Error("generation exhausted retries",
		"request_id", requestID,
		"attempts", attempts,
		"kind", kind,
		"status", f.Status,
		"err", err,
	)
	r.publish(Event{Type: EventFailed, RequestID: requestID, Attempt: attempts - 1, Kind: kind, Error: err.Error()})
	return f
}

func (r *Retryer) publish(e Event) {
	if r.cfg.EventBus == nil {
		return
	}
	e.Timestamp = time.Now()
	e.Model = r.cfg.Model
	r.cfg.EventBus.Publish(e)
}

// SleepContext blocks for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
