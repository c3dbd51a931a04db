package collections

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// Outcome is where a polling run ended up.
type Outcome string

const (
	// OutcomeSuccessful and OutcomeFailed mirror the platform's
	// terminal statuses.
	OutcomeSuccessful Outcome = "SUCCESSFUL"
	OutcomeFailed     Outcome = "FAILED"
	// OutcomeTimedOut means the collection was still pending when the
	// polling budget ran out.
	OutcomeTimedOut Outcome = "TIMED_OUT"
	// OutcomeAborted means too many consecutive status queries failed.
	OutcomeAborted Outcome = "ABORTED"
)

// Poller defaults. The schedule is a fixed interval, no backoff.
const (
	DefaultPollInterval     = 5 * time.Second
	DefaultPollTimeout      = 10 * time.Minute
	DefaultMaxTransientPoll = 3
)

// StatusFetcher is the one Client capability the poller needs.
type StatusFetcher interface {
	GetStatus(ctx context.Context, referenceID string) (Status, error)
}

// Poller drives repeated status queries for a collection until it
// reaches a terminal outcome. It holds no mutable state across runs
// and is safe for concurrent use.
type Poller struct {
	client       StatusFetcher
	interval     time.Duration
	timeout      time.Duration
	maxTransient int
	logger       *slog.Logger
}

// NewPoller builds a poller over the given client. Non-positive
// parameters fall back to the package defaults.
func NewPoller(logger *slog.Logger, client StatusFetcher, interval, timeout time.Duration, maxTransient int) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if maxTransient <= 0 {
		maxTransient = DefaultMaxTransientPoll
	}

	return &Poller{
		client:       client,
		interval:     interval,
		timeout:      timeout,
		maxTransient: maxTransient,
		logger:       logger.With(slog.String("component", "poller")),
	}
}

// Poll queries the collection's status every interval until it is
// Successful or Failed, the timeout elapses (OutcomeTimedOut), or
// maxTransient consecutive queries fail (OutcomeAborted, returned
// together with the last error). Pending and Unknown both keep the
// loop going; the consecutive-failure counter resets on any answer
// from the platform. The timeout is measured from the first attempt.
// Cancelling ctx is observed between attempts and during the wait, so
// cancellation latency is bounded by one interval.
func (p *Poller) Poll(ctx context.Context, referenceID string) (Outcome, error) {
	logger := p.logger.With(slog.String("reference_id", referenceID))

	start := time.Now()
	consecutive := 0

	// Start with a stopped, drained timer; every wait arms it anew.
	timer := time.NewTimer(p.interval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Since(start) >= p.timeout && attempt > 1 {
			logger.Info("polling timed out", slog.Int("attempts", attempt-1))
			return OutcomeTimedOut, nil
		}

		status, err := p.client.GetStatus(ctx, referenceID)
		if err != nil {
			consecutive++
			logger.Warn("status query failed",
				slog.Int("consecutive_failures", consecutive),
				"err", err,
			)
			if consecutive >= p.maxTransient {
				return OutcomeAborted, err
			}
		} else {
			consecutive = 0
			switch status {
			case StatusSuccessful:
				return OutcomeSuccessful, nil
			case StatusFailed:
				return OutcomeFailed, nil
			default:
				// Pending and Unknown: not conclusive, keep polling.
			}
		}

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}
