package collections_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nugget-digital/momo/collections"
)

// statusFunc adapts a function to the StatusFetcher interface.
type statusFunc func(ctx context.Context, referenceID string) (collections.Status, error)

func (f statusFunc) GetStatus(ctx context.Context, referenceID string) (collections.Status, error) {
	return f(ctx, referenceID)
}

// scripted returns a fetcher that replays the given results in order,
// repeating the last one, and counts calls.
func scripted(calls *int32, results ...struct {
	status collections.Status
	err    error
}) statusFunc {
	var i int32
	return func(ctx context.Context, referenceID string) (collections.Status, error) {
		n := atomic.AddInt32(&i, 1)
		atomic.AddInt32(calls, 1)
		r := results[len(results)-1]
		if int(n) <= len(results) {
			r = results[n-1]
		}
		return r.status, r.err
	}
}

type step = struct {
	status collections.Status
	err    error
}

func TestPoll_TerminalAfterPending(t *testing.T) {
	var calls int32
	fetcher := scripted(&calls,
		step{status: collections.StatusPending},
		step{status: collections.StatusPending},
		step{status: collections.StatusSuccessful},
	)

	p := collections.NewPoller(nil, fetcher, 10*time.Millisecond, time.Minute, 3)

	outcome, err := p.Poll(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, collections.OutcomeSuccessful, outcome)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPoll_FailedIsTerminal(t *testing.T) {
	var calls int32
	fetcher := scripted(&calls, step{status: collections.StatusFailed})

	p := collections.NewPoller(nil, fetcher, 10*time.Millisecond, time.Minute, 3)

	outcome, err := p.Poll(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, collections.OutcomeFailed, outcome)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPoll_UnknownKeepsPolling(t *testing.T) {
	var calls int32
	fetcher := scripted(&calls,
		step{status: collections.StatusUnknown},
		step{status: collections.StatusPending},
		step{status: collections.StatusSuccessful},
	)

	p := collections.NewPoller(nil, fetcher, 5*time.Millisecond, time.Minute, 3)

	outcome, err := p.Poll(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, collections.OutcomeSuccessful, outcome)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPoll_TimedOut(t *testing.T) {
	var calls int32
	fetcher := scripted(&calls, step{status: collections.StatusPending})

	interval := 20 * time.Millisecond
	timeout := 50 * time.Millisecond

	p := collections.NewPoller(nil, fetcher, interval, timeout, 3)

	started := time.Now()
	outcome, err := p.Poll(context.Background(), "ref-1")
	elapsed := time.Since(started)

	require.NoError(t, err)
	require.Equal(t, collections.OutcomeTimedOut, outcome)
	require.GreaterOrEqual(t, elapsed, timeout)
	// Bounded by the timeout plus at most one extra interval (plus
	// scheduling slack).
	require.Less(t, elapsed, timeout+interval+30*time.Millisecond)
}

func TestPoll_AbortsAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	boom := errors.New("connection reset")
	fetcher := scripted(&calls, step{err: boom})

	p := collections.NewPoller(nil, fetcher, 5*time.Millisecond, time.Minute, 3)

	outcome, err := p.Poll(context.Background(), "ref-1")
	require.Equal(t, collections.OutcomeAborted, outcome)
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPoll_FailureCounterResets(t *testing.T) {
	var calls int32
	boom := errors.New("connection reset")
	fetcher := scripted(&calls,
		step{err: boom},
		step{err: boom},
		step{status: collections.StatusPending},
		step{err: boom},
		step{err: boom},
		step{status: collections.StatusSuccessful},
	)

	p := collections.NewPoller(nil, fetcher, time.Millisecond, time.Minute, 3)

	outcome, err := p.Poll(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, collections.OutcomeSuccessful, outcome)
	require.EqualValues(t, 6, atomic.LoadInt32(&calls))
}

func TestPoll_CancellationDuringWait(t *testing.T) {
	var calls int32
	fetcher := scripted(&calls, step{status: collections.StatusPending})

	// Long interval: cancellation must not wait it out.
	p := collections.NewPoller(nil, fetcher, 10*time.Second, time.Minute, 3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := p.Poll(ctx, "ref-1")
	elapsed := time.Since(started)

	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, elapsed, time.Second)
}

func TestPoll_CancelledBeforeFirstAttempt(t *testing.T) {
	var calls int32
	fetcher := scripted(&calls, step{status: collections.StatusPending})

	p := collections.NewPoller(nil, fetcher, time.Millisecond, time.Minute, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Poll(ctx, "ref-1")
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func ExamplePoller() {
	fetcher := statusFunc(func(ctx context.Context, referenceID string) (collections.Status, error) {
		return collections.StatusSuccessful, nil
	})

	p := collections.NewPoller(nil, fetcher, time.Millisecond, time.Second, 3)

	outcome, _ := p.Poll(context.Background(), "8f8c9f2e-0000-0000-0000-000000000000")
	fmt.Println(outcome)
	// Output: SUCCESSFUL
}
