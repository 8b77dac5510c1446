package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/observability"
	"github.com/next-trace/scg-event-bus/retry"
)

type fakeMetrics struct {
	observability.Noop
	outcomes []string
}

func (m *fakeMetrics) RecordRetry(_ context.Context, _ string, outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}

var rc = retry.Context{OperationName: "project_program", AggregateID: "pr-1", Backoff: time.Millisecond}

// script returns an op that yields errs in order, then nil.
func script(calls *int, errs ...error) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}

		return nil
	}
}

func TestDo_TransientThenSuccess(t *testing.T) {
	m := &fakeMetrics{}

	var calls int

	err := retry.Do(t.Context(), script(&calls, fmt.Errorf("write: %w", berr.ErrTransient)), rc, retry.WithMetrics(m))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{observability.RetryRecovered}, m.outcomes)
}

func TestDo_TransientTwiceReturnsSecondError(t *testing.T) {
	m := &fakeMetrics{}
	second := fmt.Errorf("second: %w", berr.ErrTransient)

	var calls int

	err := retry.Do(t.Context(), script(&calls, berr.ErrTransient, second), rc, retry.WithMetrics(m))

	assert.Same(t, second, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{observability.RetryExhausted}, m.outcomes)
}

func TestDo_AlreadyAppliedIsSuccessWithoutRetry(t *testing.T) {
	var calls int

	err := retry.Do(t.Context(), script(&calls, fmt.Errorf("insert: %w", berr.ErrAlreadyApplied)), rc)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_AlreadyAppliedOnRetry(t *testing.T) {
	var calls int

	err := retry.Do(t.Context(), script(&calls, berr.ErrTransient, &pgconn.PgError{Code: "23505"}), rc)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_FatalNotRetriedAndUntouched(t *testing.T) {
	m := &fakeMetrics{}
	fatal := errors.New("invalid program")

	var calls int

	err := retry.Do(t.Context(), script(&calls, fatal), rc, retry.WithMetrics(m))

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{observability.RetryFailed}, m.outcomes)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	var calls int

	op := func(context.Context) error {
		calls++
		cancel()

		return berr.ErrTransient
	}

	err := retry.Do(ctx, op, retry.Context{OperationName: "slow", Backoff: time.Hour})

	assert.ErrorIs(t, err, berr.ErrTransient)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomClassifier(t *testing.T) {
	flaky := errors.New("flaky")

	var calls int

	classify := func(err error) retry.Class {
		if errors.Is(err, flaky) {
			return retry.Transient
		}

		return retry.Fatal
	}

	require.NoError(t, retry.Do(t.Context(), script(&calls, flaky), rc, retry.WithClassifier(classify)))
	assert.Equal(t, 2, calls)
}

func TestValue(t *testing.T) {
	var calls int

	v, err := retry.Value(t.Context(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, context.DeadlineExceeded
		}

		return 42, nil
	}, rc)

	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = retry.Value(t.Context(), func(context.Context) (int, error) {
		return 7, berr.ErrAlreadyApplied
	}, rc)

	require.NoError(t, err)
	assert.Zero(t, v)
}

type markedTransient struct{}

func (markedTransient) Error() string   { return "lock timeout" }
func (markedTransient) Transient() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"sentinel transient", fmt.Errorf("x: %w", berr.ErrTransient), retry.Transient},
		{"deadline", context.DeadlineExceeded, retry.Transient},
		{"marker interface", markedTransient{}, retry.Transient},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, retry.Transient},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, retry.Transient},
		{"connection exception", fmt.Errorf("q: %w", &pgconn.PgError{Code: "08006"}), retry.Transient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, retry.Transient},
		{"unique violation", &pgconn.PgError{Code: "23505"}, retry.AlreadyApplied},
		{"sentinel applied", berr.ErrAlreadyApplied, retry.AlreadyApplied},
		{"check violation", &pgconn.PgError{Code: "23514"}, retry.Fatal},
		{"plain", errors.New("boom"), retry.Fatal},
		{"canceled", context.Canceled, retry.Fatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retry.Classify(tc.err), tc.want.String())
		})
	}
}
