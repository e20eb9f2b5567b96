package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datapkg/pkg/config"
	"github.com/ajitpratap0/datapkg/pkg/errors"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from    State
		event   Event
		to      State
		illegal bool
	}{
		{StateInit, EventStart, StateRunning, false},
		{StateInit, EventStop, StateStopped, false},
		{StateRunning, EventStop, StateStopping, false},
		{StateRunning, EventComplete, StateCompleted, false},
		{StateRunning, EventFail, StateError, false},
		{StateStopping, EventComplete, StateStopped, false},
		{StateStopping, EventFail, StateError, false},
		{StateInit, EventComplete, StateInit, true},
		{StateCompleted, EventStart, StateCompleted, true},
		{StateStopped, EventStop, StateStopped, true},
		{StateError, EventComplete, StateError, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.from, tt.event), func(t *testing.T) {
			next, err := Next(tt.from, tt.event)
			assert.Equal(t, tt.to, next)
			if tt.illegal {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecuteFinalStates(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		j := New("ok", func(ctx context.Context) (Result[string], error) {
			return Result[string]{Value: "done"}, nil
		}, WithLogger(zaptest.NewLogger(t)))

		res, err := j.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "done", res.Value)
		assert.Equal(t, StateCompleted, j.State())
	})

	t.Run("nonzero exit", func(t *testing.T) {
		j := New("bad", func(ctx context.Context) (Result[int], error) {
			return Result[int]{ExitCode: 1}, nil
		}, WithLogger(zaptest.NewLogger(t)))

		res, err := j.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Equal(t, StateError, j.State())
	})

	t.Run("error maps exit code", func(t *testing.T) {
		j := New("denied", func(ctx context.Context) (Result[int], error) {
			return Result[int]{}, errors.New(errors.ErrorTypePermission, "NOT_AUTHORIZED")
		}, WithLogger(zaptest.NewLogger(t)))

		res, err := j.Execute(context.Background())
		require.Error(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, StateError, j.State())
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		j := New("boom", func(ctx context.Context) (Result[int], error) {
			panic("boom")
		}, WithLogger(zaptest.NewLogger(t)))

		_, err := j.Execute(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
		assert.Equal(t, StateError, j.State())
	})

	t.Run("execute twice", func(t *testing.T) {
		j := New("once", func(ctx context.Context) (Result[int], error) {
			return Result[int]{}, nil
		}, WithLogger(zaptest.NewLogger(t)))

		_, err := j.Execute(context.Background())
		require.NoError(t, err)
		_, err = j.Execute(context.Background())
		assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	})
}

func TestStopWhileRunning(t *testing.T) {
	started := make(chan struct{})
	j := New("cooperative", func(ctx context.Context) (Result[int], error) {
		close(started)
		<-ctx.Done()
		return Result[int]{}, nil
	}, WithLogger(zaptest.NewLogger(t)))

	var execErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, execErr = j.Execute(context.Background())
	}()
	<-started

	begin := time.Now()
	require.NoError(t, j.Stop(context.Background()))
	assert.Less(t, time.Since(begin), config.DefaultStopTimeout)

	wg.Wait()
	require.NoError(t, execErr)
	assert.Equal(t, StateStopped, j.State())
	assert.True(t, j.StopRequested())

	// stopping a terminal job is illegal
	assert.True(t, errors.IsType(j.Stop(context.Background()), errors.ErrorTypeInternal))
}

func TestStopIsBounded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	j := New("stubborn", func(ctx context.Context) (Result[int], error) {
		close(started)
		<-release
		return Result[int]{}, nil
	}, WithLogger(zaptest.NewLogger(t)), WithStopTimeout(50*time.Millisecond))

	go func() { _, _ = j.Execute(context.Background()) }()
	<-started

	begin := time.Now()
	err := j.Stop(context.Background())
	elapsed := time.Since(begin)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, config.DefaultStopTimeout)
	assert.Equal(t, StateStopping, j.State())

	// a second Stop only waits again
	err = j.Stop(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	close(release)
	<-j.Done()
	assert.Equal(t, StateStopped, j.State())
}

func TestStopHonoursCallerContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	j := New("slow", func(ctx context.Context) (Result[int], error) {
		close(started)
		<-release
		return Result[int]{}, nil
	}, WithLogger(zaptest.NewLogger(t)))
	defer func() {
		close(release)
		<-j.Done()
	}()

	go func() { _, _ = j.Execute(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, j.Stop(ctx), context.DeadlineExceeded)
}

func TestStopBeforeStart(t *testing.T) {
	var transitions []string
	j := New("never", func(ctx context.Context) (Result[int], error) {
		t.Fatal("work must not run")
		return Result[int]{}, nil
	}, WithLogger(zaptest.NewLogger(t)), WithListener(func(_ string, from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	}))

	require.NoError(t, j.Stop(context.Background()))
	assert.Equal(t, StateStopped, j.State())
	assert.Equal(t, []string{"INIT->STOPPED"}, transitions)

	_, err := j.Execute(context.Background())
	assert.Error(t, err)
}

func TestStopWithFailingExit(t *testing.T) {
	started := make(chan struct{})
	j := New("fails on stop", func(ctx context.Context) (Result[int], error) {
		close(started)
		<-ctx.Done()
		return Result[int]{ExitCode: 1}, nil
	}, WithLogger(zaptest.NewLogger(t)))

	go func() { _, _ = j.Execute(context.Background()) }()
	<-started
	require.NoError(t, j.Stop(context.Background()))
	assert.Equal(t, StateError, j.State())
}
