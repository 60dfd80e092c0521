package pulsefeed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_PollWritesCoercedSample(t *testing.T) {
	exec := NewPoolExecutor(4, testLogger())
	defer exec.Shutdown()

	e, err := NewEntity("db-1", WithEntityLogger(testLogger()), WithEntityExecutor(exec))
	require.NoError(t, err)
	f, err := NewFeed(e, "stats")
	require.NoError(t, err)

	cfg := NewPollConfig[any](intAttr, 20*time.Millisecond).MustBuildPoll()
	require.NoError(t, AddPoll(f, func(context.Context) (any, error) { return 42, nil }, cfg))

	require.NoError(t, f.Start())
	defer func() {
		_ = f.Stop()
		f.Wait()
	}()

	require.Eventually(t, func() bool {
		v, ok := Get(e, intAttr)
		return ok && v == 42
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFeed_TransportErrorsLeaveAttributeAlone(t *testing.T) {
	e, f, exec := newManualFeed(t, nil)
	Set(e, intAttr, 7)

	var calls atomic.Int32
	cfg := NewPollConfig[int](intAttr, time.Second).MustBuildPoll()
	require.NoError(t, AddPoll(f, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("dial tcp: connection refused")
	}, cfg))
	require.NoError(t, f.Start())

	for range 3 {
		assert.NotPanics(t, exec.tick)
	}

	assert.Equal(t, int32(3), calls.Load())
	v, _ := Get(e, intAttr)
	assert.Equal(t, 7, v)
	assert.True(t, f.IsActivated())
	assert.True(t, f.Poller().IsRunning())
}

func TestFeed_FailureWithoutHandlerNeverWritesSample(t *testing.T) {
	e, f, exec := newManualFeed(t, nil)

	cfg := NewPollConfig[string](stringAttr, time.Second).
		SuccessWhen(func(s string) bool { return s != "ERROR" }).
		MustBuildPoll()
	require.NoError(t, AddPoll(f, constant("ERROR"), cfg))
	require.NoError(t, f.Start())

	exec.tick()
	exec.tick()

	_, ok := Get(e, stringAttr)
	assert.False(t, ok)
}

func TestFeed_Lifecycle(t *testing.T) {
	_, f, _ := newManualFeed(t, nil)
	assert.Equal(t, FeedCreated, f.State())

	assert.ErrorIs(t, f.Stop(), ErrInvalidState, "stop before start")
	assert.ErrorIs(t, f.Resume(), ErrInvalidState, "resume before start")

	require.NoError(t, f.Start())
	assert.Equal(t, FeedActivated, f.State())
	assert.ErrorIs(t, f.Start(), ErrInvalidState, "double start")

	require.NoError(t, f.Suspend())
	assert.Equal(t, FeedSuspended, f.State())
	assert.False(t, f.IsActivated())
	assert.ErrorIs(t, f.Suspend(), ErrInvalidState)

	require.NoError(t, f.Resume())
	assert.True(t, f.IsActivated())

	require.NoError(t, f.Stop())
	assert.Equal(t, FeedDeactivated, f.State())

	// a stopped feed can be started again
	require.NoError(t, f.Start())
	require.NoError(t, f.Stop())
}

func TestFeed_SuspendPausesSampling(t *testing.T) {
	_, f, exec := newManualFeed(t, nil)

	h := &countingHandler[int]{}
	require.NoError(t, Schedule(f.Poller(), constant(1), PollHandler[int](h), time.Second))
	require.NoError(t, f.Start())

	exec.tick()
	require.NoError(t, f.Suspend())
	exec.tick()
	exec.tick()
	assert.Equal(t, int32(1), h.success.Load())

	require.NoError(t, f.Resume())
	exec.tick()
	assert.Equal(t, int32(2), h.success.Load())

	// a suspended feed still stops cleanly
	require.NoError(t, f.Suspend())
	require.NoError(t, f.Stop())
}

func TestFeed_StopOrdering(t *testing.T) {
	var order []string
	var activeInPreStop, pollerRunningInPostStop bool

	_, f, _ := newManualFeed(t, nil,
		WithPreStop(func(f *Feed) {
			order = append(order, "preStop")
			activeInPreStop = f.IsActivated()
		}),
		WithPostStop(func(f *Feed) {
			order = append(order, "postStop")
			pollerRunningInPostStop = f.Poller().IsRunning()
		}),
	)

	require.NoError(t, f.Start())
	require.NoError(t, f.Stop())

	assert.Equal(t, []string{"preStop", "postStop"}, order)
	assert.False(t, activeInPreStop, "feed is marked deactivated before PreStop")
	assert.False(t, pollerRunningInPostStop, "poller is stopped before PostStop")
}

func TestFeed_PreStartRunsOnce(t *testing.T) {
	var prepared atomic.Int32
	h := &countingHandler[int]{}

	_, f, exec := newManualFeed(t, nil, WithPreStart(func(f *Feed) error {
		prepared.Add(1)
		return Schedule(f.Poller(), constant(1), PollHandler[int](h), time.Second)
	}))

	for range 2 {
		require.NoError(t, f.Start())
		exec.tick()
		require.NoError(t, f.Stop())
	}

	assert.Equal(t, int32(1), prepared.Load())
	assert.Equal(t, int32(2), h.success.Load(), "jobs registered in PreStart survive restarts")
}

func TestFeed_PreStartErrorRevertsState(t *testing.T) {
	fail := true
	_, f, _ := newManualFeed(t, nil, WithPreStart(func(*Feed) error {
		if fail {
			return errors.New("client setup failed")
		}
		return nil
	}))

	err := f.Start()
	assert.ErrorContains(t, err, "pre-start")
	assert.Equal(t, FeedCreated, f.State())
	assert.False(t, f.Poller().IsRunning())

	fail = false
	require.NoError(t, f.Start())
	assert.True(t, f.IsActivated())
}

func TestFeed_PreStartErrorDiscardsItsJobs(t *testing.T) {
	attempts := 0
	_, f, _ := newManualFeed(t, nil, WithPreStart(func(f *Feed) error {
		attempts++
		cfg := NewPollConfig[int](intAttr, time.Second).MustBuildPoll()
		if err := AddPoll(f, func(context.Context) (int, error) { return 1, nil }, cfg); err != nil {
			return err
		}
		if err := AddOneOff(f, "warm cache", func(context.Context) error { return nil }); err != nil {
			return err
		}
		if attempts == 1 {
			return errors.New("client build failed")
		}
		return nil
	}))

	require.ErrorContains(t, f.Start(), "client build failed")
	oneOff, periodic := f.Poller().mark()
	assert.Zero(t, oneOff)
	assert.Zero(t, periodic)

	require.NoError(t, f.Start())
	oneOff, periodic = f.Poller().mark()
	assert.Equal(t, 1, oneOff)
	assert.Equal(t, 1, periodic)
}

func TestFeed_OneOffRunsOnEachStart(t *testing.T) {
	_, f, exec := newManualFeed(t, nil)

	var runs atomic.Int32
	require.NoError(t, AddOneOff(f, "warm cache", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	for range 2 {
		require.NoError(t, f.Start())
		exec.runOneOffs()
		require.NoError(t, f.Stop())
	}
	assert.Equal(t, int32(2), runs.Load())
}

func TestFeed_RegistrationAfterStartFails(t *testing.T) {
	_, f, _ := newManualFeed(t, nil)
	require.NoError(t, f.Start())

	cfg := NewPollConfig[int](intAttr, time.Second).MustBuildPoll()
	assert.ErrorIs(t, AddPoll(f, constant(1), cfg), ErrInvalidState)
}

func TestAddPolls_FansOutOneSample(t *testing.T) {
	e, f, exec := newManualFeed(t, nil)

	var samples atomic.Int32
	fn := func(context.Context) (string, error) {
		samples.Add(1)
		return "17", nil
	}

	asInt, err := NewSampleConfig[string](intAttr).Build()
	require.NoError(t, err)
	asString, err := NewSampleConfig[string](stringAttr).Build()
	require.NoError(t, err)

	require.NoError(t, AddPolls(f, fn, time.Second,
		PollHandler[string](NewAttributePollHandler(asInt, f)),
		PollHandler[string](NewAttributePollHandler(asString, f)),
	))
	assert.Error(t, AddPolls[string](f, fn, time.Second), "at least one handler")

	require.NoError(t, f.Start())
	exec.tick()

	n, _ := Get(e, intAttr)
	s, _ := Get(e, stringAttr)
	assert.Equal(t, 17, n)
	assert.Equal(t, "17", s)
	assert.Equal(t, int32(1), samples.Load())
}

func TestFeed_ConnectionCheck(t *testing.T) {
	var up atomic.Bool
	_, f, _ := newManualFeed(t, nil, WithConnectionCheck(up.Load))

	up.Store(true)
	assert.False(t, f.IsConnected(), "not connected before start")

	require.NoError(t, f.Start())
	assert.True(t, f.IsConnected())

	up.Store(false)
	assert.False(t, f.IsConnected())
}

func TestNewFeed_Validation(t *testing.T) {
	e, _ := newManualEntity(t, nil)

	_, err := NewFeed(e, "")
	assert.Error(t, err)

	_, err = NewFeed(e, "x", WithConnectionCheck(nil))
	assert.Error(t, err)

	a, err := NewFeed(e, "a")
	require.NoError(t, err)
	_, err = NewFeed(e, "a")
	assert.ErrorContains(t, err, "duplicate feed name")

	b, err := NewFeed(e, "b")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, []*Feed{a, b}, e.Feeds())

	got, ok := e.Feed("b")
	assert.True(t, ok)
	assert.Same(t, b, got)
}
