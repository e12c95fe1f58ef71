package ps

import (
	"fmt"
	"testing"
	"time"

	"github.com/brennagh/mira/internal/ke"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadLifecycleRunsToCompletion(t *testing.T) {
	sys := newTestSystem(t, 1)
	p := sys.Processor(0)
	require.NoError(t, p.Boot())

	stop := make(chan struct{})
	go p.Run(stop, time.Millisecond)
	defer close(stop)

	done := make(chan struct{})
	th, err := CreateThread(sys.Stacks, 0, func(*Thread) { close(done) })
	require.NoError(t, err)
	QueueThread(p, th, false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("thread body never ran")
	}

	require.Eventually(t, func() bool { return th.State() == Terminated }, time.Second, time.Millisecond)
}

func TestYieldRequeuesUntilDone(t *testing.T) {
	sys := newTestSystem(t, 1)
	p := sys.Processor(0)
	require.NoError(t, p.Boot())

	stop := make(chan struct{})
	go p.Run(stop, time.Millisecond)
	defer close(stop)

	const rounds = 5
	done := make(chan int, 1)
	th, err := CreateThread(sys.Stacks, 0, func(th *Thread) {
		for i := 0; i < rounds; i++ {
			Yield(th)
		}
		done <- rounds
	})
	require.NoError(t, err)
	QueueThread(p, th, false)

	select {
	case n := <-done:
		assert.Equal(t, rounds, n)
	case <-time.After(2 * time.Second):
		t.Fatal("thread never completed its yield rounds")
	}
}

func TestDelayWakesAfterDeadline(t *testing.T) {
	sys := newTestSystem(t, 1)
	p := sys.Processor(0)
	require.NoError(t, p.Boot())

	stop := make(chan struct{})
	go p.Run(stop, time.Millisecond)
	defer close(stop)

	done := make(chan struct{})
	th, err := CreateThread(sys.Stacks, 0, func(th *Thread) {
		Delay(th, 3)
		close(done)
	})
	require.NoError(t, err)
	QueueThread(p, th, false)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("delayed thread never woke")
	}
}

func TestQueueThreadEventWakePlacesAtHead(t *testing.T) {
	sys := newTestSystem(t, 1)
	p := sys.Processor(0)
	require.NoError(t, p.Boot())

	a, err := CreateThread(sys.Stacks, 0, func(*Thread) {})
	require.NoError(t, err)
	b, err := CreateThread(sys.Stacks, 0, func(*Thread) {})
	require.NoError(t, err)

	QueueThread(p, a, false)
	QueueThread(p, b, true)

	front := p.Ready.PopFront()
	require.NotNil(t, front)
	assert.Same(t, b, front.Value)

	next := p.Ready.PopFront()
	require.NotNil(t, next)
	assert.Same(t, a, next.Value)
}

func TestQueueThreadOnTerminatedThreadPanics(t *testing.T) {
	sys := newTestSystem(t, 1)
	p := sys.Processor(0)
	require.NoError(t, p.Boot())

	th, err := CreateThread(sys.Stacks, 0, func(*Thread) {})
	require.NoError(t, err)
	th.setState(Created, Terminated)

	info := withPanicCapture(t, func() {
		QueueThread(p, th, false)
	})
	assert.Equal(t, ke.BadThreadState, info.Code)
}

func TestSetStateWrongSourcePanics(t *testing.T) {
	sys := newTestSystem(t, 1)
	th, err := CreateThread(sys.Stacks, 0, func(*Thread) {})
	require.NoError(t, err)

	info := withPanicCapture(t, func() {
		th.setState(Running, Waiting)
	})
	require.NotNil(t, info)
	assert.Equal(t, ke.BadThreadState, info.Code)
}

func TestCheckPreemptFalseWhenNotCurrent(t *testing.T) {
	sys := newTestSystem(t, 1)
	p := sys.Processor(0)

	th, err := CreateThread(sys.Stacks, 0, func(*Thread) {})
	require.NoError(t, err)
	th.Processor = p
	th.Expiration = 1

	assert.False(t, CheckPreempt(th), "CheckPreempt should be false when the thread isn't p.Current")
}

func TestQuantumShrinksWithReadyQueueLength(t *testing.T) {
	sys := newTestSystem(t, 1)
	p := sys.Processor(0)
	require.NoError(t, p.Boot())

	solo := p.Quantum()

	for i := 0; i < 20; i++ {
		th, err := CreateThread(sys.Stacks, 0, func(*Thread) {})
		require.NoError(t, err)
		QueueThread(p, th, false)
	}

	crowded := p.Quantum()
	assert.LessOrEqual(t, crowded, solo, fmt.Sprintf("quantum with a long ready queue (%d) should not exceed the solo quantum (%d)", crowded, solo))
}
