package event

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/logging"
)

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string

	bus.SubscribeAll(func(e Event) { got = append(got, "all:"+e.EventType()) })
	bus.Subscribe(TypeStageFinished, func(e Event) { got = append(got, "stage") })
	bus.Subscribe(TypePhaseFinished, func(e Event) { got = append(got, "phase") })

	bus.Publish(NewStageFinishedEvent("review", "lint", exitcode.Success, 1))
	assert.Equal(t, []string{"stage", "all:stage.finished"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	id := bus.Subscribe(TypeWorkerFinished, func(Event) { calls++ })
	assert.Equal(t, 1, bus.SubscriptionCount())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	bus.Publish(NewWorkerFinishedEvent("security", exitcode.Success, "/a"))
	assert.Zero(t, calls)
	assert.Zero(t, bus.SubscriptionCount())
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(NewCheckpointWrittenEvent("/x"))
	})
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, "debug"))

	reached := false
	bus.Subscribe(TypeCircuitDenied, func(Event) { panic("boom") })
	bus.Subscribe(TypeCircuitDenied, func(Event) { reached = true })

	bus.Publish(NewCircuitDeniedEvent("research", time.Time{}))
	assert.True(t, reached)
	assert.Contains(t, buf.String(), "event handler panicked")
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)
	var (
		mu    sync.Mutex
		count int
	)
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewInvocationFinishedEvent("w", exitcode.Success, 0))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}
