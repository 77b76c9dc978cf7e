package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func assertQuiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestBroadcaster_Baseline(t *testing.T) {
	b := NewBroadcaster(8)

	sub := b.Subscribe([]Task{{ID: "a"}, {ID: "b"}})
	ev := receive(t, sub)
	assert.Equal(t, EventTaskList, ev.Type)
	require.Len(t, ev.Tasks, 2)

	empty := b.Subscribe(nil)
	ev = receive(t, empty)
	assert.Equal(t, EventTaskList, ev.Type)
	assert.NotNil(t, ev.Tasks)
	assert.Empty(t, ev.Tasks)
}

func TestBroadcaster_PublishReachesEverySubscriber(t *testing.T) {
	b := NewBroadcaster(8)
	first := b.Subscribe(nil)
	second := b.Subscribe(nil)
	receive(t, first)
	receive(t, second)

	b.Publish(Task{ID: "a", SubjectID: "book01", Status: StatusRunning})

	for _, sub := range []*Subscription{first, second} {
		ev := receive(t, sub)
		assert.Equal(t, EventTaskUpdated, ev.Type)
		require.NotNil(t, ev.Task)
		assert.Equal(t, "a", ev.Task.ID)
		assertQuiet(t, sub)
	}
}

func TestBroadcaster_LateSubscriberSeesNoHistory(t *testing.T) {
	b := NewBroadcaster(8)
	b.Publish(Task{ID: "a", Status: StatusCompleted})

	sub := b.Subscribe([]Task{{ID: "a", Status: StatusCompleted}})
	ev := receive(t, sub)
	assert.Equal(t, EventTaskList, ev.Type)
	assertQuiet(t, sub)
}

func TestBroadcaster_SubjectScopedDelivery(t *testing.T) {
	b := NewBroadcaster(8)
	sub := b.Subscribe(nil)
	receive(t, sub)

	sub.Watch("book01")
	sub.Watch("")
	assert.True(t, sub.Watching("book01"))

	b.Publish(Task{ID: "a", SubjectID: "book01"})
	assert.Equal(t, EventTaskUpdated, receive(t, sub).Type)
	scoped := receive(t, sub)
	assert.Equal(t, EventSubjectTaskUpdated, scoped.Type)
	assert.Equal(t, "book01", scoped.Task.SubjectID)

	b.Publish(Task{ID: "b", SubjectID: "book02"})
	assert.Equal(t, EventTaskUpdated, receive(t, sub).Type)
	assertQuiet(t, sub)

	sub.Unwatch("book01")
	b.Publish(Task{ID: "a", SubjectID: "book01"})
	assert.Equal(t, EventTaskUpdated, receive(t, sub).Type)
	assertQuiet(t, sub)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(8)
	sub := b.Subscribe(nil)
	assert.Equal(t, 1, b.Len())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.Len())

	b.Publish(Task{ID: "a"})

	ev, ok := <-sub.C
	assert.True(t, ok)
	assert.Equal(t, EventTaskList, ev.Type)
	_, ok = <-sub.C
	assert.False(t, ok, "channel should be closed")
}

func TestBroadcaster_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster(2)
	slow := b.Subscribe(nil) // baseline takes one slot
	fast := b.Subscribe(nil)
	receive(t, fast)

	for i := 0; i < 3; i++ {
		b.Publish(Task{ID: "a", Progress: i * 10})
		receive(t, fast)
	}

	assert.Equal(t, int64(2), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())
	assert.Equal(t, EventTaskList, receive(t, slow).Type)
	ev := receive(t, slow)
	assert.Equal(t, 0, ev.Task.Progress)
	assertQuiet(t, slow)
}

func TestBroadcaster_Removed(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe(nil)
	receive(t, sub)

	b.PublishRemoved(Task{ID: "gone"})
	ev := receive(t, sub)
	assert.Equal(t, EventTaskRemoved, ev.Type)
	assert.Equal(t, "gone", ev.Task.ID)
}
