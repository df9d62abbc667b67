package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesBranchSubscriber(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("bot-alpha")
	defer hub.Unsubscribe(sub)

	hub.Publish(Event{Type: TypeStatusUpdate, Branch: "bot-alpha"})

	select {
	case ev := <-sub.Ch:
		assert.Equal(t, TypeStatusUpdate, ev.Type)
		assert.Equal(t, "bot-alpha", ev.Branch)
		assert.False(t, ev.Timestamp.IsZero())
	default:
		t.Fatal("expected an event on the subscriber channel")
	}
}

func TestPublishFiltersOtherBranches(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("bot-alpha")
	defer hub.Unsubscribe(sub)

	hub.Publish(Event{Type: TypeStatusUpdate, Branch: "bot-beta"})

	select {
	case <-sub.Ch:
		t.Fatal("subscriber must not receive events for other branches")
	default:
	}
}

func TestEmptyBranchReceivesEverything(t *testing.T) {
	hub := NewHub(nil)
	all := hub.Subscribe("")
	defer hub.Unsubscribe(all)

	hub.Publish(Event{Type: TypeStatusUpdate, Branch: "bot-alpha"})
	hub.Publish(Event{Type: TypeDeploymentComplete, Branch: "bot-beta"})

	require.Len(t, all.Ch, 2)
}

func TestPublishDropsWhenChannelFull(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("bot-alpha")
	defer hub.Unsubscribe(sub)

	// Fill the buffer and publish one more; Publish must not block.
	for i := 0; i < cap(sub.Ch)+1; i++ {
		hub.Publish(Event{Type: TypeStatusUpdate, Branch: "bot-alpha"})
	}

	assert.Len(t, sub.Ch, cap(sub.Ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe("bot-alpha")

	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.SubscriberCount())

	_, open := <-sub.Ch
	assert.False(t, open)

	// Unsubscribing twice is a no-op.
	hub.Unsubscribe(sub)
}

func TestShutdownClosesAllSubscribers(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Subscribe("bot-alpha")
	b := hub.Subscribe("")

	hub.Shutdown()

	_, open := <-a.Ch
	assert.False(t, open)
	_, open = <-b.Ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount())
}
