package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ken := b.Subscribe("ken")
	all := b.Subscribe(AllCountries)
	gha := b.Subscribe("GHA")

	evt := Event{Type: PlanCompleted, Country: "KEN", PlanID: "p1", Data: map[string]any{"sitesBuilt": 3}}
	b.Publish("KEN", evt)

	assert.Equal(t, evt, receive(t, ken))
	assert.Equal(t, evt, receive(t, all))
	select {
	case got := <-gha:
		t.Fatalf("unexpected event on GHA: %+v", got)
	default:
	}

	b.Unsubscribe("KEN", ken)
	_, ok := <-ken
	assert.False(t, ok, "channel should be closed after unsubscribe")
	// a second unsubscribe is a no-op
	b.Unsubscribe("KEN", ken)
	b.Publish("KEN", evt)
	assert.Equal(t, evt, receive(t, all))
}

func TestMemoryDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("KEN")
	for i := 0; i < 100; i++ {
		b.Publish("KEN", Event{Type: PlanStarted, Country: "KEN"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestNewFallsBackToMemory(t *testing.T) {
	log := zaptest.NewLogger(t)
	_, ok := New("", log).(*Memory)
	assert.True(t, ok)
	_, ok = New("not a url", log).(*Memory)
	assert.True(t, ok)

	rb, ok := New("redis://localhost:6379/0", log).(*Redis)
	require.True(t, ok)
	assert.NoError(t, rb.Close())
}
