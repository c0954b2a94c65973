package events

import (
	"strings"
	"sync"
)

const (
	PlanStarted   = "plan.started"
	PlanCompleted = "plan.completed"
	PlanFailed    = "plan.failed"
)

// AllCountries is the topic that receives every country's events.
const AllCountries = "*"

// Event is a plan lifecycle notification.
type Event struct {
	Type    string         `json:"type"`
	Country string         `json:"country"`
	PlanID  string         `json:"planId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Broker fans plan events out to subscribers. Topics are ISO3 codes or
// AllCountries.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Memory is the in-process broker. Slow subscribers drop events instead of
// blocking publishers.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func normalize(topic string) string {
	if topic == "" {
		return AllCountries
	}
	return strings.ToUpper(topic)
}

func (b *Memory) Subscribe(topic string) chan Event {
	topic = normalize(topic)
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	topic = normalize(topic)
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	topic = normalize(topic)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver(b.subs[topic], evt)
	if topic != AllCountries {
		b.deliver(b.subs[AllCountries], evt)
	}
}

func (b *Memory) deliver(m map[chan Event]struct{}, evt Event) {
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
}
