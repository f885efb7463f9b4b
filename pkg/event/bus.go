package event

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/utils/uuidutil"
)

type Type string

const (
	ValueChanged       Type = "valueChanged"
	ConnectionLost     Type = "connectionLost"
	ConnectionRestored Type = "connectionRestored"
	TagError           Type = "tagError"
)

type Event struct {
	Type      Type             `json:"type"`
	TagName   string           `json:"tagName,omitempty"`
	Value     *s7runtime.Value `json:"value,omitempty"`
	Changed   bool             `json:"changed,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Error     string           `json:"error,omitempty"`
}

// NewValueChanged reports a successful read or write of a tag. changed is
// set when the value differs from the previously cached one.
func NewValueChanged(name string, v s7runtime.Value, changed bool, at time.Time) Event {
	return Event{Type: ValueChanged, TagName: name, Value: &v, Changed: changed, Timestamp: at}
}

func NewTagError(name string, err error, at time.Time) Event {
	return Event{Type: TagError, TagName: name, Error: err.Error(), Timestamp: at}
}

func NewConnectionLost(err error, at time.Time) Event {
	e := Event{Type: ConnectionLost, Timestamp: at}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func NewConnectionRestored(at time.Time) Event {
	return Event{Type: ConnectionRestored, Timestamp: at}
}

type Subscription struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s := &Subscription{ID: uuidutil.ShortID(), C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s.ID] = s
	return s
}

func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(s.ch)
	return true
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			klog.V(4).InfoS("Dropped event for slow subscriber", "subscription", id, "type", e.Type, "tag", e.TagName)
		}
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
