package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s7runtime "s7panel/pkg/protocol/s7/runtime"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, b.Len())

	b.Publish(NewValueChanged("Temperature", s7runtime.Real32Value(50), true, time.Now()))

	for _, s := range []*Subscription{s1, s2} {
		select {
		case e := <-s.C:
			assert.Equal(t, ValueChanged, e.Type)
			assert.Equal(t, "Temperature", e.TagName)
			require.NotNil(t, e.Value)
			assert.Equal(t, s7runtime.Real32Value(50), *e.Value)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	b.Publish(NewConnectionLost(errors.New("read timeout"), time.Now()))
	b.Publish(NewConnectionRestored(time.Now()))

	e := <-s.C
	assert.Equal(t, ConnectionLost, e.Type)
	assert.Equal(t, "read timeout", e.Error)
	select {
	case e := <-s.C:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	assert.True(t, b.Unsubscribe(s.ID))
	assert.False(t, b.Unsubscribe(s.ID))
	_, ok := <-s.C
	assert.False(t, ok)

	s = b.Subscribe(1)
	b.Close()
	_, ok = <-s.C
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		b.Publish(NewTagError("Speed", errors.New("invalid address"), time.Now()))
		b.Close()
	})

	late := b.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)
}
