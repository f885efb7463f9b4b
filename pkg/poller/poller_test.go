package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s7panel/pkg/event"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
	"s7panel/pkg/tag"
)

type fakeReader struct {
	mu     sync.Mutex
	values map[string]s7runtime.Value
	errs   map[string]error
	reads  []string
	delay  time.Duration
}

func newFakeReader() *fakeReader {
	return &fakeReader{values: map[string]s7runtime.Value{}, errs: map[string]error{}}
}

func (f *fakeReader) set(addr string, v s7runtime.Value, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[addr] = v
	f.errs[addr] = err
}

func (f *fakeReader) ReadValue(ctx context.Context, addr s7runtime.AddressDescriptor) (s7runtime.Value, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := addr.String()
	f.reads = append(f.reads, key)
	if err := f.errs[key]; err != nil {
		return s7runtime.Value{}, err
	}
	return f.values[key], nil
}

func (f *fakeReader) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

func newRegistry(t *testing.T) *tag.Registry {
	t.Helper()
	r := tag.NewRegistry()
	for _, spec := range []struct {
		name, address string
		dt            constant.DataType
	}{
		{"Motor_Running", "DB1.DBX0.0", constant.BOOL},
		{"Temperature", "DB1.DBD2", constant.REAL32},
		{"Speed_Setpoint", "DB1.DBW6", constant.INT16},
		{"Alarm_Active", "DB1.DBX8.0", constant.BOOL},
	} {
		d, err := s7runtime.ParseAddress(spec.address)
		require.NoError(t, err)
		_, err = r.Add(spec.name, *d, spec.dt)
		require.NoError(t, err)
	}
	return r
}

func drain(s *event.Subscription) []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-s.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func setup(t *testing.T) (*Poller, *fakeReader, *tag.Registry, *event.Subscription) {
	reader := newFakeReader()
	reader.set("DB1.DBX0.0", s7runtime.BoolValue(true), nil)
	reader.set("DB1.DBD2", s7runtime.Real32Value(50), nil)
	reader.set("DB1.DBW6", s7runtime.Int16Value(10), nil)
	reader.set("DB1.DBX8.0", s7runtime.BoolValue(false), nil)
	registry := newRegistry(t)
	bus := event.NewBus()
	sub := bus.Subscribe(64)
	p := New(reader, registry, bus, Options{Interval: 20 * time.Millisecond})
	return p, reader, registry, sub
}

func TestPollOnceUpdatesRegistry(t *testing.T) {
	p, _, registry, sub := setup(t)

	require.NoError(t, p.PollOnce(context.Background()))
	tg, _ := registry.Get("Temperature")
	require.NotNil(t, tg.LastValue)
	assert.Equal(t, s7runtime.Real32Value(50), *tg.LastValue)

	events := drain(sub)
	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, event.ValueChanged, e.Type)
		assert.True(t, e.Changed)
	}

	// an unchanged value is still reported on every read
	require.NoError(t, p.PollOnce(context.Background()))
	events = drain(sub)
	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, event.ValueChanged, e.Type)
		assert.False(t, e.Changed)
	}
}

func TestPollOnceValueChange(t *testing.T) {
	p, reader, _, sub := setup(t)
	require.NoError(t, p.PollOnce(context.Background()))
	drain(sub)

	reader.set("DB1.DBW6", s7runtime.Int16Value(11), nil)
	require.NoError(t, p.PollOnce(context.Background()))
	events := drain(sub)
	require.Len(t, events, 4)
	var changed []event.Event
	for _, e := range events {
		require.Equal(t, event.ValueChanged, e.Type)
		if e.Changed {
			changed = append(changed, e)
		}
	}
	require.Len(t, changed, 1)
	assert.Equal(t, "Speed_Setpoint", changed[0].TagName)
	assert.Equal(t, s7runtime.Int16Value(11), *changed[0].Value)
}

func TestPollOnceTagErrorContinues(t *testing.T) {
	p, reader, registry, sub := setup(t)
	reader.set("DB1.DBD2", s7runtime.Value{}, &s7runtime.ReadError{Kind: s7runtime.ErrInvalidAddress, Address: "DB1.DBD2"})
	p.state.Store(int32(Running))

	require.NoError(t, p.PollOnce(context.Background()))
	assert.Equal(t, Running, p.State())
	assert.Equal(t, 4, reader.readCount())

	var tagErrors int
	for _, e := range drain(sub) {
		if e.Type == event.TagError {
			tagErrors++
			assert.Equal(t, "Temperature", e.TagName)
		}
	}
	assert.Equal(t, 1, tagErrors)

	tg, _ := registry.Get("Speed_Setpoint")
	assert.NotNil(t, tg.LastValue)
}

func TestPollOnceConnectionLostPausesOnce(t *testing.T) {
	p, reader, _, sub := setup(t)
	reader.set("DB1.DBD2", s7runtime.Value{}, &s7runtime.ReadError{Kind: s7runtime.ErrTimeout, Address: "DB1.DBD2"})
	p.state.Store(int32(Running))

	err := p.PollOnce(context.Background())
	assert.ErrorIs(t, err, s7runtime.ErrTimeout)
	assert.Equal(t, Paused, p.State())
	// Motor_Running then Temperature, the rest of the cycle is skipped
	assert.Equal(t, 2, reader.readCount())

	_ = p.PollOnce(context.Background())
	var lost int
	for _, e := range drain(sub) {
		if e.Type == event.ConnectionLost {
			lost++
		}
	}
	assert.Equal(t, 1, lost)
}

func TestResume(t *testing.T) {
	p, _, _, sub := setup(t)
	assert.False(t, p.Resume())

	p.state.Store(int32(Running))
	assert.True(t, p.NotifyConnectionLost(s7runtime.ErrNotConnected))
	assert.False(t, p.NotifyConnectionLost(s7runtime.ErrNotConnected))
	assert.True(t, p.Resume())
	assert.Equal(t, Running, p.State())

	types := []event.Type{}
	for _, e := range drain(sub) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []event.Type{event.ConnectionLost, event.ConnectionRestored}, types)
}

func TestStartStop(t *testing.T) {
	p, reader, _, _ := setup(t)
	assert.True(t, p.Start())
	assert.False(t, p.Start())
	assert.Equal(t, Running, p.State())

	assert.Eventually(t, func() bool { return reader.readCount() >= 8 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	assert.Equal(t, Stopped, p.State())
	n := reader.readCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, reader.readCount())

	p.Stop()
	assert.True(t, p.Start())
	p.Stop()
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	p, reader, registry, _ := setup(t)
	reader.delay = 30 * time.Millisecond
	require.True(t, p.Start())
	assert.Eventually(t, func() bool { return reader.readCount() >= 1 }, time.Second, time.Millisecond)

	p.Stop()
	// the cycle in flight when Stop was called completed every read
	assert.Equal(t, 0, reader.readCount()%4)
	tg, _ := registry.Get("Alarm_Active")
	assert.NotNil(t, tg.LastValue)
}

func TestPausedLoopSkipsCycles(t *testing.T) {
	p, reader, _, _ := setup(t)
	require.True(t, p.Start())
	defer p.Stop()
	assert.Eventually(t, func() bool { return reader.readCount() >= 4 }, time.Second, time.Millisecond)

	p.NotifyConnectionLost(s7runtime.ErrNotConnected)
	time.Sleep(40 * time.Millisecond)
	n := reader.readCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, reader.readCount())
	assert.Equal(t, Paused, p.State())
}
