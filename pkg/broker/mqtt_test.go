package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s7panel/pkg/event"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
	"s7panel/pkg/tag"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

// pendingToken never completes, like a connect paho is still retrying.
type pendingToken struct{}

func (t *pendingToken) Wait() bool                     { return false }
func (t *pendingToken) WaitTimeout(time.Duration) bool { return false }
func (t *pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (t *pendingToken) Error() error                   { return nil }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient implements the calls the bridge makes; any other method panics.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]mqtt.MessageHandler
	connectErr   error
	unreachable  bool
	disconnected bool
	onConnect    mqtt.OnConnectHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	if f.unreachable {
		f.mu.Unlock()
		return &pendingToken{}
	}
	f.mu.Unlock()
	if f.connectErr != nil {
		return &doneToken{err: f.connectErr}
	}
	f.up()
	return &doneToken{}
}

// up marks the client connected and runs the connect handler the way paho
// does after every (re)connect.
func (f *fakeClient) up() {
	f.mu.Lock()
	f.connected, f.unreachable = true, false
	onConnect := f.onConnect
	f.mu.Unlock()
	if onConnect != nil {
		onConnect(f)
	}
}

// drop simulates a lost connection with a clean session: the broker forgets
// every subscription.
func (f *fakeClient) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.handlers = map[string]mqtt.MessageHandler{}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool {
	return f.IsConnected()
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected, f.disconnected = false, true
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &doneToken{}
}

func (f *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
	return &doneToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return &doneToken{}
}

func (f *fakeClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

func (f *fakeClient) deliver(topic string, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(f, &fakeMessage{topic: topic, payload: []byte(payload)})
}

func (f *fakeClient) messages(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakePanel accepts Speed_Setpoint writes; Slow_Tag writes block until
// release is closed.
type fakePanel struct {
	bus     *event.Bus
	mu      sync.Mutex
	writes  map[string]interface{}
	release chan struct{}
}

func (p *fakePanel) written(name string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes[name]
}

func (p *fakePanel) WriteTag(ctx context.Context, name string, raw interface{}) (*tag.Tag, error) {
	if name == "Slow_Tag" {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &tag.Tag{Name: name}, nil
	}
	if name != "Speed_Setpoint" {
		return nil, assert.AnError
	}
	v, err := s7runtime.ValueFromInterface(constant.INT16, raw)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.writes[name] = raw
	p.mu.Unlock()
	return &tag.Tag{Name: name, LastValue: &v}, nil
}

func (p *fakePanel) Subscribe(buffer int) *event.Subscription { return p.bus.Subscribe(buffer) }
func (p *fakePanel) Unsubscribe(id string) bool                { return p.bus.Unsubscribe(id) }

func newBridge(client *fakeClient) (*Bridge, *fakePanel) {
	panel := &fakePanel{bus: event.NewBus(), writes: map[string]interface{}{}, release: make(chan struct{})}
	b := NewBridge(client, panel, Options{Broker: "tcp://localhost:1883", TopicPrefix: "plant/line1/", Timeout: time.Second})
	client.onConnect = b.onConnect
	return b, panel
}

func newTestBridge(t *testing.T) (*Bridge, *fakeClient, *fakePanel) {
	t.Helper()
	client := newFakeClient()
	b, panel := newBridge(client)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b, client, panel
}

func TestBridgePublishesEvents(t *testing.T) {
	_, client, panel := newTestBridge(t)

	panel.bus.Publish(event.NewValueChanged("Temperature", s7runtime.Real32Value(50), true, time.Now()))
	panel.bus.Publish(event.NewConnectionLost(s7runtime.ErrTimeout, time.Now()))

	require.Eventually(t, func() bool {
		return len(client.messages("plant/line1/tags/Temperature")) == 1 && len(client.messages("plant/line1/status")) == 1
	}, time.Second, 5*time.Millisecond)

	msg := client.messages("plant/line1/tags/Temperature")[0]
	assert.True(t, msg.retained)
	var e map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.payload, &e))
	assert.Equal(t, "valueChanged", e["type"])
	assert.Equal(t, float64(50), e["value"])

	status := client.messages("plant/line1/status")[0]
	assert.Contains(t, string(status.payload), `"connectionLost"`)
}

func TestBridgeWriteCommand(t *testing.T) {
	_, client, panel := newTestBridge(t)

	client.deliver("plant/line1/write", `{"name":"Speed_Setpoint","value":1500}`)
	client.deliver("plant/line1/write", `{"name":"Speed_Setpoint","value":true}`)
	client.deliver("plant/line1/write", `{"value":1}`)
	client.deliver("plant/line1/write", `not json`)

	require.Eventually(t, func() bool {
		return len(client.messages("plant/line1/write/response")) == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1500), panel.written("Speed_Setpoint"))

	// commands run concurrently, so responses are matched by content
	var succeeded, failed int
	for _, r := range client.messages("plant/line1/write/response") {
		var resp writeResponse
		require.NoError(t, json.Unmarshal(r.payload, &resp))
		if resp.Success {
			succeeded++
			assert.Equal(t, "Speed_Setpoint", resp.Name)
			continue
		}
		failed++
		assert.NotEmpty(t, resp.Error)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 3, failed)
}

func TestBridgeSlowWriteDoesNotBlockDelivery(t *testing.T) {
	_, client, panel := newTestBridge(t)

	delivered := make(chan struct{})
	go func() {
		client.deliver("plant/line1/write", `{"name":"Slow_Tag","value":1}`)
		client.deliver("plant/line1/write", `{"name":"Speed_Setpoint","value":7}`)
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("write handler blocked the message router")
	}
	require.Eventually(t, func() bool { return panel.written("Speed_Setpoint") != nil }, time.Second, 5*time.Millisecond)
	assert.Len(t, client.messages("plant/line1/write/response"), 1)

	close(panel.release)
	require.Eventually(t, func() bool {
		return len(client.messages("plant/line1/write/response")) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeResubscribesOnReconnect(t *testing.T) {
	_, client, panel := newTestBridge(t)
	require.True(t, client.subscribed("plant/line1/write"))

	client.drop()
	assert.False(t, client.subscribed("plant/line1/write"))
	client.up()
	require.True(t, client.subscribed("plant/line1/write"))

	client.deliver("plant/line1/write", `{"name":"Speed_Setpoint","value":3}`)
	assert.Eventually(t, func() bool { return panel.written("Speed_Setpoint") != nil }, time.Second, 5*time.Millisecond)
}

func TestBridgeStartsWhileBrokerDown(t *testing.T) {
	client := newFakeClient()
	client.unreachable = true
	b, panel := newBridge(client)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop(context.Background()) })

	assert.False(t, client.subscribed("plant/line1/write"))
	panel.bus.Publish(event.NewConnectionLost(s7runtime.ErrTimeout, time.Now()))

	client.up()
	require.True(t, client.subscribed("plant/line1/write"))
	panel.bus.Publish(event.NewConnectionRestored(time.Now()))
	require.Eventually(t, func() bool {
		for _, m := range client.messages("plant/line1/status") {
			if strings.Contains(string(m.payload), `"connectionRestored"`) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeStop(t *testing.T) {
	b, client, panel := newTestBridge(t)
	require.NoError(t, b.Stop(context.Background()))
	assert.False(t, client.IsConnected())
	assert.True(t, client.disconnected)
	assert.False(t, client.subscribed("plant/line1/write"))
	assert.Equal(t, 0, panel.bus.Len())
	require.NoError(t, b.Stop(context.Background()))
}

func TestBridgeStopWaitsForWrites(t *testing.T) {
	b, client, panel := newTestBridge(t)
	client.deliver("plant/line1/write", `{"name":"Slow_Tag","value":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Stop(ctx), context.DeadlineExceeded)

	close(panel.release)
	require.NoError(t, b.Stop(context.Background()))
	assert.Len(t, client.messages("plant/line1/write/response"), 1)
}

func TestBridgeConnectError(t *testing.T) {
	client := newFakeClient()
	client.connectErr = assert.AnError
	b, _ := newBridge(client)
	assert.ErrorIs(t, b.Start(), assert.AnError)
	require.NoError(t, b.Stop(context.Background()))
}
