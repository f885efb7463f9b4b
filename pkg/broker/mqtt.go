package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"s7panel/pkg/event"
	"s7panel/pkg/tag"
	"s7panel/pkg/utils/uuidutil"
)

const (
	mqttTimeout = 5 * time.Second
	eventBuffer = 256
)

type Options struct {
	Enabled     bool          `json:"enabled"`
	Broker      string        `json:"broker"`
	ClientID    string        `json:"clientId"`
	Username    string        `json:"username,omitempty"`
	Password    string        `json:"password,omitempty"`
	TopicPrefix string        `json:"topicPrefix"`
	QoS         byte          `json:"qos"`
	Timeout     time.Duration `json:"timeout"`
}

// Panel is the part of the panel manager the bridge drives.
type Panel interface {
	WriteTag(ctx context.Context, name string, raw interface{}) (*tag.Tag, error)
	Subscribe(buffer int) *event.Subscription
	Unsubscribe(id string) bool
}

type writeCommand struct {
	Name  string      `mapstructure:"name"`
	Value interface{} `mapstructure:"value"`
}

type writeResponse struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewClient builds a paho client that reconnects on its own. onConnect runs
// after every successful connect, including reconnects.
func NewClient(o Options, onConnect mqtt.OnConnectHandler) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	if o.ClientID == "" {
		o.ClientID = uuidutil.ClientID("s7panel")
	}
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	// the broker forgets subscriptions on reconnect; onConnect restores them
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		klog.InfoS("MQTT connection lost", "broker", o.Broker, "err", err)
	})
	return mqtt.NewClient(opts)
}

// Bridge mirrors panel events to MQTT and accepts write commands on
// <prefix>/write.
type Bridge struct {
	client mqtt.Client
	panel  Panel
	opts   Options

	mu       sync.Mutex
	sub      *event.Subscription
	done     chan struct{}
	stopping bool
	writes   sync.WaitGroup
}

// New builds a bridge with its own paho client.
func New(panel Panel, opts Options) *Bridge {
	b := NewBridge(nil, panel, opts)
	b.client = NewClient(b.opts, b.onConnect)
	return b
}

// NewBridge wraps an existing client. The client must call the bridge's
// connect handler, see New.
func NewBridge(client mqtt.Client, panel Panel, opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = mqttTimeout
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")
	return &Bridge{client: client, panel: panel, opts: opts}
}

func (b *Bridge) tagTopic(name string) string {
	return fmt.Sprintf("%s/tags/%s", b.opts.TopicPrefix, name)
}

func (b *Bridge) statusTopic() string {
	return b.opts.TopicPrefix + "/status"
}

func (b *Bridge) writeTopic() string {
	return b.opts.TopicPrefix + "/write"
}

// Start begins forwarding panel events and connects to the broker. An
// unreachable broker is not an error: paho keeps retrying and the write
// topic is subscribed once it connects.
func (b *Bridge) Start() error {
	b.mu.Lock()
	b.stopping = false
	if b.sub == nil {
		b.sub = b.panel.Subscribe(eventBuffer)
		b.done = make(chan struct{})
		go b.forward(b.sub, b.done)
	}
	b.mu.Unlock()

	token := b.client.Connect()
	if !token.WaitTimeout(b.opts.Timeout) {
		klog.InfoS("MQTT broker not reachable yet, retrying in background", "broker", b.opts.Broker)
	} else if err := token.Error(); err != nil {
		return errors.Wrapf(err, "connect to mqtt broker %s", b.opts.Broker)
	}
	klog.InfoS("MQTT bridge started", "broker", b.opts.Broker, "prefix", b.opts.TopicPrefix)
	return nil
}

func (b *Bridge) onConnect(client mqtt.Client) {
	token := client.Subscribe(b.writeTopic(), b.opts.QoS, b.onWrite)
	if !token.WaitTimeout(b.opts.Timeout) || token.Error() != nil {
		klog.ErrorS(token.Error(), "Failed to subscribe MQTT", "topic", b.writeTopic())
		return
	}
	klog.InfoS("MQTT connected", "broker", b.opts.Broker, "topic", b.writeTopic())
}

func (b *Bridge) forward(sub *event.Subscription, done chan struct{}) {
	defer close(done)
	for e := range sub.C {
		b.publish(e)
	}
}

func (b *Bridge) publish(e event.Event) {
	topic, retained := b.statusTopic(), true
	if e.TagName != "" {
		topic, retained = b.tagTopic(e.TagName), e.Type == event.ValueChanged
	}
	if !b.client.IsConnectionOpen() {
		klog.V(4).InfoS("MQTT not connected, event dropped", "topic", topic, "type", e.Type)
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		klog.V(2).InfoS("Failed to marshal event", "type", e.Type, "err", err)
		return
	}
	token := b.client.Publish(topic, b.opts.QoS, retained, payload)
	if token.WaitTimeout(b.opts.Timeout) && token.Error() == nil {
		klog.V(5).InfoS("Succeed to publish MQTT", "topic", topic, "data", string(payload))
	} else {
		klog.V(1).InfoS("Failed to publish MQTT", "topic", topic, "err", token.Error())
	}
}

// onWrite runs each command on its own goroutine so a slow PLC write does
// not hold up paho's message router.
func (b *Bridge) onWrite(client mqtt.Client, msg mqtt.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return
	}
	b.writes.Add(1)
	go func() {
		defer b.writes.Done()
		b.handleWrite(client, msg)
	}()
}

func (b *Bridge) handleWrite(client mqtt.Client, msg mqtt.Message) {
	var raw map[string]interface{}
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		klog.V(2).InfoS("Failed to parse write command", "topic", msg.Topic(), "err", err)
		b.respond(client, writeResponse{Error: "malformed JSON: " + err.Error()})
		return
	}
	var cmd writeCommand
	if err := mapstructure.Decode(raw, &cmd); err != nil || cmd.Name == "" {
		if err == nil {
			err = errors.New("missing tag name")
		}
		klog.V(2).InfoS("Failed to decode write command", "topic", msg.Topic(), "err", err)
		b.respond(client, writeResponse{Value: raw["value"], Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.Timeout)
	defer cancel()
	resp := writeResponse{Name: cmd.Name, Value: cmd.Value, Success: true}
	if _, err := b.panel.WriteTag(ctx, cmd.Name, cmd.Value); err != nil {
		resp.Success, resp.Error = false, err.Error()
	}
	b.respond(client, resp)
}

func (b *Bridge) respond(client mqtt.Client, resp writeResponse) {
	resp.Timestamp = time.Now().UTC()
	payload, _ := json.Marshal(resp)
	token := client.Publish(b.writeTopic()+"/response", b.opts.QoS, false, payload)
	if !token.WaitTimeout(b.opts.Timeout) || token.Error() != nil {
		klog.V(1).InfoS("Failed to publish MQTT", "topic", b.writeTopic()+"/response", "err", token.Error())
	}
}

// Stop ends forwarding, waits for in-flight write commands and disconnects
// from the broker.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	sub, done := b.sub, b.done
	b.sub, b.done = nil, nil
	b.stopping = true
	b.mu.Unlock()

	if sub != nil {
		b.panel.Unsubscribe(sub.ID)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.client.IsConnectionOpen() {
		b.client.Unsubscribe(b.writeTopic()).WaitTimeout(b.opts.Timeout)
	}

	writes := make(chan struct{})
	go func() {
		b.writes.Wait()
		close(writes)
	}()
	select {
	case <-writes:
	case <-ctx.Done():
		return ctx.Err()
	}

	// also aborts a connect still being retried
	b.client.Disconnect(250)
	klog.InfoS("MQTT bridge stopped")
	return nil
}
