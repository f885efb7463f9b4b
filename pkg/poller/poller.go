package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"s7panel/pkg/event"
	"s7panel/pkg/metrics"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/tag"
)

const DefaultInterval = time.Second

type State int32

const (
	Stopped State = iota
	Running
	Paused
)

var StateToString = map[State]string{
	Stopped: "stopped",
	Running: "running",
	Paused:  "paused",
}

func (s State) String() string {
	if str, ok := StateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Reader reads one tag value from the PLC.
type Reader interface {
	ReadValue(ctx context.Context, addr s7runtime.AddressDescriptor) (s7runtime.Value, error)
}

type Options struct {
	Interval time.Duration
	Metrics  *metrics.Recorder
}

// Poller reads every registered tag once per interval while Running. A lost
// connection pauses it until Resume is called; it never reconnects itself.
type Poller struct {
	reader   Reader
	registry *tag.Registry
	bus      *event.Bus
	metrics  *metrics.Recorder
	interval time.Duration

	state *atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// serializes cycles started by the loop and by PollOnce
	cycle sync.Mutex
}

func New(reader Reader, registry *tag.Registry, bus *event.Bus, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Poller{
		reader:   reader,
		registry: registry,
		bus:      bus,
		metrics:  opts.Metrics,
		interval: opts.Interval,
		state:    atomic.NewInt32(int32(Stopped)),
	}
}

func (p *Poller) State() State {
	return State(p.state.Load())
}

// Start moves a stopped poller to Running. It reports false when the poller
// was already running or paused.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.CAS(int32(Stopped), int32(Running)) {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		wait.UntilWithContext(ctx, p.tick, p.interval)
	}()
	klog.V(2).InfoS("Poll loop started", "interval", p.interval)
	return true
}

// Stop cancels the next tick and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		p.state.Store(int32(Stopped))
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
	p.state.Store(int32(Stopped))
	klog.V(2).InfoS("Poll loop stopped")
}

// Resume moves a paused poller back to Running after the caller reconnected.
func (p *Poller) Resume() bool {
	if !p.state.CAS(int32(Paused), int32(Running)) {
		return false
	}
	klog.V(2).InfoS("Poll loop resumed")
	p.bus.Publish(event.NewConnectionRestored(time.Now()))
	return true
}

// NotifyConnectionLost pauses a running poller. Only the first caller of a
// Running period publishes connectionLost.
func (p *Poller) NotifyConnectionLost(err error) bool {
	if !p.state.CAS(int32(Running), int32(Paused)) {
		return false
	}
	klog.InfoS("Poll loop paused, connection lost", "err", err)
	p.bus.Publish(event.NewConnectionLost(err, time.Now()))
	return true
}

func (p *Poller) tick(_ context.Context) {
	if p.State() != Running {
		return
	}
	// reads run on their own context so Stop never interrupts one
	_ = p.PollOnce(context.Background())
}

// PollOnce reads every tag of a registry snapshot. It returns the
// connection-level error that aborted the cycle, if any.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := time.Now()
	defer func() { p.metrics.ObservePollCycle(time.Since(start)) }()

	for _, t := range p.registry.List() {
		v, err := p.reader.ReadValue(ctx, t.Address)
		p.metrics.TagRead(err)
		now := time.Now()
		if err != nil {
			if s7runtime.IsConnectionLost(err) {
				p.NotifyConnectionLost(err)
				return err
			}
			klog.V(3).InfoS("Failed to read tag", "tag", t.Name, "address", t.Address.String(), "err", err)
			p.bus.Publish(event.NewTagError(t.Name, err, now))
			continue
		}

		if changed, ok := p.registry.SetValue(t.Name, v, now); ok {
			p.bus.Publish(event.NewValueChanged(t.Name, v, changed, now))
		}
	}
	return nil
}
