package panel

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"s7panel/pkg/event"
	"s7panel/pkg/metrics"
	"s7panel/pkg/poller"
	"s7panel/pkg/protocol/s7"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
	"s7panel/pkg/tag"
)

var (
	ErrTagNotFound  = errors.New("tag not found")
	ErrInvalidRange = errors.New("invalid probe range")
)

// MaxProbeBlocks bounds the number of blocks or bytes one ProbeBlocks call reads.
const MaxProbeBlocks = 1024

// Controller is the PLC side of the panel, implemented by *s7.Connection.
type Controller interface {
	Connect(ctx context.Context, host string, rack, slot uint8) error
	Reconnect(ctx context.Context) error
	Disconnect()
	ReadValue(ctx context.Context, addr s7runtime.AddressDescriptor) (s7runtime.Value, error)
	WriteValue(ctx context.Context, addr s7runtime.AddressDescriptor, value s7runtime.Value) error
	CPUInfo(ctx context.Context) (s7runtime.CPUInfo, error)
	CPUState(ctx context.Context) (s7runtime.CPUState, error)
	Info() s7.ConnectionInfo
}

var _ Controller = (*s7.Connection)(nil)

type TagSpec struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	DataType string `json:"dataType"`
}

func (s TagSpec) dataType() (constant.DataType, error) {
	if s.DataType != "" {
		return constant.ParseDataType(s.DataType)
	}
	d, err := s7runtime.ParseAddress(s.Address)
	if err != nil {
		return 0, err
	}
	return d.DataType, nil
}

// DefaultTags covers every supported data type.
func DefaultTags() []TagSpec {
	return []TagSpec{
		{Name: "Motor_Running", Address: "DB1.DBX0.0", DataType: "bool"},
		{Name: "Temperature", Address: "DB1.DBD2", DataType: "real32"},
		{Name: "Speed_Setpoint", Address: "DB1.DBW6", DataType: "int16"},
		{Name: "Alarm_Active", Address: "DB1.DBX8.0", DataType: "bool"},
	}
}

type Status struct {
	Connection s7.ConnectionInfo `json:"connection"`
	Polling    poller.State      `json:"polling"`
	Tags       int               `json:"tags"`
}

type Option func(*Manager)

func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// Manager is the boundary a user interface drives: connection control,
// tag definitions, writes and change notifications.
type Manager struct {
	controller   Controller
	registry     *tag.Registry
	bus          *event.Bus
	poller       *poller.Poller
	metrics      *metrics.Recorder
	pollInterval time.Duration
}

func NewManager(controller Controller, opts ...Option) *Manager {
	m := &Manager{
		controller:   controller,
		registry:     tag.NewRegistry(),
		bus:          event.NewBus(),
		pollInterval: poller.DefaultInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.poller = poller.New(controller, m.registry, m.bus, poller.Options{
		Interval: m.pollInterval,
		Metrics:  m.metrics,
	})
	return m
}

// Connect opens the PLC session and starts or resumes polling.
func (m *Manager) Connect(ctx context.Context, host string, rack, slot uint8) error {
	if err := m.controller.Connect(ctx, host, rack, slot); err != nil {
		return err
	}
	m.startPolling()
	return nil
}

// Reconnect reopens the last session after a lost connection.
func (m *Manager) Reconnect(ctx context.Context) error {
	if err := m.controller.Reconnect(ctx); err != nil {
		return err
	}
	m.startPolling()
	return nil
}

func (m *Manager) startPolling() {
	if !m.poller.Resume() {
		m.poller.Start()
	}
}

func (m *Manager) Disconnect() {
	m.poller.Stop()
	m.controller.Disconnect()
	klog.InfoS("Disconnected from s7 device")
}

func (m *Manager) AddTag(name string, address string, dataType constant.DataType) (*tag.Tag, error) {
	d, err := s7runtime.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if d.DataType != dataType {
		return nil, &s7runtime.ParseError{
			Kind:   s7runtime.ErrInvalidFormat,
			Input:  address,
			Reason: fmt.Sprintf("address holds %s, not %s", d.DataType, dataType),
		}
	}
	t, err := m.registry.Add(name, *d, dataType)
	if err != nil {
		return nil, err
	}
	klog.V(2).InfoS("Added tag", "tag", t.Name, "address", t.Address.String(), "dataType", t.DataType())
	return t, nil
}

// LoadTags adds every spec and reports all failures together. A spec
// without a data type takes the one of its address form.
func (m *Manager) LoadTags(specs []TagSpec) error {
	var errs []error
	for _, spec := range specs {
		dt, err := spec.dataType()
		if err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "tag %q", spec.Name))
			continue
		}
		if _, err := m.AddTag(spec.Name, spec.Address, dt); err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "tag %q", spec.Name))
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (m *Manager) RemoveTag(name string) bool {
	ok := m.registry.Remove(name)
	if ok {
		klog.V(2).InfoS("Removed tag", "tag", name)
	}
	return ok
}

func (m *Manager) Tag(name string) (*tag.Tag, bool) {
	return m.registry.Get(name)
}

func (m *Manager) Tags() []*tag.Tag {
	return m.registry.List()
}

// ListTags returns the tags matching filter in definition order, or ordered
// by the given less funcs.
func (m *Manager) ListTags(filter *tag.Filter, less ...tag.LessFunc) []*tag.Tag {
	predicates := tag.ParseFilter(filter)
	out := make([]*tag.Tag, 0)
	for _, t := range m.registry.List() {
		if tag.Match(t, predicates) {
			out = append(out, t)
		}
	}
	if len(less) > 0 {
		tag.By(less...).Sort(out)
	}
	return out
}

// WriteTag coerces raw to the tag's type and writes it. A write that finds
// the connection gone pauses polling the same way a failed read does.
func (m *Manager) WriteTag(ctx context.Context, name string, raw interface{}) (*tag.Tag, error) {
	t, ok := m.registry.Get(name)
	if !ok {
		return nil, pkgerrors.Wrapf(ErrTagNotFound, "write %q", name)
	}
	v, err := s7runtime.ValueFromInterface(t.DataType(), raw)
	if err != nil {
		var we *s7runtime.WriteError
		if errors.As(err, &we) {
			we.Address = t.Address.String()
		}
		m.metrics.TagWrite(err)
		return nil, err
	}

	err = m.controller.WriteValue(ctx, t.Address, v)
	m.metrics.TagWrite(err)
	if err != nil {
		klog.V(2).InfoS("Failed to write tag", "tag", name, "address", t.Address.String(), "err", err)
		if s7runtime.IsConnectionLost(err) {
			m.poller.NotifyConnectionLost(err)
		}
		return nil, err
	}

	now := time.Now()
	if changed, ok := m.registry.SetValue(name, v, now); ok {
		m.bus.Publish(event.NewValueChanged(name, v, changed, now))
	}
	klog.V(3).InfoS("Wrote tag", "tag", name, "value", v.String())
	t, _ = m.registry.Get(name)
	return t, nil
}

func (m *Manager) Subscribe(buffer int) *event.Subscription {
	return m.bus.Subscribe(buffer)
}

func (m *Manager) Unsubscribe(id string) bool {
	return m.bus.Unsubscribe(id)
}

func (m *Manager) Status() Status {
	return Status{
		Connection: m.controller.Info(),
		Polling:    m.poller.State(),
		Tags:       m.registry.Len(),
	}
}

func (m *Manager) CPUInfo(ctx context.Context) (s7runtime.CPUInfo, error) {
	info, err := m.controller.CPUInfo(ctx)
	if err != nil && s7runtime.IsConnectionLost(err) {
		m.poller.NotifyConnectionLost(err)
	}
	return info, err
}

func (m *Manager) CPUState(ctx context.Context) (s7runtime.CPUState, error) {
	state, err := m.controller.CPUState(ctx)
	if err != nil && s7runtime.IsConnectionLost(err) {
		m.poller.NotifyConnectionLost(err)
	}
	return state, err
}

// ProbeBlocks reads one byte from each unit of area in [from, to] and
// returns the units that answered. For DB a unit is a data block number,
// for I, Q and M it is a byte offset.
func (m *Manager) ProbeBlocks(ctx context.Context, area s7runtime.S7StoreArea, from, to int) ([]int, error) {
	lower, upper := 0, s7runtime.MaxByteOffset
	if area == s7runtime.DB {
		lower, upper = 1, s7runtime.MaxBlockNumber
	}
	if _, ok := s7runtime.StoreAddressToString[area]; !ok ||
		from < lower || to > upper || from > to || to-from >= MaxProbeBlocks {
		return nil, pkgerrors.Wrapf(ErrInvalidRange, "%s%d..%s%d", area, from, area, to)
	}
	found := make([]int, 0)
	for n := from; n <= to; n++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		addr := s7runtime.AddressDescriptor{Area: area, ByteOffset: n, BitOffset: 0, DataType: constant.BOOL}
		if area == s7runtime.DB {
			addr.BlockNumber, addr.ByteOffset = n, 0
		}
		_, err := m.controller.ReadValue(ctx, addr)
		if err == nil {
			found = append(found, n)
			continue
		}
		if s7runtime.IsConnectionLost(err) {
			m.poller.NotifyConnectionLost(err)
			return found, err
		}
		if errors.Is(err, ctx.Err()) {
			return found, err
		}
		klog.V(4).InfoS("Probe did not answer", "area", area.String(), "index", n, "err", err)
	}
	return found, nil
}

// Shutdown stops polling, closes the session and ends every subscription.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Disconnect()
		m.bus.Close()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
