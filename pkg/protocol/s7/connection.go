package s7

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"
	"k8s.io/klog/v2"

	"s7panel/pkg/metrics"
	"s7panel/pkg/protocol/s7/model"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
)

const (
	DefaultTimeout = 3 * time.Second
	MaxTimeout     = 30 * time.Second

	// extra time granted on top of the session deadline before a call is
	// given up on and the connection marked Failed
	guardGrace = 500 * time.Millisecond
)

type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connected
	Failed
)

var ConnectionStateToString = map[ConnectionState]string{
	Disconnected: "disconnected",
	Connected:    "connected",
	Failed:       "failed",
}

func (s ConnectionState) String() string {
	if str, ok := ConnectionStateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ConnectionInfo is a point-in-time view of a Connection.
type ConnectionInfo struct {
	Host  string          `json:"host"`
	Port  uint            `json:"port"`
	Rack  uint8           `json:"rack"`
	Slot  uint8           `json:"slot"`
	State ConnectionState `json:"state"`
}

type Options struct {
	Port    uint
	Timeout time.Duration
	Metrics *metrics.Recorder
}

// Connection is the single PLC session of the process. Connect, Disconnect,
// ReadValue, WriteValue and CPUInfo are serialized by a one-slot semaphore.
type Connection struct {
	modeler model.S7Modeler
	port    uint
	timeout time.Duration
	metrics *metrics.Recorder

	sem   chan struct{}
	state *atomic.Int32

	// guarded by sem
	session s7runtime.Session

	mu      sync.RWMutex
	address *s7runtime.S7Address
}

func NewConnection(modeler model.S7Modeler, opts Options) *Connection {
	if opts.Port == 0 {
		opts.Port = s7runtime.DefaultPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Timeout > MaxTimeout {
		opts.Timeout = MaxTimeout
	}
	c := &Connection{
		modeler: modeler,
		port:    opts.Port,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		sem:     make(chan struct{}, 1),
		state:   atomic.NewInt32(int32(Disconnected)),
	}
	c.metrics.SetConnectionState(int(Disconnected))
	return c
}

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) setState(s ConnectionState) {
	if old := ConnectionState(c.state.Swap(int32(s))); old != s {
		klog.V(3).InfoS("Connection state changed", "from", old, "to", s)
	}
	c.metrics.SetConnectionState(int(s))
}

func (c *Connection) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := ConnectionInfo{Port: c.port, State: c.State()}
	if c.address != nil {
		info.Host = c.address.Location
		info.Port = c.address.Option.Port
		info.Rack = c.address.Option.Rack
		info.Slot = c.address.Option.Slot
	}
	return info
}

// guard bounds one operation independently of the caller's context. Only
// its expiry is reported as a PLC timeout.
func (c *Connection) guard() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout+guardGrace)
}

// acquire waits for the session slot. It fails with the caller's context
// error, or ErrBusy once guard expires while another operation holds it.
func (c *Connection) acquire(ctx, guard context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-guard.Done():
		return s7runtime.ErrBusy
	}
}

func (c *Connection) release() {
	<-c.sem
}

// Connect opens a session with the PLC at host, replacing any previous one.
func (c *Connection) Connect(ctx context.Context, host string, rack, slot uint8) error {
	address := &s7runtime.S7Address{
		Location: host,
		Option: &s7runtime.S7AddressOption{
			Port: c.port,
			Rack: rack,
			Slot: slot,
		},
	}
	return c.connect(ctx, address)
}

// Reconnect repeats the last Connect.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.RLock()
	address := c.address.DeepCopy()
	c.mu.RUnlock()
	if address == nil {
		return &s7runtime.ConnError{Kind: s7runtime.ErrNotConnected, Err: errors.New("no previous connection")}
	}
	return c.connect(ctx, address)
}

func (c *Connection) connect(ctx context.Context, address *s7runtime.S7Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	guard, cancel := c.guard()
	if err := c.acquire(ctx, guard); err != nil {
		cancel()
		if errors.Is(err, s7runtime.ErrBusy) {
			return &s7runtime.ConnError{Kind: s7runtime.ErrBusy, Host: address.HostPort()}
		}
		return err
	}

	c.closeSession()
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()

	// outcome decides whether the dial result or the guard expiry
	// wins, so a late session is never installed after Failed was reported
	var (
		outcome   sync.Mutex
		settled   bool
		abandoned bool
	)
	done := make(chan error, 1)
	go func() {
		defer c.release()
		session, err := c.newSession(address)
		outcome.Lock()
		defer outcome.Unlock()
		settled = true
		if abandoned {
			if err == nil {
				_ = session.Close()
			}
			return
		}
		if err != nil {
			c.setState(Failed)
		} else {
			c.session = session
			c.setState(Connected)
		}
		done <- err
	}()
	abandon := func() bool {
		outcome.Lock()
		defer outcome.Unlock()
		if settled {
			return false
		}
		abandoned = true
		c.setState(Failed)
		return true
	}

	select {
	case err := <-done:
		cancel()
		return c.connected(address, err)
	case <-guard.Done():
		cancel()
		if !abandon() {
			return c.connected(address, <-done)
		}
		klog.V(2).InfoS("Failed to connect s7 device", "address", address.String(), "err", guard.Err())
		return &s7runtime.ConnError{Kind: s7runtime.ErrUnreachable, Host: address.HostPort(), Err: guard.Err()}
	case <-ctx.Done():
		// the dial keeps its own deadline; only the caller stops waiting
		go func() {
			defer cancel()
			select {
			case err := <-done:
				_ = c.connected(address, err)
			case <-guard.Done():
				if !abandon() {
					_ = c.connected(address, <-done)
				}
			}
		}()
		return ctx.Err()
	}
}

func (c *Connection) connected(address *s7runtime.S7Address, err error) error {
	if err != nil {
		klog.V(2).InfoS("Failed to connect s7 device", "address", address.String(), "err", err)
		return &s7runtime.ConnError{Kind: classifyConnectError(err), Host: address.HostPort(), Err: err}
	}
	klog.InfoS("Connected to s7 device", "address", address.String())
	return nil
}

func (c *Connection) newSession(address *s7runtime.S7Address) (session s7runtime.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("s7 session panic: %v", r)
		}
	}()
	return c.modeler.NewSession(address, c.timeout)
}

// closeSession must be called while holding sem.
func (c *Connection) closeSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		klog.V(4).InfoS("Failed to close s7 session", "err", err)
	}
	c.session = nil
}

// Disconnect closes the session. It is safe to call at any time.
func (c *Connection) Disconnect() {
	c.sem <- struct{}{}
	defer c.release()
	c.closeSession()
	c.setState(Disconnected)
}

// do runs fn on the live session. Network failures and an expired guard
// leave the connection Failed and the session closed. A caller that gives up
// early gets its context error back and the connection state is untouched.
func (c *Connection) do(ctx context.Context, fn func(s s7runtime.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	guard, cancel := c.guard()
	if err := c.acquire(ctx, guard); err != nil {
		cancel()
		return err
	}
	if c.State() != Connected || c.session == nil {
		c.release()
		cancel()
		return s7runtime.ErrNotConnected
	}

	session := c.session
	done := make(chan error, 1)
	go func() {
		defer c.release()
		err := c.call(session, fn)
		if isNetworkError(err) || c.State() == Failed {
			c.setState(Failed)
			c.closeSession()
		}
		done <- err
	}()

	select {
	case err := <-done:
		cancel()
		return err
	case <-guard.Done():
		cancel()
		return c.expire(done)
	case <-ctx.Done():
		select {
		case err := <-done:
			cancel()
			return err
		default:
		}
		go func() {
			defer cancel()
			select {
			case <-done:
			case <-guard.Done():
				_ = c.expire(done)
			}
		}()
		return ctx.Err()
	}
}

// expire marks the connection Failed unless the call finished in the meantime.
func (c *Connection) expire(done <-chan error) error {
	select {
	case err := <-done:
		return err
	default:
	}
	klog.V(2).InfoS("S7 call exceeded its deadline", "timeout", c.timeout)
	c.setState(Failed)
	return s7runtime.ErrTimeout
}

func (c *Connection) call(session s7runtime.Session, fn func(s s7runtime.Session) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			klog.V(2).InfoS("Failed to ask s7 message", "error", r)
			err = fmt.Errorf("s7 session panic: %v: %w", r, io.ErrUnexpectedEOF)
		}
	}()
	return fn(session)
}

// ReadValue reads and decodes the value stored at addr.
func (c *Connection) ReadValue(ctx context.Context, addr s7runtime.AddressDescriptor) (s7runtime.Value, error) {
	var value s7runtime.Value
	buf := make([]byte, addr.Size())
	err := c.do(ctx, func(s s7runtime.Session) error {
		if err := s.ReadArea(addr.Area, addr.BlockNumber, addr.ByteOffset, buf); err != nil {
			return err
		}
		v, err := s7runtime.DecodeValue(addr, buf)
		value = v
		return err
	})
	if err != nil {
		if callerGaveUp(ctx, err) {
			return s7runtime.Value{}, err
		}
		return s7runtime.Value{}, &s7runtime.ReadError{Kind: classifyIOError(err), Address: addr.String(), Err: err}
	}
	return value, nil
}

// WriteValue encodes value and writes it to addr. Bools are written with a
// read-modify-write of the containing byte.
func (c *Connection) WriteValue(ctx context.Context, addr s7runtime.AddressDescriptor, value s7runtime.Value) error {
	if value.Type != addr.DataType {
		return &s7runtime.WriteError{Kind: s7runtime.ErrTypeMismatch, Address: addr.String(),
			Err: fmt.Errorf("%s value for %s address", value.Type, addr.DataType)}
	}
	if addr.Area == s7runtime.I {
		return &s7runtime.WriteError{Kind: s7runtime.ErrInvalidAddress, Address: addr.String(),
			Err: errors.New("inputs are read-only")}
	}

	buf := make([]byte, addr.Size())
	err := c.do(ctx, func(s s7runtime.Session) error {
		if addr.DataType == constant.BOOL {
			if err := s.ReadArea(addr.Area, addr.BlockNumber, addr.ByteOffset, buf); err != nil {
				return err
			}
		}
		if err := s7runtime.EncodeValue(addr, value, buf); err != nil {
			return err
		}
		return s.WriteArea(addr.Area, addr.BlockNumber, addr.ByteOffset, buf)
	})
	if err != nil {
		if callerGaveUp(ctx, err) {
			return err
		}
		return &s7runtime.WriteError{Kind: classifyIOError(err), Address: addr.String(), Err: err}
	}
	return nil
}

func (c *Connection) CPUInfo(ctx context.Context) (s7runtime.CPUInfo, error) {
	var info s7runtime.CPUInfo
	err := c.do(ctx, func(s s7runtime.Session) error {
		var err error
		info, err = s.CPUInfo()
		return err
	})
	if err != nil {
		if callerGaveUp(ctx, err) {
			return s7runtime.CPUInfo{}, err
		}
		return s7runtime.CPUInfo{}, &s7runtime.ReadError{Kind: classifyIOError(err), Address: "SZL 0x001C", Err: err}
	}
	return info, nil
}

// CPUState reports whether the CPU is in RUN or STOP.
func (c *Connection) CPUState(ctx context.Context) (s7runtime.CPUState, error) {
	state := s7runtime.CPUStateUnknown
	err := c.do(ctx, func(s s7runtime.Session) error {
		var err error
		state, err = s.CPUState()
		return err
	})
	if err != nil {
		if callerGaveUp(ctx, err) {
			return s7runtime.CPUStateUnknown, err
		}
		return s7runtime.CPUStateUnknown, &s7runtime.ReadError{Kind: classifyIOError(err), Address: "SZL 0x0424", Err: err}
	}
	return state, nil
}

// callerGaveUp reports whether err is the caller's own cancellation or
// deadline rather than a PLC failure.
func callerGaveUp(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	return ctxErr != nil && errors.Is(err, ctxErr)
}

func classifyConnectError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return s7runtime.ErrUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return s7runtime.ErrUnreachable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return s7runtime.ErrUnreachable
	}
	return s7runtime.ErrRejected
}

func classifyIOError(err error) error {
	switch {
	case errors.Is(err, s7runtime.ErrBusy):
		return s7runtime.ErrBusy
	case errors.Is(err, s7runtime.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return s7runtime.ErrTimeout
	case errors.Is(err, s7runtime.ErrNotConnected):
		return s7runtime.ErrNotConnected
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return s7runtime.ErrTimeout
	}
	if isNetworkError(err) {
		return s7runtime.ErrNotConnected
	}
	return s7runtime.ErrInvalidAddress
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
