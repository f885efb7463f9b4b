package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error kinds. Every typed error below matches its kind with errors.Is.
var (
	ErrInvalidFormat  = errors.New("invalid address format")
	ErrOutOfRange     = errors.New("address out of range")
	ErrUnreachable    = errors.New("plc unreachable")
	ErrRejected       = errors.New("plc rejected session")
	ErrNotConnected   = errors.New("not connected")
	ErrTimeout        = errors.New("timeout")
	ErrInvalidAddress = errors.New("invalid address")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrBusy           = errors.New("session busy")
)

type ParseError struct {
	Kind   error
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %q", e.Kind, e.Input)
	}
	return fmt.Sprintf("%v: %q: %s", e.Kind, e.Input, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == e.Kind }

type ConnError struct {
	Kind error
	Host string
	Err  error
}

func (e *ConnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %v", e.Host, e.Kind)
	}
	return fmt.Sprintf("connect %s: %v: %v", e.Host, e.Kind, e.Err)
}

func (e *ConnError) Is(target error) bool { return target == e.Kind }

func (e *ConnError) Unwrap() error { return e.Err }

type ReadError struct {
	Kind    error
	Address string
	Err     error
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("read %s: %v", e.Address, e.Kind)
	}
	return fmt.Sprintf("read %s: %v: %v", e.Address, e.Kind, e.Err)
}

func (e *ReadError) Is(target error) bool { return target == e.Kind }

func (e *ReadError) Unwrap() error { return e.Err }

type WriteError struct {
	Kind    error
	Address string
	Err     error
}

func (e *WriteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("write %s: %v", e.Address, e.Kind)
	}
	return fmt.Sprintf("write %s: %v: %v", e.Address, e.Kind, e.Err)
}

func (e *WriteError) Is(target error) bool { return target == e.Kind }

func (e *WriteError) Unwrap() error { return e.Err }

// IsConnectionLost reports whether err means the session can no longer be used.
func IsConnectionLost(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrTimeout)
}

type S7StoreArea int8

const (
	I S7StoreArea = iota
	Q
	M
	DB
)

var StoreAddressToString = map[S7StoreArea]string{
	I:  "I",
	Q:  "Q",
	M:  "M",
	DB: "DB",
}

var StringToStoreAddress = map[string]S7StoreArea{
	"I":  I,
	"Q":  Q,
	"M":  M,
	"DB": DB,
}

func (a S7StoreArea) String() string {
	if s, ok := StoreAddressToString[a]; ok {
		return s
	}
	return fmt.Sprintf("S7StoreArea(%d)", int8(a))
}

func (a S7StoreArea) MarshalJSON() ([]byte, error) {
	if s, ok := StoreAddressToString[a]; ok {
		return json.Marshal(s)
	}
	return nil, fmt.Errorf("unknown store area %d", a)
}

func (a *S7StoreArea) UnmarshalJSON(bytes []byte) error {
	var s string
	if err := json.Unmarshal(bytes, &s); err != nil {
		return err
	}
	v, ok := StringToStoreAddress[s]
	if !ok {
		return fmt.Errorf("unknown store area %s", s)
	}
	*a = v
	return nil
}

const (
	MaxBlockNumber = 65535
	MaxByteOffset  = 65535
	MaxBitOffset   = 7

	// NoBit marks a descriptor without a bit offset.
	NoBit = -1
)
