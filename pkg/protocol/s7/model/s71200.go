package model

import (
	"fmt"
	"time"

	"github.com/robinson/gos7"
	"k8s.io/klog/v2"

	s7 "s7panel/pkg/protocol/s7/runtime"
)

// S71200 talks to S7-1200 CPUs. The CPU must allow PUT/GET access from
// remote partners and the data blocks must not use optimized access.
type S71200 struct {
}

func (s *S71200) NewSession(address *s7.S7Address, timeout time.Duration) (s7.Session, error) {
	return newGos7Session(address, timeout)
}

// S71500 shares the S7-1200 wire behaviour.
type S71500 struct {
	S71200
}

type gos7Session struct {
	handler *gos7.TCPClientHandler
	client  gos7.Client
}

func newGos7Session(address *s7.S7Address, timeout time.Duration) (*gos7Session, error) {
	var rack, slot int
	if address.Option != nil {
		rack, slot = int(address.Option.Rack), int(address.Option.Slot)
	}
	handler := gos7.NewTCPClientHandler(address.HostPort(), rack, slot)
	handler.Timeout = timeout
	handler.IdleTimeout = 0

	if err := handler.Connect(); err != nil {
		klog.V(2).InfoS("Failed to connect s7 device", "address", address.String(), "err", err)
		_ = handler.Close()
		return nil, err
	}
	return &gos7Session{
		handler: handler,
		client:  gos7.NewClient(handler),
	}, nil
}

func (g *gos7Session) ReadArea(area s7.S7StoreArea, block int, start int, buf []byte) error {
	switch area {
	case s7.DB:
		return g.client.AGReadDB(block, start, len(buf), buf)
	case s7.M:
		return g.client.AGReadMB(start, len(buf), buf)
	case s7.I:
		return g.client.AGReadEB(start, len(buf), buf)
	case s7.Q:
		return g.client.AGReadAB(start, len(buf), buf)
	default:
		return fmt.Errorf("unsupported area %s", area)
	}
}

func (g *gos7Session) WriteArea(area s7.S7StoreArea, block int, start int, buf []byte) error {
	switch area {
	case s7.DB:
		return g.client.AGWriteDB(block, start, len(buf), buf)
	case s7.M:
		return g.client.AGWriteMB(start, len(buf), buf)
	case s7.Q:
		return g.client.AGWriteAB(start, len(buf), buf)
	default:
		return fmt.Errorf("area %s is not writable", area)
	}
}

func (g *gos7Session) CPUInfo() (s7.CPUInfo, error) {
	info, err := g.client.GetCPUInfo()
	if err != nil {
		return s7.CPUInfo{}, err
	}
	return s7.CPUInfo{
		ModuleTypeName: info.ModuleTypeName,
		SerialNumber:   info.SerialNumber,
		ASName:         info.ASName,
		Copyright:      info.Copyright,
		ModuleName:     info.ModuleName,
	}, nil
}

// gos7 status codes returned by PLCGetStatus
const (
	cpuStatusRun  = 8
	cpuStatusStop = 4
)

func (g *gos7Session) CPUState() (s7.CPUState, error) {
	status, err := g.client.PLCGetStatus()
	if err != nil {
		return s7.CPUStateUnknown, err
	}
	switch status {
	case cpuStatusRun:
		return s7.CPUStateRun, nil
	case cpuStatusStop:
		return s7.CPUStateStop, nil
	default:
		return s7.CPUStateUnknown, nil
	}
}

func (g *gos7Session) Close() error {
	return g.handler.Close()
}
