package runtime

import (
	"fmt"
	"net"
	"strconv"
)

const DefaultPort = 102

type S7Address struct {
	Location string           `json:"location"` // 主机名或IP
	Option   *S7AddressOption `json:"option"`   // 地址其他参数
}

type S7AddressOption struct {
	Port uint  `json:"port"`           // 端口号
	Rack uint8 `json:"rack,omitempty"` // 机架号
	Slot uint8 `json:"slot,omitempty"` // 槽位号
}

// HostPort joins location and port the way the gos7 handler dials it.
func (a *S7Address) HostPort() string {
	port := uint(DefaultPort)
	if a.Option != nil && a.Option.Port != 0 {
		port = a.Option.Port
	}
	return net.JoinHostPort(a.Location, strconv.FormatUint(uint64(port), 10))
}

func (a *S7Address) String() string {
	if a == nil {
		return ""
	}
	if a.Option == nil {
		return a.HostPort()
	}
	return fmt.Sprintf("%s rack=%d slot=%d", a.HostPort(), a.Option.Rack, a.Option.Slot)
}

// CPUInfo is the identification block reported by the CPU.
type CPUInfo struct {
	ModuleTypeName string `json:"moduleTypeName"`
	SerialNumber   string `json:"serialNumber"`
	ASName         string `json:"asName"`
	Copyright      string `json:"copyright"`
	ModuleName     string `json:"moduleName"`
}

// CPUState is the operating mode reported by the CPU.
type CPUState string

const (
	CPUStateUnknown CPUState = "unknown"
	CPUStateRun     CPUState = "run"
	CPUStateStop    CPUState = "stop"
)
