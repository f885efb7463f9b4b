package config

import (
	"s7panel/pkg/broker"
	"s7panel/pkg/metrics"
	"s7panel/pkg/panel"
)

type Config struct {
	PanelMgr *panel.Manager
	Metrics  *metrics.Recorder
	// nil unless mqtt is enabled
	Bridge   *broker.Bridge
	CertFile string
	KeyFile  string
}
