package options

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"s7panel/cmd/s7panel/config"
	"s7panel/pkg/broker"
	baseoptions "s7panel/pkg/generic/options"
	"s7panel/pkg/metrics"
	"s7panel/pkg/panel"
	"s7panel/pkg/poller"
	"s7panel/pkg/protocol/s7"
	"s7panel/pkg/protocol/s7/model"
	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"time"
)

type Options struct {
	Port         string          `json:"port"`
	Wait         time.Duration   `json:"graceful-timeout"`
	CertFile     string          `json:"certFile,omitempty"`
	KeyFile      string          `json:"keyFile,omitempty"`
	PLC          PLCOptions      `json:"plc"`
	AutoConnect  bool            `json:"autoConnect"`
	PollInterval time.Duration   `json:"pollInterval"`
	Tags         []panel.TagSpec `json:"tags"`
	MQTT         broker.Options  `json:"mqtt"`
	baseoptions.BaseOptions
}

// PLCOptions describe the controller the panel talks to.
type PLCOptions struct {
	Host    string        `json:"host"`
	Port    uint          `json:"port"`
	Rack    uint8         `json:"rack"`
	Slot    uint8         `json:"slot"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

const (
	_defaultPort     = "32200"
	_defaultWait     = 15 * time.Second
	_defaultModel    = "s71200"
	_defaultSlot     = 1
	_defaultTopic    = "s7panel"
	_defaultClientID = "s7panel"
)

func NewDefaultOptions() *Options {
	return &Options{
		Port: _defaultPort,
		Wait: _defaultWait,
		PLC: PLCOptions{
			Port:    s7runtime.DefaultPort,
			Slot:    _defaultSlot,
			Model:   _defaultModel,
			Timeout: s7.DefaultTimeout,
		},
		PollInterval: poller.DefaultInterval,
		Tags:         panel.DefaultTags(),
		MQTT: broker.Options{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    _defaultClientID,
			TopicPrefix: _defaultTopic,
		},
		BaseOptions: baseoptions.NewDefaultBaseOptions(),
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Port, "port", "P", o.Port, "Port exposed")
	fs.DurationVar(&o.Wait, "graceful-timeout", o.Wait, "The duration for which the server gracefully wait for existing connections to finish - e.g. 15s or 1m")
	fs.StringVar(&o.CertFile, "cert-file", o.CertFile, "TLS certificate file, serve plain HTTP when empty")
	fs.StringVar(&o.KeyFile, "key-file", o.KeyFile, "TLS private key file")

	fs.StringVar(&o.PLC.Host, "plc-host", o.PLC.Host, "Address of the S7 controller")
	fs.UintVar(&o.PLC.Port, "plc-port", o.PLC.Port, "ISO-on-TCP port of the controller")
	fs.Uint8Var(&o.PLC.Rack, "plc-rack", o.PLC.Rack, "Rack of the CPU")
	fs.Uint8Var(&o.PLC.Slot, "plc-slot", o.PLC.Slot, "Slot of the CPU")
	fs.StringVar(&o.PLC.Model, "plc-model", o.PLC.Model, "Controller family, one of s71200, s71500")
	fs.DurationVar(&o.PLC.Timeout, "plc-timeout", o.PLC.Timeout, "Deadline of every network operation against the controller, at most 30s")
	fs.BoolVar(&o.AutoConnect, "auto-connect", o.AutoConnect, "Connect to --plc-host at startup")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Period of the tag poll loop")

	fs.BoolVar(&o.MQTT.Enabled, "mqtt-enabled", o.MQTT.Enabled, "Mirror tag events to an MQTT broker")
	fs.StringVar(&o.MQTT.Broker, "mqtt-broker", o.MQTT.Broker, "MQTT broker url")
	fs.StringVar(&o.MQTT.ClientID, "mqtt-client-id", o.MQTT.ClientID, "MQTT client id")
	fs.StringVar(&o.MQTT.Username, "mqtt-username", o.MQTT.Username, "MQTT username")
	fs.StringVar(&o.MQTT.Password, "mqtt-password", o.MQTT.Password, "MQTT password")
	fs.StringVar(&o.MQTT.TopicPrefix, "mqtt-topic-prefix", o.MQTT.TopicPrefix, "Prefix of every published and subscribed topic")
	fs.Uint8Var(&o.MQTT.QoS, "mqtt-qos", o.MQTT.QoS, "MQTT quality of service, 0, 1 or 2")
}

func (o *Options) Config() (*config.Config, error) {
	modeler, ok := model.S7Modelers[o.PLC.Model]
	if !ok {
		return nil, errors.Errorf("unsupported plc model %q", o.PLC.Model)
	}

	recorder := metrics.NewRecorder()
	conn := s7.NewConnection(modeler, s7.Options{
		Port:    o.PLC.Port,
		Timeout: o.PLC.Timeout,
		Metrics: recorder,
	})
	mgr := panel.NewManager(conn,
		panel.WithMetrics(recorder),
		panel.WithPollInterval(o.PollInterval),
	)
	if err := mgr.LoadTags(o.Tags); err != nil {
		return nil, errors.Wrap(err, "load tags")
	}

	c := &config.Config{
		PanelMgr: mgr,
		Metrics:  recorder,
		CertFile: o.CertFile,
		KeyFile:  o.KeyFile,
	}
	if o.MQTT.Enabled {
		c.Bridge = broker.New(mgr, o.MQTT)
	}
	return c, nil
}
