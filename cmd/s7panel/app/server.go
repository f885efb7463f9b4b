package app

import (
	"context"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilserrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"s7panel/cmd/s7panel/options"
	"s7panel/pkg/generic"
	baseoptions "s7panel/pkg/generic/options"
	"s7panel/pkg/web"
	"syscall"
)

const (
	ComponentPanel = "s7panel"
)

func NewPanelCmd() *cobra.Command {
	cleanFlagSet := pflag.NewFlagSet(ComponentPanel, pflag.ContinueOnError)
	o := options.NewDefaultOptions()
	cmd := &cobra.Command{
		Use:                ComponentPanel,
		Long:               `The s7panel monitors and writes tags of a Siemens S7-1200/1500 controller over ISO-on-TCP.`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// initial flag parse, since we disable cobra's flag parsing
			if err := cleanFlagSet.Parse(args); err != nil {
				klog.ErrorS(err, "Failed to parse flag")
				_ = cmd.Usage()
				os.Exit(1)
			}

			// check if there are non-flag arguments in the command line
			cmds := cleanFlagSet.Args()
			if len(cmds) > 0 {
				klog.ErrorS(nil, "Unknown command", "command", cmds[0])
				_ = cmd.Usage()
				os.Exit(1)
			}

			// short-circuit on help
			baseoptions.PrintHelpAndExitIfRequested(cmd, cleanFlagSet)

			// short-circuit on defaultconfig
			baseoptions.PrintDefaultConfigAndExitIfRequested(options.NewDefaultOptions(), cleanFlagSet)

			if err := baseoptions.ParseAndApplyConfigFile(o, args); err != nil {
				return err
			}

			if errs := options.Validate(o); len(errs) != 0 {
				return utilserrors.NewAggregate(errs)
			}

			return run(o)
		},
	}

	o.AddFlags(cleanFlagSet)
	o.AddBaseFlags(cmd, cleanFlagSet)

	return cmd
}

func run(o *options.Options) error {
	c, err := o.Config()
	if err != nil {
		return err
	}

	if c.Bridge != nil {
		// a broker that is down is retried in the background, only a bad
		// client setup fails here and the panel runs without the bridge
		if err := c.Bridge.Start(); err != nil {
			klog.ErrorS(err, "Failed to start mqtt bridge")
		}
	}

	if o.AutoConnect {
		// the connection bounds the dial by --plc-timeout itself
		if err := c.PanelMgr.Connect(context.Background(), o.PLC.Host, o.PLC.Rack, o.PLC.Slot); err != nil {
			klog.ErrorS(err, "Failed to connect plc", "host", o.PLC.Host, "rack", o.PLC.Rack, "slot", o.PLC.Slot)
		}
	}

	server, err := web.NewServer(generic.Default(), o, c)
	if err != nil {
		return err
	}

	exit, err := server.Serve()
	if err != nil {
		return err
	}
	klog.V(1).InfoS("Server started", "port", o.Port)
	// Graceful shutdown
	// Wait for interrupt signal to gracefully shutdown the server
	exitCh := make(chan os.Signal, 1)
	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	// kill -9 is syscall.SIGKILL but can't be catch, so don't need add it
	signal.Notify(exitCh, syscall.SIGINT, syscall.SIGTERM)
	<-exitCh
	ctx, cancel := context.WithTimeout(context.Background(), o.Wait)
	defer cancel()

	exit(ctx)

	return nil
}
