package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ardnew/softcam/daemon"
	"github.com/ardnew/softcam/pkg"
	"github.com/ardnew/softcam/pkg/prof"
)

type serveOptions struct {
	gateway string
	link    string
	devices int
	fifo    string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the device daemon",
		Example: `  softcam serve
  softcam serve --config ./softcam.yaml
  softcam serve --link 127.0.0.1:8471 --devices 2
  softcam serve --fifo /run/softcam`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.gateway, "gateway", "", "Gateway listen address (overrides gateway.listen)")
	flags.StringVar(&opts.link, "link", "", "Status link listen address; enables the link")
	flags.IntVar(&opts.devices, "devices", 0, "Number of default devices when none are configured")
	flags.StringVar(&opts.fifo, "fifo", "", "Directory for per-device frame FIFOs; enables FIFO producers")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if opts.gateway != "" {
		cfg.Gateway.Enabled = true
		cfg.Gateway.Listen = opts.gateway
	}
	if opts.link != "" {
		cfg.Link.Enabled = true
		cfg.Link.Listen = opts.link
	}
	if opts.fifo != "" {
		cfg.FIFO.Enabled = true
		cfg.FIFO.Dir = opts.fifo
	}
	if cmd.Flags().Changed("devices") {
		cfg.Registry.NumDevices = opts.devices
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	stopProfile, err := prof.Start(cfg.Profile.CPU, cfg.Profile.Heap)
	switch {
	case errors.Is(err, prof.ErrDisabled):
		pkg.LogWarn(pkg.ComponentCmd, "profiling requested but not compiled in",
			"cpu", cfg.Profile.CPU,
			"heap", cfg.Profile.Heap)
	case err != nil:
		d.Registry().Close()
		return err
	default:
		d.AddHook("profile", func(context.Context) error { return stopProfile() })
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		select {
		case <-d.Ready():
		case <-ctx.Done():
			return
		}
		args := []any{"devices", d.Registry().Len()}
		if a := d.Addr(daemon.ListenerGateway); a != nil {
			args = append(args, "gateway", a.String())
		}
		if a := d.Addr(daemon.ListenerLink); a != nil {
			args = append(args, "link", a.String())
		}
		pkg.LogInfo(pkg.ComponentCmd, "softcam ready", args...)
	}()

	return d.Run(ctx)
}
