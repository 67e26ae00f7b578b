// Package daemon assembles a device registry and its adapters from
// configuration and runs them until shutdown.
package daemon

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/config"
	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/gateway"
	"github.com/ardnew/softcam/metrics"
	"github.com/ardnew/softcam/pkg"
	"github.com/ardnew/softcam/pkg/prof"
	"github.com/ardnew/softcam/source"
	"github.com/ardnew/softcam/source/fifo"
	"github.com/ardnew/softcam/statuslink"
)

// Listener names accepted by Addr.
const (
	ListenerGateway = "gateway"
	ListenerLink    = "link"
)

// Daemon owns the registry and everything serving it.
type Daemon struct {
	cfg        *config.Config
	registry   *device.Registry
	dispatcher *device.Dispatcher
	metrics    *metrics.Metrics
	gateway    *gateway.Server
	link       *statuslink.Server
	generators []*source.Generator
	feeders    []*fifo.Feeder
	shutdown   *Shutdown

	mutex sync.Mutex
	addrs map[string]net.Addr
	ready chan struct{}
}

// New validates cfg, creates its devices and negotiates any configured
// initial formats.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	registry := device.NewRegistry(device.WithMaxDevices(cfg.Registry.MaxDevices))
	d := &Daemon{
		cfg:      cfg,
		registry: registry,
		shutdown: NewShutdown(DefaultShutdownTimeout),
		addrs:    make(map[string]net.Addr),
		ready:    make(chan struct{}),
	}

	for i, dc := range cfg.EffectiveDevices() {
		if err := d.createDevice(dc); err != nil {
			registry.Close()
			return nil, errors.Wrapf(err, "device %d", i)
		}
	}

	d.dispatcher = device.NewDispatcher(registry)
	d.metrics = metrics.New(registry)
	if cfg.Gateway.Enabled {
		d.gateway = gateway.New(registry, d.dispatcher, d.metrics)
		d.gateway.DequeueTimeout = cfg.Queue.DequeueTimeout
		prof.Register(d.gateway.Router())
	}
	if cfg.Link.Enabled {
		d.link = statuslink.NewServer(registry)
	}

	d.shutdown.AddHook("registry", func(context.Context) error {
		return registry.Close()
	})
	return d, nil
}

func (d *Daemon) createDevice(dc config.DeviceConfig) error {
	caps, err := dc.Capabilities()
	if err != nil {
		return err
	}
	opts, err := dc.Options(d.cfg.Queue)
	if err != nil {
		return err
	}
	id, err := d.registry.Create(dc.Name, caps, opts...)
	if err != nil {
		return err
	}

	if dc.Format != nil {
		f, err := dc.Format.Format()
		if err != nil {
			return err
		}
		dev, err := d.registry.Lookup(id)
		if err != nil {
			return err
		}
		if _, err := dev.SetFormat(f); err != nil {
			return errors.Wrapf(err, "initial format %s", f)
		}
	}

	if dc.Pattern.Enabled {
		d.generators = append(d.generators, source.NewGenerator(d.registry, id, dc.Pattern.FPS))
	}
	if d.cfg.FIFO.Enabled {
		dev, err := d.registry.Lookup(id)
		if err != nil {
			return err
		}
		d.feeders = append(d.feeders, fifo.New(d.registry, id, d.cfg.FIFO.Dir, dev.Name))
	}
	return nil
}

// Registry returns the daemon's device registry.
func (d *Daemon) Registry() *device.Registry { return d.registry }

// Dispatcher returns the dispatcher shared by the gateway sessions.
func (d *Daemon) Dispatcher() *device.Dispatcher { return d.dispatcher }

// Metrics returns the Prometheus metrics served on the gateway.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

// AddHook registers fn to run during shutdown, after the listeners have
// stopped.
func (d *Daemon) AddHook(name string, fn func(ctx context.Context) error) {
	d.shutdown.AddHook(name, fn)
}

// Ready is closed once every enabled listener is bound.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr returns the bound address of a listener, or nil if it is disabled
// or not yet bound.
func (d *Daemon) Addr(name string) net.Addr {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.addrs[name]
}

func (d *Daemon) listen(name, addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listen %s", name, addr)
	}
	d.mutex.Lock()
	d.addrs[name] = ln.Addr()
	d.mutex.Unlock()
	return ln, nil
}

// Run serves until ctx ends or a listener fails, then stops every
// component and runs the shutdown hooks. A pattern generator or FIFO
// feeder stopping on its own does not stop the daemon. Run must be called only once.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type binding struct {
		ln    net.Listener
		serve func(context.Context, net.Listener) error
	}
	var bindings []binding
	bind := func(name, addr string, serve func(context.Context, net.Listener) error) error {
		ln, err := d.listen(name, addr)
		if err != nil {
			return err
		}
		bindings = append(bindings, binding{ln, serve})
		return nil
	}

	var err error
	if d.gateway != nil {
		err = bind(ListenerGateway, d.cfg.Gateway.Listen, d.gateway.Serve)
	}
	if err == nil && d.link != nil {
		err = bind(ListenerLink, d.cfg.Link.Listen, d.link.Serve)
	}
	for i := 0; err == nil && i < len(d.feeders); i++ {
		err = d.feeders[i].Open()
	}
	if err != nil {
		for _, b := range bindings {
			b.ln.Close()
		}
		for _, f := range d.feeders {
			f.Close()
		}
		d.shutdown.Run()
		return err
	}
	close(d.ready)

	pkg.LogInfo(pkg.ComponentDaemon, "daemon started",
		"devices", d.registry.Len(),
		"generators", len(d.generators),
		"fifos", len(d.feeders),
		"config", d.cfg.File)

	var (
		wg   sync.WaitGroup
		errc = make(chan error, len(bindings))
	)
	for _, b := range bindings {
		wg.Add(1)
		go func(b binding) {
			defer wg.Done()
			if err := b.serve(ctx, b.ln); err != nil {
				errc <- err
				cancel()
			}
		}(b)
	}
	for _, g := range d.generators {
		wg.Add(1)
		go func(g *source.Generator) {
			defer wg.Done()
			if err := g.Run(ctx); err != nil {
				pkg.LogWarn(pkg.ComponentDaemon, "pattern generator stopped",
					"error", err)
			}
		}(g)
	}

	for _, f := range d.feeders {
		wg.Add(1)
		go func(f *fifo.Feeder) {
			defer wg.Done()
			if err := f.Run(ctx); err != nil {
				pkg.LogWarn(pkg.ComponentDaemon, "fifo feeder stopped",
					"path", f.Path(),
					"error", err)
			}
		}(f)
	}

	<-ctx.Done()
	pkg.LogInfo(pkg.ComponentDaemon, "daemon stopping")
	wg.Wait()
	d.shutdown.Run()

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}
