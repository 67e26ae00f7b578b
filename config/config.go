// Package config loads softcam settings from defaults, an optional YAML
// file and SOFTCAM_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

// EnvPrefix prefixes every environment override, with dots in keys
// replaced by underscores (SOFTCAM_QUEUE_POLICY).
const EnvPrefix = "SOFTCAM"

// Default device layout, matching the stock driver parameters.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// Config is the complete daemon configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Registry RegistryConfig `mapstructure:"registry"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Gateway  ListenConfig   `mapstructure:"gateway"`
	Link     ListenConfig   `mapstructure:"link"`
	FIFO     FIFOConfig     `mapstructure:"fifo"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	Devices  []DeviceConfig `mapstructure:"devices"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LogConfig selects the log level (debug, info, warn, error) and format
// (text, json).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RegistryConfig bounds the registry and sets the default device count.
type RegistryConfig struct {
	MaxDevices int `mapstructure:"max_devices"`
	NumDevices int `mapstructure:"num_devices"`
}

// QueueConfig holds the queue defaults applied to every device.
type QueueConfig struct {
	Capacity       int           `mapstructure:"capacity"`
	Policy         string        `mapstructure:"policy"`
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout"`
}

// ListenConfig enables a TCP listener.
type ListenConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// FIFOConfig places one named pipe per device for raw frame producers.
type FIFOConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ProfileConfig names pprof output files. Empty paths disable profiling.
type ProfileConfig struct {
	CPU  string `mapstructure:"cpu"`
	Heap string `mapstructure:"heap"`
}

// DeviceConfig describes one device created at startup. Zero values fall
// back to the registry and queue defaults.
type DeviceConfig struct {
	Name          string        `mapstructure:"name"`
	Formats       []string      `mapstructure:"formats"`
	MaxWidth      int           `mapstructure:"max_width"`
	MaxHeight     int           `mapstructure:"max_height"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	Policy        string        `mapstructure:"policy"`
	Format        *FormatConfig `mapstructure:"format"`
	Pattern       PatternConfig `mapstructure:"pattern"`
}

// FormatConfig is a format negotiated when the device is created.
type FormatConfig struct {
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	PixelFormat string `mapstructure:"pixel_format"`
}

// PatternConfig attaches a colour-bar generator to the device.
type PatternConfig struct {
	Enabled bool `mapstructure:"enabled"`
	FPS     int  `mapstructure:"fps"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("registry.max_devices", device.DefaultMaxDevices)
	v.SetDefault("registry.num_devices", device.DefaultNumDevices)

	v.SetDefault("queue.capacity", device.DefaultQueueCapacity)
	v.SetDefault("queue.policy", device.PolicyBlock.String())
	v.SetDefault("queue.dequeue_timeout", "2s")

	v.SetDefault("gateway.enabled", true)
	v.SetDefault("gateway.listen", "127.0.0.1:8470")
	v.SetDefault("link.enabled", false)
	v.SetDefault("link.listen", "127.0.0.1:8471")

	v.SetDefault("fifo.enabled", false)
	v.SetDefault("fifo.dir", filepath.Join(xdg.RuntimeDir, "softcam"))

	v.SetDefault("profile.cpu", "")
	v.SetDefault("profile.heap", "")
}

// SearchPaths returns the directories searched for softcam.yaml when no
// explicit path is given.
func SearchPaths() []string {
	return []string{
		".",
		filepath.Join(xdg.ConfigHome, "softcam"),
		"/etc/softcam",
	}
}

// Default returns the built-in defaults, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(errors.Wrap(err, "default config"))
	}
	return &cfg
}

// Load reads configuration. An explicit path must exist; otherwise
// softcam.yaml is looked up in SearchPaths and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("softcam")
		v.SetConfigType("yaml")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		return errors.Wrap(err, "log.format")
	}

	if c.Registry.MaxDevices < 1 {
		return invalid("registry.max_devices", c.Registry.MaxDevices)
	}
	if c.Registry.NumDevices < 0 || c.Registry.NumDevices > c.Registry.MaxDevices {
		return invalid("registry.num_devices", c.Registry.NumDevices)
	}
	if len(c.Devices) > c.Registry.MaxDevices {
		return invalid("devices", len(c.Devices))
	}

	if c.Queue.Capacity < 1 || c.Queue.Capacity > device.MaxQueueCapacity {
		return invalid("queue.capacity", c.Queue.Capacity)
	}
	if _, err := device.ParsePolicy(c.Queue.Policy); err != nil {
		return errors.Wrap(err, "queue.policy")
	}
	if c.Queue.DequeueTimeout < 0 {
		return invalid("queue.dequeue_timeout", c.Queue.DequeueTimeout)
	}

	if c.Gateway.Enabled && c.Gateway.Listen == "" {
		return invalid("gateway.listen", c.Gateway.Listen)
	}
	if c.Link.Enabled && c.Link.Listen == "" {
		return invalid("link.listen", c.Link.Listen)
	}
	if c.FIFO.Enabled && c.FIFO.Dir == "" {
		return invalid("fifo.dir", c.FIFO.Dir)
	}

	for i, d := range c.Devices {
		if err := d.validate(); err != nil {
			return errors.Wrapf(err, "devices[%d]", i)
		}
	}
	return nil
}

func (d DeviceConfig) validate() error {
	if _, err := d.Capabilities(); err != nil {
		return err
	}
	if d.QueueCapacity < 0 || d.QueueCapacity > device.MaxQueueCapacity {
		return invalid("queue_capacity", d.QueueCapacity)
	}
	if d.Policy != "" {
		if _, err := device.ParsePolicy(d.Policy); err != nil {
			return errors.Wrap(err, "policy")
		}
	}
	if d.Format != nil {
		if _, err := d.Format.Format(); err != nil {
			return errors.Wrap(err, "format")
		}
	}
	if d.Pattern.FPS < 0 {
		return invalid("pattern.fps", d.Pattern.FPS)
	}
	return nil
}

func invalid(key string, value any) error {
	return errors.Wrapf(pkg.ErrInvalidParameter, "%s: %v", key, value)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	level, _ := pkg.ParseLogLevel(c.Log.Level)
	return level
}

// LogFormat returns the parsed log format.
func (c *Config) LogFormat() pkg.LogFormat {
	format, _ := pkg.ParseLogFormat(c.Log.Format)
	return format
}

// EffectiveDevices returns the configured devices, or NumDevices default
// devices offering YUYV at 1920x1080 when none are listed.
func (c *Config) EffectiveDevices() []DeviceConfig {
	if len(c.Devices) > 0 {
		return c.Devices
	}
	out := make([]DeviceConfig, c.Registry.NumDevices)
	for i := range out {
		out[i] = DeviceConfig{
			Formats:   []string{device.PixelFormatYUYV.String()},
			MaxWidth:  DefaultWidth,
			MaxHeight: DefaultHeight,
			Format: &FormatConfig{
				Width:       DefaultWidth,
				Height:      DefaultHeight,
				PixelFormat: device.PixelFormatYUYV.String(),
			},
		}
	}
	return out
}

// Capabilities converts the device's format list and maximum resolution.
// Missing values default to YUYV at 1920x1080.
func (d DeviceConfig) Capabilities() (device.Capabilities, error) {
	caps := device.Capabilities{
		MaxResolution: device.Resolution{Width: d.MaxWidth, Height: d.MaxHeight},
	}
	if caps.MaxResolution.Width == 0 {
		caps.MaxResolution.Width = DefaultWidth
	}
	if caps.MaxResolution.Height == 0 {
		caps.MaxResolution.Height = DefaultHeight
	}
	names := d.Formats
	if len(names) == 0 {
		names = []string{device.PixelFormatYUYV.String()}
	}
	for _, name := range names {
		p, ok := device.ParsePixelFormat(strings.ToUpper(strings.TrimSpace(name)))
		if !ok {
			return device.Capabilities{}, errors.Wrapf(pkg.ErrInvalidFormat, "pixel format %q", name)
		}
		caps.Formats = append(caps.Formats, p)
	}
	if err := caps.Validate(); err != nil {
		return device.Capabilities{}, err
	}
	return caps, nil
}

// Options returns the device options, falling back to the queue defaults.
func (d DeviceConfig) Options(defaults QueueConfig) ([]device.DeviceOption, error) {
	capacity := defaults.Capacity
	if d.QueueCapacity > 0 {
		capacity = d.QueueCapacity
	}
	name := defaults.Policy
	if d.Policy != "" {
		name = d.Policy
	}
	policy, err := device.ParsePolicy(name)
	if err != nil {
		return nil, err
	}
	return []device.DeviceOption{
		device.WithQueueCapacity(capacity),
		device.WithPolicy(policy),
	}, nil
}

// Format converts to a candidate device format.
func (f FormatConfig) Format() (device.Format, error) {
	p, ok := device.ParsePixelFormat(strings.ToUpper(strings.TrimSpace(f.PixelFormat)))
	if !ok {
		return device.Format{}, errors.Wrapf(pkg.ErrInvalidFormat, "pixel format %q", f.PixelFormat)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return device.Format{}, errors.Wrapf(pkg.ErrInvalidFormat, "resolution %dx%d", f.Width, f.Height)
	}
	return device.Format{Width: f.Width, Height: f.Height, PixelFormat: p}, nil
}

// String summarizes the configuration for logging.
func (c *Config) String() string {
	return fmt.Sprintf("devices=%d max=%d queue=%d/%s gateway=%v link=%v fifo=%v",
		len(c.EffectiveDevices()), c.Registry.MaxDevices,
		c.Queue.Capacity, c.Queue.Policy, c.Gateway.Enabled, c.Link.Enabled, c.FIFO.Enabled)
}
