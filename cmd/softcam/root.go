package main

import (
	"github.com/spf13/cobra"

	"github.com/ardnew/softcam/config"
	"github.com/ardnew/softcam/pkg"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	output     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "softcam",
		Short: "Virtual video capture devices",
		Long: `softcam manages virtual video capture devices. A daemon hosts the devices,
feeds them from producers or a test pattern, and serves a control gateway
and a compact status link.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default: softcam.yaml in ., $XDG_CONFIG_HOME/softcam, /etc/softcam)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (text or json)")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format (text or json)")

	cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDevicesCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	return cmd
}

// loadConfig reads the config file, applies flag overrides and configures
// logging.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pkg.SetLogLevel(cfg.LogLevel())
	pkg.SetLogFormat(cfg.LogFormat())
	return cfg, nil
}

func (o *rootOptions) json() bool {
	return o.output == "json"
}
