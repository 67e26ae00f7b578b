package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ardnew/softcam/device"
)

type devicesOptions struct {
	addr    string
	timeout time.Duration
}

func newDevicesCommand(root *rootOptions) *cobra.Command {
	opts := &devicesOptions{}

	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List devices through the control gateway",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(cmd, root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "gateway", "", "Gateway address (default: gateway.listen)")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func runDevices(cmd *cobra.Command, root *rootOptions, opts *devicesOptions) error {
	addr := opts.addr
	if addr == "" {
		cfg, err := root.loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Gateway.Listen
	}

	snaps, err := fetchDevices(cmd.Context(), "http://"+addr, opts.timeout)
	if err != nil {
		return err
	}

	if root.json() {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snaps)
	}
	printDevices(cmd.OutOrStdout(), snaps)
	return nil
}

func fetchDevices(ctx context.Context, base string, timeout time.Duration) ([]device.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/devices", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "gateway request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected HTTP status: %s", resp.Status)
	}
	var snaps []device.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, errors.Wrap(err, "decode devices")
	}
	return snaps, nil
}

func printDevices(w io.Writer, snaps []device.Snapshot) {
	if len(snaps) == 0 {
		color.New(color.Faint).Fprintln(w, "No devices")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tFORMAT\tQUEUE\tSEQUENCE\tDROPPED")
	for _, s := range snaps {
		format := "-"
		if s.Format != nil {
			format = s.Format.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d %s\t%d\t%d\n",
			s.ID, color.New(color.FgCyan).Sprint(s.Name), stateColor(s.State).Sprint(s.State),
			format, s.Queue.Queued, s.Queue.Capacity, s.Queue.Policy,
			s.Queue.Sequence, s.Queue.Dropped+s.Queue.Rejected)
	}
	tw.Flush()
}
