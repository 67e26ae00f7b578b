package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
	"github.com/ardnew/softcam/statuslink"
)

type statusOptions struct {
	addr    string
	timeout time.Duration
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status [device-id...]",
		Short: "Query device status over the status link",
		Example: `  softcam status
  softcam status 0 2
  softcam status --link 192.168.1.20:8471 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "link", "", "Status link address (default: link.listen)")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Connection timeout")
	return cmd
}

func runStatus(cmd *cobra.Command, root *rootOptions, opts *statusOptions, args []string) error {
	ids := make([]device.ID, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			return errors.Wrapf(pkg.ErrInvalidParameter, "device id %q", arg)
		}
		ids = append(ids, device.ID(n))
	}

	addr := opts.addr
	if addr == "" {
		cfg, err := root.loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Link.Listen
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	c, err := statuslink.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if len(ids) == 0 {
		if ids, err = c.List(); err != nil {
			return err
		}
	}
	statuses := make([]statuslink.Status, 0, len(ids))
	for _, id := range ids {
		s, err := c.Status(id)
		if err != nil {
			return errors.Wrapf(err, "device %d", id)
		}
		statuses = append(statuses, s)
	}

	if root.json() {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}
	printStatuses(cmd.OutOrStdout(), statuses)
	return nil
}

func printStatuses(w io.Writer, statuses []statuslink.Status) {
	if len(statuses) == 0 {
		color.New(color.Faint).Fprintln(w, "No devices")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tMODE\tQUEUED\tHELD\tSEQUENCE\tDROPPED\tFLAGS")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.ID, stateColor(s.State).Sprint(s.State), device.StatusMode(s.StatusCode),
			s.Queued, s.Held, s.Sequence, s.Dropped, statusFlags(s.StatusCode))
	}
	tw.Flush()
}

func stateColor(s device.State) *color.Color {
	switch s {
	case device.StateStreaming:
		return color.New(color.FgGreen)
	case device.StateConfigured:
		return color.New(color.FgCyan)
	case device.StateDestroyed:
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}

func statusFlags(code int) string {
	var flags []string
	if code&device.StatusFramesPending != 0 {
		flags = append(flags, "pending")
	}
	if code&device.StatusFramesDropped != 0 {
		flags = append(flags, color.YellowString("dropped"))
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
