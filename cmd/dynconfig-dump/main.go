// Command dynconfig-dump loads a configuration endpoint and prints the
// resolved configuration tree as JSON, optionally watching for changes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/carverauto/dynconfig"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type dumpOptions struct {
	connection string
	separator  string
	watch      bool
	interval   time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &dumpOptions{}

	cmd := &cobra.Command{
		Use:          "dynconfig-dump",
		Short:        "Load a dynconfig endpoint and print the resolved configuration tree",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.connection, "connection", "", "endpoint URL or Endpoint=...;Id=...;Secret=... connection string (required)")
	flags.StringVar(&opts.separator, "separator", ".", "path separator for the resolved tree")
	flags.BoolVar(&opts.watch, "watch", false, "keep polling for changes and reprint on refresh")
	flags.DurationVar(&opts.interval, "refresh-interval", 30*time.Second, "refresh interval when --watch is set")
	_ = cmd.MarkFlagRequired("connection")

	return cmd
}

func run(ctx context.Context, opts *dumpOptions) error {
	providerOpts := dynconfig.Options{}
	if opts.watch {
		providerOpts.RefreshOptions = dynconfig.RefreshOptions{
			Enabled:         true,
			RefreshInterval: opts.interval,
		}
	}

	p, err := dynconfig.Load(ctx, opts.connection, nil, providerOpts)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	treeOpts := &dynconfig.ConstructionOptions{Separator: opts.separator}

	print := func() error {
		out, err := p.DumpJSON(treeOpts)
		if err != nil {
			return fmt.Errorf("construct configuration: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if err := print(); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	p.OnRefresh(func() {
		if err := print(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "refresh:", err)
			}
		}
	}
}
