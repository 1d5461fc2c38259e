package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/tinythings/bootr/hostlock"
	"github.com/tinythings/bootr/sysroot"
)

func updateCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "provision the inactive slot from the configured image and activate it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkOnly {
				return runCheck(cmd.Context())
			}
			return hostlock.WithLock(cmd.Context(), cat, func(ctx context.Context) error {
				mgr, err := sysroot.NewManager(ctx, cat, cfg)
				if err != nil {
					return err
				}
				return mgr.Update(ctx)
			})
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether system.check's interval has elapsed")
	return cmd
}

// runCheck reports whether the configured system.check interval has
// elapsed since the active slot's status was last written, without
// performing an update.
func runCheck(ctx context.Context) error {
	logger := log.WithFunc("cmd.runCheck")

	interval, err := cfg.CheckInterval()
	if err != nil {
		return err
	}
	if interval == 0 {
		fmt.Println("system.check is not configured")
		return nil
	}

	mgr, err := sysroot.NewManager(ctx, cat, cfg)
	if err != nil {
		return err
	}
	active, ok := mgr.GetSysroot()
	if !ok {
		fmt.Println("due: no active sysroot")
		return nil
	}

	info, err := statModTime(cat.StatusFile(active.Path))
	if err != nil {
		return err
	}
	due := time.Since(info) >= interval
	logger.Infof(ctx, "last update %s ago, interval %s, due=%v", time.Since(info), interval, due)
	if due {
		fmt.Println("due")
	} else {
		fmt.Println("not due")
	}
	return nil
}
