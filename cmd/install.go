package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/tinythings/bootr/hostlock"
	"github.com/tinythings/bootr/sysroot"
)

func installCmd() *cobra.Command {
	var logLevel string
	var keepKernel bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "provision a brand-new host from the configured image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyLogLevel(cmd.Context(), logLevel); err != nil {
				return err
			}

			return hostlock.WithLock(cmd.Context(), cat, func(ctx context.Context) error {
				mgr, err := sysroot.NewManager(ctx, cat, cfg)
				if err != nil {
					return err
				}
				return mgr.Install(ctx, sysroot.InstallOptions{KeepKernel: keepKernel})
			})
		},
	}

	cmd.Flags().StringVarP(&logLevel, "log", "l", "info", "log verbosity: quiet, info, verbose")
	cmd.Flags().BoolVar(&keepKernel, "keep-kernel", false, "preserve /boot and /lib/modules from the active rootfs")
	return cmd
}

// applyLogLevel maps the CLI's three-level vocabulary onto the
// logrus-backed levels SetupLog understands.
func applyLogLevel(ctx context.Context, level string) error {
	switch level {
	case "quiet":
		cfg.Log.Level = "error"
	case "verbose":
		cfg.Log.Level = "debug"
	case "info", "":
		cfg.Log.Level = "info"
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return log.SetupLog(ctx, cfg.Log, "")
}
