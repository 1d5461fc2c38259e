package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinythings/bootr/sysroot"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the active slot and its image metadata",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := sysroot.NewManager(cmd.Context(), cat, cfg)
			if err != nil {
				return err
			}

			active, ok := mgr.GetSysroot()
			if !ok {
				fmt.Println("no active sysroot")
				return nil
			}

			fmt.Printf("active slot: %s\n", filepath.Base(active.Path))
			if active.Status != nil {
				fmt.Printf("os: %s\n", active.Status.OS)
				fmt.Printf("architecture: %s\n", active.Status.Architecture)
				if active.Status.Created != nil {
					fmt.Printf("created: %s\n", active.Status.Created.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func statModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
