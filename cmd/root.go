// Package cmd implements the bootr CLI surface: install, update, and status,
// each a thin cobra command delegating into sysroot.Manager.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinythings/bootr/catalog"
	"github.com/tinythings/bootr/config"
)

var (
	cfgFile string
	rootDir string
	cfg     *config.BootrConfig
	cat     catalog.Catalog
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "bootr",
		Short:        "bootr - transactional OCI-based A/B system updates",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: $ROOT/config)")
	cmd.PersistentFlags().StringVar(&rootDir, "root", catalog.DefaultRoot, "bootr root directory")
	_ = viper.BindPFlag("root", cmd.PersistentFlags().Lookup("root"))

	viper.SetEnvPrefix("BOOTR")
	viper.AutomaticEnv()

	cmd.AddCommand(installCmd())
	cmd.AddCommand(updateCmd())
	cmd.AddCommand(statusCmd())

	return cmd
}()

// Execute is the main entry point called from cmd/bootr/main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func initConfig(ctx context.Context) error {
	cat = catalog.New(rootDir)

	path := cfgFile
	if path == "" {
		path = cat.ConfigFile()
	}
	var err error
	cfg, err = config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	return log.SetupLog(ctx, cfg.Log, "")
}
