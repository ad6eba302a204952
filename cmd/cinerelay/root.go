package main

import (
	"fmt"
	"os"

	"github.com/mantonx/cinerelay/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "cinerelay",
		Short:         "Cloud torrent proxy and stream resolver",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CINERELAY_CONFIG"), "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts), newAcquireCmd(opts))
	return cmd
}

// loadConfig reads the file (when given) and environment overrides into the
// global configuration manager
func (o *rootOptions) loadConfig() (*config.ConfigManager, error) {
	cm := config.GetConfigManager()
	if err := cm.LoadConfig(o.configPath); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if o.logLevel != "" {
		if err := cm.Update(func(c *config.Config) { c.Logging.Level = o.logLevel }); err != nil {
			return nil, err
		}
	}
	return cm, nil
}
