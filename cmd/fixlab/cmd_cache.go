package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rvullo/fixlab/internal/cache"
	"github.com/rvullo/fixlab/internal/config"
	"github.com/rvullo/fixlab/internal/logging"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the treatment artifact cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached artifact and lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRunConfig(flagConfig)
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat)
			c, err := cache.New(cfg.CacheDir, log)
			if err != nil {
				return err
			}
			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Printf("Cleared cache at %s\n", cfg.CacheDir)
			return nil
		},
	}

	cmd.AddCommand(clearCmd)
	return cmd
}
