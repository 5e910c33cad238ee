package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentuity/transit-live/cache"
	"github.com/agentuity/transit-live/mask"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var cacheCheckCmd = &cobra.Command{
	Use:   "cache-check",
	Short: "Connect to the configured cache and print its statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := loadConfig(cmd)
		cc := cfg.Cache()

		timeout := cc.ConnectTimeout + cc.QueryTimeout
		if timeout <= 0 {
			timeout = cache.DefaultConnectTimeout + cache.DefaultQueryTimeout
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		manager := cache.NewManager(ctx, cc, log)
		defer manager.Close()

		buf, err := json.MarshalIndent(manager.Stats(ctx), "", "  ")
		if err != nil {
			return errors.Wrap(err, "error encoding stats")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(buf))

		if cc.RedisURL != "" && manager.Backend() != cache.BackendDistributed {
			return errors.Newf("redis at %s is not reachable, using %s", mask.URL(cc.RedisURL), manager.Backend())
		}
		log.Info("cache backend %s is healthy", manager.Backend())
		return nil
	},
}
