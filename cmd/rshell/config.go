package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/rshell"
	"pkt.systems/rshell/internal/appconfig"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var cfgPath string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.WriteDefault(cfgPath, force)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config written", "path", path)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective console address and backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(cfgPath)
			if err != nil {
				return err
			}
			cfg, err := appconfig.Load(path)
			if err != nil {
				return err
			}
			addr, err := rshell.ListenAddr(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app_name: %s\n", cfg.AppName)
			_, _ = fmt.Fprintf(out, "listen: %s\n", addr)
			_, _ = fmt.Fprintf(out, "cache: %s\n", cfg.Cache.URL)
			_, _ = fmt.Fprintf(out, "acl: %t (%d users)\n", cfg.ACL.Enabled, len(cfg.ACL.Users))
			if cfg.Metrics.Addr != "" {
				_, _ = fmt.Fprintf(out, "metrics: %s\n", cfg.Metrics.Addr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
