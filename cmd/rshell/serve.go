package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/rshell"
	"pkt.systems/rshell/command"
	"pkt.systems/rshell/internal/appconfig"
	"pkt.systems/rshell/internal/democonsole"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var watchConfig bool
	var disableAuditTrails bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the example console",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			path, err := resolveConfigPath(cfgPath)
			if err != nil {
				return err
			}
			cfg, err := appconfig.Load(path)
			if err != nil {
				return err
			}
			if disableAuditTrails {
				cfg.Logging.DisableAuditTrails = true
			}
			reg := command.NewRegistry()
			if err := democonsole.Register(reg); err != nil {
				return err
			}
			opts := []rshell.ServerOption{}
			if addr != "" {
				opts = append(opts, rshell.WithListenAddr(addr))
			}
			if watchConfig {
				opts = append(opts, rshell.WithConfigWatch(path))
			}
			server, err := rshell.New(rshell.ServerConfig{Config: cfg, Registry: reg, Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			logger.Info("console listening", "addr", server.Addr(), "app", cfg.AppName)
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overriding the derived port")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", false, "reload acl users when the config file changes")
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for commands")
	return cmd
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return appconfig.DefaultConfigPath()
}
