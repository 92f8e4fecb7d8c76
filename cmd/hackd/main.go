// Command hackd runs the hackgame server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/hackgame/internal/config"
	"github.com/danmuck/hackgame/internal/logging"
	"github.com/danmuck/hackgame/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hackd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hackd",
		Short:         "hackgame server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd(), newConfigCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		dev        bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve game connections until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dev {
				cfg.Dev.Enabled = true
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (.toml or .yaml)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Bootstrap the dev account and host")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	svc, err := server.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("version", version).
		Str("storage", cfg.Storage.Driver).
		Bool("dev", cfg.Dev.Enabled).
		Msg("hackd starting")
	runErr := svc.Run(ctx)
	if err := svc.Close(); err != nil {
		log.Warn().Err(err).Msg("close service")
	}
	return runErr
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check config files",
	}

	var (
		format string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], format, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", format, args[0])
			return nil
		},
	}
	initCmd.Flags().StringVar(&format, "format", "toml", "toml or yaml")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load a config with env overrides and report problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: listen=%s storage=%s software=%d\n", cfg.ListenAddr, cfg.Storage.Driver, len(cfg.Software))
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
