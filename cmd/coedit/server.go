package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/coedit/internal/logging"
	"github.com/Tyrowin/coedit/internal/server"
)

var (
	flagEnvFile  string
	flagLogLevel string
	flagWSAddr   string
	flagHTTPAddr string
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server [options]",
		Short: "Start the coedit WebSocket and HTTP listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(flagEnvFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.LogLevel = flagLogLevel
			}
			if flags.Changed("ws-addr") {
				cfg.WSAddr = flagWSAddr
			}
			if flags.Changed("http-addr") {
				cfg.HTTPAddr = flagHTTPAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
				return err
			}

			srv := server.New(cfg)
			srv.Start()

			return handleSignal(srv)
		},
	}

	cmd.Flags().StringVar(&flagEnvFile, "env-file", "", "path to a .env file loaded before reading the environment")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flagWSAddr, "ws-addr", server.DefaultWSAddr, "address of the WebSocket listener")
	cmd.Flags().StringVar(&flagHTTPAddr, "http-addr", server.DefaultHTTPAddr, "address of the HTTP listener")

	return cmd
}

func handleSignal(srv *server.Server) error {
	logger := logging.New("main")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Infof("caught signal %s, shutting down", sig)
	case err := <-srv.Errors():
		logger.Errorf("listener failed: %v", err)
		runErr = err
	}

	if err := srv.Shutdown(); err != nil {
		logger.Warnf("shutdown: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("coedit stopped")
	return runErr
}
