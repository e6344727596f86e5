package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/coursegate/config"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the coursegate API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := cfg.Logging.NewLogger(os.Stderr)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		a.start(ctx)

		if configPath != "" && cfg.Reload.WatchFile {
			w := config.NewWatcher(configPath, cfg, cfg.Reload.Debounce.Duration, logger, a.applyOverrides)
			if err := w.Start(ctx); err != nil {
				logger.Warn("config hot reload disabled", "error", err)
			} else {
				defer w.Stop()
			}
		}

		server := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           a.handler,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		useTLS := cfg.Server.TLSCert != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				a.close(context.Background())
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server started", "addr", cfg.Addr(), "tls", useTLS,
			"storage", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir)
		if !useTLS {
			logger.Warn("serving plain HTTP; terminate TLS at a trusted proxy")
		}

		var runErr error
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case runErr = <-done:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("server shutdown failed: %w", err)
		}
		a.close(shutdownCtx)
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntP("port", "p", 8443, "Port to listen on (overrides server.port)")
	serverCmd.Flags().StringSlice("trusted-proxies", nil, "CIDRs whose forwarding headers are trusted")
	serverCmd.Flags().String("signing-key-file", "", "File holding the token signing key (at least 32 bytes)")
	serverCmd.Flags().String("tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().String("tls-key", "", "Path to TLS key file")
}
