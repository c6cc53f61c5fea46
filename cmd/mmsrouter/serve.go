package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aboamare/mms-router/internal/auth"
	"github.com/aboamare/mms-router/internal/config"
	"github.com/aboamare/mms-router/internal/httpapi"
	"github.com/aboamare/mms-router/internal/logging"
	"github.com/aboamare/mms-router/internal/router"
	"github.com/aboamare/mms-router/internal/transport/grpcstream"
	"github.com/aboamare/mms-router/internal/transport/ws"
)

const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	configPath string
	httpAddr   string
	grpcAddr   string
	mrn        string
	strict     bool
	logLevel   string
	logFormat  string
}

func newServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &flags, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&flags.httpAddr, "http", "", "HTTP listen address (WebSocket and admin API)")
	cmd.Flags().StringVar(&flags.grpcAddr, "grpc", "", "gRPC listen address (disabled when empty)")
	cmd.Flags().StringVar(&flags.mrn, "mrn", "", "MRN of the router")
	cmd.Flags().BoolVar(&flags.strict, "strict", true, "Require v4 UUID message ids and a known sender")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format (console or json)")
	return cmd
}

// applyFlags overrides file values with the flags given on the command line.
func applyFlags(cmd *cobra.Command, flags *serveFlags, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("http") {
		cfg.Listen.HTTP = flags.httpAddr
	}
	if set("grpc") {
		cfg.Listen.GRPC = flags.grpcAddr
	}
	if set("mrn") {
		cfg.Router.MRN = flags.mrn
	}
	if set("strict") {
		cfg.Router.Strict = flags.strict
	}
	if set("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = flags.logFormat
	}
}

// app is a running router with its transports.
type app struct {
	router  *router.Router
	http    *httpapi.Server
	grpc    *grpcstream.Server
	httpLis net.Listener
	grpcLis net.Listener
	logger  zerolog.Logger
	errs    chan error
}

// routerConfig builds the router configuration, loading key material when configured.
func routerConfig(cfg *config.Config, logger zerolog.Logger) (*router.Config, error) {
	rc := router.NewConfig(cfg.Router.MRN).
		WithStrict(cfg.Router.Strict).
		WithLogger(logger).
		WithPurgeInterval(cfg.Router.PurgeInterval).
		WithNotifyWindow(cfg.Router.NotifyWindow).
		WithChallengeTimeout(cfg.Router.ChallengeTimeout)
	rc.DefaultTTL = cfg.Router.DefaultTTL
	rc.NonceLength = cfg.Router.NonceLength

	var roots *x509.CertPool
	if cfg.Auth.TrustedCAFile != "" {
		data, err := os.ReadFile(cfg.Auth.TrustedCAFile)
		if err != nil {
			return nil, fmt.Errorf("read trusted CA file: %w", err)
		}
		certs, err := auth.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("parse trusted CA file: %w", err)
		}
		roots = x509.NewCertPool()
		for _, c := range certs {
			roots.AddCert(c)
		}
	}
	rc.WithVerifier(auth.NewVerifier(roots))

	if cfg.Auth.KeyFile != "" {
		signer, err := auth.LoadSigner(cfg.Router.MRN, cfg.Auth.KeyFile, cfg.Auth.CertFile)
		if err != nil {
			return nil, err
		}
		rc.WithSigner(signer)
	}
	return rc, nil
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	rc, err := routerConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	r, err := router.New(rc)
	if err != nil {
		return nil, err
	}

	a := &app{
		router: r,
		logger: logger.With().Str("component", "main").Logger(),
		errs:   make(chan error, 2),
	}
	a.http = httpapi.NewServer(r, httpapi.Config{
		Addr:        cfg.Listen.HTTP,
		AdminSecret: cfg.Auth.AdminSecret,
		WebSocket: ws.Options{
			HeartRate:       cfg.Transport.HeartRate,
			MaxMessageBytes: cfg.Transport.MaxMessageBytes,
			AllowedOrigins:  cfg.Transport.AllowedOrigins,
		},
		Logger: logger,
	})

	if a.httpLis, err = net.Listen("tcp", cfg.Listen.HTTP); err != nil {
		r.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Listen.HTTP, err)
	}

	if cfg.Listen.GRPC != "" {
		a.grpc, err = grpcstream.NewServer(r, &grpcstream.Config{
			ListenAddress:  cfg.Listen.GRPC,
			SendQueueSize:  cfg.Transport.SendQueueSize,
			MaxMessageSize: int(cfg.Transport.MaxMessageBytes),
			Logger:         logger,
		})
		if err == nil {
			a.grpcLis, err = net.Listen("tcp", cfg.Listen.GRPC)
		}
		if err != nil {
			a.httpLis.Close()
			r.Close()
			return nil, fmt.Errorf("grpc transport: %w", err)
		}
	}
	return a, nil
}

// start serves every transport in the background.
func (a *app) start() {
	go func() { a.errs <- a.http.Serve(a.httpLis) }()
	if a.grpc != nil {
		go func() { a.errs <- a.grpc.Serve(a.grpcLis) }()
	}

	event := a.logger.Info().
		Str("version", appVersion).
		Str("mrn", a.router.MRN()).
		Str("http", a.httpLis.Addr().String())
	if a.grpcLis != nil {
		event = event.Str("grpc", a.grpcLis.Addr().String())
	}
	event.Msg("router started")
}

// shutdown stops the listeners first, then closes the router and with it every agent.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.http.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if a.grpc != nil {
		if err := a.grpc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("grpc: %w", err))
		}
	}
	if err := a.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("router: %w", err))
	}
	return errors.Join(errs...)
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	a.start()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down")
	case runErr = <-a.errs:
		if runErr != nil {
			a.logger.Error().Err(runErr).Msg("transport failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("error during shutdown")
	}
	a.logger.Info().Msg("router stopped")
	return runErr
}
