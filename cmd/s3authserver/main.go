// Command s3authserver runs the IAM-compatible authentication server for the
// S3 data servers.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/isometry/s3-authserver/internal/config"
	"github.com/isometry/s3-authserver/internal/crypto"
	"github.com/isometry/s3-authserver/internal/directory"
	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/server"
	"github.com/isometry/s3-authserver/internal/signature"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "s3authserver",
		Short:         "IAM-compatible authentication server for S3",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(newLogContext(ctx, cfg.LogLevel), cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "authserver.properties file (default: built-in settings)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := crypto.SelfTest(); err != nil {
		return fmt.Errorf("crypto self-test: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	poolMetrics := s3ldap.NewPoolMetrics()
	clientOpts := []s3ldap.Option{
		s3ldap.WithMetrics(poolMetrics),
		s3ldap.WithPerformanceLogging(cfg.PerfEnabled),
	}
	var faults *s3ldap.FaultInjector
	if cfg.EnableFaultInjection {
		faults = s3ldap.NewFaultInjector()
		clientOpts = append(clientOpts, s3ldap.WithFaultInjector(faults))
		tflog.SubsystemWarn(ctx, server.Subsystem, "Fault injection is enabled")
	}

	ldapConfig := cfg.LDAPConfig()
	client, err := s3ldap.NewClient(ctx, ldapConfig, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating directory client: %w", err)
	}
	defer client.Close()

	store := directory.NewStore(client, ldapConfig.BaseDN)

	sigMetrics := signature.NewMetrics()
	verifier := signature.NewVerifier(
		server.NewAdminStore(store, cfg.AdminAccessKeyID, cfg.AdminSecretKey),
		signature.WithMaxSkew(cfg.SignatureMaxSkew),
		signature.WithRegion(cfg.Region),
		signature.WithMetrics(sigMetrics),
	)

	serverMetrics := server.NewMetrics()
	registry.MustRegister(poolMetrics, s3ldap.NewStatsCollector(client), sigMetrics, serverMetrics)

	opts := []server.Option{
		server.WithMetrics(serverMetrics),
		server.WithGatherer(registry),
		server.WithEndpoints(cfg.Endpoints()...),
	}
	if faults != nil {
		opts = append(opts, server.WithFaultInjector(faults))
	}
	srv := server.New(store, verifier, server.Config{
		AdminAccessKeyID: cfg.AdminAccessKeyID,
		SAMLMetadataFile: cfg.SAMLMetadataFilePath(),
		MaxConcurrent:    cfg.MaxConcurrentRequests(),
	}, opts...)

	var listeners []*http.Server
	newListener := func(port int) *http.Server {
		hs := &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(port)),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		}
		listeners = append(listeners, hs)
		return hs
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.EnableHTTP {
		hs := newListener(cfg.HTTPPort)
		g.Go(func() error {
			tflog.SubsystemInfo(ctx, server.Subsystem, "Listening", map[string]any{"address": hs.Addr, "scheme": "http"})
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http listener: %w", err)
			}
			return nil
		})
	}
	if cfg.EnableHTTPS {
		hs := newListener(cfg.HTTPSPort)
		hs.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		g.Go(func() error {
			tflog.SubsystemInfo(ctx, server.Subsystem, "Listening", map[string]any{"address": hs.Addr, "scheme": "https"})
			if err := hs.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("https listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		tflog.SubsystemInfo(ctx, server.Subsystem, "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, hs := range listeners {
			errs = append(errs, hs.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	tflog.SubsystemInfo(ctx, server.Subsystem, "Authentication server started", map[string]any{
		"version":          version,
		"default_endpoint": cfg.DefaultEndpoint,
		"region":           cfg.Region,
		"directory":        ldapConfig.URL(),
		"max_concurrent":   cfg.MaxConcurrentRequests(),
	})

	return g.Wait()
}
