package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/device-pki/agent"
	"github.com/ruteri/device-pki/cmd/flags"
	"github.com/ruteri/device-pki/common"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/ruteri/device-pki/keystore"
	"github.com/ruteri/device-pki/metrics"
	"github.com/ruteri/device-pki/storage"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "0.0.0.0:8080",
	EnvVars: []string{"DEVICE_PKI_LISTEN_ADDR"},
	Usage:   "address to serve the device API on",
}

var flagKeystore = &cli.StringSliceFlag{
	Name:    "keystore",
	Value:   cli.NewStringSlice("file://~/.device_pki_keystore.json"),
	EnvVars: []string{"DEVICE_PKI_KEYSTORE"},
	Usage:   "keystore location URI (file://, vault://, s3://); repeat to mirror the keystore across backends",
}

func main() {
	app := &cli.App{
		Name:  "device-agent",
		Usage: "Serve a device identity: trust-on-first-use provisioning, then challenge signing",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flagKeystore,
			flags.LogServiceFlagFn("device_pki_agent"),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend, err := storage.NewBackendFactory(logger).CreateMultiBackend(cCtx.StringSlice(flagKeystore.Name))
			if err != nil {
				logger.Error("Invalid keystore location", "err", err)
				return err
			}

			ks, err := keystore.Open(ctx, backend, logger)
			if err != nil {
				logger.Error("Failed to open keystore", "err", err, "location", backend.LocationURI())
				return err
			}

			middleware := func(svc interfaces.DeviceService) interfaces.DeviceService {
				return agent.LoggingMiddleware(svc, logger)
			}

			if metricsAddr := cCtx.String(flags.MetricsAddrFlag.Name); metricsAddr != "" {
				counter, latency := metrics.MakeMetrics(common.PackageName, "device")
				middleware = func(svc interfaces.DeviceService) interfaces.DeviceService {
					return agent.LoggingMiddleware(agent.MetricsMiddleware(svc, counter, latency), logger)
				}

				metricsSrv, err := metrics.New(common.PackageName, metricsAddr)
				if err != nil {
					logger.Error("Failed to create metrics server", "err", err)
					return err
				}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("Metrics server failed", "err", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = metricsSrv.Shutdown(shutdownCtx)
				}()
			}

			a := agent.New(ks, agent.Config{
				Server:     flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name)),
				Log:        logger,
				Middleware: middleware,
				OnServing: func(mode interfaces.Mode, addr string) {
					logger.Info("Device API listening", "mode", mode.String(), "addr", addr)
				},
			})

			if err := a.Run(ctx); err != nil {
				logger.Error("Device agent stopped", "err", err)
				return err
			}
			logger.Info("Device agent shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
