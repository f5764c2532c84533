// Command gateway runs the SIP/RTP gateway: it loads a config file, wires
// logging/metrics/CDR, and runs the SIP dispatch loop alongside a stdin
// CLI until SIGINT/SIGTERM or an "exit"/"quit" CLI command.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arzzra/siprtpgw/internal/cdr"
	"github.com/arzzra/siprtpgw/internal/config"
	"github.com/arzzra/siprtpgw/internal/gateway"
	"github.com/arzzra/siprtpgw/internal/logging"
	"github.com/arzzra/siprtpgw/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/gateway.yaml", "path to the gateway's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: load config: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)

	cdrSink, err := cdr.Open(cfg.CdrPath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("gateway: open CDR sink")
		return 1
	}
	defer cdrSink.Close()

	metricsReg := metrics.New()
	var metricsSrv *metrics.Server
	if cfg.MetricsListen != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsListen, metricsReg)
		errCh := make(chan error, 1)
		metricsSrv.Start(errCh)
		go func() {
			if err := <-errCh; err != nil {
				logger.Error().Err(err).Msg("gateway: metrics server failed")
			}
		}()
	}

	app, err := gateway.New(cfg, logger, metricsReg, cdrSink)
	if err != nil {
		logger.Error().Err(err).Msg("gateway: startup failed")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("gateway: received shutdown signal")
		app.Shutdown()
		cancel()
	}()

	go app.RunCLI(os.Stdin)

	logger.Info().Str("bind", cfg.BindIP).Int("sip_port", cfg.SipPort).Str("mode", cfg.Mode).Msg("gateway: listening")
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("gateway: run loop exited with error")
		return 1
	}

	if metricsSrv != nil {
		_ = metricsSrv.Stop(context.Background())
	}
	return 0
}
