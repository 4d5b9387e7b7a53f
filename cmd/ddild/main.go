// cmd/ddild/main.go
//
// Entry point for the DDIL controller daemon. Responsibilities:
//   - Parse command-line flags (config path).
//   - Initialise a temporary logger so config loading has a logger.
//   - Load and validate configuration from YAML.
//   - Construct the App (wires all internal components).
//   - Start the App and block until SIGINT/SIGTERM.
//   - Trigger a best-effort graceful shutdown on signal.
package main

import (
	stdctx "context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/pkg/app"
	"github.com/edgefleet/ddil/pkg/factory"
)

func main() {
	configPath := flag.String("c", factory.DefaultConfigPath, "path to DDIL config file (YAML)")
	flag.Parse()

	// Temporary logger initialisation with a safe default so that
	// configuration loading and validation can use logger.CfgLog /
	// logger.MainLog. NewApp() will call InitLog again with the level from
	// the config, which is safe.
	_ = logger.InitLog("info", false)

	logger.MainLog.Infof("ddild starting, configPath=%s", *configPath)

	config, readError := factory.ReadConfig(*configPath)
	if readError != nil {
		logger.MainLog.Errorf("failed to read config: %v", readError)
		os.Exit(1)
	}

	ddilApp, appError := app.NewApp(config)
	if appError != nil {
		logger.MainLog.Errorf("failed to create DDIL app: %v", appError)
		os.Exit(1)
	}

	// Root context for Start; Stop will create its own timeout context.
	rootContext, rootCancel := stdctx.WithCancel(stdctx.Background())

	if startError := ddilApp.Start(rootContext); startError != nil {
		logger.MainLog.Errorf("failed to start DDIL app: %v", startError)
		rootCancel()
		os.Exit(1)
	}

	// Wait for OS signals (Ctrl-C / kill).
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	receivedSignal := <-signalChannel
	logger.MainLog.Infof("received signal=%s, initiating shutdown", receivedSignal.String())

	rootCancel()

	// Give the App a bounded time window to finish cleanup. If it cannot
	// complete in time, we log a warning and exit anyway.
	shutdownTimeout := 10 * time.Second
	shutdownContext, shutdownCancel := stdctx.WithTimeout(stdctx.Background(), shutdownTimeout)
	defer shutdownCancel()

	if stopError := ddilApp.Stop(shutdownContext); stopError != nil {
		logger.MainLog.Warnf("shutdown encountered error: %v", stopError)
	} else {
		logger.MainLog.Infof("shutdown completed within %s", shutdownTimeout)
	}
}
