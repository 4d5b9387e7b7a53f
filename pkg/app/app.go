// Package app wires together all major components of the DDIL controller:
//   - configuration
//   - logging
//   - path probe driver
//   - cache manager
//   - handover manager
//   - DDIL controller (monitor loop, selection, events)
//   - status/admin HTTP server
//   - Prometheus metrics.
//
// The App implementation is intentionally small and procedural, so that
// cmd/ddild/main.go can simply create an App from the loaded Config and call
// Start/Stop without knowing internal details.
package app

import (
	stdctx "context"
	"errors"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/davecgh/go-spew/spew"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/edgefleet/ddil/internal/cache"
	"github.com/edgefleet/ddil/internal/controller"
	"github.com/edgefleet/ddil/internal/handover"
	"github.com/edgefleet/ddil/internal/logger"
	"github.com/edgefleet/ddil/internal/metrics"
	"github.com/edgefleet/ddil/internal/model"
	"github.com/edgefleet/ddil/internal/notify"
	"github.com/edgefleet/ddil/internal/probe"
	"github.com/edgefleet/ddil/internal/sbi"
	"github.com/edgefleet/ddil/pkg/factory"
)

// App is the high-level interface implemented by the DDIL controller
// process. It hides wiring, HTTP server startup, and monitor lifecycle from
// cmd/ddild/main.go, and satisfies the subsystem-lifecycle contract used by
// a process supervisor (Start/Stop/GetHealth).
type App interface {
	// Start brings the whole instance online: the monitoring loop begins and
	// the status server starts listening (when configured).
	Start(ctx stdctx.Context) error

	// Stop attempts a graceful shutdown: the monitoring loop is stopped with
	// a bounded wait, then the status server is shut down. Errors from both
	// steps are combined.
	Stop(ctx stdctx.Context) error

	// GetHealth reports whether the monitoring loop is running.
	GetHealth() model.Health

	// Controller exposes the DDIL controller for in-process consumers.
	Controller() controller.Controller

	// Cache exposes the cache manager for application logic.
	Cache() cache.Manager

	// Handover exposes the handover manager for diagnostics.
	Handover() handover.Manager
}

// appImpl is the concrete implementation of App.
type appImpl struct {
	config *factory.Config

	ddilController  controller.Controller
	cacheManager    cache.Manager
	handoverManager handover.Manager
	statusServer    *sbi.StatusServer

	startStopMutex sync.Mutex
	started        bool
}

// NewApp constructs a new App from a validated configuration. It creates the
// internal components but does not start any background activity yet; that
// is handled by Start().
func NewApp(config *factory.Config) (App, error) {
	if config == nil {
		return nil, pkgerrors.New("config must not be nil")
	}

	// Initialise logging according to configuration. It is safe if main()
	// calls InitLog again; InitLog is idempotent w.r.t logger instances and
	// updates only the level and reportCaller flag.
	if initError := logger.InitLog(config.Logging.Level, config.Logging.ReportCaller); initError != nil {
		logger.MainLog.Warnf("InitLog failed with level=%s, using fallback: %v",
			config.Logging.Level, initError)
	}

	logger.MainLog.Infof("starting DDIL controller version=%s description=%q",
		config.Info.Version, config.Info.Description)
	logger.CfgLog.Debugf("effective configuration:\n%s", spew.Sdump(config))

	pathProbe, probeError := probe.NewProbeFromConfig(config.Probe)
	if probeError != nil {
		return nil, pkgerrors.Wrap(probeError, "failed to create path probe")
	}

	registry := prometheus.NewRegistry()
	metricsSet := metrics.NewSet(registry)

	systemClock := clock.New()

	cacheManager := cache.NewManager(config.Cache, systemClock, metricsSet)
	handoverManager := handover.NewManager(config.Handover, systemClock, nil, metricsSet)

	var forwarders []controller.Forwarder
	if len(config.Notify.WebhookURLs) > 0 {
		forwarders = append(forwarders, notify.NewWebhookForwarder(config.Notify.WebhookURLs))
		logger.MainLog.Infof("event webhooks configured count=%d", len(config.Notify.WebhookURLs))
	}

	ddilController := controller.NewController(
		config.Controller,
		config.Paths,
		pathProbe,
		handoverManager,
		cacheManager,
		forwarders,
		systemClock,
		metricsSet,
	)

	var metricsGatherer prometheus.Gatherer
	if config.Metrics.Enabled {
		metricsGatherer = registry
	}

	var statusServer *sbi.StatusServer
	if config.Sbi.ListenAddr != "" {
		statusServer = sbi.NewStatusServer(ddilController, handoverManager, cacheManager, metricsGatherer)
	}

	return &appImpl{
		config:          config,
		ddilController:  ddilController,
		cacheManager:    cacheManager,
		handoverManager: handoverManager,
		statusServer:    statusServer,
	}, nil
}

// Start implements App.Start.
func (app *appImpl) Start(ctx stdctx.Context) error {
	app.startStopMutex.Lock()
	defer app.startStopMutex.Unlock()

	if app.started {
		logger.MainLog.Warn("App.Start called more than once; ignoring subsequent call")
		return nil
	}

	if startError := app.ddilController.Start(ctx); startError != nil {
		return pkgerrors.Wrap(startError, "failed to start controller")
	}

	if app.statusServer != nil {
		go func(listenAddr string) {
			serveError := app.statusServer.Serve(listenAddr)
			if serveError != nil && !errors.Is(serveError, http.ErrServerClosed) {
				logger.SbiLog.Errorf("status server stopped with error: %v", serveError)
			}
		}(app.config.Sbi.ListenAddr)
	}

	app.started = true
	logger.MainLog.Info("DDIL controller successfully started")
	return nil
}

// Stop implements App.Stop.
func (app *appImpl) Stop(ctx stdctx.Context) error {
	app.startStopMutex.Lock()
	defer app.startStopMutex.Unlock()

	if !app.started {
		return nil
	}

	logger.MainLog.Info("DDIL controller shutdown requested")

	// Stop the monitor first so no further handovers race the shutdown.
	var combinedError error
	if stopError := app.ddilController.Stop(ctx); stopError != nil {
		combinedError = multierr.Append(combinedError,
			pkgerrors.Wrap(stopError, "controller stop"))
	}

	if app.statusServer != nil {
		if shutdownError := app.statusServer.Shutdown(ctx); shutdownError != nil {
			combinedError = multierr.Append(combinedError,
				pkgerrors.Wrap(shutdownError, "status server shutdown"))
		}
	}

	app.started = false
	logger.MainLog.Info("DDIL controller shutdown completed")
	return combinedError
}

// GetHealth implements App.GetHealth.
func (app *appImpl) GetHealth() model.Health {
	return app.ddilController.GetHealth()
}

// Controller implements App.Controller.
func (app *appImpl) Controller() controller.Controller {
	return app.ddilController
}

// Cache implements App.Cache.
func (app *appImpl) Cache() cache.Manager {
	return app.cacheManager
}

// Handover implements App.Handover.
func (app *appImpl) Handover() handover.Manager {
	return app.handoverManager
}
