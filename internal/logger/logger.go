// Package logger provides structured loggers for different components of the
// DDIL controller. It wraps logrus and exposes category-specific log entries
// such as MainLog, CtrlLog, CacheLog, etc. The logging level and caller
// reporting can be adjusted at runtime via InitLog.
package logger

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	moduleNameDDIL = "DDIL"
)

var (
	initOnce sync.Once

	// MainLog is the primary logger for high-level lifecycle events
	// (startup, shutdown, major state transitions).
	MainLog *log.Entry

	// CfgLog is used for configuration loading, validation, and printing.
	CfgLog *log.Entry

	// CtrlLog is for the path monitoring loop, selection decisions, and
	// offline (DDIL) entry/exit.
	CtrlLog *log.Entry

	// HandoverLog is for handover strategy execution and its results.
	HandoverLog *log.Entry

	// CacheLog is for cache put/get/evict activity and readiness queries.
	CacheLog *log.Entry

	// ProbeLog is for path probe drivers (simulated or real telemetry sources).
	ProbeLog *log.Entry

	// EventLog is for the event dispatcher (queue pressure, callback errors,
	// webhook delivery).
	EventLog *log.Entry

	// SbiLog is for the status/admin HTTP server.
	SbiLog *log.Entry

	// MetricsLog is for Prometheus registration and export.
	MetricsLog *log.Entry
)

// InitLog configures the global logrus settings and initializes all category
// loggers. It is safe to call multiple times; the first call wins.
// Subsequent calls will update the log level and reportCaller flag.
func InitLog(levelString string, reportCaller bool) error {
	var initErr error

	initOnce.Do(func() {
		// Global formatter settings
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})

		// Initialize category loggers with default level (info).
		log.SetLevel(log.InfoLevel)
		log.SetReportCaller(reportCaller)

		MainLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "MAIN",
		})
		CfgLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "CFG",
		})
		CtrlLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "CTRL",
		})
		HandoverLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "HANDOVER",
		})
		CacheLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "CACHE",
		})
		ProbeLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "PROBE",
		})
		EventLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "EVENT",
		})
		SbiLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "SBI",
		})
		MetricsLog = log.WithFields(log.Fields{
			"module":   moduleNameDDIL,
			"category": "METRICS",
		})
	})

	// Parse and apply the requested log level on every call.
	parsedLevel, parseErr := parseLogLevel(levelString)
	if parseErr != nil {
		// Fallback to info if parsing fails, but still return an error
		log.SetLevel(log.InfoLevel)
		if CfgLog != nil {
			CfgLog.Warnf("invalid log level %q, falling back to info: %v", levelString, parseErr)
		}
		initErr = parseErr
	} else {
		log.SetLevel(parsedLevel)
	}

	// Update report caller according to the latest configuration.
	log.SetReportCaller(reportCaller)

	return initErr
}

// parseLogLevel converts a string log level (case-insensitive) into a logrus.Level.
func parseLogLevel(levelString string) (log.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(levelString))

	switch normalized {
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	case "panic":
		return log.PanicLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level: %s", levelString)
	}
}
