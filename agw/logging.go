package agw

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Logger is the narrow leveled-logging sink a Server accepts, so
// applications can hand in any logger without pulling in logrus. A Server
// built without WithLogger does not discard its messages: it logs through
// logrus's standard logger (see defaultLogger). NewDiscardLogger returns a
// no-op Logger. WithLogger(nil) is not replaced by either.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type discardLogger struct{}

func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Errorf(string, ...interface{}) {}

// logrusLogger adapts a *logrus.Logger to the Logger interface.
type logrusLogger struct {
	l *log.Logger
}

func (a logrusLogger) Debugf(format string, args ...interface{}) { a.l.Debugf(format, args...) }
func (a logrusLogger) Infof(format string, args ...interface{})  { a.l.Infof(format, args...) }
func (a logrusLogger) Warnf(format string, args ...interface{})  { a.l.Warnf(format, args...) }
func (a logrusLogger) Errorf(format string, args ...interface{}) { a.l.Errorf(format, args...) }

// defaultLogger returns a Logger backed by logrus's standard logger (at
// InfoLevel unless ConfigureLogging sets another level), so a Server
// constructed with no explicit logger still produces readable output for
// cmd/agwmon.
func defaultLogger() Logger {
	return logrusLogger{l: log.StandardLogger()}
}

// NewDiscardLogger returns a Logger that drops every message, matching
// spec.md §6's "if absent, logging is a no-op" when an application
// explicitly wants silence rather than the package default.
func NewDiscardLogger() Logger { return discardLogger{} }

// ConfigureLogging applies a LoggingConfig to logrus's standard logger,
// grounded on cmd/dtnd/configuration.go's parseCore logging setup.
// Applications that pass their own Logger to WithLogger are unaffected;
// this only tunes the package default and cmd/agwmon's output.
func ConfigureLogging(cfg LoggingConfig) {
	if cfg.Level != "" {
		if lvl, err := log.ParseLevel(cfg.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    cfg.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("failed to set log level")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(cfg.ReportCaller)

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		log.Warn("unknown logging format")
	}
}
