package voicecore

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// CharmLogger implements Logger on top of github.com/charmbracelet/log,
// giving the engine leveled, key/value structured logging without every
// component depending on a concrete logging library directly.
type CharmLogger struct {
	l *charmlog.Logger
}

// NewCharmLogger creates a CharmLogger writing to stderr at the given
// level ("debug", "info", "warn", "error"; defaults to "info").
func NewCharmLogger(level string) *CharmLogger {
	l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "voicecore",
	})
	switch level {
	case "debug":
		l.SetLevel(charmlog.DebugLevel)
	case "warn":
		l.SetLevel(charmlog.WarnLevel)
	case "error":
		l.SetLevel(charmlog.ErrorLevel)
	default:
		l.SetLevel(charmlog.InfoLevel)
	}
	return &CharmLogger{l: l}
}

func (c *CharmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *CharmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *CharmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *CharmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }
