package observes

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/ncobase/hostkit/config"
	"github.com/ncobase/hostkit/logging/logger"
	"github.com/sirupsen/logrus"
)

// NewSentry initializes the sentry client. Without a DSN it does nothing
// and returns a nil hook.
func NewSentry(c *config.Sentry, id Identity) (*SentryHook, error) {
	if c == nil || c.DSN == "" {
		return nil, nil
	}

	environment := c.Environment
	if environment == "" {
		environment = id.Environment
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              c.DSN,
		AttachStacktrace: true,
		ServerName:       id.Name,
		Release:          id.Version,
		Environment:      environment,
	})
	if err != nil {
		return nil, err
	}
	return &SentryHook{hub: sentry.CurrentHub()}, nil
}

// SentryHook forwards error level log entries to sentry
type SentryHook struct {
	hub *sentry.Hub
}

// Levels returns the levels the hook fires on
func (h *SentryHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

// Fire sends entry to sentry, tagged with the extension it was logged for
func (h *SentryHook) Fire(entry *logrus.Entry) error {
	hub := h.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(entry.Level))
		extras := make(map[string]any, len(entry.Data))
		for k, v := range entry.Data {
			if k == logger.ExtensionKey {
				if name, ok := v.(string); ok {
					scope.SetTag(logger.ExtensionKey, name)
				}
				continue
			}
			extras[k] = v
		}
		scope.SetExtras(extras)
		hub.CaptureMessage(entry.Message)
	})
	return nil
}

// Flush waits for buffered events to be sent
func (h *SentryHook) Flush(timeout time.Duration) bool {
	return h.hub.Flush(timeout)
}

func sentryLevel(level logrus.Level) sentry.Level {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelError
	}
}
