// Package logging defines a narrow logging interface so the rest of the
// tree depends on a small contract instead of directly on logrus.
package logging

// Logger is the logging contract used throughout tensor-man. It is
// satisfied by LogrusAdapter; a no-op implementation is useful in tests.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}
