package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus to provide structured logging with preset fields.
type Logger struct {
	entry *logrus.Entry
}

// Init configures the global logrus settings. JSON output keeps the logs
// friendly to downstream collection and analysis.
func Init(level logrus.Level) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)
}

// New creates a Logger preset with service and component fields.
func New(serviceName, component string) *Logger {
	fields := logrus.Fields{"service_name": serviceName}
	if component != "" {
		fields["component"] = component
	}
	return &Logger{entry: logrus.WithFields(fields)}
}

// WithError attaches an error to the log entry.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// WithField attaches a single key/value pair to the log entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithPayload attaches structured business data to the log entry.
func (l *Logger) WithPayload(payload map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithField("payload", payload)}
}

// Info logs at info level.
func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

// Warn logs at warning level.
func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

// Error logs at error level.
func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

// Debug logs at debug level.
func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

// Fatal logs at fatal level and terminates the process.
func (l *Logger) Fatal(message string) {
	l.entry.Fatal(message)
}
