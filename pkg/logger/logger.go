package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with ledger specific helpers
type Logger struct {
	*logrus.Logger
}

// New creates a JSON logger writing to stdout
func New(level string) *Logger {
	return NewWithOutput(level, os.Stdout)
}

// NewWithOutput creates a JSON logger writing to out
func NewWithOutput(level string, out io.Writer) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(out)

	return &Logger{Logger: log}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWithOutput("panic", io.Discard)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithTransaction creates a new logger entry scoped to one ledger transaction
func (l *Logger) WithTransaction(txID, operation string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"transaction_id": txID,
		"operation":      operation,
	})
}

// Transaction logs the outcome of a ledger operation. Rejected operations are
// logged at warn with the error kind, storage failures at error.
func (l *Logger) Transaction(txID, operation, caller string, duration time.Duration, kind string, err error) {
	entry := l.WithTransaction(txID, operation).WithFields(logrus.Fields{
		"caller":      caller,
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case err == nil:
		entry.Info("Ledger transaction committed")
	case kind == "internal":
		entry.WithError(err).Error("Ledger transaction failed")
	default:
		entry.WithError(err).WithField("error_kind", kind).Warn("Ledger transaction rejected")
	}
}

// PHIAccess logs a record access decision
func (l *Logger) PHIAccess(accessor string, patientID, recordID int64, action string, granted bool) {
	entry := l.Logger.WithFields(logrus.Fields{
		"phi_access": true,
		"accessor":   accessor,
		"patient_id": patientID,
		"record_id":  recordID,
		"action":     action,
		"granted":    granted,
	})

	if granted {
		entry.Info("PHI access granted")
	} else {
		entry.Warn("PHI access denied")
	}
}

// Security logs security-related events such as integrity failures
func (l *Logger) Security(event string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"security": true,
		"event":    event,
		"details":  details,
	}).Warn("Security event")
}
