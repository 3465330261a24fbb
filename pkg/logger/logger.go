// Package logger provides structured logging for the aquarium dashboard and its CLI.
// Built on zerolog. Console output is pretty printed; when file logging is enabled each
// service also writes JSON lines to a timestamped file under the logs directory.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDir is where log files are written unless SetDir is called.
const DefaultDir = "logs"

var (
	mu          sync.Mutex
	logDir      = DefaultDir
	sequences   = make(map[string]int)
	serviceFile = make(map[ServiceType]*os.File)
	serviceOut  = make(map[ServiceType]io.Writer)
)

// LogCategory tags log entries by subsystem.
type LogCategory string

const (
	Startup    LogCategory = "startup"
	Request    LogCategory = "request"
	Poller     LogCategory = "poller"
	Validation LogCategory = "validation"
	Store      LogCategory = "store"
	Sync       LogCategory = "sync"
	General    LogCategory = "general"
)

// ServiceType is the binary generating the logs.
type ServiceType string

const (
	Dashboard ServiceType = "dashboard"
	Ctl       ServiceType = "aquactl"
)

// ParseLevel maps a configured level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// Init configures the global logger for console output only.
func Init(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(consoleWriter(os.Stdout)).With().Timestamp().Logger()
}

// InitStderr configures the global logger to write to stderr, keeping stdout free for
// command output.
func InitStderr(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
}

// SetDir changes the directory used for log files. It only affects services that have
// not opened their file yet.
func SetDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	if dir == "" {
		dir = DefaultDir
	}
	logDir = dir
}

// InitWithFileLogging configures the global logger to write to the console and to a
// per-service log file.
func InitWithFileLogging(level string, service ServiceType) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	mu.Lock()
	defer mu.Unlock()

	w, err := serviceWriter(service)
	if err != nil {
		fmt.Printf("File logging disabled: %v\n", err)
		log.Logger = zerolog.New(consoleWriter(os.Stdout)).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// serviceWriter returns the shared console+file writer for a service, opening the file
// on first use. Callers must hold mu.
func serviceWriter(service ServiceType) (io.Writer, error) {
	if w, ok := serviceOut[service]; ok {
		return w, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}

	path := filepath.Join(logDir, fileName(service, time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	// Console gets pretty output, the file gets JSON
	w := zerolog.MultiLevelWriter(consoleWriter(os.Stdout), f)
	serviceFile[service] = f
	serviceOut[service] = w

	fmt.Printf("Logging for service %s to file: %s\n", service, path)
	return w, nil
}

// fileName builds YYYYMMDD_HHMMSS_{service}_{seq}.log. Callers must hold mu.
func fileName(service ServiceType, now time.Time) string {
	stamp := now.Format("20060102_150405")
	key := stamp + "_" + string(service)
	sequences[key]++
	return fmt.Sprintf("%s_%s_%03d.log", stamp, service, sequences[key])
}

// NewCategoryLogger returns a logger tagged with service and category. When file logging
// has been set up for the service the entries also land in its log file.
func NewCategoryLogger(level string, service ServiceType, category LogCategory) zerolog.Logger {
	mu.Lock()
	w, ok := serviceOut[service]
	mu.Unlock()

	var base zerolog.Logger
	if ok {
		base = zerolog.New(w).With().Timestamp().Logger()
	} else {
		base = log.Logger
	}

	return base.Level(ParseLevel(level)).With().
		Str("service", string(service)).
		Str("category", string(category)).
		Logger()
}

// Close flushes and closes every open log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for service, f := range serviceFile {
		f.Close()
		delete(serviceFile, service)
		delete(serviceOut, service)
	}
}

// WithRequestID creates a logger with a request ID field.
func WithRequestID(requestID string) zerolog.Logger {
	return log.With().Str("request_id", requestID).Logger()
}

// WithChallengeID creates a logger with a challenge ID field.
func WithChallengeID(challengeID int) zerolog.Logger {
	return log.With().Int("challenge_id", challengeID).Logger()
}

// WithKeyID creates a logger with an HMAC key ID field.
func WithKeyID(keyID string) zerolog.Logger {
	return log.With().Str("key_id", keyID).Logger()
}

// WithFields creates a logger with multiple custom fields.
func WithFields(fields map[string]interface{}) zerolog.Logger {
	return log.With().Fields(fields).Logger()
}

// CleanupOldLogs removes log files older than the specified number of days.
func CleanupOldLogs(daysToKeep int) error {
	mu.Lock()
	dir := logDir
	mu.Unlock()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	cutoff := time.Duration(daysToKeep) * 24 * time.Hour
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".log") {
			return nil
		}
		if time.Since(info.ModTime()) > cutoff {
			fmt.Printf("Removing old log file: %s\n", path)
			return os.Remove(path)
		}
		return nil
	})
}
