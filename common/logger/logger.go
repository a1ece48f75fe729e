package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
	TRACE
)

var levelNames = map[LogLevel]string{
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
	TRACE: "TRACE",
}

// FileBaseName is the name of the active log file inside the log directory.
// Rotated files are named <FileBaseName>_<timestamp>.log.
const FileBaseName = "bambuwatch"

// redactedKeys are context keys whose values never reach any log sink.
var redactedKeys = map[string]bool{
	"password":     true,
	"token":        true,
	"access_token": true,
	"code":         true,
	"tfa_key":      true,
	"access_code":  true,
	"secret":       true,
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Context   map[string]interface{}
}

// Logger provides structured logging with levels
type Logger struct {
	mu              sync.RWMutex
	level           LogLevel
	logDir          string
	currentFile     *os.File
	currentFilePath string
	buffer          []LogEntry
	maxBufferSize   int
	rotationPolicy  RotationPolicy
	rateLimiters    map[string]*rateLimiter
	console         io.Writer
}

// RotationPolicy defines when and how to rotate log files
type RotationPolicy struct {
	Enabled    bool
	MaxSizeMB  int
	MaxAgeDays int
	MaxFiles   int
}

type rateLimiter struct {
	lastLog  time.Time
	interval time.Duration
}

// New creates a new Logger instance. An empty logDir disables file output.
func New(level LogLevel, logDir string, maxBufferSize int) *Logger {
	if maxBufferSize <= 0 {
		maxBufferSize = 1
	}
	return &Logger{
		level:         level,
		logDir:        logDir,
		buffer:        make([]LogEntry, 0, maxBufferSize),
		maxBufferSize: maxBufferSize,
		rateLimiters:  make(map[string]*rateLimiter),
		console:       os.Stdout,
		rotationPolicy: RotationPolicy{
			Enabled:    true,
			MaxSizeMB:  50,
			MaxAgeDays: 7,
			MaxFiles:   10,
		},
	}
}

// SetConsoleWriter redirects console output, nil disables it.
func (l *Logger) SetConsoleWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
}

// SetLevel changes the current log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetRotationPolicy configures log rotation. Zero limits disable that check.
func (l *Logger) SetRotationPolicy(policy RotationPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotationPolicy = policy
}

// Error logs an error level message
func (l *Logger) Error(msg string, context ...interface{}) {
	l.log(ERROR, msg, context...)
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, context ...interface{}) {
	l.log(WARN, msg, context...)
}

// WarnRateLimited logs a warning with rate limiting (max once per interval)
func (l *Logger) WarnRateLimited(key string, interval time.Duration, msg string, context ...interface{}) {
	l.mu.Lock()
	limiter, exists := l.rateLimiters[key]
	if !exists {
		limiter = &rateLimiter{interval: interval}
		l.rateLimiters[key] = limiter
	}

	now := time.Now()
	if now.Sub(limiter.lastLog) < limiter.interval {
		l.mu.Unlock()
		return
	}
	limiter.lastLog = now
	l.mu.Unlock()

	l.log(WARN, msg, context...)
}

// Info logs an info level message
func (l *Logger) Info(msg string, context ...interface{}) {
	l.log(INFO, msg, context...)
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, context ...interface{}) {
	l.log(DEBUG, msg, context...)
}

// Trace logs a trace level message
func (l *Logger) Trace(msg string, context ...interface{}) {
	l.log(TRACE, msg, context...)
}

func (l *Logger) log(level LogLevel, msg string, context ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}

	ctx := make(map[string]interface{})
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			if redactedKeys[strings.ToLower(key)] {
				ctx[key] = "[redacted]"
				continue
			}
			ctx[key] = context[i+1]
		}
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Context:   ctx,
	}

	if len(l.buffer) >= l.maxBufferSize {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, entry)

	if l.console != nil {
		fmt.Fprintln(l.console, formatLogEntry(entry))
	}

	if l.logDir != "" {
		l.writeToFile(entry)
	}
}

// writeToFile writes a log entry to the current log file
func (l *Logger) writeToFile(entry LogEntry) {
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return
	}

	if l.currentFile == nil {
		filename := filepath.Join(l.logDir, FileBaseName+".log")
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		l.currentFile = f
		l.currentFilePath = filename
	}

	l.currentFile.WriteString(formatLogEntry(entry) + "\n")
	l.currentFile.Sync()

	// Rotate after writing so the size check sees the new line
	if l.shouldRotate() {
		l.rotate()
	}
}

// formatLogEntry renders "timestamp [LEVEL] message k=v ..." with keys sorted.
func formatLogEntry(entry LogEntry) string {
	timestamp := entry.Timestamp.Format("2006-01-02T15:04:05-07:00")
	line := fmt.Sprintf("%s [%s] %s", timestamp, levelNames[entry.Level], entry.Message)

	if len(entry.Context) > 0 {
		keys := make([]string, 0, len(entry.Context))
		for k := range entry.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line += fmt.Sprintf(" %s=%v", k, entry.Context[k])
		}
	}

	return line
}

func (l *Logger) shouldRotate() bool {
	if !l.rotationPolicy.Enabled || l.currentFile == nil {
		return false
	}

	if l.rotationPolicy.MaxSizeMB > 0 {
		if stat, err := l.currentFile.Stat(); err == nil {
			maxBytes := int64(l.rotationPolicy.MaxSizeMB) * 1024 * 1024
			if stat.Size() >= maxBytes {
				return true
			}
		}
	}

	return false
}

// rotate closes the current log file, renames it with timestamp, and starts a new one
func (l *Logger) rotate() {
	if l.currentFile != nil {
		l.currentFile.Close()
		l.currentFile = nil

		if l.currentFilePath != "" {
			timestamp := time.Now().Format("20060102_150405.000")
			backupPath := filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", FileBaseName, timestamp))
			os.Rename(l.currentFilePath, backupPath)
		}
	}

	l.cleanOldFiles()
}

// cleanOldFiles removes rotated files older than MaxAgeDays and beyond MaxFiles
func (l *Logger) cleanOldFiles() {
	files, err := filepath.Glob(filepath.Join(l.logDir, FileBaseName+"_*.log"))
	if err != nil {
		return
	}
	sort.Strings(files)

	if l.rotationPolicy.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -l.rotationPolicy.MaxAgeDays)
		kept := files[:0]
		for _, file := range files {
			if stat, err := os.Stat(file); err == nil && stat.ModTime().Before(cutoff) {
				os.Remove(file)
				continue
			}
			kept = append(kept, file)
		}
		files = kept
	}

	if l.rotationPolicy.MaxFiles > 0 && len(files) > l.rotationPolicy.MaxFiles {
		for i := 0; i < len(files)-l.rotationPolicy.MaxFiles; i++ {
			os.Remove(files[i])
		}
	}
}

// GetBufferFiltered returns buffered entries at minLevel or more severe,
// oldest first. TRACE returns everything.
func (l *Logger) GetBufferFiltered(minLevel LogLevel) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	filtered := []LogEntry{}
	for _, entry := range l.buffer {
		if entry.Level <= minLevel {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// Close closes the current log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile != nil {
		err := l.currentFile.Close()
		l.currentFile = nil
		return err
	}
	return nil
}

// LevelFromString converts a string to a LogLevel, defaulting to INFO
func LevelFromString(s string) LogLevel {
	level, ok := ParseLevel(s)
	if !ok {
		return INFO
	}
	return level
}

// ParseLevel converts a case-insensitive level name, reporting whether it was recognised.
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return ERROR, true
	case "WARN", "WARNING":
		return WARN, true
	case "INFO":
		return INFO, true
	case "DEBUG":
		return DEBUG, true
	case "TRACE":
		return TRACE, true
	default:
		return INFO, false
	}
}

// LevelToString converts a LogLevel to a string
func LevelToString(level LogLevel) string {
	return levelNames[level]
}

// Copy writes the buffered entries at minLevel or more severe to w, one
// formatted line each.
func (l *Logger) Copy(w io.Writer, minLevel LogLevel) error {
	for _, entry := range l.GetBufferFiltered(minLevel) {
		if _, err := fmt.Fprintln(w, formatLogEntry(entry)); err != nil {
			return err
		}
	}
	return nil
}
