package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newQuiet(level LogLevel, dir string, size int) *Logger {
	l := New(level, dir, size)
	l.SetConsoleWriter(nil)
	return l
}

// entries returns everything buffered regardless of level.
func entries(l *Logger) []LogEntry {
	return l.GetBufferFiltered(TRACE)
}

// rotateNow rotates the active file the way a size trigger would.
func rotateNow(l *Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotate()
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	logger := newQuiet(INFO, t.TempDir(), 100)
	defer logger.Close()

	logger.Error("error message")
	logger.Warn("warn message")
	logger.Info("info message")
	logger.Debug("debug message") // Should not appear
	logger.Trace("trace message") // Should not appear

	buffer := entries(logger)
	if len(buffer) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(buffer))
	}

	if buffer[0].Level != ERROR || buffer[0].Message != "error message" {
		t.Errorf("first entry should be ERROR, got %v", buffer[0])
	}
	if buffer[1].Level != WARN || buffer[1].Message != "warn message" {
		t.Errorf("second entry should be WARN, got %v", buffer[1])
	}
	if buffer[2].Level != INFO || buffer[2].Message != "info message" {
		t.Errorf("third entry should be INFO, got %v", buffer[2])
	}
}

func TestLoggerContext(t *testing.T) {
	t.Parallel()

	logger := newQuiet(INFO, t.TempDir(), 100)
	defer logger.Close()

	logger.Info("test message", "key1", "value1", "key2", 42)

	buffer := entries(logger)
	if len(buffer) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(buffer))
	}

	entry := buffer[0]
	if entry.Context["key1"] != "value1" {
		t.Errorf("expected context key1=value1, got %v", entry.Context["key1"])
	}
	if entry.Context["key2"] != 42 {
		t.Errorf("expected context key2=42, got %v", entry.Context["key2"])
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := New(INFO, "", 10)
	logger.SetConsoleWriter(&out)

	logger.Info("login attempt", "account", "maker@example.com", "password", "hunter2", "Token", "abc.def")

	if strings.Contains(out.String(), "hunter2") || strings.Contains(out.String(), "abc.def") {
		t.Fatalf("secret leaked to console: %s", out.String())
	}
	if !strings.Contains(out.String(), "account=maker@example.com") {
		t.Errorf("non-secret context should be kept, got: %s", out.String())
	}

	entry := entries(logger)[0]
	if entry.Context["password"] != "[redacted]" {
		t.Errorf("password = %v, want [redacted]", entry.Context["password"])
	}
}

func TestLoggerSetLevel(t *testing.T) {
	t.Parallel()

	logger := newQuiet(INFO, t.TempDir(), 100)
	defer logger.Close()

	logger.Debug("debug1") // Should not appear

	logger.SetLevel(DEBUG)
	logger.Debug("debug2") // Should appear

	buffer := entries(logger)
	if len(buffer) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(buffer))
	}
	if buffer[0].Message != "debug2" {
		t.Errorf("expected 'debug2', got %s", buffer[0].Message)
	}
	if logger.GetLevel() != DEBUG {
		t.Errorf("GetLevel() = %v, want DEBUG", logger.GetLevel())
	}
}

func TestLoggerCircularBuffer(t *testing.T) {
	t.Parallel()

	logger := newQuiet(INFO, t.TempDir(), 5)
	defer logger.Close()

	for i := 0; i < 10; i++ {
		logger.Info("message", "num", i)
	}

	buffer := entries(logger)
	if len(buffer) != 5 {
		t.Fatalf("expected buffer size 5, got %d", len(buffer))
	}

	// Should have messages 5-9 (oldest dropped)
	if buffer[0].Context["num"] != 5 {
		t.Errorf("expected oldest entry to be num=5, got %v", buffer[0].Context["num"])
	}
	if buffer[4].Context["num"] != 9 {
		t.Errorf("expected newest entry to be num=9, got %v", buffer[4].Context["num"])
	}
}

func TestLoggerFileOutput(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := newQuiet(INFO, tmpDir, 100)

	logger.Info("test message", "key", "value")
	logger.Close()

	content, err := os.ReadFile(filepath.Join(tmpDir, FileBaseName+".log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	contentStr := string(content)
	if !strings.Contains(contentStr, "[INFO]") {
		t.Errorf("log file should contain [INFO], got: %s", contentStr)
	}
	if !strings.Contains(contentStr, "test message") {
		t.Errorf("log file should contain 'test message', got: %s", contentStr)
	}
	if !strings.Contains(contentStr, "key=value") {
		t.Errorf("log file should contain 'key=value', got: %s", contentStr)
	}
}

func TestLoggerNoFileWhenDirEmpty(t *testing.T) {
	t.Parallel()

	logger := newQuiet(INFO, "", 10)
	logger.Info("memory only")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if len(entries(logger)) != 1 {
		t.Errorf("entry should still be buffered")
	}
}

func TestLoggerRateLimiting(t *testing.T) {
	t.Parallel()

	logger := newQuiet(WARN, t.TempDir(), 100)
	defer logger.Close()

	for i := 0; i < 10; i++ {
		logger.WarnRateLimited("test-key", 1*time.Second, "rate limited message", "count", i)
		time.Sleep(50 * time.Millisecond)
	}

	buffer := entries(logger)
	if len(buffer) != 1 {
		t.Errorf("expected 1 log entry due to rate limiting, got %d", len(buffer))
	}

	time.Sleep(1 * time.Second)

	logger.WarnRateLimited("test-key", 1*time.Second, "rate limited message", "count", 10)

	buffer = entries(logger)
	if len(buffer) != 2 {
		t.Errorf("expected 2 log entries after rate limit expired, got %d", len(buffer))
	}
}

func TestLoggerFilteredBuffer(t *testing.T) {
	t.Parallel()

	logger := newQuiet(TRACE, t.TempDir(), 100)
	defer logger.Close()

	logger.Error("error")
	logger.Warn("warn")
	logger.Info("info")
	logger.Debug("debug")
	logger.Trace("trace")

	if filtered := logger.GetBufferFiltered(INFO); len(filtered) != 3 {
		t.Errorf("expected 3 entries filtered to INFO, got %d", len(filtered))
	}
	if filtered := logger.GetBufferFiltered(WARN); len(filtered) != 2 {
		t.Errorf("expected 2 entries filtered to WARN, got %d", len(filtered))
	}
	if filtered := logger.GetBufferFiltered(ERROR); len(filtered) != 1 {
		t.Errorf("expected 1 entry filtered to ERROR, got %d", len(filtered))
	}
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"ERROR", ERROR},
		{"warn", WARN},
		{"Warning", WARN},
		{"info", INFO},
		{" DEBUG ", DEBUG},
		{"TRACE", TRACE},
		{"invalid", INFO}, // Default
	}

	for _, tt := range tests {
		result := LevelFromString(tt.input)
		if result != tt.expected {
			t.Errorf("LevelFromString(%q) = %v, expected %v", tt.input, result, tt.expected)
		}
	}

	if _, ok := ParseLevel("verbose"); ok {
		t.Error("ParseLevel(verbose) should report unknown level")
	}
}

func TestLevelToString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    LogLevel
		expected string
	}{
		{ERROR, "ERROR"},
		{WARN, "WARN"},
		{INFO, "INFO"},
		{DEBUG, "DEBUG"},
		{TRACE, "TRACE"},
	}

	for _, tt := range tests {
		result := LevelToString(tt.input)
		if result != tt.expected {
			t.Errorf("LevelToString(%v) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoggerRotation(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := newQuiet(INFO, tmpDir, 100)
	logger.SetRotationPolicy(RotationPolicy{
		Enabled:    true,
		MaxAgeDays: 1,
		MaxFiles:   3,
	})

	logger.Info("first message")
	rotateNow(logger)
	logger.Info("second message")
	logger.Close()

	rotated, err := filepath.Glob(filepath.Join(tmpDir, FileBaseName+"_*.log"))
	if err != nil {
		t.Fatalf("failed to list log files: %v", err)
	}
	if len(rotated) != 1 {
		t.Fatalf("expected 1 rotated file, got %v", rotated)
	}

	current, err := os.ReadFile(filepath.Join(tmpDir, FileBaseName+".log"))
	if err != nil {
		t.Fatalf("failed to read current log: %v", err)
	}
	if strings.Contains(string(current), "first message") {
		t.Errorf("current log should only hold post-rotation entries, got: %s", current)
	}
}

func TestLoggerRotationMaxFiles(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := newQuiet(INFO, tmpDir, 100)
	logger.SetRotationPolicy(RotationPolicy{Enabled: true, MaxFiles: 2})

	for i := 0; i < 5; i++ {
		logger.Info("entry", "n", i)
		rotateNow(logger)
		time.Sleep(5 * time.Millisecond)
	}
	logger.Close()

	rotated, _ := filepath.Glob(filepath.Join(tmpDir, FileBaseName+"_*.log"))
	if len(rotated) > 2 {
		t.Errorf("expected at most 2 rotated files, got %d: %v", len(rotated), rotated)
	}
}

func TestLoggerConcurrency(t *testing.T) {
	t.Parallel()

	logger := newQuiet(INFO, t.TempDir(), 1000)
	defer logger.Close()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				logger.Info("concurrent message", "goroutine", id, "iteration", j)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if buffer := entries(logger); len(buffer) != 1000 {
		t.Errorf("expected 1000 entries in buffer, got %d", len(buffer))
	}
}

func TestFormatLogEntry(t *testing.T) {
	t.Parallel()

	entry := LogEntry{
		Timestamp: time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC),
		Level:     INFO,
		Message:   "test message",
		Context: map[string]interface{}{
			"key2": 42,
			"key1": "value1",
		},
	}

	formatted := formatLogEntry(entry)

	if !strings.HasSuffix(formatted, "[INFO] test message key1=value1 key2=42") {
		t.Errorf("unexpected formatting: %s", formatted)
	}
}

func TestCopy(t *testing.T) {
	t.Parallel()

	logger := newQuiet(INFO, "", 10)
	logger.Info("one")
	logger.Warn("two")

	var buf bytes.Buffer
	if err := logger.Copy(&buf, TRACE); err != nil {
		t.Fatalf("Copy() = %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}

	buf.Reset()
	if err := logger.Copy(&buf, WARN); err != nil {
		t.Fatalf("Copy(WARN) = %v", err)
	}
	if strings.Contains(buf.String(), "one") || !strings.Contains(buf.String(), "[WARN] two") {
		t.Errorf("Copy(WARN) = %q, want only the warning", buf.String())
	}
}

func TestLoggerRotatesOnSize(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := newQuiet(INFO, tmpDir, 10)
	logger.SetRotationPolicy(RotationPolicy{Enabled: true, MaxSizeMB: 1, MaxFiles: 5})

	// Pre-fill the active file just under the limit so one entry crosses it.
	active := filepath.Join(tmpDir, FileBaseName+".log")
	if err := os.WriteFile(active, bytes.Repeat([]byte("x"), 1024*1024-10), 0644); err != nil {
		t.Fatal(err)
	}
	logger.Info("crosses the limit")
	logger.Info("after rotation")
	logger.Close()

	rotated, _ := filepath.Glob(filepath.Join(tmpDir, FileBaseName+"_*.log"))
	if len(rotated) != 1 {
		t.Fatalf("expected 1 rotated file, got %v", rotated)
	}
	current, err := os.ReadFile(active)
	if err != nil {
		t.Fatalf("read active log: %v", err)
	}
	if !strings.Contains(string(current), "after rotation") || strings.Contains(string(current), "crosses the limit") {
		t.Errorf("active log = %q", current)
	}
}

func TestLoggerRotationDisabled(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	logger := newQuiet(INFO, tmpDir, 10)
	logger.SetRotationPolicy(RotationPolicy{Enabled: false, MaxSizeMB: 1})

	active := filepath.Join(tmpDir, FileBaseName+".log")
	if err := os.WriteFile(active, bytes.Repeat([]byte("x"), 1024*1024), 0644); err != nil {
		t.Fatal(err)
	}
	logger.Info("no rotation")
	logger.Close()

	if rotated, _ := filepath.Glob(filepath.Join(tmpDir, FileBaseName+"_*.log")); len(rotated) != 0 {
		t.Errorf("rotation disabled but found %v", rotated)
	}
}
