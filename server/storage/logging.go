package storage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"bambuwatch/common/logger"
)

// Log is the registry logger. Until SetLogger is called, messages go to stderr.
var Log *logger.Logger

// SetLogger injects the application logger.
func SetLogger(l *logger.Logger) {
	Log = l
}

func registryLog(level logger.LogLevel, msg string, kv ...interface{}) {
	if Log == nil {
		fmt.Fprintf(os.Stderr, "%s [registry][%s] %s%s\n",
			time.Now().Format(time.RFC3339), logger.LevelToString(level), msg, pairs(kv))
		return
	}
	switch level {
	case logger.WARN:
		Log.Warn(msg, kv...)
	case logger.DEBUG:
		Log.Debug(msg, kv...)
	default:
		Log.Info(msg, kv...)
	}
}

// pairs renders key/value arguments as " k=v k=v"; a trailing key gets "<missing>".
func pairs(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		var val interface{} = "<missing>"
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		fmt.Fprintf(&b, " %v=%v", kv[i], val)
	}
	return b.String()
}
