package handlers

import (
	"net/http"
	"time"

	"bambuwatch/common/logger"
)

type logEntryResponse struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// handleLogs serves the in-memory log buffer, oldest first. ?level= keeps
// that level and anything more severe; ?format=text returns log file lines.
func (api *RelayAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := api.requireToken(w, r); !ok {
		return
	}

	level := logger.TRACE
	if raw := r.URL.Query().Get("level"); raw != "" {
		parsed, ok := logger.ParseLevel(raw)
		if !ok {
			writeFailure(w, http.StatusBadRequest, "Unknown log level: "+raw)
			return
		}
		level = parsed
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := api.logs.Copy(w, level); err != nil {
			api.log.Debug("Log download interrupted", "error", err)
		}
		return
	}

	entries := api.logs.GetBufferFiltered(level)
	out := make([]logEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, logEntryResponse{
			Timestamp: e.Timestamp,
			Level:     logger.LevelToString(e.Level),
			Message:   e.Message,
			Context:   e.Context,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"level":   logger.LevelToString(level),
		"entries": out,
	})
}
