package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// HealthAPI provides HTTP handlers for health checks and version information.
type HealthAPI struct {
	version      string
	buildTime    string
	gitCommit    string
	buildType    string
	processStart time.Time
	feedMode     string
	feedChecker  func() bool // Optional; reports whether the push feed is connected
}

// HealthAPIOptions configures the health API.
type HealthAPIOptions struct {
	Version      string
	BuildTime    string
	GitCommit    string
	BuildType    string
	ProcessStart time.Time
	// FeedMode is "pull" or "push".
	FeedMode    string
	FeedChecker func() bool
}

// NewHealthAPI creates a new health API instance.
func NewHealthAPI(opts HealthAPIOptions) *HealthAPI {
	if opts.FeedMode == "" {
		opts.FeedMode = "pull"
	}
	return &HealthAPI{
		version:      opts.Version,
		buildTime:    opts.BuildTime,
		gitCommit:    opts.GitCommit,
		buildType:    opts.BuildType,
		processStart: opts.ProcessStart,
		feedMode:     opts.FeedMode,
		feedChecker:  opts.FeedChecker,
	}
}

// RegisterRoutes registers the health and version routes.
func (api *HealthAPI) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", api.HandleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/version", api.HandleVersion).Methods(http.MethodGet)
}

// HandleHealth handles GET /health - simple health check endpoint.
// This endpoint is public for use by load balancers and container orchestrators.
func (api *HealthAPI) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// HandleVersion handles GET /api/version - returns server version information.
func (api *HealthAPI) HandleVersion(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"version":    api.version,
		"build_time": api.buildTime,
		"git_commit": api.gitCommit,
		"build_type": api.buildType,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     time.Since(api.processStart).String(),
		"feed_mode":  api.feedMode,
	}
	if api.feedChecker != nil {
		resp["feed_connected"] = api.feedChecker()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HealthCheckConfig contains configuration for health checks.
type HealthCheckConfig struct {
	BindAddress string
	HTTPPort    int
}

// RunHealthCheck probes the local /health endpoint. Wildcard bind addresses
// are probed on loopback. Returns nil on success.
func RunHealthCheck(cfg HealthCheckConfig) error {
	port := cfg.HTTPPort
	if port <= 0 {
		port = 8080
	}
	host := strings.TrimSpace(cfg.BindAddress)
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	endpoint := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, strconv.Itoa(port)))
	if err := probeHealthEndpoint(endpoint); err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	return nil
}

// probeHealthEndpoint sends a GET request to the health endpoint and validates the response.
func probeHealthEndpoint(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if payload.Status != "healthy" {
		return fmt.Errorf("unhealthy status: %s", payload.Status)
	}

	return nil
}
