package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bambuwatch/common/logger"
	"bambuwatch/common/ws"
	"bambuwatch/server/auth"
	"bambuwatch/server/cloud"
	"bambuwatch/server/handlers"
	"bambuwatch/server/mqttfeed"
	"bambuwatch/server/session"
	"bambuwatch/server/status"
	"bambuwatch/server/storage"
)

const sessionSweepInterval = 10 * time.Minute

// relay holds the wired components of a running server.
type relay struct {
	cfg      *Config
	log      *logger.Logger
	registry storage.Registry
	sessions *session.Manager
	hub      *ws.Hub
	feed     *mqttfeed.Feed
	router   *mux.Router
}

// newRelay builds every component from cfg. The feed, when enabled, is
// created but not connected; call start.
func newRelay(cfg *Config, dataDir string, log *logger.Logger) (*relay, error) {
	verifyKey, err := auth.ParseVerifyKey(cfg.Cloud.VerifyKey)
	if err != nil {
		return nil, err
	}
	strategy, err := status.ParseRemainingStrategy(cfg.Status.RemainingStrategy)
	if err != nil {
		return nil, err
	}

	registry, err := storage.Open(cfg.Database, dataDir)
	if err != nil {
		return nil, fmt.Errorf("open printer registry: %w", err)
	}

	sessions, err := session.NewManager(session.Options{
		Secret:     cfg.Server.SessionSecret,
		CookieName: cfg.Server.CookieName,
		Secure:     cfg.Server.CookieSecure,
		MaxAge:     cfg.SessionMaxAge(),
	})
	if err != nil {
		registry.Close()
		return nil, err
	}
	if cfg.Server.SessionSecret == "" {
		log.Warn("No session_secret configured; sessions will not survive a restart")
	}

	client := cloud.New(cloud.Options{
		BaseURL:      cfg.Cloud.BaseURL,
		UserAgent:    cfg.Cloud.UserAgent,
		Timeout:      cfg.CloudTimeout(),
		ForceRefresh: cfg.Cloud.ForceRefresh,
	})
	normalizer := status.NewNormalizer(status.Options{
		Remaining: strategy,
		Locale:    cfg.Status.Locale,
	})

	r := &relay{
		cfg:      cfg,
		log:      log,
		registry: registry,
		sessions: sessions,
		router:   mux.NewRouter(),
	}

	relayOpts := handlers.RelayAPIOptions{
		Sessions:            sessions,
		Auth:                auth.NewMachine(client, verifyKey, log),
		Cloud:               client,
		Normalizer:          normalizer,
		Registry:            registry,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		IncludeBoundDevices: cfg.Status.IncludeBoundDevices,
		Logger:              log,
		Logs:                log,
	}
	healthOpts := handlers.HealthAPIOptions{
		Version:      Version,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		BuildType:    BuildType,
		ProcessStart: processStart,
	}

	if cfg.MQTT.Enabled {
		r.hub = ws.NewHub()
		r.hub.SetDropHandler(func(id, msgType string) {
			log.WarnRateLimited("ws_drop_"+id, time.Minute, "Status stream subscriber too slow, dropping message", "id", id, "type", msgType)
		})
		r.feed, err = mqttfeed.New(mqttfeed.Options{
			Broker:             cfg.MQTT.Broker,
			Username:           cfg.MQTT.Username,
			Password:           cfg.MQTT.Password,
			ClientID:           cfg.MQTT.ClientID,
			Serials:            cfg.MQTT.Serials,
			InsecureSkipVerify: cfg.MQTT.InsecureSkipVerify,
			ConnectTimeout:     time.Duration(cfg.MQTT.ConnectTimeoutSeconds) * time.Second,
		}, normalizer, registry, r.hub, log)
		if err != nil {
			r.hub.Stop()
			registry.Close()
			return nil, err
		}
		relayOpts.Feed = r.feed
		relayOpts.Hub = r.hub
		healthOpts.FeedMode = "push"
		healthOpts.FeedChecker = r.feed.Connected
	}

	api, err := handlers.NewRelayAPI(relayOpts)
	if err != nil {
		r.close()
		return nil, err
	}
	handlers.NewHealthAPI(healthOpts).RegisterRoutes(r.router)
	api.RegisterRoutes(r.router)
	r.router.Use(r.logRequests)

	return r, nil
}

// start connects the push feed and runs the session sweeper until ctx ends.
// A failed first connect is logged; the client keeps retrying.
func (r *relay) start(ctx context.Context) {
	if r.feed != nil {
		if err := r.feed.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("MQTT feed not connected yet, retrying in background", "broker", r.cfg.MQTT.Broker, "error", err)
		} else if err == nil {
			r.log.Info("MQTT feed connected", "broker", r.cfg.MQTT.Broker, "serials", len(r.cfg.MQTT.Serials))
		}
	}

	go func() {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.sessions.Sweep(); n > 0 {
					r.log.Debug("Expired sessions removed", "count", n, "remaining", r.sessions.Len())
				}
			}
		}
	}()
}

func (r *relay) close() {
	if r.feed != nil {
		r.feed.Stop()
	}
	if r.hub != nil {
		r.hub.Stop()
	}
	if err := r.registry.Close(); err != nil {
		r.log.Warn("Closing printer registry failed", "error", err)
	}
}

func (r *relay) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		r.log.Trace("HTTP request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr, "duration", time.Since(start))
	})
}
