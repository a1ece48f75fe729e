// BambuWatch relays Bambu cloud printer status to local dashboards.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/pflag"

	"bambuwatch/common/config"
	"bambuwatch/common/logger"
	"bambuwatch/common/util"
	"bambuwatch/server/handlers"
	"bambuwatch/server/storage"
)

// Version information (set at build time via -ldflags)
var (
	Version   = "dev"     // Semantic version (e.g., "0.1.0")
	BuildTime = "unknown" // Build timestamp
	GitCommit = "unknown" // Git commit hash
	BuildType = "dev"     // "dev" or "release"
)

var processStart = time.Now()

// logBufferSize is the number of recent entries kept for /api/logs.
const logBufferSize = 1000

// cliOverrides carries flag values that win over the config file.
type cliOverrides struct {
	Port     int
	LogLevel string
}

func (o cliOverrides) apply(cfg *Config) {
	if o.Port > 0 {
		cfg.Server.HTTPPort = o.Port
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
}

type cliOptions struct {
	ConfigPath     string
	GenerateConfig bool
	HealthCheck    bool
	ServiceCmd     string
	ShowVersion    bool
	Quiet          bool
	Silent         bool
	Overrides      cliOverrides
}

func parseFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	fs := pflag.NewFlagSet("bambuwatch", pflag.ContinueOnError)
	fs.StringVarP(&opts.ConfigPath, "config", "c", "config.toml", "Configuration file path")
	fs.IntVarP(&opts.Overrides.Port, "port", "p", 0, "HTTP port (overrides config)")
	fs.StringVar(&opts.Overrides.LogLevel, "log-level", "", "Log level: error, warn, info, debug, trace (overrides config)")
	fs.BoolVar(&opts.GenerateConfig, "generate-config", false, "Generate default config file and exit")
	fs.BoolVar(&opts.HealthCheck, "health-check", false, "Probe the local /health endpoint and exit non-zero when unhealthy")
	fs.StringVar(&opts.ServiceCmd, "service", "", "Service control: install, uninstall, start, stop, run")
	fs.BoolVarP(&opts.ShowVersion, "version", "v", false, "Show version information and exit")
	fs.BoolVarP(&opts.Quiet, "quiet", "q", false, "Suppress informational output (errors/warnings still shown)")
	fs.BoolVarP(&opts.Silent, "silent", "s", false, "Suppress ALL output")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Overrides.LogLevel != "" {
		if _, ok := logger.ParseLevel(opts.Overrides.LogLevel); !ok {
			return opts, fmt.Errorf("invalid --log-level %q", opts.Overrides.LogLevel)
		}
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func (o cliOptions) outputMode() util.OutputMode {
	switch {
	case o.Silent:
		return util.Silent
	case o.Quiet:
		return util.Quiet
	default:
		return util.Normal
	}
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if opts.ShowVersion {
		fmt.Printf("BambuWatch %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Build Type: %s\n", BuildType)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	if opts.GenerateConfig {
		if err := WriteDefaultConfig(opts.ConfigPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default configuration at %s\n", opts.ConfigPath)
		return
	}

	if opts.HealthCheck {
		os.Exit(runHealthCheck(opts))
	}

	console := util.NewConsole(os.Stdout, opts.outputMode())
	prg := &program{configPath: opts.ConfigPath, overrides: opts.Overrides}

	if opts.ServiceCmd != "" {
		if err := handleServiceCommand(opts.ServiceCmd, prg, console); err != nil {
			console.Error(err.Error())
			os.Exit(1)
		}
		return
	}

	if !service.Interactive() {
		if err := handleServiceCommand("run", prg, console); err != nil {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runServer(ctx, opts.ConfigPath, opts.Overrides); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runHealthCheck(opts cliOptions) int {
	cfg, _, _, err := loadServerConfig(opts.ConfigPath, opts.Overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check: %v\n", err)
		return 1
	}
	if err := handlers.RunHealthCheck(handlers.HealthCheckConfig{
		BindAddress: cfg.Server.BindAddress,
		HTTPPort:    cfg.Server.HTTPPort,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		return 1
	}
	fmt.Println("healthy")
	return 0
}

// loadServerConfig resolves the config path (env, flag, then the platform
// search paths), loads it and applies flag overrides. The tracker reports
// which keys came from the environment.
func loadServerConfig(configFlag string, overrides cliOverrides) (*Config, string, *ConfigSourceTracker, error) {
	path := config.ResolveConfigPath(envPrefix, configFlag)
	if _, err := os.Stat(path); err != nil {
		if found, _, findErr := config.FindConfigFile("config.toml"); findErr == nil {
			path = found
		}
	}

	cfg, tracker, err := LoadConfig(path)
	if err != nil {
		return nil, path, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	overrides.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, path, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, tracker, nil
}

// logEnvOverrides logs the config keys that were set from the environment.
func logEnvOverrides(log *logger.Logger, tracker *ConfigSourceTracker) {
	if keys := tracker.Keys(); len(keys) > 0 {
		log.Info("Configuration overridden by environment", "keys", strings.Join(keys, ","))
	}
}

// reloadLogSettings re-reads the config and applies its log level and
// rotation policy. Other settings need a restart.
func reloadLogSettings(log *logger.Logger, configFlag string, overrides cliOverrides) error {
	cfg, path, _, err := loadServerConfig(configFlag, overrides)
	if err != nil {
		return err
	}
	log.SetRotationPolicy(cfg.LogRotation())
	level := logger.LevelFromString(cfg.Logging.Level)
	if prev := log.GetLevel(); prev != level {
		log.SetLevel(level)
		log.Info("Log level changed", "from", logger.LevelToString(prev), "to", logger.LevelToString(level), "config", path)
	}
	return nil
}

// watchReload applies reloadLogSettings on every SIGHUP until ctx ends.
func watchReload(ctx context.Context, log *logger.Logger, configFlag string, overrides cliOverrides) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := reloadLogSettings(log, configFlag, overrides); err != nil {
					log.Warn("Config reload failed, keeping current log settings", "error", err)
				}
			}
		}
	}()
}

// runServer runs the relay until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, configFlag string, overrides cliOverrides) error {
	cfg, configPath, tracker, err := loadServerConfig(configFlag, overrides)
	if err != nil {
		return err
	}

	isService := !service.Interactive()
	logDir, err := config.GetLogDirectory(isService)
	if err != nil {
		return err
	}
	log := logger.New(logger.LevelFromString(cfg.Logging.Level), logDir, logBufferSize)
	log.SetRotationPolicy(cfg.LogRotation())
	defer log.Close()
	storage.SetLogger(log)

	log.Info("BambuWatch starting",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
		"build_type", BuildType,
		"config", configPath)
	logEnvOverrides(log, tracker)

	dataDir, err := config.GetDataDirectory(isService)
	if err != nil {
		return err
	}

	app, err := newRelay(cfg, dataDir, log)
	if err != nil {
		log.Error("Startup failed", "error", err)
		return err
	}
	defer app.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.start(runCtx)
	watchReload(runCtx, log, configFlag, overrides)

	addr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.HTTPPort))
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", addr, "mode", feedMode(cfg))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", "addr", addr, "error", err)
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down", "timeout", cfg.ShutdownTimeout())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown incomplete", "error", err)
	}
	log.Info("BambuWatch stopped")
	return nil
}

func feedMode(cfg *Config) string {
	if cfg.MQTT.Enabled {
		return "push"
	}
	return "pull"
}
