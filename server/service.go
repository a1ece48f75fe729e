package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kardianos/service"

	"bambuwatch/common/util"
)

const serviceStopTimeout = 30 * time.Second

// program implements service.Interface
type program struct {
	configPath string
	overrides  cliOverrides

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	svcLogger service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("BambuWatch service starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)

	if err := runServer(p.ctx, p.configPath, p.overrides); err != nil {
		if p.svcLogger != nil {
			p.svcLogger.Errorf("BambuWatch service failed: %v", err)
		}
		// Let the service manager apply its restart policy.
		os.Exit(1)
	}

	if p.svcLogger != nil {
		p.svcLogger.Info("BambuWatch service stopping")
	}
}

func (p *program) Stop(s service.Service) error {
	if p.svcLogger != nil {
		p.svcLogger.Info("BambuWatch service stop requested")
	}

	if p.cancel != nil {
		p.cancel()
	}
	if p.done == nil {
		return nil
	}

	select {
	case <-p.done:
		if p.svcLogger != nil {
			p.svcLogger.Info("BambuWatch service stopped gracefully")
		}
	case <-time.After(serviceStopTimeout):
		if p.svcLogger != nil {
			p.svcLogger.Warning("BambuWatch service stopped with timeout")
		}
	}

	return nil
}

// serviceConfigPath is where installed services read their configuration.
func serviceConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "BambuWatch", "config.toml")
	case "darwin":
		return "/Library/Application Support/BambuWatch/config.toml"
	default:
		return "/etc/bambuwatch/config.toml"
	}
}

// getServiceConfig returns the service configuration for the current platform
func getServiceConfig() *service.Config {
	var workingDir string
	switch runtime.GOOS {
	case "windows":
		workingDir = filepath.Join(os.Getenv("ProgramData"), "BambuWatch")
	case "darwin":
		workingDir = "/Library/Application Support/BambuWatch"
	default:
		workingDir = "/var/lib/bambuwatch"
	}

	return &service.Config{
		Name:             "BambuWatch",
		DisplayName:      "BambuWatch Printer Relay",
		Description:      "Relays Bambu cloud printer status to local dashboards.",
		WorkingDirectory: workingDir,
		Arguments:        []string{"--service", "run", "--config", serviceConfigPath()},
		Option: service.KeyValue{
			// Windows service options
			"StartType":              "automatic",
			"DelayedAutoStart":       true,
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   30,

			// Linux systemd options
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillMode":          "mixed",
			"KillSignal":        "SIGTERM",

			// macOS launchd options
			"RunAtLoad": true,
			"KeepAlive": true,
		},
	}
}

// serviceDirectories lists the directories an installed service needs.
func serviceDirectories() []string {
	switch runtime.GOOS {
	case "windows":
		base := filepath.Join(os.Getenv("ProgramData"), "BambuWatch")
		return []string{base, filepath.Join(base, "logs")}
	case "darwin":
		base := "/Library/Application Support/BambuWatch"
		return []string{base, "/var/log/bambuwatch"}
	default:
		return []string{"/var/lib/bambuwatch", "/var/log/bambuwatch", "/etc/bambuwatch"}
	}
}

// setupServiceDirectories creates necessary directories for service operation
// and writes a default config when none exists.
func setupServiceDirectories(console *util.Console) error {
	return prepareServiceLayout(console, serviceDirectories(), serviceConfigPath())
}

func prepareServiceLayout(console *util.Console, dirs []string, configPath string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				console.Info("Configuration already exists at: " + configPath)
				return nil
			}
			return fmt.Errorf("failed to generate default config at %s: %w", configPath, err)
		}
		console.Success("Generated default configuration at: " + configPath)
	} else {
		console.Info("Configuration already exists at: " + configPath)
	}

	return nil
}

// handleServiceCommand processes service install/uninstall/start/stop/run commands
func handleServiceCommand(cmd string, prg *program, console *util.Console) error {
	s, err := service.New(prg, getServiceConfig())
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	switch cmd {
	case "install":
		console.Banner("BambuWatch Printer Relay", Version, GitCommit, BuildTime)
		if status, _ := s.Status(); status != service.StatusUnknown {
			console.Warning("Service already exists, removing first...")
			if status == service.StatusRunning {
				console.Info("Stopping existing service...")
				_ = s.Stop()
				time.Sleep(2 * time.Second)
			}
			if err := s.Uninstall(); err != nil {
				if !strings.Contains(err.Error(), "marked for deletion") {
					return fmt.Errorf("remove existing service: %w", err)
				}
				console.Warning("Service marked for deletion, will install anyway")
			} else {
				console.Success("Existing service removed")
			}
		}
		console.Info("Setting up directories...")
		if err := setupServiceDirectories(console); err != nil {
			return err
		}
		console.Success("Directories ready")
		if err := s.Install(); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("install service: %w", err)
			}
			console.Warning("Service already exists (this is normal)")
		}
		console.Success("Service installed")
		console.Info("Use '--service start' to start the service")
	case "uninstall":
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("uninstall service: %w", err)
		}
		console.Success("BambuWatch service uninstalled")
	case "start":
		console.Info("Starting service...")
		if err := s.Start(); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		console.Success("Service started")
	case "stop":
		console.Info("Stopping service (may take up to 30 seconds)...")
		if err := s.Stop(); err != nil {
			return fmt.Errorf("stop service: %w", err)
		}
		console.Success("Service stopped")
	case "run":
		return s.Run()
	default:
		return fmt.Errorf("unknown service command %q (valid: install, uninstall, start, stop, run)", cmd)
	}
	return nil
}
