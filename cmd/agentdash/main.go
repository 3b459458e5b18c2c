package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lazyclaw/agentdash/internal/config"
	"github.com/lazyclaw/agentdash/internal/gateway"
	"github.com/lazyclaw/agentdash/internal/state"
	"github.com/lazyclaw/agentdash/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"
)

// Loopback endpoint served by --mock
const mockListenAddr = "127.0.0.1:18080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse flags
	address := flag.String("address", "", "Agent telemetry WebSocket address (ws:// or wss://)")
	mockMode := flag.Bool("mock", false, "Serve simulated telemetry locally and connect to it")
	configPath := flag.String("config", "", "Path to the config file")
	logFile := flag.String("log-file", "", "Diagnostic log file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	// Load or create configuration
	cfg, firstRun, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Load UI state; unreadable state falls back to defaults
	uiState, stateErr := state.Load()

	// Without a config file, reconnect to wherever we were last pointed
	if firstRun && uiState.LastAddress != "" && gateway.ValidateAddress(uiState.LastAddress) == nil {
		cfg.Gateway.Address = uiState.LastAddress
	}
	overrides := config.Overrides{Address: *address, LogFile: *logFile, LogLevel: *logLevel}
	if *mockMode {
		overrides.Address = "ws://" + mockListenAddr
	}
	cfg.Apply(overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if stateErr != nil {
		logger.Warn("ignoring unreadable UI state", "error", stateErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		mock := gateway.NewMockServer(500 * time.Millisecond)
		mock.Logger = logger
		go func() {
			if err := mock.ListenAndServe(ctx, mockListenAddr); err != nil {
				logger.Error("mock server stopped", "error", err)
			}
		}()
	}

	handle, err := gateway.Connect(ctx, cfg.Gateway.Address, gateway.Options{
		RetryDelay:       cfg.Gateway.RetryDelay,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		WriteTimeout:     cfg.Gateway.WriteTimeout,
		PingInterval:     cfg.Gateway.PingInterval,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer handle.Close()

	// Initialize the TUI application
	app := ui.NewApp(cfg, uiState, handle)

	// Run the Bubble Tea program
	p := tea.NewProgram(app, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("running agentdash: %w", err)
	}

	// Save state on exit
	if finalApp, ok := finalModel.(*ui.App); ok {
		saved := finalApp.GetState()
		if *mockMode {
			saved.LastAddress = uiState.LastAddress
		}
		if err := state.Save(saved); err != nil {
			logger.Warn("saving UI state", "error", err)
		}
	}
	return nil
}

// openLogger sends slog output to the log file; the TUI owns the terminal
func openLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	path, err := cfg.LogPath()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, func() { f.Close() }, nil
}
