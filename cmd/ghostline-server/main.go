package main

import (
	"errors"
	"expvar" // For publishing metrics
	"io"
	stlog "log" // Renamed standard log
	"log/slog"
	"net/http"         // For pprof/expvar server
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"runtime"

	"github.com/shehackedyou/ghostline"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

func main() {
	// --- Basic Setup ---
	// Setup logging destination *before* initializing slog
	logFile, err := os.OpenFile("ghostline-server.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		stlog.Fatalf("Failed to open log file: %v", err) // Use standard log for initial fatal error
	}
	defer logFile.Close()

	// --- Setup Temporary Logger for Initialization ---
	// Use a basic stderr logger initially until the final level is determined.
	tempLogger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile), &slog.HandlerOptions{Level: slog.LevelInfo}))

	// --- Load Configuration ---
	config, initErr := ghostline.LoadConfig(tempLogger)
	if initErr != nil {
		tempLogger.Error("Failed to load configuration", "error", initErr)
		// Exit on fatal init errors, but allow config warnings to proceed
		if !errors.Is(initErr, ghostline.ErrConfig) {
			os.Exit(1)
		}
	}

	// --- Setup Global Logger ---
	logLevel, parseLevelErr := ghostline.ParseLogLevel(config.LogLevel)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo // Default to Info
		tempLogger.Warn("Invalid log level in config, using default 'info'", "config_level", config.LogLevel, "error", parseLevelErr)
	}
	logWriter := io.MultiWriter(os.Stderr, logFile)
	handlerOpts := slog.HandlerOptions{Level: logLevel, AddSource: true} // Add source for better debugging
	handler := slog.NewTextHandler(logWriter, &handlerOpts)
	logger := slog.New(handler)
	slog.SetDefault(logger) // Set the configured logger as default

	// Log startup messages using the final logger
	slog.Info("Ghostline server starting...", "version", appVersion, "log_level", logLevel.String())
	if initErr != nil && errors.Is(initErr, ghostline.ErrConfig) {
		slog.Warn("Configuration loaded with warnings", "error", initErr)
	}

	// --- Setup Profiling & Metrics ---
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	slog.Info("Enabled block and mutex profiling")
	startDebugServer() // Start pprof/expvar HTTP server

	// --- Initialize and Run Server ---
	// NewServer handles publishing expvar metrics internally
	server := ghostline.NewServer(config, logger, appVersion)

	// Run the server (blocks until shutdown)
	server.Run(os.Stdin, os.Stdout)

	slog.Info("Server has shut down gracefully.")
}

// startDebugServer starts the HTTP server for pprof and expvar.
func startDebugServer() {
	debugListenAddr := "localhost:6061" // Consider making configurable
	go func() {
		slog.Info("Starting debug server for pprof/expvar", "addr", debugListenAddr)
		debugMux := http.NewServeMux()
		// Register pprof handlers
		debugMux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/cmdline", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/profile", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/symbol", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/trace", http.DefaultServeMux.ServeHTTP)
		// Register expvar handler
		debugMux.HandleFunc("/debug/vars", expvar.Handler().ServeHTTP)
		if err := http.ListenAndServe(debugListenAddr, debugMux); err != nil {
			// Use the default slog logger as this runs in a separate goroutine
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
