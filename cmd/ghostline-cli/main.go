package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog" // Use structured logging
	"os"
	"time"

	"github.com/shehackedyou/ghostline"
)

// Set at build time
var version = "dev"

func main() {
	// --- Flag Definitions ---
	filePath := flag.String("file", "", "Path to the source file (required unless -stdin is used)")
	line := flag.Int("line", 0, "Line number (1-based, required unless -stdin is used)")
	col := flag.Int("col", 0, "Column number (1-based, required unless -stdin is used)")
	stdin := flag.Bool("stdin", false, "Read a snippet from stdin and complete at its end")
	raw := flag.Bool("raw", false, "Print the raw completion without overlap trimming")
	logLevelFlag := flag.String("log-level", "", "Log level (debug, info, warn, error) - overrides config")

	flag.Parse()

	// --- Setup Temporary Logger for Initialization ---
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// --- Initialize Engine (Loads Config) ---
	engine, initErr := ghostline.NewEngine(tempLogger)
	if initErr != nil && !errors.Is(initErr, ghostline.ErrConfig) {
		tempLogger.Error("Fatal error initializing completion engine", "error", initErr)
		os.Exit(1) // Exit on fatal errors
	}
	if engine == nil {
		tempLogger.Error("Engine initialization returned nil unexpectedly")
		os.Exit(1)
	}

	// --- Setup Final Logger based on Flag/Config ---
	initialConfig := engine.GetCurrentConfig()
	chosenLogLevelStr := initialConfig.LogLevel

	if *logLevelFlag != "" {
		chosenLogLevelStr = *logLevelFlag
		tempLogger.Debug("Log level overridden by command-line flag", "flag_level", chosenLogLevelStr)
	}

	logLevel, parseLevelErr := ghostline.ParseLogLevel(chosenLogLevelStr)
	if parseLevelErr != nil {
		tempLogger.Warn("Invalid log level specified, using default 'info'", "specified_level", chosenLogLevelStr, "error", parseLevelErr)
		logLevel = slog.LevelInfo // Default to Info
	}

	handlerOpts := slog.HandlerOptions{Level: logLevel, AddSource: false} // Keep CLI logs concise
	finalLogger := slog.New(slog.NewTextHandler(os.Stderr, &handlerOpts))
	slog.SetDefault(finalLogger) // Set as default

	slog.Info("Ghostline engine initialized.", "version", version, "effective_log_level", logLevel.String())
	if initErr != nil && errors.Is(initErr, ghostline.ErrConfig) {
		slog.Warn("Engine initialized with configuration warnings", "error", initErr)
	}

	// --- Input Validation ---
	var content string
	var cursor ghostline.Position
	if *stdin {
		if *filePath != "" || *line != 0 || *col != 0 {
			slog.Error("Cannot use -file, -line, or -col flags when -stdin is specified.")
			flag.Usage()
			os.Exit(1)
		}
		slog.Info("Reading snippet from stdin...")
		snippetBytes, readErr := io.ReadAll(os.Stdin)
		if readErr != nil {
			slog.Error("Failed to read from stdin", "error", readErr)
			os.Exit(1)
		}
		content = string(snippetBytes)
	} else {
		if *filePath == "" {
			slog.Error("Missing required flag: -file")
			flag.Usage()
			os.Exit(1)
		}
		if *line <= 0 {
			slog.Error("Invalid value for -line: must be positive", "value", *line)
			flag.Usage()
			os.Exit(1)
		}
		if *col <= 0 {
			slog.Error("Invalid value for -col: must be positive", "value", *col)
			flag.Usage()
			os.Exit(1)
		}
		absPath, pathErr := ghostline.ValidateAndGetFilePath(*filePath, finalLogger)
		if pathErr != nil {
			slog.Error("Invalid file path provided via -file flag", "path", *filePath, "error", pathErr)
			os.Exit(1)
		}
		fileBytes, readErr := os.ReadFile(absPath)
		if readErr != nil {
			slog.Error("Cannot read file provided via -file flag", "path", absPath, "error", readErr)
			os.Exit(1)
		}
		content = string(fileBytes)
		cursor = ghostline.Position{Line: *line - 1, Col: *col - 1}
	}

	doc := ghostline.NewDocument(content)
	if *stdin {
		// Complete at the very end of the snippet.
		lastLine := doc.LineCount() - 1
		text, _ := doc.Line(lastLine)
		cursor = ghostline.Position{Line: lastLine, Col: len(text)}
	}
	doc.SetCursor(cursor)
	cursor = doc.Cursor() // Clamped

	// --- Execute Command ---
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	windower := ghostline.NewContextWindower(finalLogger)
	window := windower.Extract(doc, cursor, nil)
	prompt := engine.BuildPrompt(window)

	spinner := ghostline.NewSpinner()
	spinner.Start("Requesting completion...")
	completion, completionErr := engine.Complete(ctx, prompt)
	spinner.Stop()

	if completionErr != nil {
		switch {
		case errors.Is(completionErr, context.DeadlineExceeded):
			slog.Error("Completion request timed out", "file", *filePath, "line", *line, "col", *col)
		case errors.Is(completionErr, context.Canceled):
			slog.Warn("Completion request cancelled", "file", *filePath, "line", *line, "col", *col)
		case errors.Is(completionErr, ghostline.ErrProviderUnavailable):
			slog.Error("Completion backend unavailable", "error", completionErr)
		case errors.Is(completionErr, ghostline.ErrEmptyCompletion):
			ghostline.PrettyPrint(ghostline.ColorYellow, "No completion available\n")
			os.Exit(0)
		default:
			slog.Error("Failed to get completion", "error", completionErr)
		}
		fmt.Fprintln(os.Stderr) // Add newline to stderr for errors
		os.Exit(1)
	}

	output := completion
	if !*raw {
		resolver := ghostline.NewOverlapResolver(finalLogger)
		output = resolver.Resolve(ghostline.CurrentWordOf(window.CurrentLinePrefix), completion)
	}
	fmt.Println(output)

	slog.Info("CLI command finished successfully.")
}
