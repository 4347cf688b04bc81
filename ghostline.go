// ghostline/ghostline.go
// Core service: configuration loading, the completion provider boundary, and
// the Engine that gates and executes completion requests.
package ghostline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Component Interfaces
// =============================================================================

// CompletionProvider defines the interface for executing a completion request
// against a language model backend. Transport, auth, and retries are the
// implementation's concern; the pipeline only sends a prompt and an option
// set and receives raw text or an error.
type CompletionProvider interface {
	// Complete sends the prompt and returns the model's raw completion text.
	Complete(ctx context.Context, prompt string, opts ProviderOptions, logger *stdslog.Logger) (string, error)
	// CheckAvailability verifies the backend is reachable.
	CheckAvailability(ctx context.Context, logger *stdslog.Logger) error
}

// =============================================================================
// Configuration Loading
// =============================================================================

// GetConfigPaths returns the primary (user config dir) and secondary (home
// dotfile) candidate paths for the config file.
func GetConfigPaths(logger *stdslog.Logger) (primary string, secondary string, err error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	var pathErrors []error

	userConfigDir, configErr := os.UserConfigDir()
	if configErr == nil {
		primary = filepath.Join(userConfigDir, configDirName, defaultConfigFileName)
	} else {
		pathErrors = append(pathErrors, fmt.Errorf("cannot determine user config directory: %w", configErr))
		logger.Warn("Could not determine user config directory", "error", configErr)
	}

	homeDir, homeErr := os.UserHomeDir()
	if homeErr == nil {
		secondary = filepath.Join(homeDir, "."+configDirName, defaultConfigFileName)
	} else {
		pathErrors = append(pathErrors, fmt.Errorf("cannot determine user home directory: %w", homeErr))
		logger.Warn("Could not determine user home directory", "error", homeErr)
	}

	if len(pathErrors) > 0 {
		err = errors.Join(pathErrors...)
	}
	return primary, secondary, err
}

// LoadAndMergeConfig reads the JSON config file at path and merges any set
// fields into cfg. Returns whether a file was found and read.
func LoadAndMergeConfig(path string, cfg *Config, logger *stdslog.Logger) (bool, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading config file failed: %w", err)
	}

	var fileCfg FileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return true, fmt.Errorf("parsing config file JSON failed: %w", err)
	}

	if fileCfg.ProviderURL != nil {
		cfg.ProviderURL = *fileCfg.ProviderURL
	}
	if fileCfg.Model != nil {
		cfg.Model = *fileCfg.Model
	}
	if fileCfg.MaxTokens != nil {
		cfg.MaxTokens = *fileCfg.MaxTokens
	}
	if fileCfg.Stop != nil {
		cfg.Stop = make([]string, len(*fileCfg.Stop))
		copy(cfg.Stop, *fileCfg.Stop)
	}
	if fileCfg.Temperature != nil {
		cfg.Temperature = *fileCfg.Temperature
	}
	if fileCfg.CompletionDelayMs != nil {
		cfg.CompletionDelayMs = *fileCfg.CompletionDelayMs
	}
	if fileCfg.ScheduleDelayMs != nil {
		cfg.ScheduleDelayMs = *fileCfg.ScheduleDelayMs
	}
	if fileCfg.CacheCapacity != nil {
		cfg.CacheCapacity = *fileCfg.CacheCapacity
	}
	if fileCfg.Enabled != nil {
		cfg.Enabled = *fileCfg.Enabled
	}
	if fileCfg.LogLevel != nil {
		cfg.LogLevel = *fileCfg.LogLevel
	}
	if fileCfg.TranscriptPath != nil {
		cfg.TranscriptPath = *fileCfg.TranscriptPath
	}
	return true, nil
}

// WriteDefaultConfig writes defaultConfig as indented JSON to path, creating
// parent directories as needed.
func WriteDefaultConfig(path string, defaultConfig Config, logger *stdslog.Logger) error {
	if logger == nil {
		logger = stdslog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory failed: %w", err)
	}
	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default config failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing default config failed: %w", err)
	}
	logger.Info("Wrote default config file", "path", path)
	return nil
}

// LoadConfig loads configuration from standard locations, merges with defaults,
// validates, and attempts to write a default config if needed.
func LoadConfig(logger *stdslog.Logger) (Config, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	if primaryPath != "" {
		logger.Debug("Attempting to load config", "path", primaryPath)
		loaded, loadErr := LoadAndMergeConfig(primaryPath, &cfg, logger)
		if loadErr != nil {
			if strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", primaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", primaryPath, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			logger.Info("Loaded config", "path", primaryPath)
		}
	}

	primaryNotFoundOrFailed := !loadedFromFile || configParseError != nil
	if primaryNotFoundOrFailed && secondaryPath != "" && secondaryPath != primaryPath {
		logger.Debug("Attempting to load config from secondary path", "path", secondaryPath)
		loaded, loadErr := LoadAndMergeConfig(secondaryPath, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", secondaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", secondaryPath, "error", loadErr)
		} else if loaded && !loadedFromFile {
			loadedFromFile = true
			logger.Info("Loaded config", "path", secondaryPath)
		}
	}

	loadSucceeded := loadedFromFile && configParseError == nil
	if !loadSucceeded {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}

		if writePath != "" {
			if configParseError != nil {
				logger.Warn("Existing config file failed to parse. Attempting to write default.", "path", writePath, "error", configParseError)
			} else {
				logger.Info("No valid config file found. Attempting to write default.", "path", writePath)
			}
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		} else {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	finalCfg := cfg
	if err := finalCfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			logger.Error("FATAL: Default config definition is invalid", "error", valErr)
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		finalCfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return finalCfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return finalCfg, nil
}

// =============================================================================
// Default Provider Implementation
// =============================================================================

// httpProvider implements CompletionProvider against an Ollama-style HTTP
// endpoint, reading the streamed NDJSON response into a single string.
type httpProvider struct {
	baseURL    string
	httpClient *http.Client
}

// newHTTPProvider creates a provider client with reasonable timeouts.
func newHTTPProvider(baseURL string) *httpProvider {
	return &httpProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				MaxIdleConns:          10,
				IdleConnTimeout:       30 * time.Second,
				ResponseHeaderTimeout: 20 * time.Second,
			},
		},
	}
}

// CheckAvailability sends a simple request to the provider base URL to check reachability.
func (c *httpProvider) CheckAvailability(ctx context.Context, logger *stdslog.Logger) error {
	if logger == nil {
		logger = stdslog.Default()
	}
	checkLogger := logger.With("operation", "CheckAvailability", "url", c.baseURL)
	checkLogger.Debug("Checking provider availability")

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second) // Short timeout for check
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		checkLogger.Error("Failed to create availability check request", "error", err)
		return fmt.Errorf("%w: failed to create check request: %w", ErrProviderUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			checkLogger.Error("Timeout checking provider availability", "error", err)
		} else {
			checkLogger.Error("Failed to connect to provider for availability check", "error", err)
		}
		return fmt.Errorf("%w: availability check failed: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	checkLogger.Debug("Provider availability check successful", "status", resp.StatusCode)
	return nil
}

// Complete sends a generate request and aggregates the streamed response.
func (c *httpProvider) Complete(ctx context.Context, prompt string, opts ProviderOptions, logger *stdslog.Logger) (string, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	opLogger := logger.With("operation", "Complete", "model", opts.Model)

	reader, err := c.generateStream(ctx, prompt, opts, opLogger)
	if err != nil {
		return "", err
	}

	var buffer bytes.Buffer
	if streamErr := streamCompletion(ctx, reader, &buffer, opLogger); streamErr != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamProcessing, streamErr)
	}
	return buffer.String(), nil
}

// generateStream sends the request to the /api/generate endpoint and returns
// the streaming response body.
func (c *httpProvider) generateStream(ctx context.Context, prompt string, opts ProviderOptions, opLogger *stdslog.Logger) (io.ReadCloser, error) {
	base := strings.TrimSuffix(c.baseURL, "/")
	endpointURL := base + "/api/generate"
	u, err := url.Parse(endpointURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing provider URL '%s': %w", endpointURL, err)
	}

	payload := map[string]interface{}{
		"model":  opts.Model,
		"prompt": prompt,
		"stream": true,
		"options": map[string]interface{}{
			"temperature": opts.Temperature,
			"num_ctx":     4096,
			"top_p":       0.9,
			"stop":        opts.Stop,
			"num_predict": opts.MaxTokens,
		},
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error marshaling JSON payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	opLogger.Debug("Sending generate request to provider", "url", endpointURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			opLogger.Warn("Provider generate request context cancelled", "url", endpointURL)
			return nil, context.Canceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			opLogger.Error("Provider generate request context deadline exceeded", "url", endpointURL, "timeout", c.httpClient.Timeout)
			return nil, fmt.Errorf("%w: context deadline exceeded: %w", ErrProviderUnavailable, context.DeadlineExceeded)
		}

		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				opLogger.Error("Network timeout during provider generate request", "host", u.Host, "error", netErr)
				return nil, fmt.Errorf("%w: network timeout: %w", ErrProviderUnavailable, netErr)
			}
			if opErr, ok := netErr.(*net.OpError); ok && opErr.Op == "dial" {
				opLogger.Error("Connection refused or network error during provider generate request", "host", u.Host, "error", opErr)
				return nil, fmt.Errorf("%w: connection failed: %w", ErrProviderUnavailable, opErr)
			}
		}

		opLogger.Error("HTTP request to provider generate failed", "url", endpointURL, "error", err)
		return nil, fmt.Errorf("%w: http request failed: %w", ErrProviderUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, readErr := io.ReadAll(resp.Body)
		bodyString := "(failed to read error response body)"
		if readErr == nil {
			bodyString = string(bodyBytes)
			var providerErrResp struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(bodyBytes, &providerErrResp) == nil && providerErrResp.Error != "" {
				bodyString = providerErrResp.Error
			}
		}
		apiErr := &ProviderError{Message: fmt.Sprintf("provider API request failed: %s", bodyString), Status: resp.StatusCode}
		opLogger.Error("Provider API returned non-OK status", "status", resp.Status, "response_body", bodyString)
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, apiErr)
	}

	return resp.Body, nil
}

// =============================================================================
// Engine (request layer)
// =============================================================================

// Engine is the request layer of the pipeline: it owns the FIFO result cache,
// the request-layer rate limiter, and the prompt formatter, and executes
// provider calls. State-mutating methods (Suppress, Cached, Store) must only
// be called from the owning goroutine; Complete is safe to call from a
// background goroutine because it touches no pipeline state, only the
// provider and a config snapshot.
type Engine struct {
	provider  CompletionProvider
	formatter PromptFormatter
	cache     *ResultCache
	limiter   *RateLimiter
	config    Config
	configMu  sync.RWMutex // Protects config only; cache and limiter are single-owner.
	logger    *stdslog.Logger
}

// NewEngine creates an Engine with configuration loaded from standard locations.
func NewEngine(logger *stdslog.Logger) (*Engine, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	engineLogger := logger.With("service", "Engine")

	cfg, configErr := LoadConfig(engineLogger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		engineLogger.Error("Fatal error during initial config load", "error", configErr)
		return nil, configErr
	}
	if err := cfg.Validate(engineLogger); err != nil {
		engineLogger.Error("Initial configuration is invalid after loading/defaults", "error", err)
		if errors.Is(err, ErrInvalidConfig) {
			return nil, fmt.Errorf("initial config validation failed: %w", err)
		}
		engineLogger.Warn("Initial config validation reported issues", "error", err)
	}

	eng := newEngine(cfg, engineLogger)
	if configErr != nil && errors.Is(configErr, ErrConfig) {
		return eng, configErr
	}
	return eng, nil
}

// NewEngineWithConfig creates an Engine with a specific config.
func NewEngineWithConfig(config Config, logger *stdslog.Logger) (*Engine, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	engineLogger := logger.With("service", "Engine")

	if config.PromptTemplate == "" {
		config.PromptTemplate = promptTemplate
	}
	if err := config.Validate(engineLogger); err != nil {
		return nil, fmt.Errorf("provided config validation failed: %w", err)
	}
	return newEngine(config, engineLogger), nil
}

func newEngine(cfg Config, logger *stdslog.Logger) *Engine {
	return &Engine{
		provider:  newHTTPProvider(cfg.ProviderURL),
		formatter: newTemplateFormatter(),
		cache:     NewResultCache(cfg.CacheCapacity, logger),
		limiter:   NewRateLimiter(time.Duration(cfg.CompletionDelayMs)*time.Millisecond, logger),
		config:    cfg,
		logger:    logger,
	}
}

// SetProvider replaces the completion provider. Intended for embedders
// supplying their own transport and for tests.
func (e *Engine) SetProvider(p CompletionProvider) {
	e.provider = p
}

// Provider returns the active completion provider.
func (e *Engine) Provider() CompletionProvider {
	return e.provider
}

// UpdateConfig atomically replaces the engine's configuration. The cache and
// limiter keep their existing state; capacity and interval changes apply to
// new instances only.
func (e *Engine) UpdateConfig(newConfig Config) error {
	if newConfig.PromptTemplate == "" {
		newConfig.PromptTemplate = promptTemplate
	}
	if err := newConfig.Validate(e.logger); err != nil {
		e.logger.Error("Invalid configuration provided for update", "error", err)
		return fmt.Errorf("invalid configuration update: %w", err)
	}

	e.configMu.Lock()
	e.config = newConfig
	e.configMu.Unlock()

	e.logger.Info("Engine configuration updated",
		stdslog.Group("new_config",
			stdslog.String("provider_url", newConfig.ProviderURL),
			stdslog.String("model", newConfig.Model),
			stdslog.Int("max_tokens", newConfig.MaxTokens),
			stdslog.Any("stop", newConfig.Stop),
			stdslog.Float64("temperature", newConfig.Temperature),
			stdslog.Int("completion_delay_ms", newConfig.CompletionDelayMs),
			stdslog.Int("cache_capacity", newConfig.CacheCapacity),
			stdslog.Bool("enabled", newConfig.Enabled),
			stdslog.String("log_level", newConfig.LogLevel),
		),
	)
	return nil
}

// GetCurrentConfig returns a thread-safe copy of the current configuration.
func (e *Engine) GetCurrentConfig() Config {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	cfgCopy := e.config
	if cfgCopy.Stop != nil {
		stopsCopy := make([]string, len(cfgCopy.Stop))
		copy(stopsCopy, cfgCopy.Stop)
		cfgCopy.Stop = stopsCopy
	}
	return cfgCopy
}

// Suppress runs the request-layer rate limiter check. Owning goroutine only.
func (e *Engine) Suppress(now time.Time) bool {
	return e.limiter.ShouldSuppress(now)
}

// Cached returns the cached completion for the window's fingerprint, if any.
// Owning goroutine only.
func (e *Engine) Cached(fingerprint string) (string, bool) {
	return e.cache.Get(fingerprint)
}

// Store records a raw completion under its fingerprint, subject to FIFO
// eviction. Owning goroutine only.
func (e *Engine) Store(fingerprint, text string) {
	e.cache.Put(fingerprint, text)
}

// BuildPrompt formats the final prompt for a context window.
func (e *Engine) BuildPrompt(window ContextWindow) string {
	return e.formatter.FormatPrompt(window, e.GetCurrentConfig())
}

// Complete executes the provider call for an already-built prompt and returns
// the trimmed completion text. Safe off the owning goroutine. An empty
// trimmed result is reported as ErrEmptyCompletion.
func (e *Engine) Complete(ctx context.Context, prompt string) (string, error) {
	opLogger := e.logger.With("operation", "Complete")
	cfg := e.GetCurrentConfig()
	opts := ProviderOptions{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Stop:        cfg.Stop,
	}

	raw, err := e.provider.Complete(ctx, prompt, opts, opLogger)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		opLogger.Error("Provider call failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		opLogger.Debug("Provider returned empty completion")
		return "", ErrEmptyCompletion
	}
	return trimmed, nil
}

// CheckProviderAvailability verifies the configured backend is reachable.
func (e *Engine) CheckProviderAvailability(ctx context.Context) error {
	return e.provider.CheckAvailability(ctx, e.logger)
}

// CacheSize returns the number of cached completions. Owning goroutine only.
func (e *Engine) CacheSize() int {
	return e.cache.Len()
}

// Stats returns a snapshot of engine state for display. Owning goroutine only.
func (e *Engine) Stats() Stats {
	cfg := e.GetCurrentConfig()
	return Stats{
		CacheSize:         e.cache.Len(),
		Model:             cfg.Model,
		MaxTokens:         cfg.MaxTokens,
		CompletionDelayMs: cfg.CompletionDelayMs,
	}
}
