// ghostline/server.go
// Editor-facing JSON-RPC server exposing the suggestion pipeline over stdio.
// All session state is owned by a single event-loop goroutine; handlers
// marshal their work onto it, preserving the pipeline's single-writer
// discipline.
package ghostline

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// Server Implementation
// ============================================================================

// Server exposes ghost-text suggestions over JSON-RPC. One session exists per
// open document, each with its own engine and controller, so rate limiter and
// cache state never bleed between documents.
type Server struct {
	conn           *jsonrpc2.Conn
	logger         *slog.Logger
	config         Config
	sessions       map[DocumentURI]*session
	events         chan func()
	done           chan struct{}
	closeOnce      sync.Once
	serverInfo     *ServerInfo
	initParams     *InitializeParams
	requestTracker *RequestTracker
	transcript     *TranscriptStore
}

// session is one open document's pipeline instance. Only the event loop
// touches it.
type session struct {
	uri        DocumentURI
	doc        *Document
	engine     *Engine
	controller *SuggestionController
	version    int
}

// NewServer creates a server around a validated base configuration. If the
// config names a transcript path, the store is opened here and shared by all
// sessions.
func NewServer(config Config, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		logger:   logger,
		config:   config,
		sessions: make(map[DocumentURI]*session),
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		serverInfo: &ServerInfo{
			Name:    "Ghostline Server",
			Version: version,
		},
		requestTracker: NewRequestTracker(),
	}
	if config.TranscriptPath != "" {
		ts, err := OpenTranscriptStore(config.TranscriptPath, logger)
		if err != nil {
			logger.Warn("Failed to open transcript store, recording disabled.", "path", config.TranscriptPath, "error", err)
		} else {
			s.transcript = ts
		}
	}
	// expvar registration is process-global and panics on duplicate names;
	// only the first server instance publishes.
	expvarOnce.Do(func() { publishExpvarMetrics(s) })
	return s
}

// Run starts the server, listening on the given reader/writer pair (stdio in
// the normal case), and blocks until the connection closes.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting server run loop")

	go s.eventLoop()

	stream := &stdrwc{r: r, w: w}
	objectStream := jsonrpc2.NewPlainObjectStream(stream)
	handler := jsonrpc2.HandlerWithError(s.handle)

	s.conn = jsonrpc2.NewConn(context.Background(), objectStream, handler)
	s.logger.Info("JSON-RPC connection established")

	<-s.conn.DisconnectNotify() // Block until connection closes
	s.logger.Info("JSON-RPC connection closed")
	s.shutdown()
}

// eventLoop is the owning execution context for all pipeline state.
func (s *Server) eventLoop() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// dispatch posts fn onto the event loop. Used as the controllers' post
// function and by notification handlers.
func (s *Server) dispatch(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
		s.logger.Debug("Dropping event, server shut down")
	}
}

// callResult carries a request handler's outcome off the event loop.
type callResult struct {
	result any
	err    error
}

// onLoop runs fn on the event loop and waits for its result.
func (s *Server) onLoop(ctx context.Context, fn func() (any, error)) (any, error) {
	ch := make(chan callResult, 1)
	s.dispatch(func() {
		res, err := fn()
		ch <- callResult{result: res, err: err}
	})
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("server shutting down")
	}
}

func (s *Server) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.transcript != nil {
			if err := s.transcript.Close(); err != nil {
				s.logger.Warn("Error closing transcript store", "error", err)
			}
		}
	})
}

// stdrwc is a simple ReadWriteCloser that wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error                { return nil } // Do nothing

// handle routes incoming requests/notifications to appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	isRequest := req.ID != (jsonrpc2.ID{})
	if isRequest {
		methodLogger = methodLogger.With("req_id", req.ID)
	}
	methodLogger.Debug("Received request/notification")

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", stack)

			panicMsg := fmt.Sprintf("Panic: %v", r)
			panicData, marshalErr := json.Marshal(panicMsg)
			if marshalErr != nil {
				methodLogger.Error("Failed to marshal panic message for error data", "error", marshalErr)
				panicData = json.RawMessage(`"failed to marshal panic data"`)
			}
			rawPanicData := json.RawMessage(panicData)

			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
				Data:    &rawPanicData,
			}
			result = nil
		}
	}()

	// Request Cancellation Handling
	if isRequest {
		s.requestTracker.Add(req.ID, ctx)
		defer s.requestTracker.Remove(req.ID)
	}
	select {
	case <-ctx.Done():
		methodLogger.Warn("Request context cancelled before processing started", "error", ctx.Err())
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	default: // Continue processing
	}

	// Helper to unmarshal params
	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal initialize params", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid initialize params: %v", err)}
		}
		s.initParams = &params
		return s.handleInitialize(ctx, params)

	case "initialized":
		methodLogger.Info("Client initialized notification received")
		return nil, nil

	case "shutdown":
		methodLogger.Info("Shutdown request received")
		return nil, nil

	case "exit":
		methodLogger.Info("Exit notification received")
		if s.conn != nil {
			s.conn.Close()
		}
		return nil, nil

	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didOpen params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.dispatch(func() { s.handleDidOpen(params) })
		return nil, nil

	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChange params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.dispatch(func() { s.handleDidChange(params) })
		return nil, nil

	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didClose params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.dispatch(func() { s.handleDidClose(params) })
		return nil, nil

	case "ghostText/cursorMove":
		var params CursorMoveParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal cursorMove params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.dispatch(func() { s.handleCursorMove(params) })
		return nil, nil

	case "ghostText/trigger":
		var params TriggerParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal trigger params", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid trigger params: %v", err)}
		}
		return s.onLoop(ctx, func() (any, error) { return s.handleTrigger(params) })

	case "ghostText/accept":
		var params AcceptParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal accept params", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid accept params: %v", err)}
		}
		return s.onLoop(ctx, func() (any, error) { return s.handleAccept(params) })

	case "ghostText/dismiss":
		var params DismissParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal dismiss params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.dispatch(func() { s.handleDismiss(params) })
		return nil, nil

	case "ghostText/setEnabled":
		var params SetEnabledParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal setEnabled params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.dispatch(func() { s.handleSetEnabled(params) })
		return nil, nil

	case "ghostText/stats":
		var params StatsParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal stats params", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid stats params: %v", err)}
		}
		return s.onLoop(ctx, func() (any, error) { return s.handleStats(params) })

	case "ghostText/transcript":
		var params TranscriptParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal transcript params", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid transcript params: %v", err)}
		}
		return s.handleTranscript(params)

	case "workspace/didChangeConfiguration":
		var params DidChangeConfigurationParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal didChangeConfiguration params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.dispatch(func() { s.handleDidChangeConfiguration(params) })
		return nil, nil

	case "$/cancelRequest":
		var params CancelParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal cancelRequest params", "error", err)
			return nil, nil // Ignore notification errors
		}
		var cancelID jsonrpc2.ID
		switch idVal := params.ID.(type) {
		case float64:
			numVal := uint64(idVal)
			cancelID = jsonrpc2.ID{Num: numVal}
		case string:
			cancelID = jsonrpc2.ID{Str: idVal, IsString: true}
		default:
			methodLogger.Warn("Could not determine type of cancel request ID", "id_value", params.ID, "id_type", fmt.Sprintf("%T", params.ID))
			return nil, nil
		}

		s.requestTracker.Cancel(cancelID)
		methodLogger.Info("Cancellation request processed", "cancelled_id", cancelID)
		return nil, nil

	default:
		methodLogger.Warn("Unhandled method")
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

// ============================================================================
// Method Handlers (event-loop side unless noted)
// ============================================================================

func (s *Server) handleInitialize(ctx context.Context, params InitializeParams) (any, error) {
	clientName, clientVersion := "", ""
	if params.ClientInfo != nil {
		clientName, clientVersion = params.ClientInfo.Name, params.ClientInfo.Version
	}
	s.logger.Info("Handling initialize request", "client_name", clientName, "client_version", clientVersion)

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync:   1, // Full document sync only.
			GhostTextProvider:  true,
			StatsProvider:      true,
			TranscriptProvider: s.transcript != nil,
		},
		ServerInfo: s.serverInfo,
	}

	s.logger.Info("Initialization successful", "server_capabilities", result.Capabilities)
	return result, nil
}

func (s *Server) handleDidOpen(params DidOpenTextDocumentParams) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	s.logger.Info("Handling textDocument/didOpen", "uri", uri, "version", version, "size", len(params.TextDocument.Text))

	if uri == "" {
		s.logger.Error("Rejecting didOpen", "error", ErrInvalidURI)
		return
	}

	doc := NewDocument(params.TextDocument.Text)
	engine, err := NewEngineWithConfig(s.config, s.logger)
	if err != nil {
		s.logger.Error("Failed to create engine for session", "uri", uri, "error", err)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("Failed to start suggestion session: %v", err))
		return
	}
	controller := NewSuggestionController(engine, doc, s.dispatch, s.logger)
	controller.SetTranscript(s.transcript)
	controller.SetStatusCallback(func(msg string) {
		s.sendStatus(msg)
		if msg == StatusReady {
			s.publishSuggestion(uri, controller.Active())
		}
	})

	s.sessions[uri] = &session{
		uri:        uri,
		doc:        doc,
		engine:     engine,
		controller: controller,
		version:    version,
	}
}

func (s *Server) handleDidChange(params DidChangeTextDocumentParams) {
	uri := params.TextDocument.URI
	sess, ok := s.sessions[uri]
	if !ok {
		s.logger.Warn("didChange for unknown document", "uri", uri)
		return
	}
	if len(params.ContentChanges) == 0 {
		s.logger.Warn("Received didChange notification with no content changes", "uri", uri, "version", params.Version)
		return
	}
	if params.Version <= sess.version && params.Version != 0 {
		s.logger.Warn("Ignoring out-of-order didChange notification", "uri", uri, "received_version", params.Version, "current_version", sess.version)
		return
	}

	// For full sync, the last change contains the whole document.
	newContent := params.ContentChanges[len(params.ContentChanges)-1].Text
	s.logger.Debug("Handling textDocument/didChange", "uri", uri, "new_version", params.Version, "new_size", len(newContent))

	// A content change dismisses any overlay before the buffer is replaced.
	sess.controller.NotifyContentKey()
	sess.doc.SetContent(newContent)
	sess.doc.SetCursor(params.Cursor)
	sess.version = params.Version
	s.publishSuggestion(uri, nil)

	// Coalesce bursts behind the scheduling delay; the rate limiters do the
	// rest.
	sess.controller.ScheduleTrigger(context.Background())
}

func (s *Server) handleDidClose(params DidCloseTextDocumentParams) {
	uri := params.TextDocument.URI
	s.logger.Info("Handling textDocument/didClose", "uri", uri)
	delete(s.sessions, uri)
}

func (s *Server) handleCursorMove(params CursorMoveParams) {
	sess, ok := s.sessions[params.TextDocument.URI]
	if !ok {
		return
	}
	sess.controller.NotifyCursorMove()
	sess.doc.SetCursor(params.Cursor)
	s.publishSuggestion(params.TextDocument.URI, nil)
}

func (s *Server) handleTrigger(params TriggerParams) (any, error) {
	sess, ok := s.sessions[params.TextDocument.URI]
	if !ok {
		return nil, fmt.Errorf("document not open: %s", params.TextDocument.URI)
	}
	sess.controller.Trigger(context.Background())
	return nil, nil
}

func (s *Server) handleAccept(params AcceptParams) (any, error) {
	sess, ok := s.sessions[params.TextDocument.URI]
	if !ok {
		return nil, fmt.Errorf("document not open: %s", params.TextDocument.URI)
	}
	active := sess.controller.Active()
	if active == nil {
		return AcceptResult{Accepted: false}, nil
	}
	text := active.Text
	if !sess.controller.Accept() {
		return AcceptResult{Accepted: false}, nil
	}
	s.publishSuggestion(params.TextDocument.URI, nil)
	return AcceptResult{Accepted: true, Text: text, Cursor: sess.doc.Cursor()}, nil
}

func (s *Server) handleDismiss(params DismissParams) {
	sess, ok := s.sessions[params.TextDocument.URI]
	if !ok {
		return
	}
	sess.controller.Dismiss()
	s.publishSuggestion(params.TextDocument.URI, nil)
}

func (s *Server) handleSetEnabled(params SetEnabledParams) {
	sess, ok := s.sessions[params.TextDocument.URI]
	if !ok {
		return
	}
	sess.controller.SetEnabled(params.Enabled)
}

func (s *Server) handleStats(params StatsParams) (any, error) {
	sess, ok := s.sessions[params.TextDocument.URI]
	if !ok {
		return nil, fmt.Errorf("document not open: %s", params.TextDocument.URI)
	}
	return sess.controller.Stats(), nil
}

// handleTranscript runs off-loop; the transcript store serializes access itself.
func (s *Server) handleTranscript(params TranscriptParams) (any, error) {
	if s.transcript == nil {
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: "transcript recording is disabled"}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.transcript.Recent(limit)
	if err != nil {
		return nil, fmt.Errorf("reading transcript failed: %w", err)
	}
	return entries, nil
}

func (s *Server) handleDidChangeConfiguration(params DidChangeConfigurationParams) {
	s.logger.Info("Handling workspace/didChangeConfiguration")

	var changedSettings struct {
		Ghostline FileConfig `json:"ghostline"`
	}

	if err := json.Unmarshal(params.Settings, &changedSettings); err != nil {
		s.logger.Error("Failed to unmarshal workspace/didChangeConfiguration settings", "error", err, "raw_settings", string(params.Settings))
		var directFileCfg FileConfig
		if directErr := json.Unmarshal(params.Settings, &directFileCfg); directErr == nil {
			s.logger.Info("Successfully unmarshalled settings directly into FileConfig")
			changedSettings.Ghostline = directFileCfg
		} else {
			s.logger.Error("Also failed to unmarshal settings directly into FileConfig", "direct_error", directErr)
			return
		}
	}

	newConfig := s.config
	fileCfg := changedSettings.Ghostline
	mergedFields := 0

	// Merge non-nil fields from received settings
	if fileCfg.ProviderURL != nil {
		newConfig.ProviderURL = *fileCfg.ProviderURL
		mergedFields++
	}
	if fileCfg.Model != nil {
		newConfig.Model = *fileCfg.Model
		mergedFields++
	}
	if fileCfg.MaxTokens != nil {
		newConfig.MaxTokens = *fileCfg.MaxTokens
		mergedFields++
	}
	if fileCfg.Stop != nil {
		newConfig.Stop = *fileCfg.Stop
		mergedFields++
	}
	if fileCfg.Temperature != nil {
		newConfig.Temperature = *fileCfg.Temperature
		mergedFields++
	}
	if fileCfg.CompletionDelayMs != nil {
		newConfig.CompletionDelayMs = *fileCfg.CompletionDelayMs
		mergedFields++
	}
	if fileCfg.ScheduleDelayMs != nil {
		newConfig.ScheduleDelayMs = *fileCfg.ScheduleDelayMs
		mergedFields++
	}
	if fileCfg.CacheCapacity != nil {
		newConfig.CacheCapacity = *fileCfg.CacheCapacity
		mergedFields++
	}
	if fileCfg.Enabled != nil {
		newConfig.Enabled = *fileCfg.Enabled
		mergedFields++
	}
	if fileCfg.LogLevel != nil {
		newConfig.LogLevel = *fileCfg.LogLevel
		mergedFields++
		s.logger.Info("Log level configuration change received", "new_level_setting", newConfig.LogLevel)
	}

	if mergedFields == 0 {
		s.logger.Debug("No relevant configuration changes found in workspace/didChangeConfiguration notification")
		return
	}

	if err := newConfig.Validate(s.logger); err != nil {
		s.logger.Error("Failed to apply updated configuration", "error", err)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("Failed to apply configuration update: %v", err))
		return
	}
	s.config = newConfig
	s.logger.Info("Server configuration updated via workspace/didChangeConfiguration", "fields_merged", mergedFields)

	// Existing sessions pick up the new provider/model settings; delay,
	// capacity, and enablement changes apply per-session.
	for _, sess := range s.sessions {
		if err := sess.engine.UpdateConfig(newConfig); err != nil {
			s.logger.Warn("Failed to apply config update to session", "uri", sess.uri, "error", err)
			continue
		}
		if fileCfg.Enabled != nil {
			sess.controller.SetEnabled(newConfig.Enabled)
		}
	}
}

// ============================================================================
// Notification Sending Helpers
// ============================================================================

func (s *Server) sendShowMessage(msgType MessageType, message string) {
	if s.conn == nil {
		s.logger.Warn("Cannot send showMessage: connection is nil")
		return
	}
	params := ShowMessageParams{Type: msgType, Message: message}
	ctx := context.Background()
	if err := s.conn.Notify(ctx, "window/showMessage", params); err != nil {
		s.logger.Error("Failed to send window/showMessage notification", "error", err, "message_type", msgType)
	} else {
		s.logger.Debug("Sent window/showMessage notification", "message_type", msgType)
	}
}

// sendStatus forwards a pipeline status string to the client.
func (s *Server) sendStatus(message string) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Notify(context.Background(), "ghostText/status", StatusParams{Message: message}); err != nil {
		s.logger.Error("Failed to send ghostText/status notification", "error", err)
	}
}

// publishSuggestion tells the client the overlay changed. A nil suggestion
// clears it.
func (s *Server) publishSuggestion(uri DocumentURI, active *ActiveSuggestion) {
	if s.conn == nil {
		return
	}
	params := SuggestionParams{TextDocument: TextDocumentIdentifier{URI: uri}}
	if active != nil {
		params.Suggestion = &SuggestionPayload{Anchor: active.Anchor, Text: active.Text}
	}
	if err := s.conn.Notify(context.Background(), "ghostText/suggestion", params); err != nil {
		s.logger.Error("Failed to send ghostText/suggestion notification", "error", err, "uri", uri)
	} else {
		s.logger.Debug("Published suggestion state", "uri", uri, "cleared", active == nil)
	}
}

// ============================================================================
// Metrics Publishing
// ============================================================================

var expvarOnce sync.Once

func publishExpvarMetrics(s *Server) {
	startTime := time.Now()
	expvar.NewString("serverInfo.name").Set(s.serverInfo.Name)
	expvar.NewString("serverInfo.version").Set(s.serverInfo.Version)
	expvar.NewString("serverStartTime").Set(startTime.Format(time.RFC3339))
	expvar.Publish("goroutines", expvar.Func(func() any { return runtime.NumGoroutine() }))
	expvar.Publish("memory.allocBytes", expvar.Func(func() any {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc
	}))
	expvar.Publish("server.pendingRequests", expvar.Func(func() any { return s.requestTracker.Count() }))

	// Session-state gauges are read through the event loop to respect
	// single-writer ownership; a short timeout keeps a stuck loop from
	// hanging the metrics page.
	loopGauge := func(read func() any) expvar.Func {
		return func() any {
			ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()
			result, err := s.onLoop(ctx, func() (any, error) { return read(), nil })
			if err != nil {
				return nil
			}
			return result
		}
	}
	expvar.Publish("ghost.openSessions", loopGauge(func() any { return len(s.sessions) }))
	expvar.Publish("ghost.metrics", loopGauge(func() any {
		totals := ControllerMetrics{}
		for _, sess := range s.sessions {
			m := sess.controller.Metrics()
			totals.Triggers += m.Triggers
			totals.Rejected += m.Rejected
			totals.Suppressed += m.Suppressed
			totals.CacheHits += m.CacheHits
			totals.Requests += m.Requests
			totals.Failures += m.Failures
			totals.StaleDiscards += m.StaleDiscards
			totals.ShownSuggestion += m.ShownSuggestion
			totals.Accepted += m.Accepted
			totals.Dismissed += m.Dismissed
		}
		return totals
	}))
	expvar.Publish("ghost.cacheEntries", loopGauge(func() any {
		total := 0
		for _, sess := range s.sessions {
			total += sess.engine.CacheSize()
		}
		return total
	}))
	s.logger.Info("Expvar metrics published")
}

// ============================================================================
// Request Cancellation Tracker
// ============================================================================

// RequestTracker manages cancellation contexts for ongoing requests.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[jsonrpc2.ID]context.CancelFunc
}

// NewRequestTracker creates a new tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		requests: make(map[jsonrpc2.ID]context.CancelFunc),
	}
}

// Add registers a request ID and its associated context's cancel function.
func (rt *RequestTracker) Add(id jsonrpc2.ID, ctx context.Context) {
	if id == (jsonrpc2.ID{}) {
		return
	} // Ignore notifications
	rt.mu.Lock()
	defer rt.mu.Unlock()
	reqCtx, cancel := context.WithCancel(ctx)
	rt.requests[id] = cancel
	_ = reqCtx // Avoid unused variable error
}

// Remove deregisters a request ID.
func (rt *RequestTracker) Remove(id jsonrpc2.ID) {
	if id == (jsonrpc2.ID{}) {
		return
	} // Ignore notifications
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.requests, id)
}

// Cancel finds the cancel function for a request ID and calls it.
func (rt *RequestTracker) Cancel(id jsonrpc2.ID) {
	if id == (jsonrpc2.ID{}) { // Ignore notifications
		slog.Debug("Cancel request ignored for unset ID")
		return
	}
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	if found {
		delete(rt.requests, id) // Remove immediately
	}
	rt.mu.Unlock()

	if found {
		slog.Debug("Calling cancel function for request", "id", id)
		cancel() // Call outside lock
	} else {
		slog.Debug("Cancel function not found for request ID", "id", id)
	}
}

// Count returns the number of currently tracked requests.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}
