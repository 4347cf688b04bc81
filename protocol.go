// ghostline/protocol.go
// Wire structures for the editor-facing JSON-RPC protocol.
package ghostline

import "encoding/json"

// ============================================================================
// Protocol Structures
// ============================================================================

// DocumentURI identifies a text document session.
type DocumentURI string

// TextDocumentIdentifier identifies a specific text document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// TextDocumentItem carries a full document payload.
type TextDocumentItem struct {
	URI     DocumentURI `json:"uri"`
	Version int         `json:"version"` // Must be non-negative
	Text    string      `json:"text"`
}

// InitializeParams parameters for the initialize request.
type InitializeParams struct {
	ProcessID             int             `json:"processId,omitempty"`
	ClientInfo            *ClientInfo     `json:"clientInfo,omitempty"`
	InitializationOptions json.RawMessage `json:"initializationOptions,omitempty"`
}

// ClientInfo information about the client.
type ClientInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// InitializeResult result of the initialize request.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerCapabilities capabilities provided by the server.
type ServerCapabilities struct {
	TextDocumentSync   int  `json:"textDocumentSync"` // 1 = full document sync
	GhostTextProvider  bool `json:"ghostTextProvider"`
	StatsProvider      bool `json:"statsProvider"`
	TranscriptProvider bool `json:"transcriptProvider"`
}

// ServerInfo information about the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// DidOpenTextDocumentParams parameters for textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// TextDocumentContentChange is one full-sync content replacement.
type TextDocumentContentChange struct {
	Text string `json:"text"`
}

// DidChangeTextDocumentParams parameters for textDocument/didChange. The
// change carries the full document text without any overlay; the cursor is
// the client's caret after the edit.
type DidChangeTextDocumentParams struct {
	TextDocument   TextDocumentIdentifier      `json:"textDocument"`
	Version        int                         `json:"version"`
	ContentChanges []TextDocumentContentChange `json:"contentChanges"`
	Cursor         Position                    `json:"cursor"`
}

// DidCloseTextDocumentParams parameters for textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// CursorMoveParams parameters for ghostText/cursorMove: pure navigation
// (arrow keys, mouse click) without a content change.
type CursorMoveParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Cursor       Position               `json:"cursor"`
}

// TriggerParams parameters for ghostText/trigger (manual trigger).
type TriggerParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// AcceptParams parameters for ghostText/accept.
type AcceptParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// AcceptResult result of ghostText/accept.
type AcceptResult struct {
	Accepted bool     `json:"accepted"`
	Text     string   `json:"text,omitempty"`   // The committed suffix.
	Cursor   Position `json:"cursor,omitempty"` // Caret after the committed text.
}

// DismissParams parameters for ghostText/dismiss.
type DismissParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// SetEnabledParams parameters for ghostText/setEnabled.
type SetEnabledParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Enabled      bool                   `json:"enabled"`
}

// StatsParams parameters for ghostText/stats.
type StatsParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// TranscriptParams parameters for ghostText/transcript.
type TranscriptParams struct {
	Limit int `json:"limit,omitempty"`
}

// SuggestionParams payload of the ghostText/suggestion notification sent when
// an overlay is installed or cleared. A nil Suggestion means cleared.
type SuggestionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Suggestion   *SuggestionPayload     `json:"suggestion"`
}

// SuggestionPayload is the displayed overlay.
type SuggestionPayload struct {
	Anchor Position `json:"anchor"`
	Text   string   `json:"text"`
}

// StatusParams payload of the ghostText/status notification.
type StatusParams struct {
	Message string `json:"message"`
}

// DidChangeConfigurationParams parameters for workspace/didChangeConfiguration.
type DidChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

// CancelParams parameters for the $/cancelRequest notification.
type CancelParams struct {
	ID any `json:"id"` // Can be string or number per JSON-RPC
}

// MessageType for window/showMessage notifications.
type MessageType int

const (
	MessageTypeError   MessageType = 1
	MessageTypeWarning MessageType = 2
	MessageTypeInfo    MessageType = 3
	MessageTypeLog     MessageType = 4
)

// ShowMessageParams parameters for window/showMessage.
type ShowMessageParams struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ============================================================================
// JSON-RPC Error Codes
// ============================================================================

type JsonRpcErrorCode int

const (
	JsonRpcParseError       JsonRpcErrorCode = -32700
	JsonRpcInvalidRequest   JsonRpcErrorCode = -32600
	JsonRpcMethodNotFound   JsonRpcErrorCode = -32601
	JsonRpcInvalidParams    JsonRpcErrorCode = -32602
	JsonRpcInternalError    JsonRpcErrorCode = -32603
	JsonRpcRequestCancelled JsonRpcErrorCode = -32800
)
