package lsp

import (
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
)

// DocumentURI identifies a text document, typically a file:// URI.
type DocumentURI string

// Position is a zero-based line/character position. Character offsets are
// UTF-16 code units, per the protocol.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) range in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier identifies a specific document version.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentItem describes a document being opened.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentPositionParams is the common request payload of position-based
// feature queries.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// --- Lifecycle ---

// InitializeParams is sent with the initialize request.
type InitializeParams struct {
	ProcessID             *int               `json:"processId"`
	RootURI               DocumentURI        `json:"rootUri,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
}

// ClientCapabilities advertises what this client understands.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
}

// TextDocumentClientCapabilities covers the textDocument/* capability flags
// this client cares about.
type TextDocumentClientCapabilities struct {
	Synchronization SynchronizationCapabilities `json:"synchronization"`
	Hover           HoverCapabilities           `json:"hover"`
	Completion      CompletionCapabilities      `json:"completion"`
	SignatureHelp   SignatureHelpCapabilities   `json:"signatureHelp"`
	Rename          RenameCapabilities          `json:"rename"`
	PublishDiags    PublishDiagsCapabilities    `json:"publishDiagnostics"`
}

// SynchronizationCapabilities flags document-sync support.
type SynchronizationCapabilities struct {
	DidSave bool `json:"didSave"`
}

// HoverCapabilities flags hover support.
type HoverCapabilities struct {
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// CompletionCapabilities flags completion support.
type CompletionCapabilities struct {
	CompletionItem CompletionItemCapabilities `json:"completionItem"`
}

// CompletionItemCapabilities flags per-item completion features.
type CompletionItemCapabilities struct {
	SnippetSupport bool `json:"snippetSupport"`
}

// SignatureHelpCapabilities flags signature-help support.
type SignatureHelpCapabilities struct{}

// RenameCapabilities flags rename support.
type RenameCapabilities struct{}

// PublishDiagsCapabilities flags diagnostics support.
type PublishDiagsCapabilities struct {
	RelatedInformation bool `json:"relatedInformation"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// ServerInfo names the server implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializedParams is the (empty) payload of the initialized notification.
type InitializedParams struct{}

// --- Document synchronization ---

// DidOpenTextDocumentParams is the payload of textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams is the payload of textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent is one change. A nil Range means full
// document replacement; otherwise Text replaces the given range.
type TextDocumentContentChangeEvent struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// DidCloseTextDocumentParams is the payload of textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidSaveTextDocumentParams is the payload of textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         string                 `json:"text,omitempty"`
}

// --- Diagnostics ---

// DiagnosticSeverity classifies a diagnostic.
type DiagnosticSeverity int

// Diagnostic severities, most severe first.
const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

// String returns a human-readable severity name.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Diagnostic is a single compiler/analysis finding.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     any                `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

// PublishDiagnosticsParams is the payload of textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// --- Feature queries ---

// Hover is the result of textDocument/hover.
type Hover struct {
	Contents json.RawMessage `json:"contents"`
	Range    *Range          `json:"range,omitempty"`
}

// CompletionParams is the payload of textDocument/completion.
type CompletionParams struct {
	TextDocumentPositionParams
	Context *CompletionContext `json:"context,omitempty"`
}

// CompletionContext describes how completion was triggered.
type CompletionContext struct {
	TriggerKind      int    `json:"triggerKind"`
	TriggerCharacter string `json:"triggerCharacter,omitempty"`
}

// CompletionTriggerKindInvoked means completion was explicitly requested.
const CompletionTriggerKindInvoked = 1

// CompletionList is the result of textDocument/completion.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// CompletionItem is a single completion suggestion.
type CompletionItem struct {
	Label         string          `json:"label"`
	Kind          int             `json:"kind,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	Documentation json.RawMessage `json:"documentation,omitempty"`
	SortText      string          `json:"sortText,omitempty"`
	FilterText    string          `json:"filterText,omitempty"`
	InsertText    string          `json:"insertText,omitempty"`
	TextEdit      *TextEdit       `json:"textEdit,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// SignatureHelp is the result of textDocument/signatureHelp.
type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature,omitempty"`
	ActiveParameter int                    `json:"activeParameter,omitempty"`
}

// SignatureInformation describes one callable signature.
type SignatureInformation struct {
	Label         string                 `json:"label"`
	Documentation json.RawMessage        `json:"documentation,omitempty"`
	Parameters    []ParameterInformation `json:"parameters,omitempty"`
}

// ParameterInformation describes one parameter of a signature.
type ParameterInformation struct {
	Label         json.RawMessage `json:"label"`
	Documentation json.RawMessage `json:"documentation,omitempty"`
}

// RenameParams is the payload of textDocument/rename.
type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

// WorkspaceEdit is the result of textDocument/rename.
type WorkspaceEdit struct {
	Changes map[DocumentURI][]TextEdit `json:"changes,omitempty"`
}

// TextEdit replaces a range with new text.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// ParseCompletionResult parses a completion response, which servers may send
// either as a CompletionList or as a bare item array.
func ParseCompletionResult(data json.RawMessage) (*CompletionList, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var list CompletionList
	if err := json.Unmarshal(data, &list); err == nil && (list.Items != nil || list.IsIncomplete) {
		return &list, nil
	}

	var items []CompletionItem
	if err := json.Unmarshal(data, &items); err == nil {
		return &CompletionList{Items: items}, nil
	}

	return nil, ErrInvalidResponse
}

// --- Path and URI helpers ---

// NormalizePath converts a document path into the registry key form:
// backslashes become forward slashes and a leading drive letter is
// lower-cased, so the same file always resolves to one entry no matter how
// the caller spelled it.
func NormalizePath(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return p
}

// FilePathToURI converts a file path to a file:// DocumentURI.
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}

	p := NormalizePath(path)
	if !strings.HasPrefix(p, "/") {
		if len(p) >= 2 && p[1] == ':' {
			// Drive-letter path needs a leading slash in the URI.
			p = "/" + p
		} else if abs, err := filepath.Abs(p); err == nil {
			p = filepath.ToSlash(abs)
		}
	}

	u := &url.URL{Scheme: "file", Path: p}
	return DocumentURI(u.String())
}

// URIToFilePath converts a file:// DocumentURI back to a path.
func URIToFilePath(uri DocumentURI) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}

	path := u.Path
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return path
}

// sketchLanguageID is the language identifier reported for every document.
// The bridged toolchain treats sketches, C and C++ sources uniformly, so
// unrecognized extensions fall back to the same identifier.
const sketchLanguageID = "cpp"

// DetectLanguageID returns the protocol language identifier for a path.
// Sketch, C and C++ sources and headers all map to the one identifier the
// clangd-based server expects; unrecognized extensions get the same default
// so a stray file never produces an identifier the server would reject.
func DetectLanguageID(string) string {
	return sketchLanguageID
}
