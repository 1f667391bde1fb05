package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/stackvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "stackvm-lsp"

// LspServer provides editor features for bytecode documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "stackvm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{":"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	line, ok := labelLines(text)[word]
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{
		URI:   uri,
		Range: lineRange(text, line),
	}}, nil
}

// --- Document analysis ---

func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	upperPrefix := strings.ToUpper(prefix)

	// Labels defined in the document
	if strings.HasPrefix(prefix, ":") {
		labels := labelLines(text)
		names := make([]string, 0, len(labels))
		for name := range labels {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			kind := protocol.CompletionItemKindReference
			detail := fmt.Sprintf("label (line %d)", labels[name]+1)
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &nameCopy,
			})
		}
		return items
	}

	// LABEL keyword
	if strings.HasPrefix(vm.LabelMnemonic, upperPrefix) {
		kind := protocol.CompletionItemKindKeyword
		detail := "label definition"
		name := vm.LabelMnemonic
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}

	// Mnemonics
	for _, op := range vm.AllOpcodes() {
		info := op.Info()
		if !strings.HasPrefix(info.Name, upperPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindFunction
		detail := signature(info)
		doc := info.Doc
		name := info.Name
		items = append(items, protocol.CompletionItem{
			Label:         name,
			Kind:          &kind,
			Detail:        &detail,
			Documentation: doc,
			InsertText:    &name,
		})
	}

	return items
}

func hover(text, word string) *protocol.Hover {
	var b strings.Builder

	if op, ok := vm.LookupMnemonic(word); ok {
		info := op.Info()
		fmt.Fprintf(&b, "**%s** `%s`\n\n", info.Name, signature(info))
		fmt.Fprintf(&b, "Pops %d, pushes %d.\n\n", info.StackPop, info.StackPush)
		b.WriteString(info.Doc)
	} else if word == vm.LabelMnemonic {
		b.WriteString("**LABEL** `LABEL :name`\n\nMarks the position of the next instruction.")
	} else if line, ok := labelLines(text)[word]; ok {
		fmt.Fprintf(&b, "**%s**\n\nLabel defined on line %d.", word, line+1)
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func signature(info vm.OpcodeInfo) string {
	if info.Arity == 0 {
		return info.Name
	}
	return info.Name + " <arg>"
}

// labelLines maps each label defined in text to its 0-based line. A label
// defined twice maps to its later line, as the assembler resolves it.
func labelLines(text string) map[string]int {
	labels := make(map[string]int)
	for i, line := range strings.Split(text, "\n") {
		items := strings.Split(strings.TrimSpace(line), " ")
		if len(items) == 2 && items[0] == vm.LabelMnemonic {
			labels[items[1]] = i
		}
	}
	return labels
}

// --- Diagnostics ---

// analyze returns the diagnostics for a document: the assembly error, if
// any, and a warning for each jump to an undefined label.
func analyze(text string) []protocol.Diagnostic {
	source := lspName
	diagnostics := []protocol.Diagnostic{}

	b := vm.NewBuilder()
	if err := vm.Parse(text, b); err != nil {
		severity := protocol.DiagnosticSeverityError
		line := 0
		var ae *vm.AssemblyError
		if errors.As(err, &ae) && ae.Line > 0 {
			line = ae.Line - 1
		}
		return append(diagnostics, protocol.Diagnostic{
			Range:    lineRange(text, line),
			Severity: &severity,
			Source:   &source,
			Message:  err.Error(),
		})
	}

	b.Build()
	for _, u := range b.Unresolved() {
		severity := protocol.DiagnosticSeverityWarning
		line := 0
		if u.Line > 0 {
			line = u.Line - 1
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    lineRange(text, line),
			Severity: &severity,
			Source:   &source,
			Message:  fmt.Sprintf("Unresolved label: %s", u.Label),
		})
	}
	return diagnostics
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: analyze(text),
	})
}

// lineRange spans the whole of a 0-based line.
func lineRange(text string, line int) protocol.Range {
	lines := strings.Split(text, "\n")
	end := 0
	if line >= 0 && line < len(lines) {
		end = len(strings.TrimRight(lines[line], "\r"))
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
	}
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == ':'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the word
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full word under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
