package lsp

import "sync"

// DiagnosticsObserver receives the full replacement diagnostics set for a
// document whenever the server publishes one. An empty slice means the
// document is now clean.
type DiagnosticsObserver func(uri DocumentURI, diagnostics []Diagnostic)

// diagnosticsStore holds the latest published diagnostics per document URI.
// Each publish fully replaces the prior set for that URI; sets are never
// merged.
type diagnosticsStore struct {
	mu    sync.RWMutex
	byURI map[DocumentURI][]Diagnostic
}

func newDiagnosticsStore() *diagnosticsStore {
	return &diagnosticsStore{byURI: make(map[DocumentURI][]Diagnostic)}
}

// publish records a replacement set. An empty set removes the entry.
func (s *diagnosticsStore) publish(uri DocumentURI, diags []Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(diags) == 0 {
		delete(s.byURI, uri)
		return
	}
	s.byURI[uri] = diags
}

// get returns the current diagnostics for a URI, nil when clean.
func (s *diagnosticsStore) get(uri DocumentURI) []Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byURI[uri]
}

// all returns a copy of the full map.
func (s *diagnosticsStore) all() map[DocumentURI][]Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[DocumentURI][]Diagnostic, len(s.byURI))
	for uri, diags := range s.byURI {
		out[uri] = diags
	}
	return out
}

// clear drops everything. Called on disconnect.
func (s *diagnosticsStore) clear() {
	s.mu.Lock()
	s.byURI = make(map[DocumentURI][]Diagnostic)
	s.mu.Unlock()
}
