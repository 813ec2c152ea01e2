package lsp

import "sync"

// Document is one open file tracked by the registry. The version counter
// starts at 0 on open and increments once per effective content update.
type Document struct {
	Path       string
	URI        DocumentURI
	LanguageID string
	Version    int
	Content    string
}

// documentRegistry is the client's table of open documents, keyed by
// normalized path so differing spellings of the same file share one entry.
// It is mutated only by the owning client's methods.
type documentRegistry struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func newDocumentRegistry() *documentRegistry {
	return &documentRegistry{docs: make(map[string]*Document)}
}

// open creates a version-0 entry. It reports whether the entry was created;
// an already-open path is left untouched.
func (r *documentRegistry) open(path, content string) (*Document, bool) {
	key := NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if doc, exists := r.docs[key]; exists {
		return doc, false
	}

	doc := &Document{
		Path:       path,
		URI:        FilePathToURI(path),
		LanguageID: DetectLanguageID(path),
		Version:    0,
		Content:    content,
	}
	r.docs[key] = doc
	return doc, true
}

// update replaces the document content and bumps the version, returning the
// document state after mutation. The registry entry is mutated before any
// notification is sent, which is what keeps didOpen/didChange/didClose in
// causal order per document.
func (r *documentRegistry) update(path, content string) (*Document, bool) {
	key := NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, exists := r.docs[key]
	if !exists {
		return nil, false
	}
	doc.Version++
	doc.Content = content
	return doc, true
}

// get returns a snapshot copy, so callers never see later mutations.
func (r *documentRegistry) get(path string) (Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, exists := r.docs[NormalizePath(path)]
	if !exists {
		return Document{}, false
	}
	return *doc, true
}

// remove deletes the entry, returning its final state.
func (r *documentRegistry) remove(path string) (Document, bool) {
	key := NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, exists := r.docs[key]
	if !exists {
		return Document{}, false
	}
	delete(r.docs, key)
	return *doc, true
}

// isOpen reports whether the path has an entry.
func (r *documentRegistry) isOpen(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.docs[NormalizePath(path)]
	return exists
}

// all returns snapshots of every open document.
func (r *documentRegistry) all() []Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := make([]Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, *doc)
	}
	return docs
}

// clear empties the registry. Used on disconnect after the close
// notifications have gone out.
func (r *documentRegistry) clear() {
	r.mu.Lock()
	r.docs = make(map[string]*Document)
	r.mu.Unlock()
}

// len returns the number of open documents.
func (r *documentRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
