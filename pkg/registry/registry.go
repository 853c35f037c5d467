// Package registry tracks open template documents and their processed
// snapshots. Edits only invalidate; the expensive parse-emit-check pipeline
// runs lazily on the next query, so a burst of keystrokes costs one
// rebuild.
package registry

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"

	"github.com/tmplhint/tmplhint/pkg/bridge"
	"github.com/tmplhint/tmplhint/pkg/config"
	"github.com/tmplhint/tmplhint/pkg/hostcheck"
)

// Registry holds the open documents of one editing session.
type Registry struct {
	fs   afero.Fs
	mu   sync.RWMutex
	docs map[string]*document
}

type document struct {
	mu      sync.Mutex
	path    string
	source  string
	version int
	dirty   bool
	snap    *bridge.Snapshot
	err     error
}

func New(fsys afero.Fs) *Registry {
	return &Registry{fs: fsys, docs: map[string]*document{}}
}

// Open registers a document with its initial content.
func (r *Registry) Open(path, source string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[path] = &document{path: path, source: source, version: version, dirty: true}
}

// Update replaces a document's content. It reports whether the document is
// known; updates to unopened documents are ignored.
func (r *Registry) Update(path, source string, version int) bool {
	r.mu.RLock()
	doc, ok := r.docs[path]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	doc.mu.Lock()
	doc.source = source
	doc.version = version
	doc.dirty = true
	doc.mu.Unlock()
	return true
}

// Source returns a document's current text without triggering a rebuild.
func (r *Registry) Source(path string) (string, bool) {
	r.mu.RLock()
	doc, ok := r.docs[path]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.source, true
}

// Close drops a document and its snapshot.
func (r *Registry) Close(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, path)
}

// Paths lists the open documents in stable order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.docs))
	for p := range r.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns the current processed view of a document, rebuilding it
// if edits arrived since the last query. The returned version is the edit
// version the snapshot reflects.
func (r *Registry) Snapshot(ctx context.Context, path string) (*bridge.Snapshot, int, error) {
	r.mu.RLock()
	doc, ok := r.docs[path]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, errors.Errorf("document not open: %q", path)
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	if doc.dirty {
		doc.snap, doc.err = r.build(ctx, doc.path, doc.source)
		doc.dirty = false
		zerolog.Ctx(ctx).Debug().
			Str("doc", path).
			Int("version", doc.version).
			Err(doc.err).
			Msg("document rebuilt")
	}
	if doc.err != nil {
		return nil, doc.version, doc.err
	}
	return doc.snap, doc.version, nil
}

func (r *Registry) build(ctx context.Context, path, source string) (*bridge.Snapshot, error) {
	cfg, _, err := config.Find(r.fs, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	host, err := hostcheck.BindHost(r.fs, path, cfg.Interop())
	if err != nil {
		return nil, err
	}
	return bridge.Build(ctx, path, source, host, cfg.AmbientThis)
}
