// Package files tracks the client-side document state: the latest file
// list snapshot, the query scope selection, and the memoized chunk cache
// behind the inspection view.
package files

import (
	"sort"
	"sync"

	"github.com/keldan/docq/internal/backend"
)

// Manager holds the current file list and the selection that scopes
// queries. An empty selection means "all documents" and is reported as a
// nil scope, never as zero files.
type Manager struct {
	mu       sync.Mutex
	files    []backend.FileMeta
	selected map[int64]struct{}
}

// NewManager returns a manager with no files and an empty selection.
func NewManager() *Manager {
	return &Manager{selected: make(map[int64]struct{})}
}

// SetFiles replaces the file list with a fresh snapshot and reconciles the
// selection against it: ids no longer present are dropped, so the scope
// never references a deleted document.
func (m *Manager) SetFiles(files []backend.FileMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files = make([]backend.FileMeta, len(files))
	copy(m.files, files)

	valid := make(map[int64]struct{}, len(files))
	for _, f := range files {
		valid[f.ID] = struct{}{}
	}
	for id := range m.selected {
		if _, ok := valid[id]; !ok {
			delete(m.selected, id)
		}
	}
}

// Files returns a copy of the current snapshot.
func (m *Manager) Files() []backend.FileMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]backend.FileMeta, len(m.files))
	copy(out, m.files)
	return out
}

// Lookup finds a file by id in the current snapshot.
func (m *Manager) Lookup(id int64) (backend.FileMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.ID == id {
			return f, true
		}
	}
	return backend.FileMeta{}, false
}

// Toggle adds id to the selection if absent, removes it if present.
func (m *Manager) Toggle(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
	} else {
		m.selected[id] = struct{}{}
	}
}

// SelectAll selects every file in the current snapshot.
func (m *Manager) SelectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[int64]struct{}, len(m.files))
	for _, f := range m.files {
		m.selected[f.ID] = struct{}{}
	}
}

// ClearSelection empties the selection, returning the scope to "all
// documents".
func (m *Manager) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = make(map[int64]struct{})
}

// IsSelected reports whether id is part of the selection.
func (m *Manager) IsSelected(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.selected[id]
	return ok
}

// Selected returns the selected ids in ascending order.
func (m *Manager) Selected() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.selected))
	for id := range m.selected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Scope returns the file ids to send with a query: nil when the selection
// is empty, which the backend reads as "search everything".
func (m *Manager) Scope() []int64 {
	ids := m.Selected()
	if len(ids) == 0 {
		return nil
	}
	return ids
}
