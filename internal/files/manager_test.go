package files

import (
	"testing"

	"github.com/keldan/docq/internal/backend"
)

func metas(ids ...int64) []backend.FileMeta {
	out := make([]backend.FileMeta, len(ids))
	for i, id := range ids {
		out[i] = backend.FileMeta{ID: id}
	}
	return out
}

func TestToggle(t *testing.T) {
	m := NewManager()
	m.SetFiles(metas(1, 2))

	m.Toggle(1)
	if !m.IsSelected(1) {
		t.Error("1 not selected after toggle")
	}
	m.Toggle(1)
	if m.IsSelected(1) {
		t.Error("1 still selected after second toggle")
	}
}

func TestRefreshReconcilesSelection(t *testing.T) {
	m := NewManager()
	m.SetFiles(metas(3, 7))
	m.Toggle(3)
	m.Toggle(7)

	// Refresh drops 7 and introduces 1 and 9.
	m.SetFiles(metas(1, 3, 9))

	got := m.Selected()
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("Selected() = %v, want [3]", got)
	}
}

func TestSelectAllAndClear(t *testing.T) {
	m := NewManager()
	m.SetFiles(metas(5, 2, 8))

	m.SelectAll()
	if got := m.Selected(); len(got) != 3 || got[0] != 2 || got[2] != 8 {
		t.Errorf("Selected() = %v, want [2 5 8]", got)
	}

	m.ClearSelection()
	if got := m.Selected(); len(got) != 0 {
		t.Errorf("Selected() after clear = %v, want empty", got)
	}
}

func TestScopeNilWhenEmpty(t *testing.T) {
	m := NewManager()
	m.SetFiles(metas(1, 2))

	if got := m.Scope(); got != nil {
		t.Errorf("Scope() = %v, want nil for empty selection", got)
	}

	m.Toggle(2)
	if got := m.Scope(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Scope() = %v, want [2]", got)
	}
}

func TestLookup(t *testing.T) {
	m := NewManager()
	m.SetFiles([]backend.FileMeta{{ID: 4, Filename: "report.pdf"}})

	f, ok := m.Lookup(4)
	if !ok || f.Filename != "report.pdf" {
		t.Errorf("Lookup(4) = %+v, %v", f, ok)
	}
	if _, ok := m.Lookup(99); ok {
		t.Error("Lookup(99) found a file, want miss")
	}
}
