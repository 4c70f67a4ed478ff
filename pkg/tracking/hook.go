package tracking

import "sort"

// Recorder collects hook notifications during one execution. It satisfies
// the interpreter's FileHook interface and exposes the observed paths as
// explicit result sets rather than captured mutable state.
//
// A Recorder is used by a single execution on a single goroutine; it needs
// no locking.
type Recorder struct {
	created  map[string]bool
	modified map[string]bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		created:  make(map[string]bool),
		modified: make(map[string]bool),
	}
}

// FileCreated records a path opened for creation.
func (r *Recorder) FileCreated(path string) {
	r.created[path] = true
}

// FileWritten records a write with a positive byte count.
func (r *Recorder) FileWritten(path string, n int) {
	if n > 0 {
		r.modified[path] = true
	}
}

// Sets returns the created and modified paths observed so far, each sorted
// and deduplicated.
func (r *Recorder) Sets() (created, modified []string) {
	return sortedKeys(r.created), sortedKeys(r.modified)
}

// Paths returns the union of created and modified paths, sorted.
func (r *Recorder) Paths() []string {
	union := make(map[string]bool, len(r.created)+len(r.modified))
	for p := range r.created {
		union[p] = true
	}
	for p := range r.modified {
		union[p] = true
	}
	return sortedKeys(union)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
