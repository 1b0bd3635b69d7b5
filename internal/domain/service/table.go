package service

import "sync/atomic"

// Table is the live, mutable set of ServiceDefinitions the Proxy Engine
// routes against. Reads are lock-free; writes swap in an entirely new
// snapshot so readers never observe a torn ServiceDefinition (the
// copy-on-write discipline the concurrency model requires).
type Table struct {
	snapshot atomic.Pointer[tableSnapshot]
}

type tableSnapshot struct {
	byName []ServiceDefinition
	byHost map[string]string // lowercase hostname -> service name
}

// NewTable returns an empty live table.
func NewTable() *Table {
	t := &Table{}
	t.snapshot.Store(buildSnapshot(nil))
	return t
}

func buildSnapshot(defs []ServiceDefinition) *tableSnapshot {
	s := &tableSnapshot{
		byName: defs,
		byHost: make(map[string]string, len(defs)),
	}
	for _, d := range defs {
		for _, h := range d.InterceptHostnames {
			if _, taken := s.byHost[lowerHost(h)]; !taken {
				s.byHost[lowerHost(h)] = d.Name
			}
		}
	}
	return s
}

func lowerHost(h string) string {
	b := []byte(h)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Set replaces the entire live table atomically.
func (t *Table) Set(defs []ServiceDefinition) {
	t.snapshot.Store(buildSnapshot(defs))
}

// Upsert installs or replaces a single ServiceDefinition, leaving all
// others untouched. Used by the admin override path.
func (t *Table) Upsert(def ServiceDefinition) {
	cur := t.snapshot.Load()
	next := make([]ServiceDefinition, 0, len(cur.byName)+1)
	replaced := false
	for _, d := range cur.byName {
		if d.Name == def.Name {
			next = append(next, def)
			replaced = true
			continue
		}
		next = append(next, d)
	}
	if !replaced {
		next = append(next, def)
	}
	t.snapshot.Store(buildSnapshot(next))
}

// Delete removes a ServiceDefinition by name.
func (t *Table) Delete(name string) {
	cur := t.snapshot.Load()
	next := make([]ServiceDefinition, 0, len(cur.byName))
	for _, d := range cur.byName {
		if d.Name != name {
			next = append(next, d)
		}
	}
	t.snapshot.Store(buildSnapshot(next))
}

// Get returns the ServiceDefinition for name and whether it exists.
func (t *Table) Get(name string) (ServiceDefinition, bool) {
	cur := t.snapshot.Load()
	for _, d := range cur.byName {
		if d.Name == name {
			return d, true
		}
	}
	return ServiceDefinition{}, false
}

// ByHost resolves a Host header (already port-stripped) to a
// ServiceDefinition via the intercept-hostname list. First match wins.
func (t *Table) ByHost(host string) (ServiceDefinition, bool) {
	cur := t.snapshot.Load()
	name, ok := cur.byHost[lowerHost(host)]
	if !ok {
		return ServiceDefinition{}, false
	}
	return t.Get(name)
}

// Names returns the configured service names, for the status endpoint.
func (t *Table) Names() []string {
	cur := t.snapshot.Load()
	names := make([]string, 0, len(cur.byName))
	for _, d := range cur.byName {
		names = append(names, d.Name)
	}
	return names
}

// All returns a snapshot slice of every ServiceDefinition currently live.
func (t *Table) All() []ServiceDefinition {
	cur := t.snapshot.Load()
	out := make([]ServiceDefinition, len(cur.byName))
	copy(out, cur.byName)
	return out
}
