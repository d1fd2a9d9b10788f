// Package config provides the recursive-merge configuration tree used to
// build a per-session effective config from server defaults plus an
// optional device-specific override profile.
package config

import (
	"strings"
	"sync"
)

// Tree is a mutation-safe, dotted-path-addressable configuration tree.
// It wraps a plain map[string]any so that the common source format
// (JSON defaults plus a JSON remote-profile override) is easy to load,
// while still giving callers typed accessors for hot paths.
type Tree struct {
	mu   sync.RWMutex
	data map[string]any
}

// New wraps data as a Tree. data is not copied; use Clone for an
// independent copy before handing the tree to a session.
func New(data map[string]any) *Tree {
	if data == nil {
		data = map[string]any{}
	}
	return &Tree{data: data}
}

// Clone returns a deep copy, so that mutations on one session's tree
// never affect another (§3 invariant 6: effective config is
// copy-on-create).
func (t *Tree) Clone() *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Tree{data: deepCopyMap(t.data)}
}

// MergeOverride recursively merges override into a clone of t and
// returns the result: mappings merge key by key, any other value
// (scalar, slice, nil) overwrites the corresponding default wholesale.
func (t *Tree) MergeOverride(override map[string]any) *Tree {
	t.mu.RLock()
	base := deepCopyMap(t.data)
	t.mu.RUnlock()
	return &Tree{data: mergeMaps(base, override)}
}

// mergeMaps implements the merge policy from §3/§9: "The merge policy
// is recursive: mappings merge by key, all other values overwrite."
func mergeMaps(base, override map[string]any) map[string]any {
	out := base
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range override {
		existing, ok := out[k]
		if ok {
			if baseChild, isMap := existing.(map[string]any); isMap {
				if overrideChild, isMap2 := v.(map[string]any); isMap2 {
					out[k] = mergeMaps(deepCopyMap(baseChild), overrideChild)
					continue
				}
			}
		}
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return deepCopyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return x
	}
}

// GetPath resolves a dotted path such as "xiaozhi.name" against the
// tree, tolerating unknown keys (returns ok=false rather than
// panicking). This is the escape hatch the remote-reload surface needs
// even though most call sites use the typed accessors below.
func (t *Tree) GetPath(path string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := any(t.data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes a value at a dotted path, creating intermediate maps
// as needed. Used by the privileged "server" reload message.
func (t *Tree) SetPath(path string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := strings.Split(path, ".")
	cur := t.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// String returns a string at path, or fallback.
func (t *Tree) String(path, fallback string) string {
	v, ok := t.GetPath(path)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

// Int returns an int at path, or fallback. JSON-decoded numbers arrive
// as float64, so both forms are accepted.
func (t *Tree) Int(path string, fallback int) int {
	v, ok := t.GetPath(path)
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}

// Bool returns a bool at path, or fallback.
func (t *Tree) Bool(path string, fallback bool) bool {
	v, ok := t.GetPath(path)
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// StringSlice returns a []string at path, or nil.
func (t *Tree) StringSlice(path string) []string {
	v, ok := t.GetPath(path)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Raw returns the underlying map for call sites (e.g. a remote profile
// fetch) that need to hand the whole tree to json.Marshal.
func (t *Tree) Raw() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return deepCopyMap(t.data)
}
