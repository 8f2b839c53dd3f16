package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// splitPath validates a slash separated path and returns its segments.
// The empty path (or "/") addresses the root.
func splitPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, nil
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, ".#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return segs, nil
}

// normalize converts an arbitrary value into a JSON tree with nulls and
// empty objects removed. A nil result means "nothing stored".
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("store: encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: decode value: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if c := prune(child); c == nil {
				delete(t, k)
			} else {
				t[k] = c
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		for i, child := range t {
			t[i] = prune(child)
		}
		return t
	default:
		return v
	}
}

// hasServerValues reports whether a normalized tree holds placeholders
func hasServerValues(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		if isServerTimestamp(t) {
			return true
		}
		for _, child := range t {
			if hasServerValues(child) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if hasServerValues(child) {
				return true
			}
		}
	}
	return false
}

func isServerTimestamp(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	sv, ok := m[serverValueKey].(string)
	return ok && sv == string(ServerTimestamp)
}

// resolveServerValues replaces timestamp placeholders in a normalized tree
func resolveServerValues(v any, nowMillis int64) any {
	switch t := v.(type) {
	case map[string]any:
		if isServerTimestamp(t) {
			return float64(nowMillis)
		}
		for k, child := range t {
			t[k] = resolveServerValues(child, nowMillis)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = resolveServerValues(child, nowMillis)
		}
		return t
	default:
		return v
	}
}

// prepare normalizes a value and resolves its placeholders against now.
// now is only called when placeholders are present.
func prepare(value any, now func() (int64, error)) (any, error) {
	v, err := normalize(value)
	if err != nil {
		return nil, err
	}
	if !hasServerValues(v) {
		return v, nil
	}
	ms, err := now()
	if err != nil {
		return nil, fmt.Errorf("store: read server clock: %w", err)
	}
	return resolveServerValues(v, ms), nil
}

func getIn(root any, segs []string) any {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

// setIn returns a new tree with value placed at segs. Only the maps along
// the path are copied, so trees previously handed out stay unchanged.
// Parents left empty by a delete are removed.
func setIn(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	old, _ := root.(map[string]any)
	next := make(map[string]any, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	child := setIn(old[segs[0]], segs[1:], value)
	if child == nil {
		delete(next, segs[0])
	} else {
		next[segs[0]] = child
	}
	if len(next) == 0 {
		return nil
	}
	return next
}

// pathWrite is one absolute assignment of a multi-path update
type pathWrite struct {
	segs  []string
	value any
}

// expandUpdate turns a base path plus relative assignments into absolute
// writes, sorted so shallower paths apply before deeper ones.
func expandUpdate(base string, values map[string]any) ([]pathWrite, error) {
	baseSegs, err := splitPath(base)
	if err != nil {
		return nil, err
	}
	writes := make([]pathWrite, 0, len(values))
	for rel, v := range values {
		relSegs, err := splitPath(rel)
		if err != nil {
			return nil, err
		}
		if len(relSegs) == 0 {
			return nil, fmt.Errorf("%w: empty update key", ErrInvalidPath)
		}
		segs := make([]string, 0, len(baseSegs)+len(relSegs))
		segs = append(append(segs, baseSegs...), relSegs...)
		writes = append(writes, pathWrite{segs: segs, value: v})
	}
	sort.Slice(writes, func(i, j int) bool {
		if len(writes[i].segs) != len(writes[j].segs) {
			return len(writes[i].segs) < len(writes[j].segs)
		}
		return strings.Join(writes[i].segs, "/") < strings.Join(writes[j].segs, "/")
	})
	return writes, nil
}

// overlaps reports whether one path is a prefix of the other
func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
