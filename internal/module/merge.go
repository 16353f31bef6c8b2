package module

import "strings"

// Merge combines an existing value with an incoming one under the given
// strategy. Append concatenates sequences and joins strings with a newline;
// merge shallow-unions plain objects with incoming winning on conflicts.
// Anything else degrades to replace.
func Merge(strategy MergeStrategy, existing, incoming any) any {
	switch strategy {
	case MergeAppend:
		if ea, ok := existing.([]any); ok {
			if ia, ok := incoming.([]any); ok {
				out := make([]any, 0, len(ea)+len(ia))
				out = append(out, ea...)
				return append(out, ia...)
			}
		}
		if es, ok := existing.(string); ok {
			if is, ok := incoming.(string); ok {
				if es == "" {
					return is
				}
				return es + "\n" + is
			}
		}
		return incoming
	case MergeMerge:
		if em, ok := existing.(map[string]any); ok {
			if im, ok := incoming.(map[string]any); ok {
				out := make(map[string]any, len(em)+len(im))
				for k, v := range em {
					out[k] = v
				}
				for k, v := range im {
					out[k] = v
				}
				return out
			}
		}
		return incoming
	default:
		return incoming
	}
}

// GetPath reads a dot-path from a document. An empty path addresses the
// document itself.
func GetPath(doc map[string]any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	var cur any = doc
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

// SetPath writes a value at a dot-path, creating intermediate objects as
// needed. An empty path is invalid here; whole-document writes are handled
// by the caller.
func SetPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
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
