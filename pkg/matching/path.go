package matching

import (
	"strconv"
	"strings"
)

type segment struct {
	name    string
	indexes []int
}

// Lookup walks a decoded value by a dotted path with optional [index]
// suffixes, e.g. "order.items[0].sku". The second return reports whether
// the path resolved; a resolved nil is distinct from an absent field.
func Lookup(root any, path string) (any, bool) {
	cur := root
	for _, seg := range parsePath(path) {
		if seg.name != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[seg.name]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range seg.indexes {
			list, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, false
			}
			cur = list[idx]
		}
	}
	return cur, true
}

func parsePath(path string) []segment {
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		segs = append(segs, parseSegment(part))
	}
	return segs
}

// parseSegment splits "items[0][2]" into name "items" and indexes [0, 2].
// A malformed bracket suffix leaves the whole part as a literal name.
func parseSegment(part string) segment {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		return segment{name: part}
	}

	seg := segment{name: part[:open]}
	rest := part[open:]
	for rest != "" {
		if rest[0] != '[' {
			return segment{name: part}
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			return segment{name: part}
		}
		idx, err := strconv.Atoi(rest[1:close])
		if err != nil {
			return segment{name: part}
		}
		seg.indexes = append(seg.indexes, idx)
		rest = rest[close+1:]
	}
	return seg
}
