package matching

import (
	"encoding/json"
	"strings"

	"github.com/wishmock/wishmock/pkg/rules"
)

// Explanation records why a candidate won, for logs and debugging.
type Explanation struct {
	Source      string `json:"source"`
	Priority    int    `json:"priority"`
	Specificity int    `json:"specificity"`
	Order       int    `json:"order"`
	Considered  int    `json:"considered"`
	Eligible    int    `json:"eligible"`
}

// Select picks the best eligible candidate for a call. Metadata keys are
// matched case-insensitively with any-of semantics over multi-valued
// entries. Returns false when no candidate is eligible.
func Select(candidates []rules.ResponseOption, metadata map[string][]string, request map[string]any) (*rules.ResponseOption, *Explanation, bool) {
	md := lowerMetadata(metadata)

	var best *rules.ResponseOption
	eligible := 0
	for i := range candidates {
		c := &candidates[i]
		if !isEligible(c.When, md, request) {
			continue
		}
		eligible++
		if best == nil || ranksAbove(c, best) {
			best = c
		}
	}

	if best == nil {
		return nil, &Explanation{Considered: len(candidates)}, false
	}
	return best, &Explanation{
		Source:      best.Source,
		Priority:    best.Priority,
		Specificity: best.When.Leaves(),
		Order:       best.Order,
		Considered:  len(candidates),
		Eligible:    eligible,
	}, true
}

// ranksAbove implements priority desc, specificity desc, load order asc.
func ranksAbove(a, b *rules.ResponseOption) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if as, bs := a.When.Leaves(), b.When.Leaves(); as != bs {
		return as > bs
	}
	return a.Order < b.Order
}

func isEligible(when *rules.When, metadata map[string][]string, request map[string]any) bool {
	if when == nil {
		return true
	}

	for key, want := range when.Metadata {
		if !metadataHas(metadata, key, want) {
			return false
		}
	}

	for path, want := range when.Request {
		if !requestMatches(request, path, want) {
			return false
		}
	}
	return true
}

// requestMatches checks one when.request entry. Object values decompose
// into their leaves, so a nested predicate matches when every leaf it names
// matches and sibling fields in the request are ignored. A null wants the
// field absent or null.
func requestMatches(request map[string]any, path string, want any) bool {
	if wm, ok := want.(map[string]any); ok && len(wm) > 0 {
		for key, sub := range wm {
			if !requestMatches(request, path+"."+key, sub) {
				return false
			}
		}
		return true
	}

	got, found := Lookup(request, path)
	if want == nil {
		return !found || got == nil
	}
	return found && deepEqual(got, want)
}

func metadataHas(metadata map[string][]string, key, want string) bool {
	for _, v := range metadata[key] {
		if v == want {
			return true
		}
	}
	return false
}

func lowerMetadata(metadata map[string][]string) map[string][]string {
	out := make(map[string][]string, len(metadata))
	for k, vs := range metadata {
		lk := strings.ToLower(k)
		out[lk] = append(out[lk], vs...)
	}
	return out
}

// deepEqual compares decoded values structurally: maps unordered, lists in
// order, numbers coerced across int and float forms.
func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if am, ok := a.(map[string]any); ok {
		bm, ok := b.(map[string]any)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}

	if al, ok := a.([]any); ok {
		bl, ok := b.([]any)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !deepEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}

	aNum, aOK := toFloat64(a)
	bNum, bOK := toFloat64(b)
	if aOK || bOK {
		return aOK && bOK && aNum == bNum
	}

	return a == b
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
