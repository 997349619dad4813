package rules

import (
	"fmt"
	"strings"
)

// DefaultStreamDelayMS is the pause between streamed items when a rule does
// not set stream_delay_ms.
const DefaultStreamDelayMS = 100

// When is a predicate over incoming metadata and the decoded request.
// Metadata keys are lower-cased on load; values are exact-match.
// Request keys are dotted field paths (with optional [index] segments);
// scalar and list values compare by deep equality against the decoded
// request, object values match leaf by leaf.
type When struct {
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Request  map[string]any    `json:"request,omitempty" yaml:"request,omitempty"`
}

// Leaves returns the number of leaf comparisons this predicate performs,
// descending into nested request objects. Used as the specificity
// tie-break.
func (w *When) Leaves() int {
	if w == nil {
		return 0
	}
	n := len(w.Metadata)
	for _, v := range w.Request {
		n += leafCount(v)
	}
	return n
}

func leafCount(v any) int {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return 1
	}
	n := 0
	for _, sub := range m {
		n += leafCount(sub)
	}
	return n
}

// ResponseOption is one candidate response under a rule key.
//
// A rule-level match predicate is merged into each option's When at load
// time, so the matcher only ever sees per-candidate predicates.
type ResponseOption struct {
	// When guards this option; nil matches universally.
	When *When

	// Body is the unary reply (or the fallback for client-streaming calls).
	Body map[string]any

	// Trailers are sent as response trailers, stringified.
	Trailers map[string]string

	// DelayMS defers the reply (unary) or the first item (stream).
	DelayMS int

	// Priority ranks candidates; higher wins. Default 0.
	Priority int

	// StreamItems, when set, makes this a server-stream response.
	StreamItems []map[string]any

	// StreamDelayMS paces items, between emissions only.
	StreamDelayMS int

	// StreamLoop restarts the item sequence when exhausted.
	StreamLoop bool

	// StreamRandomOrder shuffles each pass through the items.
	StreamRandomOrder bool

	// Source is the file this option came from.
	Source string

	// Order is the global load order, the final tie-break.
	Order int
}

// IsStream reports whether this option describes a server stream.
func (o *ResponseOption) IsStream() bool {
	return len(o.StreamItems) > 0
}

// document is the wire form of one rule document.
type document struct {
	Match     *whenDoc      `json:"match,omitempty" yaml:"match,omitempty"`
	Responses []responseDoc `json:"responses" yaml:"responses"`
}

type whenDoc struct {
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Request  map[string]any    `json:"request,omitempty" yaml:"request,omitempty"`
}

type responseDoc struct {
	When              *whenDoc         `json:"when,omitempty" yaml:"when,omitempty"`
	Body              map[string]any   `json:"body,omitempty" yaml:"body,omitempty"`
	Trailers          map[string]any   `json:"trailers,omitempty" yaml:"trailers,omitempty"`
	DelayMS           int              `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	Priority          int              `json:"priority,omitempty" yaml:"priority,omitempty"`
	StreamItems       []map[string]any `json:"stream_items,omitempty" yaml:"stream_items,omitempty"`
	StreamDelayMS     *int             `json:"stream_delay_ms,omitempty" yaml:"stream_delay_ms,omitempty"`
	StreamLoop        bool             `json:"stream_loop,omitempty" yaml:"stream_loop,omitempty"`
	StreamRandomOrder bool             `json:"stream_random_order,omitempty" yaml:"stream_random_order,omitempty"`
}

// merge combines a rule-level match with a response-level when.
// Response-level entries win on key collision.
func merge(match, when *whenDoc) *When {
	if match == nil && when == nil {
		return nil
	}

	out := &When{}
	for _, src := range []*whenDoc{match, when} {
		if src == nil {
			continue
		}
		for k, v := range src.Metadata {
			if out.Metadata == nil {
				out.Metadata = make(map[string]string)
			}
			out.Metadata[strings.ToLower(k)] = v
		}
		for k, v := range src.Request {
			if out.Request == nil {
				out.Request = make(map[string]any)
			}
			out.Request[k] = v
		}
	}
	return out
}

// stringifyTrailers converts trailer values (string, number, bool) to strings.
func stringifyTrailers(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = fmt.Sprintf("%t", t)
		case float64:
			out[k] = trimFloat(t)
		case int:
			out[k] = fmt.Sprintf("%d", t)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
