// Package matching selects a response candidate for a call.
//
// A candidate is eligible when every metadata pair and every request leaf
// in its when-predicate holds against the incoming call; a candidate with
// no predicate matches universally. Eligible candidates are ranked by
// priority (higher wins), then by specificity (more compared leaves wins),
// then by load order (earlier wins), so selection is deterministic.
//
// Request leaves are dotted paths with optional [index] segments, compared
// by deep equality: maps unordered, lists in order, numbers coerced. A null
// in the predicate means the field must be absent or null.
package matching
