// Package engine ties the schema registry, validator, rule store and
// matcher into one call pipeline behind an atomically swapped world.
//
// A World is an immutable view of everything a call needs: the compiled
// descriptor snapshot, the extracted validator and the parsed rule set.
// Dispatch loads the current world exactly once per call, so a reload
// mid-call never tears a request between two generations. Rebuild builds
// the next world off-path and swaps it in only when it is complete; on a
// reload, any failed rule file aborts the swap and the previous world
// stays live.
package engine
