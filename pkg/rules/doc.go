// Package rules loads mock response rules from YAML or JSON files.
//
// Files are named "<package>.<Service>.<Method>.(yaml|yml|json)", matched
// case-insensitively; the lower-cased basename is the rule key. A file holds
// one rule document or an array of documents, and every document contributes
// its responses to the key's candidate list in file-load order.
//
// A Set is immutable once built. Hot reload builds a fresh Set and swaps it
// at the world level; a file that fails to parse keeps the previous Set in
// place (all-or-nothing).
//
// Note for rule authors: stream_delay_ms paces items *between* emissions.
// The first item is sent immediately; use delay_ms to defer the start.
package rules
