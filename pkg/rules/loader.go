package rules

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// rulePattern matches rule files anywhere under the rules directory.
const rulePattern = "**/*.{yaml,yml,json}"

// Set is an immutable index of response candidates keyed by rule key.
type Set struct {
	candidates map[string][]ResponseOption
	keys       []string
}

// Load parses every rule file under dir into a Set.
//
// Parse failures are reported per file in the returned statuses; the failed
// file contributes nothing. Load itself only errors when the directory
// cannot be read. Callers that need all-or-nothing reload semantics check
// the statuses before swapping the Set in.
func Load(dir string) (*Set, []FileStatus, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), rulePattern)
	if err != nil {
		return nil, nil, fmt.Errorf("globbing rules dir %s: %w", dir, err)
	}
	sort.Strings(matches)

	set := &Set{candidates: make(map[string][]ResponseOption)}
	statuses := make([]FileStatus, 0, len(matches))
	order := 0

	for _, rel := range matches {
		path := filepath.Join(dir, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			statuses = append(statuses, FileStatus{File: rel, Error: err.Error()})
			continue
		}

		docs, err := parseDocuments(data)
		if err != nil {
			statuses = append(statuses, FileStatus{File: rel, Error: err.Error()})
			continue
		}

		var fileOpts []ResponseOption
		var docErr error
		for _, doc := range docs {
			opts, err := buildOptions(doc, rel, &order)
			if err != nil {
				docErr = err
				break
			}
			fileOpts = append(fileOpts, opts...)
		}
		if docErr != nil {
			statuses = append(statuses, FileStatus{File: rel, Error: docErr.Error()})
			continue
		}

		key := keyFromFilename(rel)
		set.candidates[key] = append(set.candidates[key], fileOpts...)
		statuses = append(statuses, FileStatus{File: rel, OK: true})
	}

	for key := range set.candidates {
		set.keys = append(set.keys, key)
	}
	sort.Strings(set.keys)

	return set, statuses, nil
}

// FileStatus reports the load outcome for one rule file.
type FileStatus struct {
	File  string `json:"file"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Candidates returns the response options under a rule key in load order.
func (s *Set) Candidates(key string) []ResponseOption {
	return s.candidates[strings.ToLower(key)]
}

// Keys returns all rule keys in sorted order.
func (s *Set) Keys() []string {
	return s.keys
}

// Len returns the total number of response candidates.
func (s *Set) Len() int {
	n := 0
	for _, opts := range s.candidates {
		n += len(opts)
	}
	return n
}

// keyFromFilename derives the rule key from a file path:
// "sub/helloworld.Greeter.SayHello.yaml" -> "helloworld.greeter.sayhello".
func keyFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToLower(base)
}

// parseDocuments decodes a file that holds one document, an array of
// documents, or a multi-document YAML stream. JSON parses as a YAML subset.
func parseDocuments(data []byte) ([]document, error) {
	var docs []document

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
		}

		switch node.Kind {
		case yaml.SequenceNode:
			var many []document
			if err := node.Decode(&many); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
			}
			docs = append(docs, many...)
		default:
			var one document
			if err := node.Decode(&one); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
			}
			docs = append(docs, one)
		}
	}

	return docs, nil
}

// buildOptions turns one document into response candidates, merging the
// rule-level match into each option and applying defaults.
func buildOptions(doc document, source string, order *int) ([]ResponseOption, error) {
	if len(doc.Responses) == 0 {
		return nil, ErrNoResponses
	}

	opts := make([]ResponseOption, 0, len(doc.Responses))
	for _, rd := range doc.Responses {
		streamDelay := DefaultStreamDelayMS
		if rd.StreamDelayMS != nil {
			streamDelay = *rd.StreamDelayMS
		}

		opts = append(opts, ResponseOption{
			When:              merge(doc.Match, rd.When),
			Body:              rd.Body,
			Trailers:          stringifyTrailers(rd.Trailers),
			DelayMS:           rd.DelayMS,
			Priority:          rd.Priority,
			StreamItems:       rd.StreamItems,
			StreamDelayMS:     streamDelay,
			StreamLoop:        rd.StreamLoop,
			StreamRandomOrder: rd.StreamRandomOrder,
			Source:            source,
			Order:             *order,
		})
		*order++
	}
	return opts, nil
}
