package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// FileStatus reports the load outcome for one proto file.
type FileStatus struct {
	File  string `json:"file"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// MethodSpec describes one RPC method in a snapshot.
type MethodSpec struct {
	// FQMN is the fully-qualified method name, "package.Service/Method".
	FQMN string

	// Service is the fully-qualified service name.
	Service string

	// Method is the bare method name.
	Method string

	// RuleKey is the lower-cased "package.service.method" rule index key.
	RuleKey string

	// Input and Output are the request and response message descriptors.
	Input  protoreflect.MessageDescriptor
	Output protoreflect.MessageDescriptor

	// ClientStream and ServerStream mark the streaming directions.
	ClientStream bool
	ServerStream bool
}

// Snapshot is an immutable view of all loaded descriptors.
// It is built once per (re)load and never mutated afterwards.
type Snapshot struct {
	files    *protoregistry.Files
	messages map[string]protoreflect.MessageDescriptor
	enums    map[string]protoreflect.EnumDescriptor
	methods  map[string]MethodSpec
	byKey    map[string][]MethodSpec
	builtAt  time.Time
}

// stripLeadingDot normalizes a fully-qualified name for lookup.
func stripLeadingDot(name string) string {
	return strings.TrimPrefix(name, ".")
}

// Files returns the file registry backing this snapshot.
func (s *Snapshot) Files() *protoregistry.Files {
	return s.files
}

// BuiltAt returns the snapshot build time.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// LookupMethod resolves a fully-qualified method name such as
// "helloworld.Greeter/SayHello". A leading dot or slash is tolerated.
func (s *Snapshot) LookupMethod(fqmn string) (MethodSpec, error) {
	fqmn = stripLeadingDot(strings.TrimPrefix(fqmn, "/"))
	spec, ok := s.methods[fqmn]
	if !ok {
		return MethodSpec{}, fmt.Errorf("%w: %s", ErrMethodNotFound, fqmn)
	}
	return spec, nil
}

// MethodsByRuleKey returns the methods indexed under a rule key,
// or nil when the key resolves to nothing.
func (s *Snapshot) MethodsByRuleKey(key string) []MethodSpec {
	return s.byKey[strings.ToLower(key)]
}

// MessageType returns the dynamic codec for a message type.
func (s *Snapshot) MessageType(name string) (*MessageType, error) {
	desc, ok := s.messages[stripLeadingDot(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	return &MessageType{desc: desc}, nil
}

// MessageDescriptors returns every message descriptor in the snapshot,
// sorted by name. Used by the validation extractor.
func (s *Snapshot) MessageDescriptors() []protoreflect.MessageDescriptor {
	names := make([]string, 0, len(s.messages))
	for name := range s.messages {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]protoreflect.MessageDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, s.messages[name])
	}
	return out
}

// Methods returns every method spec, sorted by FQMN.
func (s *Snapshot) Methods() []MethodSpec {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]MethodSpec, 0, len(names))
	for _, name := range names {
		out = append(out, s.methods[name])
	}
	return out
}

// MethodCount returns the number of methods in the snapshot.
func (s *Snapshot) MethodCount() int {
	return len(s.methods)
}

// ruleKey builds the lower-cased rule index key for a method.
func ruleKey(service, method string) string {
	return strings.ToLower(service + "." + method)
}
