// Package schema loads .proto files at runtime and exposes them as an
// immutable descriptor snapshot.
//
// A Snapshot indexes every message, enum and method found in the proto
// directory and provides dynamic encode/decode through MessageType, backed by
// dynamicpb and protojson. Parse failures are reported per file and skipped;
// a broken proto never prevents the rest of the tree from loading.
//
// Imports are resolved against the proto directory, any extra import paths,
// the well-known types, and the linked descriptors for validate.proto and
// buf/validate/validate.proto so schemas can carry pgv or protovalidate
// constraint options without shipping those files.
package schema
