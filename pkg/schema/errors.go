package schema

import "errors"

var (
	// ErrNoProtoFiles is returned when the proto directory contains no .proto files.
	ErrNoProtoFiles = errors.New("no proto files found")

	// ErrMethodNotFound is returned when a fully-qualified method is not in the snapshot.
	ErrMethodNotFound = errors.New("method not found")

	// ErrTypeNotFound is returned when a message or enum type is not in the snapshot.
	ErrTypeNotFound = errors.New("type not found")

	// ErrDecode is returned when a payload cannot be decoded as the declared type.
	ErrDecode = errors.New("decode failed")

	// ErrEncode is returned when a value cannot be encoded as the declared type.
	ErrEncode = errors.New("encode failed")
)
