package schema

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// MessageType is a dynamic codec for one message type in a snapshot.
//
// Wire decode tolerates unknown fields (they are carried, not rejected);
// JSON decode discards them. JSON encode emits unpopulated fields so
// defaults always appear, and enums render by name. Enum input accepts
// either name or number, which protojson handles natively.
type MessageType struct {
	desc protoreflect.MessageDescriptor
}

// Name returns the fully-qualified type name.
func (t *MessageType) Name() string {
	return string(t.desc.FullName())
}

// Descriptor returns the underlying message descriptor.
func (t *MessageType) Descriptor() protoreflect.MessageDescriptor {
	return t.desc
}

// NewMessage returns an empty dynamic message of this type.
func (t *MessageType) NewMessage() *dynamicpb.Message {
	return dynamicpb.NewMessage(t.desc)
}

// DecodeWire decodes length-delimited protobuf bytes.
func (t *MessageType) DecodeWire(data []byte) (*dynamicpb.Message, error) {
	msg := t.NewMessage()
	if err := (proto.UnmarshalOptions{}).Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, t.Name(), err)
	}
	return msg, nil
}

// DecodeJSON decodes a JSON payload.
func (t *MessageType) DecodeJSON(data []byte) (*dynamicpb.Message, error) {
	msg := t.NewMessage()
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, t.Name(), err)
	}
	return msg, nil
}

// EncodeWire encodes a message as protobuf bytes.
func (t *MessageType) EncodeWire(msg proto.Message) ([]byte, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, t.Name(), err)
	}
	return data, nil
}

// EncodeJSON encodes a message as JSON, emitting default values.
func (t *MessageType) EncodeJSON(msg proto.Message) ([]byte, error) {
	opts := protojson.MarshalOptions{EmitUnpopulated: true}
	data, err := opts.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, t.Name(), err)
	}
	return data, nil
}

// FromValue builds a message of this type from a decoded JSON-ish value
// (maps, slices, strings, numbers), as found in rule bodies. Unlike
// DecodeJSON this is strict: a key that does not exist on the type is an
// error, so a typo in a rule body surfaces instead of vanishing.
func (t *MessageType) FromValue(data any) (*dynamicpb.Message, error) {
	if data == nil {
		return t.NewMessage(), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, t.Name(), err)
	}
	msg := t.NewMessage()
	if err := protojson.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, t.Name(), err)
	}
	return msg, nil
}

// ToValue converts a message to a generic map through its JSON form.
// Keys use proto field names, so rule predicates and constraint paths are
// written the way the schema spells them. Unpopulated fields are emitted,
// so zero-valued scalars stay visible to matching and validation. Returns
// nil when the message cannot be rendered.
func ToValue(msg proto.Message) map[string]any {
	if msg == nil {
		return nil
	}
	raw, err := (protojson.MarshalOptions{UseProtoNames: true, EmitUnpopulated: true}).Marshal(msg)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
