package validation

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	pgvpb "github.com/envoyproxy/protoc-gen-validate/validate"

	pvpb "buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
)

// Extraction is the constraint IR for one descriptor snapshot, keyed by
// fully-qualified message name, plus the dialect that produced it.
type Extraction struct {
	Source string
	IR     map[string]*IR
}

// Extract walks every message descriptor and parses its constraint
// annotations into the neutral IR. Source auto resolves to protovalidate
// when any protovalidate annotation exists anywhere in the snapshot, pgv
// otherwise; "buf" is a legacy alias for protovalidate.
func Extract(msgs []protoreflect.MessageDescriptor, source string) (*Extraction, error) {
	switch source {
	case SourceAuto, "":
		if anyProtovalidate(msgs) {
			source = SourceProtovalidate
		} else {
			source = SourcePGV
		}
	case "buf":
		source = SourceProtovalidate
	case SourcePGV, SourceProtovalidate:
	default:
		return nil, fmt.Errorf("unknown validation source %q", source)
	}

	ext := &Extraction{Source: source, IR: make(map[string]*IR)}
	for _, md := range msgs {
		ir := extractMessage(md, source)
		if !ir.Empty() {
			ext.IR[ir.TypeName] = ir
		}
	}
	return ext, nil
}

func extractMessage(md protoreflect.MessageDescriptor, source string) *IR {
	ir := &IR{TypeName: string(md.FullName())}

	if source == SourceProtovalidate {
		mc, disabled := protovalidateMessage(md)
		if disabled {
			return ir
		}
		ir.Messages = mc
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		rules := fieldRules(fd, source)
		if rules == nil {
			continue
		}
		ir.Fields = append(ir.Fields, constraintsFromRules(string(fd.Name()), rules)...)
	}
	return ir
}

// fieldRules returns the dialect's rule message for one field, or nil when
// the field carries no annotation.
func fieldRules(fd protoreflect.FieldDescriptor, source string) proto.Message {
	opts, err := reparseFieldOptions(fd)
	if err != nil || opts == nil {
		return nil
	}

	switch source {
	case SourcePGV:
		if !proto.HasExtension(opts, pgvpb.E_Rules) {
			return nil
		}
		rules, _ := proto.GetExtension(opts, pgvpb.E_Rules).(proto.Message)
		return rules
	case SourceProtovalidate:
		if !proto.HasExtension(opts, pvpb.E_Field) {
			return nil
		}
		rules, _ := proto.GetExtension(opts, pvpb.E_Field).(proto.Message)
		return rules
	}
	return nil
}

// protovalidateMessage extracts message-level CEL constraints, and reports
// whether validation is disabled for the whole message.
func protovalidateMessage(md protoreflect.MessageDescriptor) ([]MessageConstraint, bool) {
	opts, err := reparseMessageOptions(md)
	if err != nil || opts == nil || !proto.HasExtension(opts, pvpb.E_Message) {
		return nil, false
	}
	mc, _ := proto.GetExtension(opts, pvpb.E_Message).(proto.Message)
	if mc == nil {
		return nil, false
	}

	m := mc.ProtoReflect()
	fields := m.Descriptor().Fields()

	if fd := fields.ByName("disabled"); fd != nil && m.Has(fd) && m.Get(fd).Bool() {
		return nil, true
	}

	var out []MessageConstraint
	if fd := fields.ByName("cel"); fd != nil && m.Has(fd) {
		list := m.Get(fd).List()
		for i := 0; i < list.Len(); i++ {
			id, msg, expr := celEntry(list.Get(i).Message())
			out = append(out, MessageConstraint{ID: id, Expression: expr, Message: msg})
		}
	}
	return out, false
}

func anyProtovalidate(msgs []protoreflect.MessageDescriptor) bool {
	for _, md := range msgs {
		if opts, err := reparseMessageOptions(md); err == nil && opts != nil {
			if proto.HasExtension(opts, pvpb.E_Message) {
				return true
			}
		}
		fields := md.Fields()
		for i := 0; i < fields.Len(); i++ {
			if opts, err := reparseFieldOptions(fields.Get(i)); err == nil && opts != nil {
				if proto.HasExtension(opts, pvpb.E_Field) {
					return true
				}
			}
		}
	}
	return false
}

// Dynamically compiled descriptors carry custom options as unknown fields
// or dynamic extensions. Round-tripping the options through the global type
// registry rebinds them to the generated extension types so GetExtension
// sees them.

func reparseFieldOptions(fd protoreflect.FieldDescriptor) (*descriptorpb.FieldOptions, error) {
	opts, ok := fd.Options().(*descriptorpb.FieldOptions)
	if !ok || opts == nil {
		return nil, nil
	}
	raw, err := proto.Marshal(opts)
	if err != nil {
		return nil, err
	}
	fresh := &descriptorpb.FieldOptions{}
	if err := (proto.UnmarshalOptions{Resolver: protoregistry.GlobalTypes}).Unmarshal(raw, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func reparseMessageOptions(md protoreflect.MessageDescriptor) (*descriptorpb.MessageOptions, error) {
	opts, ok := md.Options().(*descriptorpb.MessageOptions)
	if !ok || opts == nil {
		return nil, nil
	}
	raw, err := proto.Marshal(opts)
	if err != nil {
		return nil, err
	}
	fresh := &descriptorpb.MessageOptions{}
	if err := (proto.UnmarshalOptions{Resolver: protoregistry.GlobalTypes}).Unmarshal(raw, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// constraintsFromRules turns one field's rule message (pgv FieldRules or
// protovalidate FieldConstraints) into IR constraints. Both dialects use
// the same field names for the checks this engine understands, so a single
// reflective walk covers them.
func constraintsFromRules(path string, rules proto.Message) []FieldConstraint {
	var out []FieldConstraint

	m := rules.ProtoReflect()
	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !m.Has(fd) {
			continue
		}
		v := m.Get(fd)

		switch fd.Name() {
		case "required":
			if v.Bool() {
				out = append(out, FieldConstraint{FieldPath: path, Kind: KindRequired})
			}
		case "message":
			sub := v.Message()
			if rf := sub.Descriptor().Fields().ByName("required"); rf != nil && sub.Has(rf) && sub.Get(rf).Bool() {
				out = append(out, FieldConstraint{FieldPath: path, Kind: KindRequired})
			}
		case "cel":
			list := v.List()
			for j := 0; j < list.Len(); j++ {
				id, msg, expr := celEntry(list.Get(j).Message())
				out = append(out, FieldConstraint{
					FieldPath: path,
					Kind:      KindMessageCEL,
					Text:      expr,
					ID:        id,
					Message:   msg,
				})
			}
		default:
			if fd.Kind() == protoreflect.MessageKind && !fd.IsList() && !fd.IsMap() {
				out = append(out, typedRuleConstraints(path, v.Message())...)
			}
		}
	}
	return out
}

// typedRuleConstraints walks one typed rule message (StringRules,
// Int32Rules, EnumRules, ...) for the checks the IR models.
func typedRuleConstraints(path string, rules protoreflect.Message) []FieldConstraint {
	var out []FieldConstraint
	add := func(c FieldConstraint) {
		c.FieldPath = path
		out = append(out, c)
	}

	fields := rules.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !rules.Has(fd) {
			continue
		}
		v := rules.Get(fd)

		switch fd.Name() {
		case "min_len":
			add(FieldConstraint{Kind: KindMinLen, Number: float64(v.Uint())})
		case "max_len":
			add(FieldConstraint{Kind: KindMaxLen, Number: float64(v.Uint())})
		case "pattern":
			add(FieldConstraint{Kind: KindPattern, Text: v.String()})
		case "gte":
			if n, ok := numberValue(fd.Kind(), v); ok {
				add(FieldConstraint{Kind: KindGTE, Number: n})
			}
		case "lte":
			if n, ok := numberValue(fd.Kind(), v); ok {
				add(FieldConstraint{Kind: KindLTE, Number: n})
			}
		case "gt":
			if n, ok := numberValue(fd.Kind(), v); ok {
				add(FieldConstraint{Kind: KindGT, Number: n})
			}
		case "lt":
			if n, ok := numberValue(fd.Kind(), v); ok {
				add(FieldConstraint{Kind: KindLT, Number: n})
			}
		case "const":
			if s, ok := scalarValue(fd.Kind(), v); ok {
				add(FieldConstraint{Kind: KindConst, Values: []any{s}})
			}
		case "in":
			if vals := listValues(fd, v); len(vals) > 0 {
				add(FieldConstraint{Kind: KindIn, Values: vals})
			}
		case "not_in":
			if vals := listValues(fd, v); len(vals) > 0 {
				add(FieldConstraint{Kind: KindNotIn, Values: vals})
			}
		case "defined_only":
			if v.Bool() {
				add(FieldConstraint{Kind: KindEnumDefinedOnly})
			}
		case "email":
			if v.Bool() {
				add(FieldConstraint{Kind: KindEmail})
			}
		case "uuid":
			if v.Bool() {
				add(FieldConstraint{Kind: KindUUID})
			}
		case "hostname":
			if v.Bool() {
				add(FieldConstraint{Kind: KindHostname})
			}
		case "ip", "ipv4", "ipv6":
			if v.Bool() {
				add(FieldConstraint{Kind: KindIP})
			}
		}
	}
	return out
}

// celEntry reads {id, message, expression} off a buf.validate.Constraint.
func celEntry(m protoreflect.Message) (id, message, expression string) {
	fields := m.Descriptor().Fields()
	if fd := fields.ByName("id"); fd != nil {
		id = m.Get(fd).String()
	}
	if fd := fields.ByName("message"); fd != nil {
		message = m.Get(fd).String()
	}
	if fd := fields.ByName("expression"); fd != nil {
		expression = m.Get(fd).String()
	}
	return id, message, expression
}

func numberValue(kind protoreflect.Kind, v protoreflect.Value) (float64, bool) {
	switch kind {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return float64(v.Int()), true
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return float64(v.Uint()), true
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return v.Float(), true
	case protoreflect.EnumKind:
		return float64(v.Enum()), true
	}
	return 0, false
}

func scalarValue(kind protoreflect.Kind, v protoreflect.Value) (any, bool) {
	switch kind {
	case protoreflect.BoolKind:
		return v.Bool(), true
	case protoreflect.StringKind:
		return v.String(), true
	case protoreflect.BytesKind:
		return string(v.Bytes()), true
	}
	if n, ok := numberValue(kind, v); ok {
		return n, true
	}
	return nil, false
}

func listValues(fd protoreflect.FieldDescriptor, v protoreflect.Value) []any {
	if !fd.IsList() {
		return nil
	}
	list := v.List()
	out := make([]any, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		if s, ok := scalarValue(fd.Kind(), list.Get(i)); ok {
			out = append(out, s)
		}
	}
	return out
}
