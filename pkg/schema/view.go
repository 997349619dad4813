package schema

import (
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// ServiceView is the admin-facing description of one service.
type ServiceView struct {
	Service string       `json:"service"`
	Methods []MethodView `json:"methods"`
}

// MethodView is the admin-facing description of one method.
type MethodView struct {
	Name         string `json:"name"`
	FQMN         string `json:"fqmn"`
	RuleKey      string `json:"rule_key"`
	RequestType  string `json:"request_type"`
	ResponseType string `json:"response_type"`
	ClientStream bool   `json:"client_stream"`
	ServerStream bool   `json:"server_stream"`
}

// FieldView describes one field of a message type.
type FieldView struct {
	Name     string `json:"name"`
	Number   int32  `json:"number"`
	Type     string `json:"type"`
	TypeName string `json:"type_name,omitempty"`
	Label    string `json:"label"`
}

// TypeView is the admin-facing description of a message or enum type.
type TypeView struct {
	Name   string      `json:"name"`
	Kind   string      `json:"kind"` // message or enum
	Fields []FieldView `json:"fields,omitempty"`
	Values []string    `json:"values,omitempty"`
	Nested []string    `json:"nested,omitempty"`
}

// ListServices returns every service with its methods, sorted by name.
func (s *Snapshot) ListServices() []ServiceView {
	byService := make(map[string][]MethodView)
	for _, spec := range s.Methods() {
		byService[spec.Service] = append(byService[spec.Service], MethodView{
			Name:         spec.Method,
			FQMN:         spec.FQMN,
			RuleKey:      spec.RuleKey,
			RequestType:  string(spec.Input.FullName()),
			ResponseType: string(spec.Output.FullName()),
			ClientStream: spec.ClientStream,
			ServerStream: spec.ServerStream,
		})
	}

	names := make([]string, 0, len(byService))
	for name := range byService {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ServiceView, 0, len(names))
	for _, name := range names {
		out = append(out, ServiceView{Service: name, Methods: byService[name]})
	}
	return out
}

// SchemaOf returns the descriptor view for a message or enum type.
func (s *Snapshot) SchemaOf(typeName string) (*TypeView, error) {
	name := stripLeadingDot(typeName)

	if md, ok := s.messages[name]; ok {
		return messageView(md), nil
	}
	if ed, ok := s.enums[name]; ok {
		return enumView(ed), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, typeName)
}

func messageView(md protoreflect.MessageDescriptor) *TypeView {
	view := &TypeView{
		Name: string(md.FullName()),
		Kind: "message",
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		fv := FieldView{
			Name:   string(fd.Name()),
			Number: int32(fd.Number()),
			Type:   fieldTypeName(fd),
			Label:  fieldLabel(fd),
		}
		switch fd.Kind() {
		case protoreflect.MessageKind, protoreflect.GroupKind:
			fv.TypeName = string(fd.Message().FullName())
		case protoreflect.EnumKind:
			fv.TypeName = string(fd.Enum().FullName())
		}
		view.Fields = append(view.Fields, fv)
	}

	nested := md.Messages()
	for i := 0; i < nested.Len(); i++ {
		if nested.Get(i).IsMapEntry() {
			continue
		}
		view.Nested = append(view.Nested, string(nested.Get(i).FullName()))
	}
	return view
}

func enumView(ed protoreflect.EnumDescriptor) *TypeView {
	view := &TypeView{
		Name: string(ed.FullName()),
		Kind: "enum",
	}
	values := ed.Values()
	for i := 0; i < values.Len(); i++ {
		view.Values = append(view.Values, string(values.Get(i).Name()))
	}
	return view
}

func fieldTypeName(fd protoreflect.FieldDescriptor) string {
	if fd.IsMap() {
		return fmt.Sprintf("map<%s, %s>", fieldTypeName(fd.MapKey()), fieldTypeName(fd.MapValue()))
	}
	return strings.ToLower(fd.Kind().String())
}

func fieldLabel(fd protoreflect.FieldDescriptor) string {
	switch {
	case fd.IsMap():
		return "map"
	case fd.IsList():
		return "repeated"
	case fd.HasOptionalKeyword():
		return "optional"
	default:
		return "singular"
	}
}
