package validation

// Constraint dialects.
const (
	SourceAuto          = "auto"
	SourcePGV           = "pgv"
	SourceProtovalidate = "protovalidate"
)

// Reporting modes.
const (
	// ModePerMessage stops at the first failing constraint per field but
	// still checks sibling fields.
	ModePerMessage = "per_message"

	// ModeAggregate collects every field violation, then message
	// constraints.
	ModeAggregate = "aggregate"
)

// Kind identifies one constraint check.
type Kind string

const (
	KindRequired        Kind = "required"
	KindMinLen          Kind = "min_len"
	KindMaxLen          Kind = "max_len"
	KindGTE             Kind = "gte"
	KindLTE             Kind = "lte"
	KindGT              Kind = "gt"
	KindLT              Kind = "lt"
	KindConst           Kind = "const"
	KindIn              Kind = "in"
	KindNotIn           Kind = "not_in"
	KindPattern         Kind = "pattern"
	KindEmail           Kind = "email"
	KindUUID            Kind = "uuid"
	KindHostname        Kind = "hostname"
	KindIP              Kind = "ip"
	KindEnumDefinedOnly Kind = "enum_defined_only"
	KindMessageCEL      Kind = "message_cel"
)

// FieldConstraint is one check against a single field. FieldPath is the
// field's proto name; nesting is handled by recursing into message-typed
// fields at evaluation time.
type FieldConstraint struct {
	FieldPath string
	Kind      Kind

	// Number carries the bound for min_len, max_len, gte, lte, gt, lt.
	Number float64

	// Text carries the pattern regex or the CEL expression.
	Text string

	// Values carries const (one element), in and not_in lists.
	Values []any

	// ID and Message come from CEL annotations that name themselves.
	ID      string
	Message string
}

// MessageConstraint is a message-level CEL expression.
type MessageConstraint struct {
	ID         string
	Expression string
	Message    string
}

// IR holds every constraint extracted for one message type.
type IR struct {
	TypeName string
	Fields   []FieldConstraint
	Messages []MessageConstraint
}

// Empty reports whether the IR carries no constraints at all.
func (ir *IR) Empty() bool {
	return ir == nil || (len(ir.Fields) == 0 && len(ir.Messages) == 0)
}
