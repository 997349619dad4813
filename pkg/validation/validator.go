package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"unicode/utf8"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Validator enforces an Extraction against decoded request values.
//
// Values come from the protojson form of the request, so strings hold enum
// names, numbers are float64 and nested messages are map[string]any. The
// validator walks the message descriptor alongside the value, recursing into
// populated message fields with dotted path prefixes.
type Validator struct {
	ext        *Extraction
	mode       string
	messageCEL bool
	eval       ExpressionEvaluator

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValidator builds a validator over an extraction. Message-level CEL is
// enforced when the extraction's source is protovalidate, or when the
// experimental flag forces it on. A nil evaluator downgrades every CEL
// constraint to an unsupported outcome.
func NewValidator(ext *Extraction, mode string, experimentalMessageCEL bool, eval ExpressionEvaluator) *Validator {
	if mode == "" {
		mode = ModePerMessage
	}
	return &Validator{
		ext:        ext,
		mode:       mode,
		messageCEL: ext.Source == SourceProtovalidate || experimentalMessageCEL,
		eval:       eval,
		patterns:   make(map[string]*regexp.Regexp),
	}
}

// Source returns the resolved constraint dialect.
func (v *Validator) Source() string {
	return v.ext.Source
}

// ConstrainedTypes returns how many message types carry constraints.
func (v *Validator) ConstrainedTypes() int {
	return len(v.ext.IR)
}

// Validate checks one decoded message against every applicable constraint.
func (v *Validator) Validate(md protoreflect.MessageDescriptor, value map[string]any) *Result {
	res := &Result{TypeName: string(md.FullName())}
	v.validateMessage("", md, value, res)
	return res
}

func (v *Validator) validateMessage(prefix string, md protoreflect.MessageDescriptor, value map[string]any, res *Result) {
	if ir := v.ext.IR[string(md.FullName())]; ir != nil {
		v.applyFieldConstraints(prefix, md, value, ir, res)
		if v.messageCEL {
			v.applyMessageConstraints(prefix, value, ir, res)
		}
	}

	// Recursion depth is bounded by the decoded value, not the schema, so
	// recursive message types terminate.
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() {
			continue
		}
		raw, ok := fieldValue(value, fd)
		if !ok || raw == nil {
			continue
		}

		path := joinPath(prefix, string(fd.Name()))
		if fd.IsList() {
			items, ok := raw.([]any)
			if !ok {
				continue
			}
			for idx, item := range items {
				child, ok := item.(map[string]any)
				if !ok {
					continue
				}
				v.validateMessage(fmt.Sprintf("%s[%d]", path, idx), fd.Message(), child, res)
			}
			continue
		}

		child, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		v.validateMessage(path, fd.Message(), child, res)
	}
}

func (v *Validator) applyFieldConstraints(prefix string, md protoreflect.MessageDescriptor, value map[string]any, ir *IR, res *Result) {
	failed := make(map[string]bool)

	for _, c := range ir.Fields {
		if v.mode == ModePerMessage && failed[c.FieldPath] {
			continue
		}
		fd := md.Fields().ByName(protoreflect.Name(c.FieldPath))
		if fd == nil {
			continue
		}

		raw, present := fieldValue(value, fd)
		path := joinPath(prefix, c.FieldPath)

		if v.check(path, fd, raw, present, c, res) == checkFailed {
			failed[c.FieldPath] = true
		}
	}
}

type checkOutcome int

const (
	checkOK checkOutcome = iota
	checkFailed
	checkUnsupported
)

// check evaluates one constraint against one field value, appending any
// violation to res.
func (v *Validator) check(path string, fd protoreflect.FieldDescriptor, raw any, present bool, c FieldConstraint, res *Result) checkOutcome {
	fail := func(msg string) checkOutcome {
		id := string(c.Kind)
		if c.ID != "" {
			id = c.ID
		}
		if c.Message != "" {
			msg = c.Message
		}
		res.addViolation(path, id, msg)
		return checkFailed
	}

	if c.Kind == KindRequired {
		if !present || isEmptyValue(raw) {
			return fail("value is required")
		}
		return checkOK
	}

	// Only required applies to absent fields.
	if !present || raw == nil {
		return checkOK
	}

	switch c.Kind {
	case KindMinLen:
		if s, ok := raw.(string); ok && utf8.RuneCountInString(s) < int(c.Number) {
			return fail(fmt.Sprintf("value length must be at least %s characters", formatNumber(c.Number)))
		}

	case KindMaxLen:
		if s, ok := raw.(string); ok && utf8.RuneCountInString(s) > int(c.Number) {
			return fail(fmt.Sprintf("value length must be at most %s characters", formatNumber(c.Number)))
		}

	case KindGTE:
		if n, ok := numericOf(fd, raw); ok && n < c.Number {
			return fail(fmt.Sprintf("value must be greater than or equal to %s", formatNumber(c.Number)))
		}

	case KindLTE:
		if n, ok := numericOf(fd, raw); ok && n > c.Number {
			return fail(fmt.Sprintf("value must be less than or equal to %s", formatNumber(c.Number)))
		}

	case KindGT:
		if n, ok := numericOf(fd, raw); ok && n <= c.Number {
			return fail(fmt.Sprintf("value must be greater than %s", formatNumber(c.Number)))
		}

	case KindLT:
		if n, ok := numericOf(fd, raw); ok && n >= c.Number {
			return fail(fmt.Sprintf("value must be less than %s", formatNumber(c.Number)))
		}

	case KindConst:
		if len(c.Values) == 1 && !valuesEqual(comparableValue(fd, raw), c.Values[0]) {
			return fail(fmt.Sprintf("value must equal %v", c.Values[0]))
		}

	case KindIn:
		got := comparableValue(fd, raw)
		for _, want := range c.Values {
			if valuesEqual(got, want) {
				return checkOK
			}
		}
		return fail(fmt.Sprintf("value must be one of %v", c.Values))

	case KindNotIn:
		got := comparableValue(fd, raw)
		for _, banned := range c.Values {
			if valuesEqual(got, banned) {
				return fail(fmt.Sprintf("value must not be one of %v", c.Values))
			}
		}

	case KindPattern:
		s, ok := raw.(string)
		if !ok {
			return checkOK
		}
		re, err := v.pattern(c.Text)
		if err != nil {
			return fail(fmt.Sprintf("invalid pattern %q", c.Text))
		}
		if !re.MatchString(s) {
			return fail(fmt.Sprintf("value must match pattern %q", c.Text))
		}

	case KindEmail:
		if s, ok := raw.(string); ok && !isEmail(s) {
			return fail("value must be a valid email address")
		}

	case KindUUID:
		if s, ok := raw.(string); ok && !isUUID(s) {
			return fail("value must be a valid UUID")
		}

	case KindHostname:
		if s, ok := raw.(string); ok && !isHostname(s) {
			return fail("value must be a valid hostname")
		}

	case KindIP:
		if s, ok := raw.(string); ok && !isIP(s) {
			return fail("value must be a valid IP address")
		}

	case KindEnumDefinedOnly:
		if !enumDefined(fd, raw) {
			return fail("value must be a defined enum value")
		}

	case KindMessageCEL:
		id := c.ID
		if id == "" {
			id = "cel"
		}
		if v.eval == nil {
			res.addUnsupported(path, id, "no CEL evaluator configured")
			return checkUnsupported
		}
		ok, err := v.eval.Evaluate(c.Text, raw)
		if err != nil {
			res.addViolation(path, id, celFailureMessage(c.Message, err))
			return checkFailed
		}
		if !ok {
			msg := c.Message
			if msg == "" {
				msg = fmt.Sprintf("expression %q evaluated to false", c.Text)
			}
			res.addViolation(path, id, msg)
			return checkFailed
		}
	}

	return checkOK
}

// isEmptyValue implements the required-field policy: empty strings and zero
// numerics do not satisfy required.
func isEmptyValue(raw any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return s == ""
	}
	if n, ok := toFloat64(raw); ok {
		return n == 0
	}
	return false
}

// comparableValue maps enum names to their numbers so const/in/not_in lists
// extracted as numbers compare correctly.
func comparableValue(fd protoreflect.FieldDescriptor, raw any) any {
	if fd.Kind() == protoreflect.EnumKind {
		if s, ok := raw.(string); ok {
			if ev := fd.Enum().Values().ByName(protoreflect.Name(s)); ev != nil {
				return float64(ev.Number())
			}
		}
	}
	return raw
}

func enumDefined(fd protoreflect.FieldDescriptor, raw any) bool {
	if fd.Kind() != protoreflect.EnumKind {
		return true
	}
	if s, ok := raw.(string); ok {
		return fd.Enum().Values().ByName(protoreflect.Name(s)) != nil
	}
	if n, ok := toFloat64(raw); ok {
		return fd.Enum().Values().ByNumber(protoreflect.EnumNumber(int32(n))) != nil
	}
	return false
}

func (v *Validator) applyMessageConstraints(prefix string, value map[string]any, ir *IR, res *Result) {
	for _, c := range ir.Messages {
		id := c.ID
		if id == "" {
			id = "cel"
		}
		if v.eval == nil {
			res.addUnsupported(prefix, id, "no CEL evaluator configured")
			continue
		}

		ok, err := v.eval.Evaluate(c.Expression, value)
		if err != nil {
			res.addViolation(prefix, id, celFailureMessage(c.Message, err))
			continue
		}
		if !ok {
			msg := c.Message
			if msg == "" {
				msg = fmt.Sprintf("expression %q evaluated to false", c.Expression)
			}
			res.addViolation(prefix, id, msg)
		}
	}
}

func celFailureMessage(custom string, err error) string {
	if custom != "" {
		return custom
	}
	return err.Error()
}

// fieldValue looks a field up by its JSON name first, then its proto name,
// matching both protojson spellings.
func fieldValue(value map[string]any, fd protoreflect.FieldDescriptor) (any, bool) {
	if raw, ok := value[fd.JSONName()]; ok {
		return raw, true
	}
	raw, ok := value[string(fd.Name())]
	return raw, ok
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// pattern compiles and caches a regex. Rule patterns are unanchored; the
// dialects anchor explicitly in the expression when they mean to.
func (v *Validator) pattern(expr string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if re, ok := v.patterns[expr]; ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	v.patterns[expr] = re
	return re, nil
}

// numericOf coerces a decoded value to float64. Enum names convert through
// the field's enum descriptor.
func numericOf(fd protoreflect.FieldDescriptor, raw any) (float64, bool) {
	if n, ok := toFloat64(raw); ok {
		return n, true
	}
	if fd.Kind() == protoreflect.EnumKind {
		if s, ok := raw.(string); ok {
			if ev := fd.Enum().Values().ByName(protoreflect.Name(s)); ev != nil {
				return float64(ev.Number()), true
			}
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// valuesEqual compares two decoded values, coercing numbers and falling
// back to JSON encoding for composites.
func valuesEqual(a, b any) bool {
	if a == b {
		return true
	}
	aNum, aOK := toFloat64(a)
	bNum, bOK := toFloat64(b)
	if aOK && bOK {
		return aNum == bNum
	}
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return string(aJSON) == string(bJSON)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
