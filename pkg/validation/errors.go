package validation

import "fmt"

// Violation is one failed (or unsupported) constraint check.
type Violation struct {
	FieldPath    string `json:"field_path"`
	ConstraintID string `json:"constraint_id"`
	Message      string `json:"message"`
}

func (v Violation) String() string {
	if v.FieldPath == "" {
		return fmt.Sprintf("%s: %s", v.ConstraintID, v.Message)
	}
	return fmt.Sprintf("%s: %s: %s", v.FieldPath, v.ConstraintID, v.Message)
}

// Result is the outcome of validating one message.
//
// Unsupported lists CEL constraints that could not be evaluated because no
// expression evaluator is configured. They never fail the request; callers
// surface them through the event log instead.
type Result struct {
	TypeName    string      `json:"type_name"`
	Violations  []Violation `json:"violations,omitempty"`
	Unsupported []Violation `json:"unsupported,omitempty"`
}

// OK reports whether the message passed every supported constraint.
func (r *Result) OK() bool {
	return len(r.Violations) == 0
}

func (r *Result) addViolation(path string, id string, msg string) {
	r.Violations = append(r.Violations, Violation{FieldPath: path, ConstraintID: id, Message: msg})
}

func (r *Result) addUnsupported(path string, id string, msg string) {
	r.Unsupported = append(r.Unsupported, Violation{FieldPath: path, ConstraintID: id, Message: msg})
}
