package engine

import (
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wishmock/wishmock/pkg/validation"
)

// Kind classifies call failures. The values double as metric label values.
type Kind string

const (
	KindMethodUnknown    Kind = "method_unknown"
	KindDecodeError      Kind = "decode_error"
	KindValidationFailed Kind = "validation_failed"
	KindRuleNotMatched   Kind = "rule_not_matched"
	KindEncodeError      Kind = "encode_error"
	KindInternal         Kind = "internal"
	KindCancelled        Kind = "cancelled"
)

// CallError is a classified call failure, mapped per dialect by the
// gateway.
type CallError struct {
	Kind       Kind
	Message    string
	Violations []validation.Violation
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newCallError(kind Kind, format string, args ...any) *CallError {
	return &CallError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// validationError surfaces the first violation's message, carrying the
// rest as structured details.
func validationError(violations []validation.Violation) *CallError {
	msg := "validation failed"
	if len(violations) > 0 {
		msg = violations[0].String()
	}
	return &CallError{Kind: KindValidationFailed, Message: msg, Violations: violations}
}

// GRPCCode maps the kind to a gRPC status code.
func (e *CallError) GRPCCode() codes.Code {
	switch e.Kind {
	case KindMethodUnknown:
		return codes.NotFound
	case KindDecodeError, KindValidationFailed:
		return codes.InvalidArgument
	case KindRuleNotMatched:
		return codes.Unimplemented
	case KindCancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// GRPCStatus renders the error as a gRPC status, attaching violations as
// BadRequest details.
func (e *CallError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	if len(e.Violations) == 0 {
		return st
	}

	br := &errdetails.BadRequest{}
	for _, v := range e.Violations {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       v.FieldPath,
			Description: fmt.Sprintf("%s: %s", v.ConstraintID, v.Message),
		})
	}
	if detailed, err := st.WithDetails(br); err == nil {
		return detailed
	}
	return st
}

// ConnectCode returns the Connect protocol error code string.
func (e *CallError) ConnectCode() string {
	switch e.Kind {
	case KindMethodUnknown:
		return "not_found"
	case KindDecodeError, KindValidationFailed:
		return "invalid_argument"
	case KindRuleNotMatched:
		return "unimplemented"
	case KindCancelled:
		return "canceled"
	default:
		return "internal"
	}
}

// HTTPStatus returns the Connect unary HTTP status for the error.
func (e *CallError) HTTPStatus() int {
	switch e.Kind {
	case KindMethodUnknown:
		return http.StatusNotFound
	case KindDecodeError, KindValidationFailed:
		return http.StatusBadRequest
	case KindRuleNotMatched:
		return http.StatusNotImplemented
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
