package engine

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/wishmock/wishmock/pkg/matching"
	"github.com/wishmock/wishmock/pkg/metrics"
	"github.com/wishmock/wishmock/pkg/rules"
	"github.com/wishmock/wishmock/pkg/schema"
	"github.com/wishmock/wishmock/pkg/stream"
	"github.com/wishmock/wishmock/pkg/validation"
)

// Payload is one request message as received by a gateway, either wire
// bytes or JSON.
type Payload struct {
	Data []byte
	JSON bool
}

// Outcome is what a gateway needs to answer a call: a fully built unary
// reply, or a stream plan whose items it encodes one by one.
type Outcome struct {
	Method    schema.MethodSpec
	ReplyType *schema.MessageType

	// Reply is set for unary outcomes.
	Reply *dynamicpb.Message

	// Stream is set for server-stream outcomes.
	Stream *stream.Plan

	Trailers map[string]string
	Delay    time.Duration

	Rule *matching.Explanation
}

// IsStream reports whether the outcome is a server stream.
func (o *Outcome) IsStream() bool {
	return o.Stream != nil
}

// EncodeItem builds one stream item as a response message. Failures map
// to EncodeError; items already sent stay delivered.
func (o *Outcome) EncodeItem(item map[string]any) (*dynamicpb.Message, *CallError) {
	msg, err := o.ReplyType.FromValue(item)
	if err != nil {
		return nil, newCallError(KindEncodeError, "encoding stream item for %s: %v", o.ReplyType.Name(), err)
	}
	return msg, nil
}

// Dispatch runs the call pipeline: method lookup, decode, validate, match,
// encode. It loads the current world exactly once, so a concurrent reload
// cannot tear the call.
func (e *Engine) Dispatch(ctx context.Context, fqmn string, payload Payload, metadata map[string][]string) (*Outcome, *CallError) {
	w := e.World()
	if w == nil {
		return nil, newCallError(KindInternal, "server state not initialized")
	}

	spec, err := w.Schema.LookupMethod(fqmn)
	if err != nil {
		return nil, newCallError(KindMethodUnknown, "unknown method %s", fqmn)
	}

	reqType, err := w.Schema.MessageType(string(spec.Input.FullName()))
	if err != nil {
		return nil, newCallError(KindInternal, "request type for %s: %v", fqmn, err)
	}

	var msg *dynamicpb.Message
	if payload.JSON {
		msg, err = reqType.DecodeJSON(payload.Data)
	} else {
		msg, err = reqType.DecodeWire(payload.Data)
	}
	if err != nil {
		return nil, newCallError(KindDecodeError, "%v", err)
	}

	return e.complete(ctx, w, spec, msg, metadata)
}

// DispatchMessage runs the pipeline for a request already decoded by the
// caller's codec, against the world the caller looked the method up in.
// Gateways that receive through their own transport decode path use this
// so one call never spans two world generations.
func (e *Engine) DispatchMessage(ctx context.Context, w *World, spec schema.MethodSpec, msg *dynamicpb.Message, metadata map[string][]string) (*Outcome, *CallError) {
	if w == nil {
		return nil, newCallError(KindInternal, "server state not initialized")
	}
	return e.complete(ctx, w, spec, msg, metadata)
}

func (e *Engine) complete(ctx context.Context, w *World, spec schema.MethodSpec, msg *dynamicpb.Message, metadata map[string][]string) (*Outcome, *CallError) {
	fqmn := spec.FQMN
	replyType, err := w.Schema.MessageType(string(spec.Output.FullName()))
	if err != nil {
		return nil, newCallError(KindInternal, "response type for %s: %v", fqmn, err)
	}

	value := schema.ToValue(msg)

	if w.Validator != nil {
		res := w.Validator.Validate(spec.Input, value)
		recordValidation(res)
		if e.cfg.DebugValidation && !res.OK() {
			e.log.Debug("validation failed", "method", fqmn, "violations", res.Violations)
		}
		if !res.OK() {
			return nil, validationError(res.Violations)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, newCallError(KindCancelled, "call cancelled: %v", err)
	}

	opt, expl, matched := selectRule(w, spec.RuleKey, metadata, value)
	if !matched {
		return nil, newCallError(KindRuleNotMatched, "no rule matched %s", fqmn)
	}

	out := &Outcome{
		Method:    spec,
		ReplyType: replyType,
		Trailers:  opt.Trailers,
		Delay:     time.Duration(opt.DelayMS) * time.Millisecond,
		Rule:      expl,
	}

	if opt.IsStream() && spec.ServerStream {
		out.Stream = &stream.Plan{
			Items:       opt.StreamItems,
			Delay:       time.Duration(opt.StreamDelayMS) * time.Millisecond,
			Loop:        opt.StreamLoop,
			RandomOrder: opt.StreamRandomOrder,
		}
		return out, nil
	}

	reply, encErr := replyType.FromValue(opt.Body)
	if encErr != nil {
		return nil, newCallError(KindEncodeError, "encoding reply for %s: %v", fqmn, encErr)
	}

	if spec.ServerStream {
		// A non-stream rule on a streaming method emits its body as a
		// single item.
		out.Stream = &stream.Plan{Items: []map[string]any{opt.Body}}
		return out, nil
	}

	out.Reply = reply
	return out, nil
}

func selectRule(w *World, ruleKey string, metadata map[string][]string, value map[string]any) (*rules.ResponseOption, *matching.Explanation, bool) {
	incCounter(metrics.MatchAttemptsTotal)

	opt, expl, ok := matching.Select(w.Rules.Candidates(ruleKey), metadata, value)
	if !ok {
		incCounter(metrics.MatchMissesTotal)
		return nil, expl, false
	}

	incCounter(metrics.MatchesTotal)
	if metrics.MatchesByRule != nil {
		if vec, err := metrics.MatchesByRule.WithLabels(ruleKey); err == nil {
			vec.Inc()
		}
	}
	return opt, expl, true
}

// recordValidation feeds counters and the event ring. Metrics are nil
// until metrics.Init, so tests exercising the engine alone stay quiet.
func recordValidation(res *validation.Result) {
	incCounter(metrics.ValidationChecksTotal)

	if !res.OK() {
		incCounter(metrics.ValidationFailuresTotal)
		for _, v := range res.Violations {
			if metrics.ValidationFailuresByType != nil {
				if vec, err := metrics.ValidationFailuresByType.WithLabels(v.ConstraintID); err == nil {
					vec.Inc()
				}
			}
		}
	}

	if metrics.Events == nil {
		return
	}
	if res.OK() && len(res.Unsupported) == 0 {
		metrics.Events.Push(metrics.Event{TypeName: res.TypeName, Result: metrics.EventResultOK})
		return
	}
	for _, v := range res.Violations {
		metrics.Events.Push(metrics.Event{
			TypeName:     res.TypeName,
			Result:       metrics.EventResultViolation,
			ConstraintID: v.ConstraintID,
			Message:      v.Message,
		})
	}
	for _, v := range res.Unsupported {
		metrics.Events.Push(metrics.Event{
			TypeName:     res.TypeName,
			Result:       metrics.EventResultUnsupported,
			ConstraintID: v.ConstraintID,
			Message:      v.Message,
		})
	}
}

func incCounter(c *metrics.Counter) {
	if c != nil {
		_ = c.Inc()
	}
}
