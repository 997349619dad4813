package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/wishmock/wishmock/pkg/config"
	"github.com/wishmock/wishmock/pkg/rules"
	"github.com/wishmock/wishmock/pkg/schema"
	"github.com/wishmock/wishmock/pkg/validation"
)

// World is one immutable generation of server state. In-flight calls hold
// the world they started with; reloads publish a fresh one.
type World struct {
	Schema    *schema.Snapshot
	Rules     *rules.Set
	Validator *validation.Validator

	// ProtoStatus and RuleStatus report per-file load outcomes.
	ProtoStatus []schema.FileStatus
	RuleStatus  []rules.FileStatus

	// Orphans are rule keys that resolve to no method in the snapshot.
	Orphans []string

	BuiltAt time.Time
}

// Engine owns the current world and runs the per-call pipeline.
type Engine struct {
	cfg  *config.Config
	log  *slog.Logger
	eval validation.ExpressionEvaluator

	world atomic.Pointer[World]
}

// New builds an engine. The CEL evaluator is constructed once here; if
// that fails the engine still works, reporting CEL constraints as
// unsupported.
func New(cfg *config.Config, log *slog.Logger) *Engine {
	e := &Engine{cfg: cfg, log: log}

	eval, err := validation.NewCELEvaluator()
	if err != nil {
		log.Warn("CEL evaluator unavailable, CEL constraints will be reported as unsupported", "error", err)
	} else {
		e.eval = eval
	}
	return e
}

// World returns the current world, or nil before the first Rebuild.
func (e *Engine) World() *World {
	return e.world.Load()
}

// Rebuild compiles protos, extracts constraints and parses rules into a
// fresh world, then swaps it in.
//
// On the initial build, per-file failures are tolerated and surfaced in
// the statuses. On a reload, any failed rule file aborts the swap: the
// previous world stays live and the error names the file.
func (e *Engine) Rebuild(ctx context.Context) error {
	started := time.Now()

	snap, protoStatus, err := schema.Load(ctx, e.cfg.ProtoDir, e.cfg.ImportPaths)
	if err != nil {
		return fmt.Errorf("loading protos: %w", err)
	}

	ruleSet, ruleStatus, err := rules.Load(e.cfg.RulesDir)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	ruleStatus = append(ruleStatus, streamShapeIssues(snap, ruleSet)...)

	if e.world.Load() != nil {
		for _, st := range ruleStatus {
			if !st.OK {
				return fmt.Errorf("rule file %s: %s", st.File, st.Error)
			}
		}
	}

	var validator *validation.Validator
	if e.cfg.ValidationEnabled {
		ext, err := validation.Extract(snap.MessageDescriptors(), e.cfg.ValidationSource)
		if err != nil {
			return fmt.Errorf("extracting constraints: %w", err)
		}
		experimental := e.cfg.MessageCEL == config.CELExperimental
		validator = validation.NewValidator(ext, e.cfg.ValidationMode, experimental, e.eval)
	}

	world := &World{
		Schema:      snap,
		Rules:       ruleSet,
		Validator:   validator,
		ProtoStatus: protoStatus,
		RuleStatus:  ruleStatus,
		Orphans:     orphanKeys(snap, ruleSet),
		BuiltAt:     time.Now(),
	}
	e.world.Store(world)

	attrs := []any{
		"methods", snap.MethodCount(),
		"rules", ruleSet.Len(),
		"orphans", len(world.Orphans),
		"elapsed", time.Since(started),
	}
	if validator != nil {
		attrs = append(attrs, "validation_source", validator.Source(), "constrained_types", validator.ConstrainedTypes())
	}
	e.log.Info("world rebuilt", attrs...)
	return nil
}

// streamShapeIssues flags rule files that put stream_items on a method
// that does not stream its response.
func streamShapeIssues(snap *schema.Snapshot, set *rules.Set) []rules.FileStatus {
	var out []rules.FileStatus
	seen := make(map[string]bool)

	for _, key := range set.Keys() {
		methods := snap.MethodsByRuleKey(key)
		if len(methods) == 0 {
			continue
		}
		streams := false
		for _, m := range methods {
			if m.ServerStream {
				streams = true
			}
		}
		if streams {
			continue
		}
		for _, opt := range set.Candidates(key) {
			if opt.IsStream() && !seen[opt.Source] {
				seen[opt.Source] = true
				out = append(out, rules.FileStatus{
					File:  opt.Source,
					Error: fmt.Sprintf("stream_items on unary method %s", key),
				})
			}
		}
	}
	return out
}

func orphanKeys(snap *schema.Snapshot, set *rules.Set) []string {
	var orphans []string
	for _, key := range set.Keys() {
		if len(snap.MethodsByRuleKey(key)) == 0 {
			orphans = append(orphans, key)
		}
	}
	sort.Strings(orphans)
	return orphans
}
