package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error

	programsMu sync.RWMutex
	programs   = map[string]cel.Program{}
)

func eligibilityEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("action_type", cel.StringType),
			cel.Variable("platform_id", cel.StringType),
			cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("impact", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("evidence_count", cel.IntType),
			cel.Variable("evidence_types", cel.ListType(cel.StringType)),
			cel.Variable("account_age_days", cel.IntType),
			cel.Variable("tier", cel.IntType),
		)
	})
	return celEnv, celEnvErr
}

func compileEligibility(expr string) (cel.Program, error) {
	programsMu.RLock()
	prg, ok := programs[expr]
	programsMu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := eligibilityEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	programsMu.Lock()
	defer programsMu.Unlock()
	if prg, ok = programs[expr]; ok {
		return prg, nil
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	prg, err = env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	programs[expr] = prg
	return prg, nil
}

// EligibilityInput is the activation passed to an eligibility expression.
type EligibilityInput struct {
	ActionType     string
	PlatformID     string
	Metadata       map[string]any
	Impact         map[string]any
	EvidenceTypes  []string
	AccountAgeDays int
	Tier           int
}

// Eligible evaluates the action type's eligibility expression. Types without
// an expression are always eligible.
func (s *Snapshot) Eligible(ctx context.Context, in EligibilityInput) (bool, error) {
	rule, ok := s.ActionTypes[in.ActionType]
	if !ok || rule.Eligibility == "" {
		return ok, nil
	}
	prg, err := compileEligibility(rule.Eligibility)
	if err != nil {
		return false, err
	}
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	impact := in.Impact
	if impact == nil {
		impact = map[string]any{}
	}
	types := in.EvidenceTypes
	if types == nil {
		types = []string{}
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{
		"action_type":      in.ActionType,
		"platform_id":      in.PlatformID,
		"metadata":         metadata,
		"impact":           impact,
		"evidence_count":   int64(len(types)),
		"evidence_types":   types,
		"account_age_days": int64(in.AccountAgeDays),
		"tier":             int64(in.Tier),
	})
	if err != nil {
		return false, fmt.Errorf("eligibility %s: %w", in.ActionType, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eligibility %s: result not bool", in.ActionType)
	}
	return v, nil
}
