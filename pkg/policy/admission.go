// Package policy evaluates operator-defined admission rules for vote
// submissions. Rules are CEL expressions that must all evaluate to true.
package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
)

// Input is the data a rule may inspect.
type Input struct {
	Submission *contracts.VoteSubmission
	Proposal   *contracts.Proposal
	Now        int64
}

// Admission decides whether a submission may be stored.
type Admission interface {
	Admit(ctx context.Context, in Input) error
}

// AllowAll admits every submission.
var AllowAll Admission = allowAll{}

type allowAll struct{}

func (allowAll) Admit(context.Context, Input) error { return nil }

// CELAdmission evaluates compiled CEL rules.
type CELAdmission struct {
	rules    []string
	programs []cel.Program
}

// NewCELAdmission compiles rules. Any compile error is returned here so a
// bad rule set never reaches the processor.
func NewCELAdmission(rules []string) (*CELAdmission, error) {
	env, err := cel.NewEnv(
		cel.Variable("vote", cel.DynType),
		cel.Variable("proposal", cel.DynType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	a := &CELAdmission{}
	for i, rule := range rules {
		ast, issues := env.Compile(rule)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy rule %d: compile: %w", i, issues.Err())
		}
		if ot := ast.OutputType(); !ot.IsExactType(cel.BoolType) && !ot.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("policy rule %d: must evaluate to bool, got %s", i, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d: program: %w", i, err)
		}
		a.rules = append(a.rules, rule)
		a.programs = append(a.programs, prg)
	}
	return a, nil
}

// Rules returns the source of the compiled rules.
func (a *CELAdmission) Rules() []string {
	out := make([]string, len(a.rules))
	copy(out, a.rules)
	return out
}

// Admit returns contracts.ErrPolicyDenied naming the first rule that is not
// satisfied. Evaluation errors also deny.
func (a *CELAdmission) Admit(ctx context.Context, in Input) error {
	if len(a.programs) == 0 {
		return nil
	}
	activation := activation(in)
	for i, prg := range a.programs {
		out, _, err := prg.ContextEval(ctx, activation)
		if err != nil {
			return fmt.Errorf("%w: rule %d: %v", contracts.ErrPolicyDenied, i, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return fmt.Errorf("%w: rule %d returned %T", contracts.ErrPolicyDenied, i, out.Value())
		}
		if !allowed {
			return fmt.Errorf("%w: rule %d (%s)", contracts.ErrPolicyDenied, i, a.rules[i])
		}
	}
	return nil
}

func activation(in Input) map[string]any {
	vote := map[string]any{}
	if s := in.Submission; s != nil {
		vote["proposal"] = s.Proposal
		vote["space"] = s.Space
		vote["type"] = s.Type
		vote["version"] = s.Version
		vote["timestamp"] = s.Timestamp
		vote["weighted"] = s.Choice.Kind() == contracts.ChoiceWeighted
		if n, ok := s.Choice.Scalar(); ok {
			vote["choice"] = int64(n)
		} else if w, err := s.Choice.Weights(); err == nil {
			vote["weights"] = w
		}
	}

	proposal := map[string]any{}
	if p := in.Proposal; p != nil {
		proposal["id"] = p.ID.Hex()
		proposal["deadline"] = p.Deadline
		proposal["choices"] = int64(p.Choices)
		proposal["kind"] = p.Kind.String()
	}

	return map[string]any{
		"vote":     vote,
		"proposal": proposal,
		"now":      in.Now,
	}
}
