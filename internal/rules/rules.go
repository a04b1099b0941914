// Package rules evaluates operator-defined CEL escalation rules against an
// analysis verdict.
//
// Each rule is a boolean expression over four variables:
//
//	scores  map(string, double)  risk per provider that produced a verdict
//	trust   double               submitter's overall trust score (0-10)
//	kind    string               "upload" or "payment"
//	flags   list(string)         every flag raised by any provider
//
// Providers that were skipped are absent from scores, so expressions should
// guard lookups with has(), for example `has(scores.fraud) && scores.fraud > 0.5`.
package rules

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"sentinel/internal/config"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

// Input is the evaluation context for one submission.
type Input struct {
	Scores map[string]float64
	Trust  float64
	Kind   string
	Flags  []string
}

// Match names a rule that evaluated true and the priority it requests.
type Match struct {
	Name     string
	Priority store.Priority
}

type rule struct {
	name       string
	expression string
	priority   store.Priority
	program    cel.Program
}

// Engine holds compiled rules. It is safe for concurrent use.
type Engine struct {
	rules []rule
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("scores", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("trust", cel.DoubleType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("flags", cel.ListType(cel.StringType)),
	)
}

// Compile parses and type-checks every rule. A nil or empty list yields an
// engine that never matches.
func Compile(defs []config.EscalationRule) (*Engine, error) {
	engine := &Engine{}
	if len(defs) == 0 {
		return engine, nil
	}
	env, err := newEnv()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "rules", "create environment", "", err)
	}
	for _, def := range defs {
		ast, issues := env.Compile(def.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, services.Wrap(services.ErrConfiguration, "rules", "compile",
				fmt.Sprintf("rule %q", def.Name), issues.Err())
		}
		if out := ast.OutputType(); out != nil && out.String() != cel.BoolType.String() && out.String() != cel.DynType.String() {
			return nil, services.Wrap(services.ErrConfiguration, "rules", "compile",
				fmt.Sprintf("rule %q must evaluate to bool, got %s", def.Name, out), nil)
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "rules", "program",
				fmt.Sprintf("rule %q", def.Name), err)
		}
		priority := store.PriorityHigh
		if def.Priority != "" {
			priority, err = store.ParsePriority(def.Priority)
			if err != nil {
				return nil, services.Wrap(services.ErrConfiguration, "rules", "compile",
					fmt.Sprintf("rule %q", def.Name), err)
			}
		}
		engine.rules = append(engine.rules, rule{
			name:       def.Name,
			expression: def.Expression,
			priority:   priority,
			program:    program,
		})
	}
	return engine, nil
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Evaluate runs every rule against in and returns the matches in
// configuration order. A rule that fails to evaluate is skipped and its error
// is joined into the returned error; matches from the other rules are still
// returned.
func (e *Engine) Evaluate(in Input) ([]Match, error) {
	if e == nil || len(e.rules) == 0 {
		return nil, nil
	}
	scores := in.Scores
	if scores == nil {
		scores = map[string]float64{}
	}
	flags := in.Flags
	if flags == nil {
		flags = []string{}
	}
	vars := map[string]any{
		"scores": scores,
		"trust":  in.Trust,
		"kind":   in.Kind,
		"flags":  flags,
	}

	var (
		matches []Match
		errs    []error
	)
	for _, r := range e.rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", r.name, err))
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok {
			errs = append(errs, fmt.Errorf("rule %q: result %v is not a bool", r.name, out.Value()))
			continue
		}
		if matched {
			matches = append(matches, Match{Name: r.name, Priority: r.priority})
		}
	}
	return matches, errors.Join(errs...)
}

// MaxPriority returns the highest priority among matches, or 0 when empty.
func MaxPriority(matches []Match) store.Priority {
	var best store.Priority
	for _, m := range matches {
		if m.Priority > best {
			best = m.Priority
		}
	}
	return best
}
