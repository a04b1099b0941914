package rules_test

import (
	"errors"
	"testing"

	"sentinel/internal/config"
	"sentinel/internal/rules"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

func TestEvaluateMatchesInOrder(t *testing.T) {
	engine, err := rules.Compile([]config.EscalationRule{
		{Name: "low-trust-payment", Expression: `kind == "payment" && trust < 3.0`, Priority: "medium"},
		{Name: "sacred", Expression: `"sacred_or_ceremonial_content" in flags`, Priority: "high"},
		{Name: "fraud-watch", Expression: `has(scores.fraud) && scores.fraud > 0.5`, Priority: "low"},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if engine.Len() != 3 {
		t.Fatalf("expected 3 rules, got %d", engine.Len())
	}

	matches, err := engine.Evaluate(rules.Input{
		Scores: map[string]float64{"fraud": 0.6},
		Trust:  2,
		Kind:   "payment",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(matches) != 2 || matches[0].Name != "low-trust-payment" || matches[1].Name != "fraud-watch" {
		t.Fatalf("unexpected matches: %#v", matches)
	}
	if got := rules.MaxPriority(matches); got != store.PriorityMedium {
		t.Fatalf("expected medium, got %s", got)
	}

	matches, err = engine.Evaluate(rules.Input{
		Scores: map[string]float64{"content": 0.1, "cultural": 1},
		Trust:  7,
		Kind:   "upload",
		Flags:  []string{"sacred_or_ceremonial_content"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Priority != store.PriorityHigh {
		t.Fatalf("unexpected upload matches: %#v", matches)
	}
}

func TestCompileRejectsBadRules(t *testing.T) {
	cases := []config.EscalationRule{
		{Name: "syntax", Expression: `scores.fraud >`},
		{Name: "undeclared", Expression: `amount > 10`},
		{Name: "not-bool", Expression: `trust + 1.0`},
	}
	for _, def := range cases {
		if _, err := rules.Compile([]config.EscalationRule{def}); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", def.Name, err)
		}
	}
}

func TestEvaluateKeepsMatchesWhenOneRuleErrors(t *testing.T) {
	engine, err := rules.Compile([]config.EscalationRule{
		{Name: "unguarded", Expression: `scores.fraud > 0.5`},
		{Name: "always", Expression: `true`, Priority: "low"},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	matches, err := engine.Evaluate(rules.Input{Kind: "upload"})
	if err == nil {
		t.Fatal("expected missing key error from unguarded rule")
	}
	if len(matches) != 1 || matches[0].Name != "always" {
		t.Fatalf("unexpected matches: %#v", matches)
	}
}

func TestEmptyEngineNeverMatches(t *testing.T) {
	engine, err := rules.Compile(nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	matches, err := engine.Evaluate(rules.Input{Trust: 0})
	if err != nil || len(matches) != 0 {
		t.Fatalf("Evaluate = %v, %v; want none", matches, err)
	}
}
