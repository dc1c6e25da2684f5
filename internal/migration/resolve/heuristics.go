package resolve

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"ebbridge/internal/config"
	"ebbridge/internal/domain/mappings"
)

// Heuristics classifies unmapped ledgers with an ordered list of CEL rules.
// Rules only ever produce mapping proposals for operator review; they never
// create mappings on their own.
//
// Each expression sees three variables: code (int), number (string) and
// name (string, lowercased). The first rule that evaluates to true wins.
type Heuristics struct {
	rules []compiledRule
}

type compiledRule struct {
	class   mappings.AccountClass
	program cel.Program
}

// defaultRules reproduce the keyword heuristics the source bookkeeping data
// responds to. Operators can replace them per installation.
var defaultRules = []config.HeuristicRule{
	{Class: "bank", Expr: `name.contains("bank") || name.contains("kas")`},
	{Class: "tax", Expr: `name.contains("btw") || name.contains("vat")`},
	{Class: "receivable", Expr: `name.contains("debiteuren")`},
	{Class: "payable", Expr: `name.contains("crediteuren")`},
	{Class: "fixed_asset", Expr: `number.startsWith("0") && number.size() == 5`},
	{Class: "current_asset", Expr: `number.startsWith("1")`},
	{Class: "income", Expr: `number.startsWith("8") || name.contains("contributie") || name.contains("donatie") || name.contains("opbrengst")`},
	{Class: "expense", Expr: `number.startsWith("4") || number.startsWith("6") || number.startsWith("7")`},
}

// NewHeuristics compiles the configured rules, falling back to the built-in
// set when none are configured.
func NewHeuristics(rules []config.HeuristicRule) (*Heuristics, error) {
	if len(rules) == 0 {
		rules = defaultRules
	}

	env, err := cel.NewEnv(
		cel.Variable("code", cel.IntType),
		cel.Variable("number", cel.StringType),
		cel.Variable("name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("heuristics env: %w", err)
	}

	h := &Heuristics{}
	for _, rule := range rules {
		ast, iss := env.Compile(rule.Expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("heuristic rule %q: %w", rule.Expr, iss.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("heuristic rule %q: %w", rule.Expr, err)
		}
		h.rules = append(h.rules, compiledRule{
			class:   mappings.AccountClass(rule.Class),
			program: prg,
		})
	}
	return h, nil
}

// Suggest returns the class of the first matching rule, or ClassOther when
// nothing matches. Evaluation errors in a rule skip that rule; a suggestion
// is advisory and must not fail resolution.
func (h *Heuristics) Suggest(code int64, number, name string) mappings.AccountClass {
	vars := map[string]any{
		"code":   code,
		"number": number,
		"name":   name,
	}
	for _, rule := range h.rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return rule.class
		}
	}
	return mappings.ClassOther
}
