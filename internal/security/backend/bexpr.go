package backend

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// bexprCache stores compiled go-bexpr evaluators, keyed by filter expression.
var bexprCache = &sync.Map{}

// bexprMatchFunction returns the bexprMatch function registered on the
// casbin enforcer. It evaluates a grant's filter expression against the
// requesting subject's attributes (kind, login, address), restricting a
// grant to the subjects it describes.
func bexprMatchFunction() func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) != 2 {
			return false, fmt.Errorf("bexprMatch requires 2 arguments: filter, attrs")
		}

		filter, ok := args[0].(string)
		if !ok {
			return false, fmt.Errorf("bexprMatch: first argument must be string (filter)")
		}

		attrs, ok := args[1].(map[string]any)
		if !ok {
			return false, fmt.Errorf("bexprMatch: second argument must be map[string]any (attrs)")
		}

		return evaluateBexpr(filter, attrs), nil
	}
}

// evaluateBexpr evaluates a go-bexpr expression against subject attributes.
// An empty filter means no constraint. Invalid expressions and failed
// evaluations deny access.
func evaluateBexpr(filter string, attrs map[string]any) bool {
	if strings.TrimSpace(filter) == "" {
		return true
	}

	if cached, ok := bexprCache.Load(filter); ok {
		matches, err := cached.(*bexpr.Evaluator).Evaluate(attrs)
		if err != nil {
			return false
		}
		return matches
	}

	evaluator, err := bexpr.CreateEvaluator(filter)
	if err != nil {
		return false
	}
	bexprCache.Store(filter, evaluator)

	matches, err := evaluator.Evaluate(attrs)
	if err != nil {
		return false
	}
	return matches
}
