package funcs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"

	"github.com/Tensibai/si/pkg/engine"
)

// DefaultRegoRule is the rule evaluated when a rego function names no handler.
const DefaultRegoRule = "result"

// RegoBackend evaluates rego modules. The binding args are the policy input and the
// value of data.<package>.<handler> is the result.
type RegoBackend struct {
	defaultRule string
}

// NewRegoBackend creates a rego backend. rule overrides DefaultRegoRule.
func NewRegoBackend(rule string) *RegoBackend {
	if rule == "" {
		rule = DefaultRegoRule
	}
	return &RegoBackend{defaultRule: rule}
}

// printCollector gathers print() output of one evaluation.
type printCollector struct {
	mu    sync.Mutex
	lines []string
}

func (p *printCollector) Print(_ print.Context, msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, msg)
	return nil
}

// Execute implements Backend.
func (rb *RegoBackend) Execute(ctx context.Context, req engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	input, err := decodeArgs(req.Args)
	if err != nil {
		return nil, err
	}

	rule := req.Handler
	if rule == "" {
		rule = rb.defaultRule
	}
	query := fmt.Sprintf("data.%s.%s", extractPackageName(req.Code), rule)

	collector := &printCollector{}
	r := rego.New(
		rego.Module(req.FuncName+".rego", req.Code),
		rego.Query(query),
		rego.Input(input),
		rego.EnablePrintStatements(true),
		rego.PrintHook(collector),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "RegoError", Message: err.Error()}
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, &engine.ExecutionFailure{Kind: "RegoUndefined", Message: query + " is undefined"}
	}

	value, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rego result: %w", err)
	}
	return &engine.ExecutionResult{
		Value:            value,
		UnprocessedValue: value,
		Output:           collector.lines,
	}, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "si"
}
