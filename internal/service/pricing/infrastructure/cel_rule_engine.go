// internal/service/pricing/infrastructure/cel_rule_engine.go
package infrastructure

import (
	"fmt"
	"sync"

	"circuitbay/internal/service/pricing/domain"

	"github.com/google/cel-go/cel"
)

// CelRuleEngine 是 domain.RuleEngine 的 CEL 实现。
// 梯度规则以 CEL 表达式配置在目录里，这里负责编译、缓存和求值。
type CelRuleEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewCelRuleEngine() (*CelRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("quantity", cel.IntType),
		cel.Variable("is_bulk", cel.BoolType),
		cel.Variable("total", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CelRuleEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate 对一条规则求值。编译结果按表达式文本缓存。
func (e *CelRuleEngine) Evaluate(rule string, fact domain.Fact) (bool, error) {
	prg, err := e.program(rule)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"quantity": int64(fact.Quantity),
		"is_bulk":  fact.IsBulk,
		"total":    fact.Total,
	})
	if err != nil {
		return false, fmt.Errorf("rule evaluation failed: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean", rule)
	}
	return result, nil
}

func (e *CelRuleEngine) program(rule string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[rule]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(rule)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid tier rule %q: %w", rule, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for rule %q: %w", rule, err)
	}

	e.mu.Lock()
	e.programs[rule] = prg
	e.mu.Unlock()
	return prg, nil
}
