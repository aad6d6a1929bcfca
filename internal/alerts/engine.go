// Package alerts provides the CEL-Go based alert rule engine. Rules are
// boolean expressions over an annotated transaction; any rule returning
// true marks the annotation as alerted.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based alert rule engine.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.AlertRule
	Program cel.Program
}

// NewEngine creates an alert rule engine with the annotation variables
// available to expressions.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("fee", cel.DoubleType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("chain", cel.StringType),
		cel.Variable("flags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule *domain.AlertRule) error {
	if rule == nil {
		return fmt.Errorf("alert rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiled[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *Engine) LoadRules(rules []*domain.AlertRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules. Enables hot-reloading from the
// repository.
func (e *Engine) ReloadRules(rules []*domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.compiled = next
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.AlertRule, 0, len(e.compiled))
	for _, compiled := range e.compiled {
		rules = append(rules, compiled.Rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Evaluate runs every loaded rule against an annotated transaction and
// returns the matches sorted by rule ID. A rule that fails to evaluate is
// logged and skipped; alerting must not take down the annotation path.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, tx *domain.Transaction, ann *domain.Annotation) []domain.AlertMatch {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiled))
	for _, rule := range e.compiled {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	riskScore, _ := ann.RiskScore.Float64()
	amount, _ := tx.Amount.Float64()
	fee, _ := tx.Fee.Float64()

	flags := ann.RiskFlags
	if flags == nil {
		flags = []string{}
	}

	activation := map[string]interface{}{
		"risk":      riskScore,
		"category":  ann.Category,
		"amount":    amount,
		"fee":       fee,
		"direction": string(domain.NormalizeDirection(tx.Direction)),
		"chain":     tx.Chain,
		"flags":     flags,
	}

	var matches []domain.AlertMatch
	for _, compiled := range rules {
		out, _, err := compiled.Program.ContextEval(ctx, activation)
		if err != nil {
			slog.Warn("alert rule evaluation failed",
				"tenant_id", tenantID,
				"rule_id", compiled.Rule.ID,
				"error", err,
			)
			continue
		}

		if out == types.True {
			reason := compiled.Rule.Description
			if reason == "" {
				reason = compiled.Rule.Expression
			}
			matches = append(matches, domain.AlertMatch{
				RuleID:   compiled.Rule.ID,
				Name:     compiled.Rule.Name,
				Severity: compiled.Rule.Severity,
				Reason:   reason,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].RuleID < matches[j].RuleID })
	return matches
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.AlertRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}
