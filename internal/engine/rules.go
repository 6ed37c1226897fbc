package engine

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"chaos-orm/internal/instrument"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
)

// fieldChecks holds the operators of field rules. A check reports whether
// value satisfies the rule argument; values of a type the operator does not
// apply to pass.
var fieldChecks = map[string]func(value, arg any) bool{
	"min": func(v, arg any) bool {
		n, limit, ok := numbers(v, arg)
		return !ok || n >= limit
	},
	"max": func(v, arg any) bool {
		n, limit, ok := numbers(v, arg)
		return !ok || n <= limit
	},
	"min_length": func(v, arg any) bool {
		n, limit, ok := length(v, arg)
		return !ok || n >= limit
	},
	"max_length": func(v, arg any) bool {
		n, limit, ok := length(v, arg)
		return !ok || n <= limit
	},
	"pattern": func(v, arg any) bool {
		s, ok := v.(string)
		if !ok {
			return true
		}
		re, err := pattern(arg)
		return err == nil && re.MatchString(s)
	},
}

// compiled caches expression programs and rule patterns by kind and source.
var compiled sync.Map

// applyRules runs the rules of entity against rec. fields holds the
// column values of rec and is what expressions see as `record`; attached
// relations are exposed as `related` and the persisted flag as `exists`.
// Field rules run before expression rules. Computed rules only run once
// nothing failed and store their value on rec.
func applyRules(ctx context.Context, entity *metadata.Entity, rec *record.Record, fields map[string]any) []ErrorDetail {
	if len(entity.Rules) == 0 {
		return nil
	}
	_, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "evaluate")
	defer span.End()
	span.SetEntity(entity.Name, "")

	env := ruleEnv(rec, fields)
	var errs []ErrorDetail
	for _, kind := range []string{"field", "expression"} {
		for _, rule := range entity.Rules {
			if rule.Type != kind {
				continue
			}
			detail := checkRule(rule, fields, env)
			if detail == nil {
				continue
			}
			errs = append(errs, *detail)
			if rule.StopOnFail {
				span.SetStatus("error")
				return errs
			}
		}
	}

	if len(errs) == 0 {
		for _, rule := range entity.Rules {
			if rule.Type != "computed" {
				continue
			}
			v, err := evaluate(rule.Expression, false, env)
			if err != nil {
				errs = append(errs, ErrorDetail{Field: rule.Field, Rule: "computed", Message: err.Error()})
				continue
			}
			fields[rule.Field] = v
			rec.Set(rule.Field, v)
		}
	}

	if len(errs) > 0 {
		span.SetStatus("error")
	} else {
		span.SetStatus("ok")
	}
	return errs
}

// checkRule returns the failure of a field or expression rule, or nil.
func checkRule(rule *metadata.Rule, fields, env map[string]any) *ErrorDetail {
	if rule.Type == "expression" {
		violated, err := evaluate(rule.Expression, true, env)
		if err != nil {
			return &ErrorDetail{Rule: "expression", Message: err.Error()}
		}
		if b, _ := violated.(bool); !b {
			return nil
		}
		return &ErrorDetail{Rule: "expression", Message: message(rule, "expression rule violated")}
	}

	value := fields[rule.Field]
	if value == nil {
		return nil
	}
	check, ok := fieldChecks[rule.Operator]
	if !ok {
		return &ErrorDetail{Field: rule.Field, Rule: rule.Operator, Message: fmt.Sprintf("unknown rule operator %q", rule.Operator)}
	}
	if check(value, rule.Value) {
		return nil
	}
	return &ErrorDetail{
		Field:   rule.Field,
		Rule:    rule.Operator,
		Message: message(rule, fmt.Sprintf("%s failed %s validation", rule.Field, rule.Operator)),
	}
}

func ruleEnv(rec *record.Record, fields map[string]any) map[string]any {
	related := make(map[string]any)
	for _, name := range rec.Fields() {
		switch v := rec.Get(name).(type) {
		case *record.Record:
			related[name] = v.Data()
		case record.Collection:
			related[name] = v.Data()
		}
	}
	return map[string]any{
		"record":  fields,
		"related": related,
		"exists":  rec.Exists(),
	}
}

// evaluate runs source against env. Boolean expressions must yield a bool.
func evaluate(source string, boolean bool, env map[string]any) (any, error) {
	key := "any:" + source
	opts := []expr.Option{}
	if boolean {
		key = "bool:" + source
		opts = append(opts, expr.AsBool())
	}
	prog, ok := compiled.Load(key)
	if !ok {
		p, err := expr.Compile(source, opts...)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", source, err)
		}
		prog, _ = compiled.LoadOrStore(key, p)
	}
	out, err := expr.Run(prog.(*vm.Program), env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", source, err)
	}
	return out, nil
}

func message(rule *metadata.Rule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}

func numbers(v, arg any) (float64, float64, bool) {
	n, ok := number(v)
	if !ok {
		return 0, 0, false
	}
	limit, ok := number(arg)
	return n, limit, ok
}

// length counts the characters of strings and the items of lists.
func length(v, arg any) (float64, float64, bool) {
	limit, ok := number(arg)
	if !ok {
		return 0, 0, false
	}
	switch v := v.(type) {
	case string:
		return float64(utf8.RuneCountInString(v)), limit, true
	case []any:
		return float64(len(v)), limit, true
	}
	return 0, 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func pattern(arg any) (*regexp.Regexp, error) {
	s, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("pattern must be a string, got %T", arg)
	}
	if re, ok := compiled.Load("re:" + s); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return nil, err
	}
	compiled.Store("re:"+s, re)
	return re, nil
}
