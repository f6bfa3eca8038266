// internal/service/order/application/saga/rule.go
package saga

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// LimitRule 判断一条促销行在当日已用量基础上是否还能购买 requested 件
type LimitRule interface {
	Allows(used, requested, ceiling int) (bool, error)
}

// CELRule 用 CEL 表达式描述促销限额规则，可用变量：used / requested / ceiling
type CELRule struct {
	expr string
	prg  cel.Program
}

// NewCELRule 编译表达式，表达式必须返回 bool
func NewCELRule(expr string) (*CELRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("used", cel.IntType),
		cel.Variable("requested", cel.IntType),
		cel.Variable("ceiling", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile promo limit rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("promo limit rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build promo limit rule %q", expr)
	}
	return &CELRule{expr: expr, prg: prg}, nil
}

func (r *CELRule) Allows(used, requested, ceiling int) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"used":      int64(used),
		"requested": int64(requested),
		"ceiling":   int64(ceiling),
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate promo limit rule %q", r.expr)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("promo limit rule %q returned %T", r.expr, out.Value())
	}
	return allowed, nil
}

func (r *CELRule) String() string { return r.expr }
