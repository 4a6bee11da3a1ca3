// internal/service/order/infrastructure/adapter/policy_cel_adapter.go
package adapter

import (
	"context"

	"fulfillment/internal/service/order/domain"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// CELAdmissionPolicy 用一个 CEL 布尔表达式决定订单是否受理，例如：
//
//	order.totalPrice <= 5000.0 && size(order.items) <= 20
type CELAdmissionPolicy struct {
	expression string
	program    cel.Program
}

// NewCELAdmissionPolicy 在启动时编译表达式，编译失败或静态类型不是 bool 时报错。
func NewCELAdmissionPolicy(expression string) (*CELAdmissionPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	ast, iss := env.Compile(expression)
	if iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile admission policy %q", expression)
	}
	// dyn 结果（例如 order.isPaid）在求值时再检查
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, errors.Errorf("admission policy must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}
	return &CELAdmissionPolicy{expression: expression, program: prg}, nil
}

func (p *CELAdmissionPolicy) Admit(ctx context.Context, order *domain.Order) (bool, error) {
	out, _, err := p.program.ContextEval(ctx, map[string]any{"order": orderActivation(order)})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate admission policy %q", p.expression)
	}
	admitted, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("admission policy returned %T", out.Value())
	}
	return admitted, nil
}

func orderActivation(order *domain.Order) map[string]any {
	items := make([]any, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, map[string]any{
			"productId": it.ProductID,
			"amount":    int64(it.Amount),
		})
	}
	return map[string]any{
		"user":          order.UserID,
		"paymentMethod": order.PaymentMethod,
		"itemsPrice":    order.ItemsPrice,
		"shippingPrice": order.ShippingPrice,
		"totalPrice":    order.TotalPrice,
		"isPaid":        order.IsPaid,
		"items":         items,
	}
}
