// internal/service/inventory/application/validator.go
package application

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/apperr"
	"orderflow/internal/service/inventory/domain"
)

// Validator 针对当前库存和促销校验一个新订单的每一行
type Validator struct {
	catalog domain.Catalog
	tracer  trace.Tracer
}

func NewValidator(catalog domain.Catalog) *Validator {
	return &Validator{catalog: catalog, tracer: otel.Tracer("orderflow/inventory")}
}

// Validate 返回订单的裁决。查询出错时返回 error，由调用方发布错误形态的裁决。
func (v *Validator) Validate(ctx context.Context, evt contract.OrderCreated) (contract.ValidationVerdict, error) {
	ctx, span := v.tracer.Start(ctx, "inventory.Validate", trace.WithAttributes(
		attribute.String("order.id", evt.OrderID),
		attribute.Int("order.lines", len(evt.Lines)),
	))
	defer span.End()

	details := make([]contract.LineVerdict, 0, len(evt.Lines))
	for _, line := range evt.Lines {
		d, err := v.validateLine(ctx, line)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "validate line")
			return contract.ValidationVerdict{}, err
		}
		details = append(details, d)
	}

	verdict := contract.NewVerdict(evt.OrderID, details)
	span.SetAttributes(
		attribute.Bool("verdict.stock_valid", verdict.IsStockValid),
		attribute.Bool("verdict.has_promo", verdict.HasPromoItems),
	)
	return verdict, nil
}

func (v *Validator) validateLine(ctx context.Context, line contract.OrderLine) (contract.LineVerdict, error) {
	d := contract.LineVerdict{ProductID: line.ProductID, Requested: line.Quantity}

	product, err := v.catalog.FindProduct(ctx, line.ProductID)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		d.Reason = contract.ReasonNotFound
	case err != nil:
		return d, err
	case !product.Active:
		d.Available = product.Stock
		d.Reason = contract.ReasonInactive
	default:
		d.Available = product.Stock
		d.Valid = product.Stock >= line.Quantity
		if !d.Valid {
			d.Reason = contract.ReasonInsufficientStock
		}
	}

	// 促销上限与库存结果无关，单独查询
	if line.PromotionID != "" {
		promo, err := v.catalog.FindPromotion(ctx, line.PromotionID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return d, err
		}
		ceiling := promo.Ceiling()
		d.HasPromo = true
		d.PromotionID = line.PromotionID
		d.PromoCeiling = &ceiling
	}
	return d, nil
}
