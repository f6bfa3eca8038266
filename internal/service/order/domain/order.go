// internal/service/order/domain/order.go
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/apperr"
)

// 金额列是 decimal(12,2)：最多两位小数，绝对值小于 10^10
const moneyScale = 2

var maxMoney = decimal.New(1, 12-moneyScale)

// fitsMoney 判断金额能否原样写入金额列，不会被舍入或溢出
func fitsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(moneyScale)) && d.Abs().LessThan(maxMoney)
}

// OrderLine 订单行，创建后不可变
type OrderLine struct {
	ProductID      string
	Quantity       int
	UnitPrice      decimal.Decimal
	PromotionID    string
	PromoDeduction decimal.Decimal
	LineTotal      decimal.Decimal
}

// Order 是订单聚合的根实体
type Order struct {
	ID         uint64 // 存储主键，不对外暴露
	Identifier string // 对外的订单号
	Owner      string
	Status     Status
	Total      decimal.Decimal
	Reason     string
	Lines      []OrderLine
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineInput 是创建订单时的一行输入
type LineInput struct {
	ProductID      string
	Quantity       int
	UnitPrice      decimal.Decimal
	PromotionID    string
	PromoDeduction decimal.Decimal
}

// NewOrder 校验输入并创建一个 pending 状态的订单。
// declaredTotal 不为空时必须与各行小计之和一致。
func NewOrder(owner string, lines []LineInput, declaredTotal *decimal.Decimal, now time.Time) (*Order, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, apperr.Validation("owner is required")
	}
	if len(lines) == 0 {
		return nil, apperr.Validation("order must contain at least one line")
	}

	order := &Order{
		Identifier: uuid.NewString(),
		Owner:      owner,
		Status:     StatusPending,
		Total:      decimal.Zero,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	for i, in := range lines {
		line, err := newLine(in)
		if err != nil {
			return nil, apperr.Validation("line %d: %s", i+1, err.Error())
		}
		order.Lines = append(order.Lines, line)
		order.Total = order.Total.Add(line.LineTotal)
	}

	if !fitsMoney(order.Total) {
		return nil, apperr.Validation("order total %s exceeds %s", order.Total.String(), maxMoney.String())
	}
	if declaredTotal != nil && !declaredTotal.Equal(order.Total) {
		return nil, apperr.Validation("total %s does not match sum of line totals %s", declaredTotal.String(), order.Total.String())
	}
	return order, nil
}

func newLine(in LineInput) (OrderLine, error) {
	productID := strings.TrimSpace(in.ProductID)
	switch {
	case productID == "":
		return OrderLine{}, apperr.Validation("productId is required")
	case in.Quantity < 1:
		return OrderLine{}, apperr.Validation("quantity must be at least 1")
	case in.UnitPrice.IsNegative():
		return OrderLine{}, apperr.Validation("unitPrice must not be negative")
	case in.PromoDeduction.IsNegative():
		return OrderLine{}, apperr.Validation("promoDeduction must not be negative")
	case !fitsMoney(in.UnitPrice):
		return OrderLine{}, apperr.Validation("unitPrice %s must have at most %d decimal places and be below %s", in.UnitPrice.String(), moneyScale, maxMoney.String())
	case !fitsMoney(in.PromoDeduction):
		return OrderLine{}, apperr.Validation("promoDeduction %s must have at most %d decimal places and be below %s", in.PromoDeduction.String(), moneyScale, maxMoney.String())
	}

	gross := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
	if !fitsMoney(gross) {
		return OrderLine{}, apperr.Validation("line amount %s exceeds %s", gross.String(), maxMoney.String())
	}
	if in.PromoDeduction.GreaterThan(gross) {
		return OrderLine{}, apperr.Validation("promoDeduction %s exceeds line amount %s", in.PromoDeduction.String(), gross.String())
	}
	promotionID := strings.TrimSpace(in.PromotionID)
	if promotionID == "" && !in.PromoDeduction.IsZero() {
		return OrderLine{}, apperr.Validation("promoDeduction requires a promotionId")
	}

	return OrderLine{
		ProductID:      productID,
		Quantity:       in.Quantity,
		UnitPrice:      in.UnitPrice,
		PromotionID:    promotionID,
		PromoDeduction: in.PromoDeduction,
		LineTotal:      gross.Sub(in.PromoDeduction),
	}, nil
}

// EventLines 转换为事件载荷中的订单行
func (o *Order) EventLines() []contract.OrderLine {
	out := make([]contract.OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		out = append(out, contract.OrderLine{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			PromotionID: l.PromotionID,
		})
	}
	return out
}
