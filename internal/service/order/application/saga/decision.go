// internal/service/order/application/saga/decision.go
package saga

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"orderflow/internal/contract"
	"orderflow/internal/service/order/domain"
)

// PromoUsage 是订单所有者当日在每个促销上已完成的购买数量，key 为促销 ID
type PromoUsage map[string]int

// Outcome 是一次裁决的处理结论
type Outcome struct {
	Status     domain.Status
	Reason     string
	Violations []contract.PromoViolation
}

// PromotionIDs 返回裁决中需要查询当日用量的促销（去重，保持出现顺序）。
// 只有库存全部有效且带促销时才需要查询。
func PromotionIDs(v contract.ValidationVerdict) []string {
	if v.IsError() || !v.IsStockValid || !v.HasPromoItems {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, d := range v.Details {
		if d.HasPromo && d.PromotionID != "" && !seen[d.PromotionID] {
			seen[d.PromotionID] = true
			ids = append(ids, d.PromotionID)
		}
	}
	return ids
}

// Decide 根据裁决、当日促销用量和限额规则给出目标状态。不做任何 I/O。
// 返回 error 表示裁决本身无法处理，调用方应把订单置为 failed。
func Decide(v contract.ValidationVerdict, usage PromoUsage, rule LimitRule) (Outcome, error) {
	if v.IsError() {
		return Outcome{}, errors.Errorf("inventory validation error: %s", v.Error)
	}

	if !v.IsStockValid {
		var invalid []string
		for _, d := range v.Details {
			if !d.Valid {
				invalid = append(invalid, fmt.Sprintf("product %s %s", d.ProductID, d.Reason.Describe()))
			}
		}
		if len(invalid) == 0 {
			return Outcome{}, errors.New("verdict marked stock invalid but lists no invalid line")
		}
		return Outcome{
			Status: domain.StatusCancelled,
			Reason: "Stock validation failed: " + strings.Join(invalid, "; "),
		}, nil
	}

	if !v.HasPromoItems {
		return Outcome{Status: domain.StatusReadyForPayment}, nil
	}

	// 同一促销的多行累计计算
	requestedSoFar := make(map[string]int)
	var violations []contract.PromoViolation
	for _, d := range v.Details {
		if !d.HasPromo {
			continue
		}
		if d.PromotionID == "" || d.PromoCeiling == nil {
			return Outcome{}, errors.Errorf("promo line for product %s carries no promotion ceiling", d.ProductID)
		}
		used, ok := usage[d.PromotionID]
		if !ok {
			return Outcome{}, errors.Errorf("no usage figure for promotion %s", d.PromotionID)
		}
		requestedSoFar[d.PromotionID] += d.Requested
		requested := requestedSoFar[d.PromotionID]

		allowed, err := rule.Allows(used, requested, *d.PromoCeiling)
		if err != nil {
			return Outcome{}, err
		}
		if !allowed {
			violations = append(violations, contract.PromoViolation{
				ProductID:   d.ProductID,
				PromotionID: d.PromotionID,
				Requested:   requested,
				Ceiling:     *d.PromoCeiling,
				UsedToday:   used,
			})
		}
	}

	if len(violations) == 0 {
		return Outcome{Status: domain.StatusReadyForPayment}, nil
	}
	parts := make([]string, 0, len(violations))
	for _, pv := range violations {
		parts = append(parts, fmt.Sprintf("product %s (promotion %s): requested %d, ceiling %d, already used %d today",
			pv.ProductID, pv.PromotionID, pv.Requested, pv.Ceiling, pv.UsedToday))
	}
	return Outcome{
		Status:     domain.StatusCancelled,
		Reason:     "Promotion limit exceeded: " + strings.Join(parts, "; "),
		Violations: violations,
	}, nil
}
