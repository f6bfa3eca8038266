// internal/contract/verdict.go
package contract

// ReasonCode 是订单行校验失败的原因
type ReasonCode string

const (
	ReasonNotFound          ReasonCode = "not_found"
	ReasonInactive          ReasonCode = "inactive"
	ReasonInsufficientStock ReasonCode = "insufficient_stock"
)

// Describe 返回面向用户的原因描述
func (r ReasonCode) Describe() string {
	switch r {
	case ReasonNotFound:
		return "not found"
	case ReasonInactive:
		return "inactive"
	case ReasonInsufficientStock:
		return "out of stock"
	default:
		return string(r)
	}
}

// LineVerdict 是单个订单行的校验结果
type LineVerdict struct {
	ProductID    string     `json:"productId"`
	Requested    int        `json:"requested"`
	Available    int        `json:"available"`
	Valid        bool       `json:"valid"`
	Reason       ReasonCode `json:"reason,omitempty"`
	PromotionID  string     `json:"promotionId,omitempty"`
	PromoCeiling *int       `json:"promoCeiling,omitempty"`
	HasPromo     bool       `json:"hasPromo"`
}

// ValidationVerdict 由库存服务发布（stock.validation.response）
type ValidationVerdict struct {
	OrderID       string        `json:"orderId"`
	IsStockValid  bool          `json:"isStockValid"`
	HasPromoItems bool          `json:"hasPromoItems"`
	Details       []LineVerdict `json:"details"`
	// Error 非空表示库存服务处理时出错，此时 IsStockValid 恒为 false
	Error string `json:"error,omitempty"`
}

// NewVerdict 按订单行结果汇总：库存有效取 AND，是否含促销取 OR
func NewVerdict(orderID string, details []LineVerdict) ValidationVerdict {
	v := ValidationVerdict{OrderID: orderID, IsStockValid: true, Details: details}
	for _, d := range details {
		v.IsStockValid = v.IsStockValid && d.Valid
		v.HasPromoItems = v.HasPromoItems || d.HasPromo
	}
	return v
}

// ErrorVerdict 构造错误形态的裁决，保证订单侧不会无限等待
func ErrorVerdict(orderID string, err error) ValidationVerdict {
	msg := "validation failed"
	if err != nil {
		msg = err.Error()
	}
	return ValidationVerdict{OrderID: orderID, IsStockValid: false, Details: []LineVerdict{}, Error: msg}
}

func (v ValidationVerdict) IsError() bool {
	return v.Error != ""
}
