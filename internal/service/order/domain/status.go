// internal/service/order/domain/status.go
package domain

import "orderflow/internal/pkg/apperr"

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusPending         Status = "pending"           // 已创建，等待库存校验
	StatusReadyForPayment Status = "ready_for_payment" // 校验通过，等待支付
	StatusCompleted       Status = "completed"         // 已支付（终态）
	StatusCancelled       Status = "cancelled"         // 库存或促销限额不满足（终态）
	StatusFailed          Status = "failed"            // 处理异常（终态），运维问题而非业务拒绝
)

// transitions 是状态机允许的全部边，终态没有出边
var transitions = map[Status][]Status{
	StatusPending:         {StatusReadyForPayment, StatusCancelled, StatusFailed},
	StatusReadyForPayment: {StatusCompleted, StatusFailed},
}

// AllStatuses 返回枚举中的所有状态
func AllStatuses() []Status {
	return []Status{StatusPending, StatusReadyForPayment, StatusCompleted, StatusCancelled, StatusFailed}
}

// NonTerminalStatuses 返回所有非终态
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusReadyForPayment}
}

// ParseStatus 校验字符串是否属于固定枚举
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperr.Validation("invalid status %q", s)
}

func (s Status) String() string { return string(s) }

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo 判断 s -> to 是否是状态机中的一条边
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PredecessorsOf 返回可以迁移到 to 的所有状态
func PredecessorsOf(to Status) []Status {
	var out []Status
	for _, from := range AllStatuses() {
		if from.CanTransitionTo(to) {
			out = append(out, from)
		}
	}
	return out
}
