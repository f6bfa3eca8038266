// internal/pkg/apperr/errors.go
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind 对错误进行分类，决定 HTTP 状态码以及消息消费时的处理方式
type Kind int

const (
	KindInternal    Kind = iota
	KindValidation       // 输入不合法，4xx，不重试
	KindNotFound         // 订单或商品不存在，404
	KindConflict         // 状态机拒绝的迁移，409
	KindPersistence      // 存储 I/O 失败，5xx
	KindMessaging        // 发布/消费失败，只记日志，不向 HTTP 调用方暴露
	KindProcessing       // Saga 处理中的异常，订单被置为 failed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindMessaging:
		return "messaging"
	case KindProcessing:
		return "processing"
	default:
		return "internal"
	}
}

// Error 是带分类的应用错误
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func Persistence(err error, msg string) error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: errors.WithStack(err)}
}

func Messaging(err error, msg string) error {
	return &Error{Kind: KindMessaging, Msg: msg, Err: errors.WithStack(err)}
}

func Processing(err error, msg string) error {
	return &Error{Kind: KindProcessing, Msg: msg, Err: errors.WithStack(err)}
}

// KindOf 返回错误链中第一个 *Error 的分类；不是 *Error 时视为 KindInternal
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus 把错误映射为 HTTP 状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回可以暴露给 HTTP 调用方的错误信息，内部错误不泄露细节
func PublicMessage(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return "internal server error"
	}
	switch appErr.Kind {
	case KindValidation, KindNotFound, KindConflict:
		return appErr.Error()
	case KindPersistence:
		return "storage unavailable, please retry"
	default:
		return "internal server error"
	}
}
