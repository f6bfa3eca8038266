// internal/contract/envelope.go
package contract

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Envelope 是总线上所有事件的外层结构
type Envelope struct {
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Marshal 把事件数据包进信封。eventType 与路由键一致。
func Marshal(eventType string, data any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	return json.Marshal(Envelope{
		EventType: eventType,
		Timestamp: at.UTC(),
		Data:      raw,
	})
}

// Unmarshal 解开信封并把 data 解析到 out，返回信封本身
func Unmarshal(raw []byte, out any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, errors.Wrap(err, "decode envelope")
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env, errors.Errorf("envelope %q carries no data", env.EventType)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return env, errors.Wrapf(err, "decode %s payload", env.EventType)
	}
	return env, nil
}
