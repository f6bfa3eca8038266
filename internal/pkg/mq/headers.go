// internal/pkg/mq/headers.go
package mq

import (
	"strconv"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderRoutingKey = "routing-key"
	HeaderEventType  = "event-type"
	HeaderRetryCount = "x-retry-count"

	// HeaderTargetQueue 标记重新入队的消息只属于哪个队列
	HeaderTargetQueue = "x-target-queue"

	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// KafkaHeaderCarrier 让 kafka 消息头可以作为 OpenTelemetry 的 TextMapCarrier
type KafkaHeaderCarrier []kafka.Header

func (c *KafkaHeaderCarrier) Get(key string) string {
	return HeaderValue(*c, key)
}

func (c *KafkaHeaderCarrier) Set(key, value string) {
	*c = SetHeader(*c, key, value)
}

func (c *KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

// HeaderValue 返回指定 key 的最后一个值
func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

// SetHeader 覆盖或追加一个消息头
func SetHeader(headers []kafka.Header, key, value string) []kafka.Header {
	for i := range headers {
		if headers[i].Key == key {
			headers[i].Value = []byte(value)
			return headers
		}
	}
	return append(headers, kafka.Header{Key: key, Value: []byte(value)})
}

func cloneHeaders(headers []kafka.Header) []kafka.Header {
	out := make([]kafka.Header, len(headers))
	copy(out, headers)
	return out
}

// RetryCount 读取消息已被重新入队的次数
func RetryCount(headers []kafka.Header) int {
	n, err := strconv.Atoi(HeaderValue(headers, HeaderRetryCount))
	if err != nil {
		return 0
	}
	return n
}
