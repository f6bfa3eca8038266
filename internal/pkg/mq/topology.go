// internal/pkg/mq/topology.go
package mq

import "strings"

const deadLetterSuffix = ".dlt"

// DeadLetterTopic 返回主题对应的死信主题
func DeadLetterTopic(topic string) string {
	return topic + deadLetterSuffix
}

// MatchRoutingKey 按 topic exchange 语义匹配路由键：
// 以 "." 分词，"*" 匹配恰好一个词，"#" 匹配零个或多个词。
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}

// ExchangeTopics 返回 exchange 主题和它们的死信主题
func ExchangeTopics(exchanges ...string) []string {
	topics := make([]string, 0, 2*len(exchanges))
	for _, exchange := range exchanges {
		topics = append(topics, exchange, DeadLetterTopic(exchange))
	}
	return topics
}
