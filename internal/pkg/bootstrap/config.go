// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是两个服务共用的配置结构，加载顺序：默认值 -> YAML 文件 -> 环境变量
type Config struct {
	App       AppConfig       `yaml:"app"`
	Infra     InfraConfig     `yaml:"infra"`
	Saga      SagaConfig      `yaml:"saga"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Inventory InventoryConfig `yaml:"inventory"`
}

type AppConfig struct {
	Name            string        `yaml:"name"`
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"logLevel"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type InfraConfig struct {
	Kafka     KafkaConfig     `yaml:"kafka"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	// MaxRetries 消息处理失败后重新入队的次数，超过后进入死信主题
	MaxRetries int `yaml:"maxRetries"`
	// Concurrency 每个队列启动的消费者数量（同一消费组）
	Concurrency      int  `yaml:"concurrency"`
	AutoCreateTopics bool `yaml:"autoCreateTopics"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

// SagaConfig 订单侧 Saga 相关参数
type SagaConfig struct {
	StalenessWindow   time.Duration `yaml:"stalenessWindow"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	PendingTimeout    time.Duration `yaml:"pendingTimeout"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	// PromoLimitRule 是基于 used / requested / ceiling 的 CEL 表达式
	PromoLimitRule     string `yaml:"promoLimitRule"`
	CorrelationBackend string `yaml:"correlationBackend"`
	// Timezone 决定促销用量按哪个时区的自然日统计
	Timezone string `yaml:"timezone"`
}

// Location 返回 Timezone 对应的时区，非法值回落到 UTC（Validate 已经拦截）
func (c SagaConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

type InventoryConfig struct {
	ProductCacheTTL time.Duration `yaml:"productCacheTTL"`
}

const (
	CorrelationMemory = "memory"
	CorrelationRedis  = "redis"

	DefaultPromoLimitRule = "used + requested <= ceiling"
)

// Default 返回所有字段都已填充的默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			Port:            8080,
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Infra: InfraConfig{
			Kafka: KafkaConfig{
				Brokers:          []string{"localhost:9092"},
				MaxRetries:       3,
				Concurrency:      1,
				AutoCreateTopics: true,
			},
			MySQL: MySQLConfig{
				Host:            "localhost",
				Port:            3306,
				User:            "root",
				Database:        "orderflow",
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{Addrs: []string{"localhost:6379"}},
			Nacos: NacosConfig{
				ServerAddrs: "localhost:8848",
				Group:       "DEFAULT_GROUP",
			},
			Zookeeper: ZookeeperConfig{SessionTimeout: 5 * time.Second},
		},
		Saga: SagaConfig{
			StalenessWindow:    5 * time.Minute,
			SweepInterval:      time.Minute,
			PendingTimeout:     15 * time.Minute,
			ReconcileInterval:  time.Minute,
			PromoLimitRule:     DefaultPromoLimitRule,
			CorrelationBackend: CorrelationMemory,
			Timezone:           "UTC",
		},
		Outbox: OutboxConfig{
			PollInterval: 500 * time.Millisecond,
			BatchSize:    100,
		},
		Inventory: InventoryConfig{ProductCacheTTL: 10 * time.Minute},
	}
}

// Load 读取可选的 YAML 文件并应用环境变量覆盖。path 为空时只用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getEnv("APP_NAME", ""); v != "" {
		cfg.App.Name = v
	}
	cfg.App.Port = getEnvInt("HTTP_PORT", cfg.App.Port)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)

	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.Infra.Kafka.Brokers = splitList(v)
	}
	cfg.Infra.MySQL.Host = getEnv("MYSQL_HOST", cfg.Infra.MySQL.Host)
	cfg.Infra.MySQL.Port = getEnvInt("MYSQL_PORT", cfg.Infra.MySQL.Port)
	cfg.Infra.MySQL.User = getEnv("MYSQL_USER", cfg.Infra.MySQL.User)
	cfg.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Infra.MySQL.Database)
	if v := getEnv("REDIS_ADDRS", ""); v != "" {
		cfg.Infra.Redis.Addrs = splitList(v)
	}
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	if v := getEnv("NACOS_SERVER_ADDRS", ""); v != "" {
		cfg.Infra.Nacos.ServerAddrs = v
		cfg.Infra.Nacos.Enabled = true
	}
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	if v := getEnv("ZOOKEEPER_SERVERS", ""); v != "" {
		cfg.Infra.Zookeeper.Servers = splitList(v)
	}
	cfg.Saga.CorrelationBackend = getEnv("SAGA_CORRELATION_BACKEND", cfg.Saga.CorrelationBackend)
	cfg.Saga.Timezone = getEnv("SAGA_TIMEZONE", cfg.Saga.Timezone)
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	if len(c.Infra.Kafka.Brokers) == 0 {
		return errors.New("infra.kafka.brokers must not be empty")
	}
	if c.Infra.Kafka.MaxRetries < 0 {
		return errors.New("infra.kafka.maxRetries must not be negative")
	}
	if c.Infra.Kafka.Concurrency < 1 {
		return errors.New("infra.kafka.concurrency must be at least 1")
	}
	if c.Saga.StalenessWindow <= 0 || c.Saga.SweepInterval <= 0 {
		return errors.New("saga.stalenessWindow and saga.sweepInterval must be positive")
	}
	if c.Saga.PendingTimeout <= 0 || c.Saga.ReconcileInterval <= 0 {
		return errors.New("saga.pendingTimeout and saga.reconcileInterval must be positive")
	}
	switch c.Saga.CorrelationBackend {
	case CorrelationMemory, CorrelationRedis:
	default:
		return errors.Errorf("saga.correlationBackend %q is not one of memory, redis", c.Saga.CorrelationBackend)
	}
	if _, err := time.LoadLocation(c.Saga.Timezone); err != nil {
		return errors.Wrapf(err, "saga.timezone %q", c.Saga.Timezone)
	}
	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize <= 0 {
		return errors.New("outbox.pollInterval and outbox.batchSize must be positive")
	}
	return nil
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置，未初始化时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return Default()
}

func setCurrentConfig(cfg *Config) {
	current.Store(cfg)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
