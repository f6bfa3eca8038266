// cmd/order-service/main.go
package main

import (
	"context"

	"github.com/go-zookeeper/zk"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/database"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/pkg/redis"
	"orderflow/internal/pkg/zookeeper"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/application/saga"
	"orderflow/internal/service/order/infrastructure"
	"orderflow/internal/service/order/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg := bootstrap.Init(serviceName)
	ctx := context.Background()
	log := logger.Ctx(ctx)

	// 1. 存储
	db, err := database.NewMySQL(cfg.Infra.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	if err := db.AutoMigrate(infrastructure.Models()...); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate order schema")
	}
	repo := infrastructure.NewGormOrderRepository(db)

	// 2. 消息拓扑
	kafkaCfg := cfg.Infra.Kafka
	if kafkaCfg.AutoCreateTopics {
		if err := mq.EnsureExchanges(ctx, kafkaCfg.Brokers, kafkaCfg.Concurrency, contract.Exchanges...); err != nil {
			log.Fatal().Err(err).Msg("failed to declare kafka topics")
		}
	}
	writer := mq.NewKafkaWriter(kafkaCfg.Brokers)
	failure := mq.NewFailureHandler(writer, kafkaCfg.MaxRetries)

	shutdown := []func(ctx context.Context) error{
		func(context.Context) error { return writer.Close() },
		func(context.Context) error { return database.Close(db) },
	}

	// 3. Saga
	var correlation saga.CorrelationStore
	switch cfg.Saga.CorrelationBackend {
	case bootstrap.CorrelationRedis:
		client, err := redis.NewClient(cfg.Infra.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		shutdown = append(shutdown, func(context.Context) error { return client.Close() })
		correlation = infrastructure.NewRedisCorrelationStore(client, cfg.Saga.StalenessWindow)
	default:
		correlation = saga.NewMemoryTable(cfg.Saga.StalenessWindow)
	}

	rule, err := saga.NewCELRule(cfg.Saga.PromoLimitRule)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid promo limit rule")
	}
	orchestrator := saga.NewOrchestrator(repo, correlation, rule, cfg.Saga.Location())

	var locker saga.Locker
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		shutdown = append(shutdown, closeZookeeper(conn))
		locker = zookeeper.NewLocker(conn)
	}

	// 4. 后台组件
	verdicts := interfaces.NewVerdictHandler(orchestrator)
	var components []bootstrap.Component
	for i := 0; i < kafkaCfg.Concurrency; i++ {
		reader := mq.NewKafkaReader(kafkaCfg.Brokers, contract.ExchangeStockEvents, contract.QueueOrderValidationResponses)
		components = append(components, verdicts.Bind(mq.NewConsumer(contract.QueueOrderValidationResponses, reader, failure)))
	}
	dlt := mq.DeadLetterTopic(contract.ExchangeStockEvents)
	components = append(components,
		mq.NewDeadLetterConsumer(dlt, mq.NewKafkaReader(kafkaCfg.Brokers, dlt, contract.QueueOrderValidationResponses+".dlt")),
		infrastructure.NewOutboxWorker(
			infrastructure.NewOutboxDispatcher(infrastructure.NewOutboxRepository(db), mq.NewPublisher(writer), cfg.Outbox.BatchSize),
			cfg.Outbox.PollInterval,
		),
		saga.NewCorrelationSweeper(correlation, cfg.Saga.SweepInterval),
		saga.NewReconcileWorker(saga.NewReconciler(repo, cfg.Saga.PendingTimeout, locker), cfg.Saga.ReconcileInterval),
	)

	orderService := application.NewOrderService(repo)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(orderService).RegisterRoutes(appCtx.Router)
		},
		Components: components,
		OnShutdown: shutdown,
	})
}

func closeZookeeper(conn *zk.Conn) func(context.Context) error {
	return func(context.Context) error {
		conn.Close()
		return nil
	}
}
