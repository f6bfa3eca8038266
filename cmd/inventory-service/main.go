// cmd/inventory-service/main.go
package main

import (
	"context"

	"orderflow/internal/contract"
	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/database"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/pkg/redis"
	"orderflow/internal/service/inventory/application"
	"orderflow/internal/service/inventory/infrastructure"
	"orderflow/internal/service/inventory/interfaces"
)

const serviceName = "inventory-service"

func main() {
	cfg := bootstrap.Init(serviceName)
	ctx := context.Background()
	log := logger.Ctx(ctx)

	db, err := database.NewMySQL(cfg.Infra.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	if err := db.AutoMigrate(infrastructure.Models()...); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate inventory schema")
	}
	client, err := redis.NewClient(cfg.Infra.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	catalog := infrastructure.NewCachedCatalog(infrastructure.NewGormCatalog(db), client, cfg.Inventory.ProductCacheTTL)

	kafkaCfg := cfg.Infra.Kafka
	if kafkaCfg.AutoCreateTopics {
		if err := mq.EnsureExchanges(ctx, kafkaCfg.Brokers, kafkaCfg.Concurrency, contract.Exchanges...); err != nil {
			log.Fatal().Err(err).Msg("failed to declare kafka topics")
		}
	}
	writer := mq.NewKafkaWriter(kafkaCfg.Brokers)
	failure := mq.NewFailureHandler(writer, kafkaCfg.MaxRetries)

	handler := interfaces.NewOrderEventHandler(
		application.NewValidator(catalog),
		application.NewStockService(infrastructure.NewGormStockLedger(db), catalog),
		mq.NewPublisher(writer),
	)
	var components []bootstrap.Component
	for i := 0; i < kafkaCfg.Concurrency; i++ {
		reader := mq.NewKafkaReader(kafkaCfg.Brokers, contract.ExchangeOrderEvents, contract.QueueInventoryOrderEvents)
		components = append(components, handler.Bind(mq.NewConsumer(contract.QueueInventoryOrderEvents, reader, failure)))
	}
	dlt := mq.DeadLetterTopic(contract.ExchangeOrderEvents)
	components = append(components,
		mq.NewDeadLetterConsumer(dlt, mq.NewKafkaReader(kafkaCfg.Brokers, dlt, contract.QueueInventoryOrderEvents+".dlt")))

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewProductHandler(catalog).RegisterRoutes(appCtx.Router)
		},
		Components: components,
		OnShutdown: []func(ctx context.Context) error{
			func(context.Context) error { return writer.Close() },
			func(context.Context) error { return client.Close() },
			func(context.Context) error { return database.Close(db) },
		},
	})
}
