// cmd/order-service/wire.go
package main

import (
	"context"

	"fulfillment/internal/pkg/bootstrap"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/pkg/push"
	"fulfillment/internal/pkg/redis"
	"fulfillment/internal/service/order/application"
	"fulfillment/internal/service/order/domain"
	"fulfillment/internal/service/order/domain/port"
	"fulfillment/internal/service/order/infrastructure"
	"fulfillment/internal/service/order/infrastructure/adapter"
	"fulfillment/internal/service/order/interfaces"
	"fulfillment/internal/zookeeper"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

// wire 组装存储、通知、锁与准入策略，并注册 HTTP 路由。
// 所有需要关闭的资源都通过 OnShutdown 注册，关停时逆序执行。
func wire(appCtx bootstrap.AppCtx) error {
	cfg := appCtx.Config
	ctx := context.Background()

	ledger, orders, err := buildStorage(ctx, appCtx)
	if err != nil {
		return err
	}

	opts := []application.Option{
		application.WithPartialFailurePolicy(application.PartialFailurePolicy(cfg.App.PartialFailurePolicy)),
		application.WithFanoutLimit(cfg.App.FanoutLimit),
		application.WithNotificationTimeout(cfg.App.NotificationTimeout),
	}

	locker, err := buildLocker(appCtx)
	if err != nil {
		return err
	}
	opts = append(opts, application.WithLocker(locker))

	if cfg.App.AdmissionPolicy != "" {
		policy, err := adapter.NewCELAdmissionPolicy(cfg.App.AdmissionPolicy)
		if err != nil {
			return err
		}
		opts = append(opts, application.WithAdmissionPolicy(policy))
	}

	brokers := cfg.Infra.Kafka.BrokerList()
	if len(brokers) > 0 {
		writer := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.NotificationTopic)
		notifier := adapter.NewNotificationKafkaAdapter(writer)
		appCtx.OnShutdown(func(context.Context) error { return notifier.Close() })
		opts = append(opts, application.WithNotifiers(notifier))
	}

	var hub *push.Hub
	if cfg.App.PushEnabled {
		hub = push.NewHub()
		hubCtx, stopHub := context.WithCancel(ctx)
		go hub.Run(hubCtx)
		appCtx.OnShutdown(func(context.Context) error { stopHub(); return nil })
		opts = append(opts, application.WithNotifiers(adapter.NewNotificationPushAdapter(hub)))
	}

	svc := application.NewOrderApplicationService(ledger, orders, otel.Tracer(cfg.App.Name), opts...)
	appCtx.OnShutdown(func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			svc.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for in-flight notifications")
		}
	})

	if len(brokers) > 0 && cfg.Infra.Kafka.CancellationTopic != "" {
		reader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.CancellationTopic, cfg.Infra.Kafka.ConsumerGroup)
		var dlq *kafka.Writer
		if cfg.Infra.Kafka.DeadLetterTopic != "" {
			dlq = mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.DeadLetterTopic)
			appCtx.OnShutdown(func(context.Context) error { return dlq.Close() })
		}
		consumer := interfaces.NewCancellationConsumer(reader, svc, dlq)
		consumerCtx, stopConsumer := context.WithCancel(ctx)
		consumer.Start(consumerCtx)
		appCtx.OnShutdown(func(context.Context) error {
			stopConsumer()
			return consumer.Stop()
		})
	}

	interfaces.NewOrderHandler(svc, hub).RegisterRoutes(appCtx.Mux)
	log.Info().
		Str("ledger", cfg.Storage.Ledger).
		Str("orders", cfg.Storage.Orders).
		Str("policy", cfg.App.PartialFailurePolicy).
		Str("lock", cfg.App.LockBackend).
		Msg("order service wired")
	return nil
}

// buildStorage 按配置选择账本与订单存储，同一种后端只建立一次连接。
func buildStorage(ctx context.Context, appCtx bootstrap.AppCtx) (domain.StockLedger, domain.OrderRepository, error) {
	cfg := appCtx.Config
	var (
		gormDB      *gorm.DB
		mongoClient *mongo.Client
	)
	openMySQL := func() (*gorm.DB, error) {
		if gormDB != nil {
			return gormDB, nil
		}
		db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL.DSN())
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			appCtx.OnShutdown(func(context.Context) error { return sqlDB.Close() })
		}
		gormDB = db
		return db, nil
	}
	openMongo := func() (*mongo.Database, error) {
		if mongoClient == nil {
			client, err := infrastructure.ConnectMongo(ctx, cfg.Infra.Mongo.URI)
			if err != nil {
				return nil, err
			}
			appCtx.OnShutdown(func(ctx context.Context) error { return client.Disconnect(ctx) })
			mongoClient = client
		}
		return mongoClient.Database(cfg.Infra.Mongo.Database), nil
	}

	var ledger domain.StockLedger
	switch cfg.Storage.Ledger {
	case "mysql":
		db, err := openMySQL()
		if err != nil {
			return nil, nil, err
		}
		ledger = infrastructure.NewGormStockLedger(db)
	case "redis":
		client, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return nil, nil, err
		}
		appCtx.OnShutdown(func(context.Context) error { return client.Close() })
		if ledger, err = adapter.NewStockRedisAdapter(client); err != nil {
			return nil, nil, err
		}
	case "mongo":
		db, err := openMongo()
		if err != nil {
			return nil, nil, err
		}
		ledger = infrastructure.NewMongoStockLedger(db)
	default:
		ledger = infrastructure.NewMemoryStockLedger()
	}

	var orders domain.OrderRepository
	switch cfg.Storage.Orders {
	case "mysql":
		db, err := openMySQL()
		if err != nil {
			return nil, nil, err
		}
		orders = infrastructure.NewGormOrderRepository(db)
	case "mongo":
		db, err := openMongo()
		if err != nil {
			return nil, nil, err
		}
		repo := infrastructure.NewMongoOrderRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		orders = repo
	default:
		orders = infrastructure.NewMemoryOrderRepository()
	}
	return ledger, orders, nil
}

func buildLocker(appCtx bootstrap.AppCtx) (port.Locker, error) {
	cfg := appCtx.Config
	if cfg.App.LockBackend != "zookeeper" {
		return adapter.NewMemoryLocker(), nil
	}
	conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.ServerList(), cfg.Infra.Zookeeper.SessionTimeout)
	if err != nil {
		return nil, err
	}
	appCtx.OnShutdown(func(context.Context) error {
		conn.Close()
		return nil
	})
	return adapter.NewZookeeperLocker(conn, cfg.Infra.Zookeeper.LockTimeout), nil
}
