// cmd/order-service/main.go
package main

import (
	"context"
	"os"
	"time"

	"circuitbay/internal/pkg/bootstrap"
	"circuitbay/internal/pkg/httpclient"
	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/mq"
	"circuitbay/internal/pkg/redis"
	"circuitbay/internal/pkg/zookeeper"
	invapp "circuitbay/internal/service/inventory/application"
	invinfra "circuitbay/internal/service/inventory/infrastructure"
	"circuitbay/internal/service/order/application"
	"circuitbay/internal/service/order/application/saga"
	"circuitbay/internal/service/order/infrastructure"
	"circuitbay/internal/service/order/infrastructure/adapter"
	"circuitbay/internal/service/order/interfaces"
	"circuitbay/internal/service/order/port"
	payapp "circuitbay/internal/service/payment/application"
	payinfra "circuitbay/internal/service/payment/infrastructure"
	payinterfaces "circuitbay/internal/service/payment/interfaces"
	pricingapp "circuitbay/internal/service/pricing/application"
	pricinginfra "circuitbay/internal/service/pricing/infrastructure"
	quoteapp "circuitbay/internal/service/quote/application"
	quoteinfra "circuitbay/internal/service/quote/infrastructure"
	quoteinterfaces "circuitbay/internal/service/quote/interfaces"

	"go.opentelemetry.io/otel"
)

const (
	serviceName       = "order-service"
	notificationTopic = "notifications"
	sagaEventTopic    = "saga-events"
	payoutTopic       = "seller-payouts"
	sagaConsumerGroup = "order-service-saga"
	currency          = "USD"
)

// main 是组装根：创建并装配所有依赖，然后交给 bootstrap 启动。
func main() {
	cfg := bootstrap.GetCurrentConfig()
	tracer := otel.Tracer(serviceName)

	db, err := bootstrap.OpenMysql(cfg.Infra.MysqlDSN)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to open mysql")
	}

	redisClient, err := redis.NewClient(cfg.Infra.RedisAddr)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	notificationWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, notificationTopic)
	sagaEventWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, sagaEventTopic)
	payoutWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, payoutTopic)
	sagaEventReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, sagaEventTopic, sagaConsumerGroup)

	notifier := adapter.NewNotificationKafkaAdapter(notificationWriter)
	sagaEvents := infrastructure.NewSagaEventProducer(sagaEventWriter)
	traced := httpclient.NewClient(tracer)

	// 元器件目录：库存售罄回写 + 梯度价目表
	catalog := invinfra.NewCatalogHTTPAdapter(cfg.Collaborators.CatalogBaseURL, cfg.Collaborators.Timeout.Std())

	// 库存台账：默认走 SQL + zookeeper 串行化，本地联调可切 Redis Lua 脚本
	var invSvc port.InventoryService
	if os.Getenv("INVENTORY_BACKEND") == "redis" {
		ledger, err := invinfra.NewRedisLedger(redisClient, catalog)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to initialize redis inventory ledger")
		}
		invSvc = ledger
	} else {
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 5*time.Second)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		reservations, err := invinfra.NewGormReservationStore(db)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to initialize reservation store")
		}
		stocks, err := invinfra.NewGormStockStore(db)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to initialize component stock store")
		}
		ledger := invapp.NewLedger(
			reservations,
			stocks,
			catalog,
			catalog,
			invinfra.NewZkComponentLocker(zkConn),
		)
		invSvc = adapter.NewInventoryAdapter(ledger)
	}

	// 定价：CEL 规则引擎算梯度单价，基点税率算税
	ruleEngine, err := pricinginfra.NewCelRuleEngine()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize pricing rule engine")
	}
	pricer := pricingapp.NewPricer(ruleEngine, cfg.App.TaxBasisPoints)
	pricing := adapter.NewPricingAdapter(catalog, pricer)

	// 支付托管协调器
	paymentRepo, err := payinfra.NewGormPaymentRepository(db)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize payment repository")
	}
	gateway := payinfra.NewGatewayHTTPAdapter(cfg.Gateway.BaseURL, tracer, cfg.Gateway.Timeout.Std())
	coordinator := payapp.NewCoordinator(
		paymentRepo,
		gateway,
		payinfra.NewRedisCallbackDeduper(redisClient),
		payinfra.NewDisputeHTTPAdapter(traced, cfg.Collaborators.DisputeBaseURL),
		payinfra.NewPayoutKafkaAdapter(payoutWriter),
		tracer,
		time.Duration(cfg.App.EscrowHoldDays)*24*time.Hour,
	)

	// 大宗报价协商机
	quoteRepo, err := quoteinfra.NewGormQuoteRepository(db)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize quote repository")
	}
	negotiator := quoteapp.NewNegotiator(
		quoteRepo,
		pricing,
		adapter.NewQuoteNotificationAdapter(notifier),
		tracer,
		int64(cfg.App.NegotiationThreshold),
		cfg.App.QuoteInactivityWindow.Std(),
	)

	// 订单仓储、Saga 账本与编排器
	orderRepo, err := infrastructure.NewGormOrderRepository(db)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize order repository")
	}
	sagaStore, err := infrastructure.NewGormSagaStore(db)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize saga store")
	}
	orchestrator := saga.NewOrchestrator(
		orderRepo,
		sagaStore,
		invSvc,
		adapter.NewPaymentAdapter(coordinator),
		notifier,
		tracer,
		currency,
	)

	orderService := application.NewOrderApplicationService(
		orderRepo,
		orchestrator,
		adapter.NewQuoteAdapter(negotiator),
		pricing,
		notifier,
		sagaEvents,
		tracer,
		int64(cfg.App.NegotiationThreshold),
	)

	consumer := infrastructure.NewSagaEventConsumer(sagaEventReader, orchestrator)
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	consumer.Start(consumerCtx)

	// 进程重启后恢复非终态 Saga
	if err := orchestrator.Resume(context.Background()); err != nil {
		logger.Logger.Error().Err(err).Msg("failed to resume in-flight sagas")
	}

	orderHandler := interfaces.NewOrderHandler(orderService)
	paymentHandler := payinterfaces.NewPaymentHandler(coordinator, orderService, cfg.Gateway.WebhookSecret)
	quoteHandler := quoteinterfaces.NewQuoteHandler(negotiator)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8080,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			orderHandler.RegisterRoutes(appCtx.Mux)
			paymentHandler.RegisterRoutes(appCtx.Mux)
			quoteHandler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			cancelConsumer()
			consumer.Stop()
			notificationWriter.Close()
			sagaEventWriter.Close()
			payoutWriter.Close()
			redisClient.Close()
		},
	})
}
