// cmd/escrow-timer/main.go
package main

import (
	"context"
	"net/http"
	"time"

	"circuitbay/internal/pkg/bootstrap"
	"circuitbay/internal/pkg/logger"
	"circuitbay/internal/pkg/mq"
	orderdomain "circuitbay/internal/service/order/domain"
	"circuitbay/internal/service/order/infrastructure"
	"circuitbay/internal/service/order/infrastructure/adapter"
	paydomain "circuitbay/internal/service/payment/domain"
	payinfra "circuitbay/internal/service/payment/infrastructure"
	quoteapp "circuitbay/internal/service/quote/application"
	quoteinfra "circuitbay/internal/service/quote/infrastructure"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName       = "escrow-timer"
	sagaEventTopic    = "saga-events"
	notificationTopic = "notifications"
	scanInterval      = 30 * time.Second
	scanBatch         = 100
)

// scanner 周期性扫描到期的托管与失活的报价，把到期事件投回 Saga 主题。
// 事件是 at-least-once 的：放款与过期处理都幂等，重复投递无害。
type scanner struct {
	payments   paydomain.PaymentRepository
	sagas      orderdomain.SagaStore
	sagaEvents *infrastructure.SagaEventProducer
	negotiator *quoteapp.Negotiator
}

func (s *scanner) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, s.scanEscrows) })
	g.Go(func() error { return s.loop(ctx, s.scanQuotes) })
	return g.Wait()
}

func (s *scanner) loop(ctx context.Context, scan func(ctx context.Context)) error {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			scan(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// scanEscrows 找出 held_until 已过的托管，为每笔发布 escrow_due 事件。
func (s *scanner) scanEscrows(ctx context.Context) {
	due, err := s.payments.FindDueEscrows(ctx, time.Now().UTC(), scanBatch)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("escrow due scan failed")
		return
	}
	for _, payment := range due {
		record, err := s.sagas.GetByOrder(ctx, payment.OrderID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("payment_id", payment.ID).
				Str("order_id", payment.OrderID).
				Msg("due escrow has no saga record")
			continue
		}
		if record.Phase.Terminal() {
			continue
		}
		err = s.sagaEvents.Publish(ctx, orderdomain.SagaEvent{
			SagaID:  record.ID,
			OrderID: payment.OrderID,
			Type:    orderdomain.SagaEventEscrowDue,
			Fence:   record.Fence,
		})
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("saga_id", record.ID).
				Msg("failed to publish escrow due event, will retry next scan")
			continue
		}
		logger.Ctx(ctx).Info().
			Str("saga_id", record.ID).
			Str("payment_id", payment.ID).
			Msg("escrow due event published")
	}
}

// scanQuotes 把不活跃窗口耗尽的报价置为 expired。
func (s *scanner) scanQuotes(ctx context.Context) {
	expired, err := s.negotiator.ExpireInactive(ctx, scanBatch)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("quote expiry scan failed")
		return
	}
	if expired > 0 {
		logger.Ctx(ctx).Info().Int("count", expired).Msg("inactive quotes expired")
	}
}

func main() {
	cfg := bootstrap.GetCurrentConfig()
	tracer := otel.Tracer(serviceName)

	db, err := bootstrap.OpenMysql(cfg.Infra.MysqlDSN)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to open mysql")
	}

	sagaEventWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, sagaEventTopic)
	notificationWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, notificationTopic)

	sagaStore, err := infrastructure.NewGormSagaStore(db)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize saga store")
	}
	quoteRepo, err := quoteinfra.NewGormQuoteRepository(db)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize quote repository")
	}

	// 过期扫描不定价，建议价端口不会被触达
	negotiator := quoteapp.NewNegotiator(
		quoteRepo,
		nil,
		adapter.NewQuoteNotificationAdapter(adapter.NewNotificationKafkaAdapter(notificationWriter)),
		tracer,
		int64(cfg.App.NegotiationThreshold),
		cfg.App.QuoteInactivityWindow.Std(),
	)

	paymentRepo, err := payinfra.NewGormPaymentRepository(db)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize payment repository")
	}
	sc := &scanner{
		payments:   paymentRepo,
		sagas:      sagaStore,
		sagaEvents: infrastructure.NewSagaEventProducer(sagaEventWriter),
		negotiator: negotiator,
	}

	scanCtx, cancelScan := context.WithCancel(context.Background())
	go func() {
		if err := sc.run(scanCtx); err != nil && scanCtx.Err() == nil {
			logger.Logger.Error().Err(err).Msg("scanner stopped unexpectedly")
		}
	}()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8082,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			cancelScan()
			sagaEventWriter.Close()
			notificationWriter.Close()
		},
	})
}
