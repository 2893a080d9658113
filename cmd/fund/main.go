package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	accapp "github.com/tradesim/fundaccounting/internal/account/application"
	accdomain "github.com/tradesim/fundaccounting/internal/account/domain"
	accmessaging "github.com/tradesim/fundaccounting/internal/account/infrastructure/messaging"
	accmysql "github.com/tradesim/fundaccounting/internal/account/infrastructure/persistence/mysql"
	acchttp "github.com/tradesim/fundaccounting/internal/account/interfaces/http"
	fxcache "github.com/tradesim/fundaccounting/internal/fx/infrastructure/cache"
	fxstatic "github.com/tradesim/fundaccounting/internal/fx/infrastructure/static"
	pfapp "github.com/tradesim/fundaccounting/internal/portfolio/application"
	pfmysql "github.com/tradesim/fundaccounting/internal/portfolio/infrastructure/persistence/mysql"
	pfhttp "github.com/tradesim/fundaccounting/internal/portfolio/interfaces/http"
	posapp "github.com/tradesim/fundaccounting/internal/position/application"
	posmysql "github.com/tradesim/fundaccounting/internal/position/infrastructure/persistence/mysql"
	poshttp "github.com/tradesim/fundaccounting/internal/position/interfaces/http"
	stlapp "github.com/tradesim/fundaccounting/internal/settlement/application"
	stlmessaging "github.com/tradesim/fundaccounting/internal/settlement/infrastructure/messaging"
	stlmysql "github.com/tradesim/fundaccounting/internal/settlement/infrastructure/persistence/mysql"
	stlhttp "github.com/tradesim/fundaccounting/internal/settlement/interfaces/http"
	"github.com/tradesim/fundaccounting/internal/timesource"

	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	pfdomain "github.com/tradesim/fundaccounting/internal/portfolio/domain"
	stldomain "github.com/tradesim/fundaccounting/internal/settlement/domain"

	"github.com/tradesim/fundaccounting/pkg/cache"
	"github.com/tradesim/fundaccounting/pkg/config"
	"github.com/tradesim/fundaccounting/pkg/db"
	"github.com/tradesim/fundaccounting/pkg/logger"
	"github.com/tradesim/fundaccounting/pkg/metrics"
	"github.com/tradesim/fundaccounting/pkg/middleware"
	"github.com/tradesim/fundaccounting/pkg/mq"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config file")
	flag.Parse()

	// 1. 配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. 日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	slogger := logger.Get()
	ctx := context.Background()

	// 3. 数据库
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init database", "error", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&accdomain.Account{},
		&accdomain.CashFlowRecord{},
		&accmessaging.OutboxMessage{},
		&stldomain.Settlement{},
		&posmysql.PositionModel{},
		&pfdomain.ReturnMetrics{},
	); err != nil {
		logger.Fatal(ctx, "failed to migrate database", "error", err)
	}

	// 4. 指标
	m := metrics.New("fund")
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = m.Serve(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 5. Redis（故障时降级为无汇率缓存）
	var redisCache *cache.RedisCache
	if rc, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}); err != nil {
		logger.Warn(ctx, "redis unavailable, fx rate cache disabled", "error", err)
	} else {
		redisCache = rc
		defer redisCache.Close()
	}

	// 6. FX 转换器
	rateProvider, err := fxstatic.NewProvider(cfg.Fund.FXRates)
	if err != nil {
		logger.Fatal(ctx, "failed to build fx rate provider", "error", err)
	}
	var provider fxdomain.RateProvider = rateProvider
	if redisCache != nil {
		provider = fxcache.NewProvider(rateProvider, redisCache,
			time.Duration(cfg.Fund.FXRateCacheTTL)*time.Second)
	}
	converter := fxdomain.NewConverter(provider, slogger)
	converter.OnFallback(func(fromCurrency, toCurrency string) {
		m.FXFallbackTotal.Inc()
	})

	// 7. Kafka（故障时降级为仅落库）
	var producer *mq.KafkaProducer
	if p, err := mq.NewProducer(mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	}); err != nil {
		logger.Warn(ctx, "kafka producer unavailable, outbox relay disabled", "error", err)
	} else {
		producer = p
		defer producer.Close()
	}

	// 8. 装配各层
	idgen := utils.NewSnowflakeID(1)
	clock := timesource.NewRealClock()

	accountRepo := accmysql.NewAccountRepository(database.DB)
	flowRepo := accmysql.NewCashFlowRepository(database.DB)
	persistentRecorder := &countingRecorder{
		next:    accmysql.NewDBRecorder(flowRepo),
		counter: m,
	}

	outbox := accmessaging.NewOutboxEventPublisher(database.DB, idgen)
	publisher := &metricsPublisher{next: outbox, counter: m}

	accounts := accapp.NewAccountManager(
		accountRepo, flowRepo, persistentRecorder, converter, idgen,
		cfg.Fund.BaseCurrency, decimal.NewFromFloat(cfg.Fund.ExtraBalanceFactor), slogger)
	accounts.SetPublisher(publisher)

	positions := posapp.NewPositionManager(nil, nil,
		posmysql.NewSnapshotRepository(database.DB), m, clock, slogger)

	settlements := stlapp.NewSettlementManager(
		accounts, positions, converter,
		stlmysql.NewSettlementRepository(database.DB), m, idgen, clock,
		cfg.Fund.BaseCurrency, slogger)

	portfolios := pfapp.NewPortfolioManager(
		accounts, positions,
		pfmysql.NewMetricsRepository(database.DB), m, clock, slogger)

	// 9. 后台协程：Outbox 中继与成交消费
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if producer != nil {
		relay := accmessaging.NewOutboxRelay(database.DB, producer,
			cfg.Kafka.CashFlowTopic, 500*time.Millisecond, 100)
		go relay.Run(runCtx)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if consumer, err := mq.NewConsumer(mq.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
		}, cfg.Kafka.FillTopic); err != nil {
			logger.Warn(ctx, "kafka consumer unavailable, fill topic disabled", "error", err)
		} else {
			defer consumer.Close()
			fillConsumer := stlmessaging.NewFillConsumer(consumer, settlements)
			go func() {
				if err := fillConsumer.Run(runCtx); err != nil && runCtx.Err() == nil {
					logger.Error(ctx, "fill consumer stopped", "error", err)
				}
			}()
		}
	}

	// 10. HTTP 服务
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(), middleware.Recovery(), middleware.Metrics(m))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})

	root := router.Group("")
	acchttp.NewAccountHandler(accounts, clock).RegisterRoutes(root)
	stlhttp.NewSettlementHandler(settlements, clock).RegisterRoutes(root)
	poshttp.NewPositionHandler(positions, clock).RegisterRoutes(root)
	pfhttp.NewPortfolioHandler(portfolios).RegisterRoutes(root)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info(ctx, "http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	// 11. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "metrics server shutdown failed", "error", err)
		}
	}
	logger.Info(ctx, "stopped")
}

// countingRecorder 现金流落库记录器的计数装饰
type countingRecorder struct {
	next    accdomain.Recorder
	counter *metrics.Metrics
}

func (r *countingRecorder) RecordTransfer(ctx context.Context, record *accdomain.CashFlowRecord) error {
	if err := r.next.RecordTransfer(ctx, record); err != nil {
		return err
	}
	r.counter.CashFlowRecordsTotal.Inc()
	return nil
}

// metricsPublisher 事件发布器的指标装饰
type metricsPublisher struct {
	next    accdomain.EventPublisher
	counter *metrics.Metrics
}

func (p *metricsPublisher) PublishBalanceChanged(event accdomain.BalanceChangedEvent) {
	p.next.PublishBalanceChanged(event)
}

func (p *metricsPublisher) PublishTransferRecorded(event accdomain.TransferRecordedEvent) {
	p.next.PublishTransferRecorded(event)
}

func (p *metricsPublisher) PublishBalanceReplenished(event accdomain.BalanceReplenishedEvent) {
	p.counter.ReplenishmentsTotal.Inc()
	p.next.PublishBalanceReplenished(event)
}
